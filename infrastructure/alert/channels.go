package alert

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
)

// formatFields 把附加字段按 key 排序后拼接,保证输出可 grep。
func formatFields(fields map[string]any) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%v", k, fields[k])
	}
	return b.String()
}

// LogChannel 把告警写入标准日志。
type LogChannel struct {
	logger *log.Logger
	name   string
}

// NewLogChannel 创建日志通道,output 为 nil 时写 stdout。
func NewLogChannel(name string, output *os.File) *LogChannel {
	if output == nil {
		output = os.Stdout
	}
	return &LogChannel{
		logger: log.New(output, "[ALERT] ", log.LstdFlags),
		name:   name,
	}
}

// Send 写出一行告警。
func (c *LogChannel) Send(alert Alert) error {
	msg := fmt.Sprintf("[%s] %s", alert.Level, alert.Message)
	if fs := formatFields(alert.Fields); fs != "" {
		msg += " | " + fs
	}
	c.logger.Println(msg)
	return nil
}

// Name 返回通道名称。
func (c *LogChannel) Name() string {
	return c.name
}

// MockChannel 测试用通道,记录收到的告警。
type MockChannel struct {
	mu        sync.Mutex
	name      string
	alerts    []Alert
	shouldErr bool
}

// NewMockChannel 创建测试通道。
func NewMockChannel(name string) *MockChannel {
	return &MockChannel{name: name}
}

// Send 记录告警;SetShouldError(true) 后改为返回错误。
func (c *MockChannel) Send(alert Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shouldErr {
		return fmt.Errorf("mock error")
	}
	c.alerts = append(c.alerts, alert)
	return nil
}

// Name 返回通道名称。
func (c *MockChannel) Name() string {
	return c.name
}

// GetAlerts 返回已记录告警的副本。
func (c *MockChannel) GetAlerts() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Alert, len(c.alerts))
	copy(out, c.alerts)
	return out
}

// SetShouldError 控制后续 Send 是否失败。
func (c *MockChannel) SetShouldError(shouldErr bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shouldErr = shouldErr
}

// Clear 清空记录。
func (c *MockChannel) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = nil
}

// Count 返回已记录的告警数。
func (c *MockChannel) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.alerts)
}
