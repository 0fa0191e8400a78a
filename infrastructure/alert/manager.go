package alert

import (
	"fmt"
	"sync"
	"time"
)

// Alert 一条告警。Level 取 INFO/WARNING/ERROR/CRITICAL。
type Alert struct {
	Level     string
	Message   string
	Timestamp time.Time
	Fields    map[string]any
}

// Channel 告警投递通道。
type Channel interface {
	Send(alert Alert) error
	Name() string
}

// Throttler 按 level:message 维度限流,同一条告警在 interval 内只发一次。
type Throttler struct {
	mu       sync.Mutex
	lastSent map[string]time.Time
	interval time.Duration
}

// NewThrottler 创建限流器。
func NewThrottler(interval time.Duration) *Throttler {
	return &Throttler{
		lastSent: make(map[string]time.Time),
		interval: interval,
	}
}

// Allow 判定该 key 是否可发送,可发送时记录本次时间。
func (t *Throttler) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	last, ok := t.lastSent[key]
	if !ok || now.Sub(last) >= t.interval {
		t.lastSent[key] = now
		return true
	}
	return false
}

// Reset 清除单个 key 的限流记录。
func (t *Throttler) Reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.lastSent, key)
}

// Clear 清空全部限流记录。
func (t *Throttler) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSent = make(map[string]time.Time)
}

// Manager 告警管理器,把告警扇出到全部通道。
type Manager struct {
	mu       sync.RWMutex
	channels []Channel
	throttle *Throttler
}

// NewManager 创建管理器。throttleInterval 为同一告警的最小重发间隔。
func NewManager(channels []Channel, throttleInterval time.Duration) *Manager {
	return &Manager{
		channels: channels,
		throttle: NewThrottler(throttleInterval),
	}
}

// SendAlert 发送告警。被限流时静默丢弃;只要有一个通道成功即视为成功,
// 全部通道失败才返回错误。
func (m *Manager) SendAlert(alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}

	key := fmt.Sprintf("%s:%s", alert.Level, alert.Message)
	if !m.throttle.Allow(key) {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var lastErr error
	success := 0
	for _, ch := range m.channels {
		if err := ch.Send(alert); err != nil {
			lastErr = fmt.Errorf("channel %s failed: %w", ch.Name(), err)
		} else {
			success++
		}
	}
	if success == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

// SendInfo 发送 INFO 级告警。
func (m *Manager) SendInfo(message string, fields map[string]any) error {
	return m.SendAlert(Alert{Level: "INFO", Message: message, Fields: fields})
}

// SendWarning 发送 WARNING 级告警。
func (m *Manager) SendWarning(message string, fields map[string]any) error {
	return m.SendAlert(Alert{Level: "WARNING", Message: message, Fields: fields})
}

// SendError 发送 ERROR 级告警。
func (m *Manager) SendError(message string, fields map[string]any) error {
	return m.SendAlert(Alert{Level: "ERROR", Message: message, Fields: fields})
}

// SendCritical 发送 CRITICAL 级告警。
func (m *Manager) SendCritical(message string, fields map[string]any) error {
	return m.SendAlert(Alert{Level: "CRITICAL", Message: message, Fields: fields})
}

// AddChannel 追加通道。
func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
}

// RemoveChannel 按名称移除通道。
func (m *Manager) RemoveChannel(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	filtered := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		if ch.Name() != name {
			filtered = append(filtered, ch)
		}
	}
	m.channels = filtered
}

// GetChannels 返回当前通道名列表。
func (m *Manager) GetChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for _, ch := range m.channels {
		names = append(names, ch.Name())
	}
	return names
}

// ResetThrottle 清空限流记录,下一条同样的告警立即可发。
func (m *Manager) ResetThrottle() {
	m.throttle.Clear()
}
