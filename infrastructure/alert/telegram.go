package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramChannel 通过 Telegram Bot API 投递告警。
type TelegramChannel struct {
	// BaseURL 可覆盖以便测试,默认官方 API。
	BaseURL string

	token  string
	chatID string
	client *http.Client
}

// NewTelegramChannel 创建 Telegram 通道。
func NewTelegramChannel(token, chatID string) *TelegramChannel {
	return &TelegramChannel{
		BaseURL: telegramAPIBase,
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Send 调用 sendMessage 接口推送告警,级别加粗作为标题行。
func (c *TelegramChannel) Send(alert Alert) error {
	text := fmt.Sprintf("*[%s]* %s", alert.Level, alert.Message)
	if fs := formatFields(alert.Fields); fs != "" {
		text += "\n" + fs
	}

	payload := map[string]string{
		"chat_id":    c.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.BaseURL, c.token)
	resp, err := c.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("telegram: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Name 返回通道名称。
func (c *TelegramChannel) Name() string {
	return "telegram"
}
