package alert

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTelegramSendPayload(t *testing.T) {
	var gotPath string
	var gotPayload map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ch := NewTelegramChannel("bot-token", "chat-42")
	ch.BaseURL = server.URL

	err := ch.Send(Alert{
		Level:   "CRITICAL",
		Message: "emergency stop",
		Fields:  map[string]any{"symbol": "BTCUSDT", "reason": "daily loss limit"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if gotPath != "/botbot-token/sendMessage" {
		t.Fatalf("path = %s", gotPath)
	}
	if gotPayload["chat_id"] != "chat-42" || gotPayload["parse_mode"] != "Markdown" {
		t.Fatalf("payload = %v", gotPayload)
	}
	text := gotPayload["text"]
	if !strings.HasPrefix(text, "*[CRITICAL]* emergency stop") {
		t.Fatalf("text = %q", text)
	}
	// 字段按 key 排序,reason 在 symbol 前。
	if !strings.Contains(text, "reason=daily loss limit symbol=BTCUSDT") {
		t.Fatalf("fields line = %q", text)
	}
}

func TestTelegramNon2xxIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ok":false}`, http.StatusBadRequest)
	}))
	defer server.Close()

	ch := NewTelegramChannel("t", "c")
	ch.BaseURL = server.URL

	if err := ch.Send(Alert{Level: "INFO", Message: "hi"}); err == nil {
		t.Fatal("expected error on 400 response")
	}
}
