package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]any)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/bottoken/sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": map[string]any{"message_id": 7}})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier(TelegramOptions{
		BotToken:       "token",
		ChatID:         "chat",
		BaseURL:        srv.URL,
		ParseMode:      "Markdown",
		DisablePreview: true,
		Timeout:        time.Second,
	}, testLogger())

	if err := notifier.Send(context.Background(), "", "*hello*"); err != nil {
		t.Fatalf("Send 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	if received["text"] != "*hello*" {
		t.Fatalf("text 不正确: %#v", received)
	}
	if received["parse_mode"] != "Markdown" || received["disable_web_page_preview"] != true {
		t.Fatalf("formatting options missing: %#v", received)
	}
}

func TestTelegramNotifierExplicitChat(t *testing.T) {
	var chat string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		chat, _ = body["chat_id"].(string)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier(TelegramOptions{BotToken: "token", ChatID: "default", BaseURL: srv.URL}, testLogger())
	if err := notifier.Send(context.Background(), "-100123", "hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if chat != "-100123" {
		t.Fatalf("chat_id = %q", chat)
	}
}

func TestTelegramNotifierAPIError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error_code": 400, "description": "Bad Request: chat not found"})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier(TelegramOptions{BotToken: "token", ChatID: "chat", BaseURL: srv.URL, MaxAttempts: 3}, testLogger())

	err := notifier.Send(context.Background(), "", "hi")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.ErrorCode != 400 || apiErr.Description != "Bad Request: chat not found" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("4xx 不应重试, calls=%d", got)
	}
}

func TestTelegramNotifierOkFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier(TelegramOptions{BotToken: "token", ChatID: "chat", BaseURL: srv.URL}, testLogger())
	if err := notifier.Send(context.Background(), "", "hi"); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestTelegramNotifierRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier(TelegramOptions{
		BotToken:     "token",
		ChatID:       "chat",
		BaseURL:      srv.URL,
		MaxAttempts:  3,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 2 * time.Millisecond,
	}, testLogger())

	if err := notifier.Send(context.Background(), "", "hi"); err != nil {
		t.Fatalf("Send should succeed on third attempt: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestTelegramNotifierGivesUp(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error_code": 503, "description": "busy"})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier(TelegramOptions{
		BotToken:     "token",
		ChatID:       "chat",
		BaseURL:      srv.URL,
		MaxAttempts:  2,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 2 * time.Millisecond,
	}, testLogger())

	err := notifier.Send(context.Background(), "", "hi")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 APIError, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestTelegramNotifierMissingCredentials(t *testing.T) {
	notifier := NewTelegramNotifier(TelegramOptions{ChatID: "chat"}, testLogger())
	if err := notifier.Send(context.Background(), "", "hi"); err == nil {
		t.Fatal("missing token should fail")
	}

	notifier = NewTelegramNotifier(TelegramOptions{BotToken: "token"}, testLogger())
	if err := notifier.Send(context.Background(), "", "hi"); err == nil {
		t.Fatal("missing chat id should fail")
	}
}

func TestTelegramNotifierValidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || !strings.HasSuffix(r.URL.Path, "/getMe") {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": map[string]any{"id": 42, "username": "digest_bot"}})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier(TelegramOptions{BotToken: "token", BaseURL: srv.URL}, testLogger())
	if err := notifier.Validate(context.Background()); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestTelegramNotifierValidateUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error_code": 401, "description": "Unauthorized"})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier(TelegramOptions{BotToken: "bad", BaseURL: srv.URL}, testLogger())
	var apiErr *APIError
	if err := notifier.Validate(context.Background()); !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
}

func TestLeveledLoggerRedactsToken(t *testing.T) {
	var sb strings.Builder
	l := leveledLogger{logger: zerolog.New(&sb), secret: "s3cret"}
	l.Warn("performing request", "url", "https://api.telegram.org/bots3cret/sendMessage")
	if strings.Contains(sb.String(), "s3cret") {
		t.Fatalf("token leaked: %s", sb.String())
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
