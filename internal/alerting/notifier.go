package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

// Notifier 定义消息投递接口。
type Notifier interface {
	Send(ctx context.Context, chatID, text string) error
	Validate(ctx context.Context) error
}

// APIError is a response the Bot API answered with ok=false. It is never retried.
type APIError struct {
	Method      string
	StatusCode  int
	ErrorCode   int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s failed (http %d, code %d): %s", e.Method, e.StatusCode, e.ErrorCode, e.Description)
}

// TelegramOptions parameterise TelegramNotifier.
type TelegramOptions struct {
	BotToken       string
	ChatID         string
	BaseURL        string
	ParseMode      string
	DisablePreview bool
	Timeout        time.Duration
	// MaxAttempts counts the first request.
	MaxAttempts  int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	opts    TelegramOptions
	baseURL string
	client  *retryablehttp.Client
	logger  zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 投递器。
func NewTelegramNotifier(opts TelegramOptions, logger zerolog.Logger) *TelegramNotifier {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.telegram.org"
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryWaitMin <= 0 {
		opts.RetryWaitMin = 500 * time.Millisecond
	}
	if opts.RetryWaitMax <= 0 {
		opts.RetryWaitMax = 5 * time.Second
	}

	log := logger.With().Str("component", "alert_telegram").Logger()

	client := retryablehttp.NewClient()
	client.RetryMax = opts.MaxAttempts - 1
	client.RetryWaitMin = opts.RetryWaitMin
	client.RetryWaitMax = opts.RetryWaitMax
	client.HTTPClient.Timeout = opts.Timeout
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = leveledLogger{logger: log, secret: opts.BotToken}

	return &TelegramNotifier{
		opts:    opts,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		client:  client,
		logger:  log,
	}
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// Send 调用 sendMessage 推送文本。空 chatID 使用默认配置。
func (n *TelegramNotifier) Send(ctx context.Context, chatID, text string) error {
	if chatID == "" {
		chatID = n.opts.ChatID
	}
	if chatID == "" {
		return errors.New("telegram chat id not configured")
	}

	body, err := json.Marshal(sendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             n.opts.ParseMode,
		DisableWebPagePreview: n.opts.DisablePreview,
	})
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	if _, err := n.call(ctx, http.MethodPost, "sendMessage", body); err != nil {
		return err
	}

	n.logger.Info().Str("chat_id", chatID).Int("length", len(text)).Msg("message delivered (Telegram)")
	return nil
}

// Validate 调用 getMe 校验 bot token。
func (n *TelegramNotifier) Validate(ctx context.Context) error {
	result, err := n.call(ctx, http.MethodGet, "getMe", nil)
	if err != nil {
		return err
	}

	var me struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	}
	if err := json.Unmarshal(result, &me); err != nil {
		return fmt.Errorf("decode getMe result: %w", err)
	}
	n.logger.Info().Str("bot", me.Username).Int64("bot_id", me.ID).Msg("telegram connection validated")
	return nil
}

func (n *TelegramNotifier) call(ctx context.Context, method, apiMethod string, body []byte) (json.RawMessage, error) {
	if n.opts.BotToken == "" {
		return nil, errors.New("telegram bot token not configured")
	}

	url := fmt.Sprintf("%s/bot%s/%s", n.baseURL, n.opts.BotToken, apiMethod)
	var raw interface{}
	if body != nil {
		raw = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, raw)
	if err != nil {
		return nil, fmt.Errorf("create telegram request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram %s request: %s", apiMethod, n.redact(err.Error()))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read telegram response: %w", err)
	}

	var result apiResponse
	if err := json.NewDecoder(bytes.NewReader(payload)).Decode(&result); err != nil {
		return nil, fmt.Errorf("telegram %s: unexpected response (http %d)", apiMethod, resp.StatusCode)
	}
	if !result.OK || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{
			Method:      apiMethod,
			StatusCode:  resp.StatusCode,
			ErrorCode:   result.ErrorCode,
			Description: result.Description,
		}
	}
	return result.Result, nil
}

func (n *TelegramNotifier) redact(s string) string {
	if n.opts.BotToken == "" {
		return s
	}
	return strings.ReplaceAll(s, n.opts.BotToken, "<redacted>")
}

// leveledLogger adapts zerolog to retryablehttp and keeps the bot token out of log lines.
type leveledLogger struct {
	logger zerolog.Logger
	secret string
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.emit(l.logger.Error(), msg, kv) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.emit(l.logger.Debug(), msg, kv) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.emit(l.logger.Debug(), msg, kv) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.emit(l.logger.Warn(), msg, kv) }

func (l leveledLogger) emit(ev *zerolog.Event, msg string, kv []interface{}) {
	for i := 0; i+1 < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		value := fmt.Sprint(kv[i+1])
		if l.secret != "" {
			value = strings.ReplaceAll(value, l.secret, "<redacted>")
		}
		ev = ev.Str(key, value)
	}
	ev.Msg(msg)
}

var _ Notifier = (*TelegramNotifier)(nil)
var _ retryablehttp.LeveledLogger = leveledLogger{}
