package alerts

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dn-carry-bot/internal/config"
	"dn-carry-bot/internal/controller"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const maxMessageLen = 4000

var ErrDisabled = errors.New("telegram disabled")

type Telegram struct {
	enabled bool
	chatID  int64
	api     *tgbotapi.BotAPI
	log     *zap.Logger
}

func NewTelegram(cfg config.TelegramConfig, log *zap.Logger) (*Telegram, error) {
	return newTelegram(cfg, log, tgbotapi.APIEndpoint, &http.Client{Timeout: 75 * time.Second})
}

func newTelegram(cfg config.TelegramConfig, log *zap.Logger, endpoint string, client tgbotapi.HTTPClient) (*Telegram, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if !cfg.Enabled {
		return &Telegram{log: log}, nil
	}
	token := strings.TrimSpace(cfg.Token)
	chat := strings.TrimSpace(cfg.ChatID)
	if token == "" || chat == "" {
		return nil, errors.New("telegram token and chat_id are required")
	}
	chatID, err := strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram chat_id %q: %w", chat, err)
	}
	if client == nil {
		client = &http.Client{Timeout: 75 * time.Second}
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram connect: %w", err)
	}
	log.Info("telegram connected", zap.String("username", api.Self.UserName))
	return &Telegram{enabled: true, chatID: chatID, api: api, log: log}, nil
}

func (t *Telegram) Enabled() bool { return t != nil && t.enabled }

func (t *Telegram) ChatID() int64 { return t.chatID }

func (t *Telegram) Send(ctx context.Context, message string) error {
	if !t.Enabled() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return errors.New("telegram message is empty")
	}
	if len(message) > maxMessageLen {
		message = message[:maxMessageLen]
	}
	msg := tgbotapi.NewMessage(t.chatID, message)
	msg.DisableWebPagePreview = true
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("telegram send failed: %w", err)
	}
	return nil
}

// Updates long-polls for operator messages after offset.
func (t *Telegram) Updates(ctx context.Context, offset int, timeout time.Duration) ([]tgbotapi.Update, error) {
	if !t.Enabled() {
		return nil, ErrDisabled
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := tgbotapi.NewUpdate(offset)
	cfg.Timeout = int(timeout / time.Second)
	cfg.AllowedUpdates = []string{"message"}
	return t.api.GetUpdates(cfg)
}

// Alert implements controller.Alerter. Delivery failures are logged, never returned.
func (t *Telegram) Alert(ctx context.Context, alert controller.Alert) {
	if !t.Enabled() {
		return
	}
	if err := t.Send(ctx, Format(alert)); err != nil {
		t.log.Warn("alert delivery failed", zap.String("kind", alert.Kind), zap.Error(err))
	}
}

func Format(alert controller.Alert) string {
	var b strings.Builder
	switch alert.Severity {
	case controller.SeverityFatal:
		b.WriteString("FATAL ")
	case controller.SeverityWarn:
		b.WriteString("WARN ")
	}
	b.WriteString(alert.Kind)
	if alert.State != "" {
		fmt.Fprintf(&b, " [%s]", alert.State)
	}
	if alert.Message != "" {
		b.WriteString("\n")
		b.WriteString(alert.Message)
	}
	if alert.Fatal() {
		b.WriteString("\nAutomation halted. Inspect both venues, then /clear.")
	}
	return b.String()
}
