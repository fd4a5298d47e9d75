// Package notify is the alerting boundary. Delivery is best-effort and
// fire-and-forget: transport failures are logged, never propagated into
// the trading path.
package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Priority orders notifications for downstream routing.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Notifier delivers a message over one transport.
type Notifier interface {
	Notify(ctx context.Context, priority Priority, title, message string, metadata map[string]string) error
}

// LogNotifier writes notifications to the structured log. It is the
// default transport and the fallback when nothing else is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, priority Priority, title, message string, metadata map[string]string) error {
	fields := []zap.Field{
		zap.String("priority", string(priority)),
		zap.String("title", title),
	}
	for k, v := range metadata {
		fields = append(fields, zap.String(k, v))
	}
	if priority == PriorityCritical {
		n.logger.Error(message, fields...)
	} else {
		n.logger.Info(message, fields...)
	}
	return nil
}

// TelegramNotifier pushes notifications to a telegram chat.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramNotifier connects the bot for the given token.
func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return &TelegramNotifier{bot: bot, chatID: chatID}, nil
}

func (n *TelegramNotifier) Notify(_ context.Context, priority Priority, title, message string, _ map[string]string) error {
	text := fmt.Sprintf("[%s] %s\n%s", priority, title, message)
	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// Multi fans a notification out to every transport, logging failures and
// always reporting success to the caller.
type Multi struct {
	logger    *zap.Logger
	notifiers []Notifier
}

func NewMulti(logger *zap.Logger, notifiers ...Notifier) *Multi {
	return &Multi{logger: logger, notifiers: notifiers}
}

func (m *Multi) Notify(ctx context.Context, priority Priority, title, message string, metadata map[string]string) error {
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, priority, title, message, metadata); err != nil {
			m.logger.Warn("notification delivery failed",
				zap.String("title", title), zap.Error(err))
		}
	}
	return nil
}
