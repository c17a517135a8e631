// Package notify reports payment lifecycle changes to downstream systems.
package notify

import (
	"context"
	"fmt"
	"html"
	"time"

	"go.uber.org/zap"

	"paygate/internal/models"
	"paygate/internal/pkg/telegram"
)

// Notifier receives a copy of an intent after its status changed.
// Implementations must not block the caller for long.
type Notifier interface {
	PaymentUpdated(ctx context.Context, intent *models.PaymentIntent)
}

// Nop discards every notification.
type Nop struct{}

func (Nop) PaymentUpdated(context.Context, *models.PaymentIntent) {}

// Telegram posts a short report to a channel for every terminal status.
type Telegram struct {
	bot     *telegram.BotAPI
	chatID  string
	timeout time.Duration
	logger  *zap.Logger
}

func NewTelegram(bot *telegram.BotAPI, chatID string, logger *zap.Logger) *Telegram {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Telegram{bot: bot, chatID: chatID, timeout: 10 * time.Second, logger: logger}
}

func (t *Telegram) PaymentUpdated(ctx context.Context, intent *models.PaymentIntent) {
	if !intent.Status.IsTerminal() && intent.Status != models.StatusFailed {
		return
	}
	text := Report(intent)
	intentID := intent.ID

	go func() {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout)
		defer cancel()
		if err := t.bot.SendMessage(sendCtx, t.chatID, text); err != nil {
			t.logger.Warn("Failed to send payment report", zap.String("intent_id", intentID), zap.Error(err))
		}
	}()
}

// Report formats the channel message for an intent.
func Report(intent *models.PaymentIntent) string {
	return fmt.Sprintf(
		"<b>Payment %s</b>\nTenant: <code>%s</code>\nOrder: <code>%s</code>\nAmount: %s %s\nGateway: %s\nIntent: <code>%s</code>",
		html.EscapeString(string(intent.Status)),
		html.EscapeString(intent.TenantID),
		html.EscapeString(intent.OrderID),
		intent.Amount.String(),
		html.EscapeString(intent.Currency),
		html.EscapeString(string(intent.ChosenGatewayType)),
		intent.ID,
	)
}
