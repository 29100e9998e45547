package telegram

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v4"

	"marketpulse/internal/application/port"
)

// Notifier delivers alert texts through the Telegram bot API.
// Fire-and-forget: no retry, no queue. A Notifier built without a token
// is disabled and reports ErrNotifierDisabled on every send.
type Notifier struct {
	bot *tele.Bot
}

func New(token string) (*Notifier, error) {
	if token == "" {
		log.Warn().Msg("telegram bot token not set, notifications disabled")
		return &Notifier{}, nil
	}

	// Offline keeps startup independent of Telegram reachability; sends
	// still hit the network normally.
	bot, err := tele.NewBot(tele.Settings{
		Token:   token,
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return &Notifier{bot: bot}, nil
}

func (n *Notifier) Enabled() bool { return n.bot != nil }

func (n *Notifier) Send(ctx context.Context, chatID, text string) error {
	if n.bot == nil {
		return port.ErrNotifierDisabled
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("bad chat id %q: %w", chatID, err)
	}

	start := time.Now()
	if _, err := n.bot.Send(tele.ChatID(id), text); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	log.Debug().Str("chat_id", chatID).Dur("took", time.Since(start)).Msg("telegram message sent")
	return nil
}

var _ port.Notifier = (*Notifier)(nil)
