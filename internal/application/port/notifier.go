package port

import (
	"context"
	"errors"
)

// ErrNotifierDisabled is returned by Send when no delivery channel is
// configured (e.g. bot token missing). Callers treat it as "not sent",
// not as a delivery failure.
var ErrNotifierDisabled = errors.New("notifier disabled")

// Notifier is the outbound message channel. Fire-and-forget: the core
// never retries after Send accepts or rejects a message.
type Notifier interface {
	Send(ctx context.Context, chatID, text string) error
}
