package port

import (
	"context"

	"marketpulse/internal/domain/model"
)

// PushKline is one normalized candle delivered by the upstream stream.
type PushKline struct {
	Key    model.SubscriptionKey
	Candle model.Candle
}

// PushFeed is the optional upstream push channel. Subscribe/Unsubscribe
// track topic interest across reconnects; Klines carries normalized
// updates until Run's context is cancelled.
type PushFeed interface {
	Run(ctx context.Context)
	Subscribe(topic string)
	Unsubscribe(topic string)
	Klines() <-chan PushKline
}
