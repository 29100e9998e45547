package port

import (
	"context"

	"marketpulse/internal/domain/model"
)

// Repository persists operational output: the latest observed price per
// symbol and fired alert events. Candle history is never stored.
type Repository interface {
	UpsertLatestPrice(ctx context.Context, symbol string, price float64, ts int64) error
	InsertAlertEvent(ctx context.Context, ev *model.AlertEvent) error
	Close() error
}
