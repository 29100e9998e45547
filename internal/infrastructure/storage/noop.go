package storage

import (
	"context"

	"marketpulse/internal/application/port"
	"marketpulse/internal/domain/model"
)

// NoopRepo discards every write; used when storage is disabled.
type NoopRepo struct{}

func NewNoopRepo() *NoopRepo { return &NoopRepo{} }

func (NoopRepo) UpsertLatestPrice(ctx context.Context, symbol string, price float64, ts int64) error {
	return nil
}

func (NoopRepo) InsertAlertEvent(ctx context.Context, ev *model.AlertEvent) error { return nil }

func (NoopRepo) Close() error { return nil }

var _ port.Repository = NoopRepo{}
