package port

import (
	"context"

	"marketpulse/internal/domain/model"
)

// MarketData is the upstream REST surface. Tickers returns the full
// linear-market snapshot preserving exchange iteration order; Klines
// returns candles oldest-first with second-resolution timestamps.
type MarketData interface {
	Tickers(ctx context.Context) ([]model.Ticker, error)
	Klines(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error)
	LatestCandle(ctx context.Context, symbol, interval string) (model.Candle, bool, error)
}
