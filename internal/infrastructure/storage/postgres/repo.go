package postgres

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"

	"marketpulse/internal/application/port"
	"marketpulse/internal/domain/model"
)

type Repo struct {
	db *sql.DB
}

func New(dsn string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS latest_prices (
  symbol TEXT PRIMARY KEY,
  price DOUBLE PRECISION NOT NULL,
  ts_ms BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS alert_events (
  id BIGSERIAL PRIMARY KEY,
  rule_id TEXT NOT NULL,
  rule_type TEXT NOT NULL,
  symbol TEXT NOT NULL,
  metric DOUBLE PRECISION NOT NULL,
  message TEXT NOT NULL,
  ts_ms BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alert_events_ts ON alert_events(ts_ms);
`)
	return err
}

func (r *Repo) UpsertLatestPrice(ctx context.Context, symbol string, price float64, ts int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO latest_prices(symbol, price, ts_ms) VALUES($1, $2, $3)
		ON CONFLICT(symbol) DO UPDATE SET price=excluded.price, ts_ms=excluded.ts_ms
	`, symbol, price, ts)
	return err
}

func (r *Repo) InsertAlertEvent(ctx context.Context, ev *model.AlertEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO alert_events(rule_id, rule_type, symbol, metric, message, ts_ms)
		VALUES($1, $2, $3, $4, $5, $6)
	`, ev.RuleID, ev.RuleType, ev.Symbol, ev.Metric, ev.Message, ev.Timestamp)
	return err
}

var _ port.Repository = (*Repo)(nil)
