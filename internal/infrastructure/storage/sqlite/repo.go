package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"marketpulse/internal/application/port"
	"marketpulse/internal/domain/model"
)

type Repo struct {
	db *sql.DB
}

func New(path string) (*Repo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

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
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  symbol TEXT NOT NULL,
  price REAL NOT NULL,
  ts_ms INTEGER NOT NULL,
  UNIQUE(symbol)
);
CREATE INDEX IF NOT EXISTS idx_latest_prices_ts ON latest_prices(ts_ms);

CREATE TABLE IF NOT EXISTS alert_events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  rule_id TEXT NOT NULL,
  rule_type TEXT NOT NULL,
  symbol TEXT NOT NULL,
  metric REAL NOT NULL,
  message TEXT NOT NULL,
  ts_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alert_events_ts ON alert_events(ts_ms);
CREATE INDEX IF NOT EXISTS idx_alert_events_rule ON alert_events(rule_id);
`)
	return err
}

func (r *Repo) UpsertLatestPrice(ctx context.Context, symbol string, price float64, ts int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO latest_prices(symbol, price, ts_ms)
		VALUES(?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
		price=excluded.price, ts_ms=excluded.ts_ms
	`, symbol, price, ts)
	return err
}

func (r *Repo) InsertAlertEvent(ctx context.Context, ev *model.AlertEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO alert_events(rule_id, rule_type, symbol, metric, message, ts_ms)
		VALUES(?, ?, ?, ?, ?, ?)
	`, ev.RuleID, ev.RuleType, ev.Symbol, ev.Metric, ev.Message, ev.Timestamp)
	return err
}

// ListAlertEvents returns the most recent fired alerts, newest first.
func (r *Repo) ListAlertEvents(ctx context.Context, limit int) ([]*model.AlertEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT rule_id, rule_type, symbol, metric, message, ts_ms
		FROM alert_events ORDER BY ts_ms DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*model.AlertEvent
	for rows.Next() {
		var ev model.AlertEvent
		if err := rows.Scan(&ev.RuleID, &ev.RuleType, &ev.Symbol, &ev.Metric, &ev.Message, &ev.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

var _ port.Repository = (*Repo)(nil)
