package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"marketpulse/internal/application/port"
	"marketpulse/internal/domain/model"
)

type Repo struct {
	rdb        *redis.Client
	prefix     string
	ttl        time.Duration
	keyLatest  string // prefix + ":latest"
	alertQueue string
	alertChan  string
}

type latestPrice struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Ts     int64   `json:"ts"`
}

func New(rdb *redis.Client, prefix string, ttl time.Duration, alertStream, alertChan string) *Repo {
	if strings.TrimSpace(alertStream) == "" {
		alertStream = prefix + ":alerts"
	}
	if strings.TrimSpace(alertChan) == "" {
		alertChan = prefix + ":alerts:pub"
	}
	return &Repo{
		rdb:        rdb,
		prefix:     prefix,
		ttl:        ttl,
		keyLatest:  prefix + ":latest",
		alertQueue: alertStream,
		alertChan:  alertChan,
	}
}

func (r *Repo) UpsertLatestPrice(ctx context.Context, symbol string, price float64, ts int64) error {
	if price <= 0 {
		return nil
	}
	lp := latestPrice{Symbol: symbol, Price: price, Ts: ts}
	b, _ := json.Marshal(lp)

	// Hash: field = "BTCUSDT" -> json
	pipe := r.rdb.Pipeline()
	pipe.HSet(ctx, r.keyLatest, symbol, string(b))
	if r.ttl > 0 {
		pipe.Expire(ctx, r.keyLatest, r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Repo) InsertAlertEvent(ctx context.Context, ev *model.AlertEvent) error {
	// 1) Stream: XADD for consumers that want history
	_, err := r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.alertQueue,
		Values: map[string]any{
			"ts_ms":     ev.Timestamp,
			"rule_id":   ev.RuleID,
			"rule_type": ev.RuleType,
			"symbol":    ev.Symbol,
			"metric":    ev.Metric,
			"message":   ev.Message,
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd alert: %w", err)
	}

	// 2) Pub/Sub: fan out to live listeners
	b, _ := json.Marshal(ev)
	if err := r.rdb.Publish(ctx, r.alertChan, string(b)).Err(); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

func (r *Repo) Close() error { return r.rdb.Close() }

var _ port.Repository = (*Repo)(nil)
