package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"marketpulse/internal/application/port"
	"marketpulse/internal/domain/model"
)

// Feed modes, kept for observability. A feed is "starting" until its
// first successful fetch, then "push" or "poll" depending on whether the
// push channel is attached.
const (
	FeedStarting = "starting"
	FeedPolling  = "poll"
	FeedPushing  = "push"
	FeedStopping = "stopping"
)

const defaultPollEvery = 1000 * time.Millisecond

type feedState struct {
	key      model.SubscriptionKey
	refs     int
	clients  map[port.Subscriber]struct{}
	lastSent *model.Candle
	cancel   context.CancelFunc
	mode     string
}

// klineMessage is the client wire format.
type klineMessage struct {
	Type     string       `json:"type"`
	Symbol   string       `json:"symbol"`
	Interval string       `json:"interval"`
	Candle   model.Candle `json:"candle"`
}

func encodeKline(key model.SubscriptionKey, c model.Candle) []byte {
	b, _ := json.Marshal(klineMessage{
		Type:     "kline",
		Symbol:   key.Symbol,
		Interval: key.Interval,
		Candle:   c,
	})
	return b
}

// Registry multiplexes client subscriptions onto upstream feeds. One feed
// exists per (symbol, interval) iff at least one subscriber holds it; the
// feed polls at a fixed cadence and, when a push channel is configured,
// additionally mirrors the upstream topic. Change suppression applies to
// the poll path only; push updates go straight to the subscribers.
type Registry struct {
	market    port.MarketData
	push      port.PushFeed // nil when push is disabled
	repo      port.Repository
	pollEvery time.Duration

	mu      sync.Mutex
	baseCtx context.Context
	feeds   map[model.SubscriptionKey]*feedState
}

func NewRegistry(market port.MarketData, push port.PushFeed, repo port.Repository, pollEvery time.Duration) *Registry {
	if pollEvery <= 0 {
		pollEvery = defaultPollEvery
	}
	return &Registry{
		market:    market,
		push:      push,
		repo:      repo,
		pollEvery: pollEvery,
		feeds:     make(map[model.SubscriptionKey]*feedState),
	}
}

// Run anchors feed lifetimes to ctx and drains the push channel. Returns
// when ctx is cancelled, stopping every live feed on the way out: feeds
// created before Run are not anchored to ctx yet, so shutdown must reach
// them explicitly.
func (r *Registry) Run(ctx context.Context) {
	r.mu.Lock()
	r.baseCtx = ctx
	r.mu.Unlock()
	defer r.stopAll()

	if r.push == nil {
		<-ctx.Done()
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case pk, ok := <-r.push.Klines():
			if !ok {
				<-ctx.Done()
				return
			}
			r.dispatchPush(pk)
		}
	}
}

// Subscribe registers interest; the first subscriber for a key starts its
// feed with an immediate fetch.
func (r *Registry) Subscribe(key model.SubscriptionKey, sub port.Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fs := r.feeds[key]
	if fs == nil {
		fctx, cancel := context.WithCancel(r.base())
		fs = &feedState{
			key:     key,
			clients: make(map[port.Subscriber]struct{}),
			cancel:  cancel,
			mode:    FeedStarting,
		}
		r.feeds[key] = fs
		go r.pollLoop(fctx, key)
		if r.push != nil {
			r.push.Subscribe(key.Topic())
		}
		log.Info().Str("symbol", key.Symbol).Str("interval", key.Interval).Msg("feed started")
	}
	if _, ok := fs.clients[sub]; !ok {
		fs.clients[sub] = struct{}{}
		fs.refs++
	}
}

// Unsubscribe removes interest; refcount zero stops the feed and
// withdraws the push topic before returning.
func (r *Registry) Unsubscribe(key model.SubscriptionKey, sub port.Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribeLocked(key, sub)
}

// Drop unsubscribes every key held by sub (client disconnect).
func (r *Registry) Drop(sub port.Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, fs := range r.feeds {
		if _, ok := fs.clients[sub]; ok {
			r.unsubscribeLocked(key, sub)
		}
	}
}

func (r *Registry) unsubscribeLocked(key model.SubscriptionKey, sub port.Subscriber) {
	fs := r.feeds[key]
	if fs == nil {
		return
	}
	if _, ok := fs.clients[sub]; !ok {
		return
	}
	delete(fs.clients, sub)
	fs.refs--
	if fs.refs > 0 {
		return
	}

	fs.mode = FeedStopping
	fs.cancel()
	if r.push != nil {
		r.push.Unsubscribe(key.Topic())
	}
	delete(r.feeds, key)
	log.Info().Str("symbol", key.Symbol).Str("interval", key.Interval).Msg("feed stopped")
}

func (r *Registry) stopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, fs := range r.feeds {
		fs.mode = FeedStopping
		fs.cancel()
		if r.push != nil {
			r.push.Unsubscribe(key.Topic())
		}
		delete(r.feeds, key)
	}
}

// ActiveFeeds returns the number of live feeds.
func (r *Registry) ActiveFeeds() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.feeds)
}

// Refs returns the reference count for a key, zero when no feed exists.
func (r *Registry) Refs(key model.SubscriptionKey) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fs := r.feeds[key]; fs != nil {
		return fs.refs
	}
	return 0
}

func (r *Registry) base() context.Context {
	if r.baseCtx != nil {
		return r.baseCtx
	}
	return context.Background()
}

func (r *Registry) pollLoop(ctx context.Context, key model.SubscriptionKey) {
	r.pollOnce(ctx, key)

	ticker := time.NewTicker(r.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pollOnce(ctx, key)
		}
	}
}

// pollOnce fetches the latest bar and emits it when any field changed
// since the last emission for this key. Fetch failures are transient:
// skip and retry on the next tick.
func (r *Registry) pollOnce(ctx context.Context, key model.SubscriptionKey) {
	candle, ok, err := r.market.LatestCandle(ctx, key.Symbol, key.Interval)
	if err != nil {
		if ctx.Err() == nil {
			log.Debug().Str("symbol", key.Symbol).Str("interval", key.Interval).Err(err).Msg("poll fetch failed")
		}
		return
	}
	if !ok {
		return
	}

	r.mu.Lock()
	fs := r.feeds[key]
	if fs == nil || ctx.Err() != nil {
		r.mu.Unlock()
		return
	}
	if fs.lastSent != nil && fs.lastSent.Equal(candle) {
		r.mu.Unlock()
		return
	}
	fs.lastSent = &candle
	if fs.mode == FeedStarting {
		if r.push != nil {
			fs.mode = FeedPushing
		} else {
			fs.mode = FeedPolling
		}
	}
	targets := snapshotClients(fs)
	r.mu.Unlock()

	r.deliver(key, candle, targets)

	if err := r.repo.UpsertLatestPrice(ctx, key.Symbol, candle.Close, candle.Time*1000); err != nil {
		log.Debug().Str("symbol", key.Symbol).Err(err).Msg("latest price upsert failed")
	}
}

// dispatchPush forwards a push-channel candle to the key's subscribers,
// bypassing change suppression. Keys without outstanding interest are
// dropped (late messages after unsubscribe).
func (r *Registry) dispatchPush(pk port.PushKline) {
	r.mu.Lock()
	fs := r.feeds[pk.Key]
	if fs == nil {
		r.mu.Unlock()
		return
	}
	targets := snapshotClients(fs)
	r.mu.Unlock()

	r.deliver(pk.Key, pk.Candle, targets)
}

// deliver writes one encoded message to every ready subscriber. Slow or
// closed subscribers are skipped: no queueing, no backpressure.
func (r *Registry) deliver(key model.SubscriptionKey, candle model.Candle, targets []port.Subscriber) {
	if len(targets) == 0 {
		return
	}
	msg := encodeKline(key, candle)
	for _, sub := range targets {
		if !sub.Ready() {
			continue
		}
		sub.Send(msg)
	}
}

func snapshotClients(fs *feedState) []port.Subscriber {
	out := make([]port.Subscriber, 0, len(fs.clients))
	for sub := range fs.clients {
		out = append(out, sub)
	}
	return out
}
