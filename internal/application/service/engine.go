package service

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"marketpulse/internal/application/port"
	"marketpulse/internal/domain/model"
)

const (
	defaultTickEvery = 60 * time.Second
	defaultCooldown  = time.Hour
)

// Engine evaluates the active alert rules on a fixed cadence. One ticker
// snapshot per tick; rules run in insertion order; a rule inside its
// cooldown window is skipped before any evaluation work. One rule's
// failure never aborts the tick.
type Engine struct {
	market    port.MarketData
	notifier  port.Notifier
	repo      port.Repository
	tickEvery time.Duration
	cooldown  time.Duration
	now       func() time.Time

	mu        sync.Mutex
	chatID    string
	rules     []model.AlertRule
	lastFired map[string]time.Time
}

func NewEngine(market port.MarketData, notifier port.Notifier, repo port.Repository, tickEvery, cooldown time.Duration) *Engine {
	if tickEvery <= 0 {
		tickEvery = defaultTickEvery
	}
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	return &Engine{
		market:    market,
		notifier:  notifier,
		repo:      repo,
		tickEvery: tickEvery,
		cooldown:  cooldown,
		now:       time.Now,
		lastFired: make(map[string]time.Time),
	}
}

// ReplaceRules swaps the rule set and notification target wholesale.
// Cooldown history survives the swap so re-syncing the same rules does
// not re-fire them.
func (e *Engine) ReplaceRules(chatID string, rules []model.AlertRule) {
	e.mu.Lock()
	e.chatID = chatID
	e.rules = append([]model.AlertRule(nil), rules...)
	e.mu.Unlock()

	log.Info().Str("chat_id", chatID).Int("rules", len(rules)).Msg("alert rules replaced")
}

// Run ticks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.tickEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.EvaluateNow(ctx); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("alert tick failed")
			}
		}
	}
}

// EvaluateNow runs exactly one evaluation tick. Safe to call while a
// timer tick is in flight: the cooldown table is the only shared write.
func (e *Engine) EvaluateNow(ctx context.Context) error {
	e.mu.Lock()
	chatID := e.chatID
	rules := append([]model.AlertRule(nil), e.rules...)
	e.mu.Unlock()

	if chatID == "" || len(rules) == 0 {
		return nil
	}
	// nothing to do while no delivery channel exists
	if d, ok := e.notifier.(interface{ Enabled() bool }); ok && !d.Enabled() {
		log.Debug().Msg("notifier disabled, skipping alert evaluation")
		return nil
	}

	tickers, err := e.market.Tickers(ctx)
	if err != nil {
		return fmt.Errorf("ticker snapshot: %w", err)
	}
	index := make(map[string]*model.Ticker, len(tickers))
	for i := range tickers {
		index[tickers[i].Symbol] = &tickers[i]
	}

	now := e.now()
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if e.coolingDown(rule.ID, now) {
			continue
		}

		match := e.evaluate(ctx, rule, tickers, index)
		if match == nil {
			continue
		}

		text := match.Message
		if rule.Name != "" {
			text = "🔔 " + rule.Name + "\n" + text
		}
		if err := e.notifier.Send(ctx, chatID, text); err != nil {
			// no cooldown recorded: the rule may fire again next tick
			log.Warn().Str("rule", rule.ID).Err(err).Msg("alert delivery failed")
			continue
		}

		e.mu.Lock()
		e.lastFired[rule.ID] = now
		e.mu.Unlock()

		match.RuleID = rule.ID
		match.RuleType = rule.Type
		match.Timestamp = now.UnixMilli()
		if err := e.repo.InsertAlertEvent(ctx, match); err != nil {
			log.Debug().Str("rule", rule.ID).Err(err).Msg("alert event insert failed")
		}
		log.Info().Str("rule", rule.ID).Str("type", rule.Type).Str("symbol", match.Symbol).Msg("alert fired")
	}
	return nil
}

func (e *Engine) coolingDown(ruleID string, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.lastFired[ruleID]
	return ok && now.Sub(last) < e.cooldown
}

// evaluate computes one rule. A nil result means "did not fire", whether
// because the condition failed, data was missing, a fetch errored, or the
// evaluation panicked.
func (e *Engine) evaluate(ctx context.Context, rule model.AlertRule, tickers []model.Ticker, index map[string]*model.Ticker) (match *model.AlertEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Str("rule", rule.ID).Any("panic", r).Msg("rule evaluation panicked")
			match = nil
		}
	}()

	switch rule.Type {
	case model.RulePriceChange:
		return evalPriceChange(rule, index)
	case model.RuleVolatility:
		return evalVolatility(rule, index)
	case model.RuleVolumeSpike:
		return evalVolumeSpike(rule, index)
	case model.RuleFunding:
		return evalFunding(rule, index)
	case model.RulePriceChangeShortTerm:
		return e.evalPriceChangeShortTerm(ctx, rule)
	case model.RuleVolumeSpikeShortTerm:
		return e.evalVolumeSpikeShortTerm(ctx, rule)
	case model.RuleAllPriceChange:
		return evalAllPriceChange(rule, tickers)
	case model.RuleAllVolumeSpike:
		return e.evalAllVolumeSpike(ctx, rule, tickers)
	default:
		log.Debug().Str("rule", rule.ID).Str("type", rule.Type).Msg("unknown rule type")
		return nil
	}
}

func evalPriceChange(rule model.AlertRule, index map[string]*model.Ticker) *model.AlertEvent {
	t := index[rule.Symbol]
	if t == nil {
		return nil
	}
	pct := t.Price24hPcnt * 100
	if math.Abs(pct) < rule.ParamFloat("thresholdPct", 5) {
		return nil
	}
	return &model.AlertEvent{
		Symbol:  rule.Symbol,
		Metric:  pct,
		Message: fmt.Sprintf("%s: 24h price change %.2f%%", rule.Symbol, pct),
	}
}

func evalVolatility(rule model.AlertRule, index map[string]*model.Ticker) *model.AlertEvent {
	t := index[rule.Symbol]
	if t == nil {
		return nil
	}
	prev := t.PrevPrice24h
	if prev == 0 {
		prev = t.LastPrice
	}
	if prev == 0 {
		return nil
	}
	volPct := (t.HighPrice24h - t.LowPrice24h) / prev * 100
	if volPct < rule.ParamFloat("thresholdPct", 5) {
		return nil
	}
	return &model.AlertEvent{
		Symbol:  rule.Symbol,
		Metric:  volPct,
		Message: fmt.Sprintf("%s: 24h volatility %.2f%%", rule.Symbol, volPct),
	}
}

func evalVolumeSpike(rule model.AlertRule, index map[string]*model.Ticker) *model.AlertEvent {
	t := index[rule.Symbol]
	if t == nil {
		return nil
	}
	if t.Turnover24h < rule.ParamFloat("minVolumeUsd", 1e9) {
		return nil
	}
	return &model.AlertEvent{
		Symbol:  rule.Symbol,
		Metric:  t.Turnover24h,
		Message: fmt.Sprintf("%s: 24h volume %.2fB$", rule.Symbol, t.Turnover24h/1e9),
	}
}

func evalFunding(rule model.AlertRule, index map[string]*model.Ticker) *model.AlertEvent {
	t := index[rule.Symbol]
	if t == nil {
		return nil
	}
	if math.Abs(t.FundingRate) < rule.ParamFloat("threshold", 0.0001) {
		return nil
	}
	return &model.AlertEvent{
		Symbol:  rule.Symbol,
		Metric:  t.FundingRate,
		Message: fmt.Sprintf("%s: funding %.4f%%", rule.Symbol, t.FundingRate*100),
	}
}

// shortTermInterval maps a rule interval label to the upstream interval
// code and its span in minutes. Anything but "5m" means hourly bars.
func shortTermInterval(label string) (string, float64) {
	if label == "5m" {
		return "5", 5
	}
	return "60", 60
}

func (e *Engine) evalPriceChangeShortTerm(ctx context.Context, rule model.AlertRule) *model.AlertEvent {
	if rule.Symbol == "" {
		return nil
	}
	interval, intervalMin := shortTermInterval(rule.ParamString("interval", "5m"))
	threshold := rule.ParamFloat("thresholdPct", 30)
	period := rule.ParamFloat("period", 5) // minutes

	limit := int(math.Ceil(period/intervalMin)) + 1
	klines, err := e.market.Klines(ctx, rule.Symbol, interval, limit)
	if err != nil || len(klines) < 2 {
		return nil
	}

	previous := klines[0].Close
	current := klines[len(klines)-1].Close
	if previous == 0 {
		return nil
	}
	changePct := math.Abs((current-previous)/previous) * 100
	if changePct < threshold {
		return nil
	}

	arrow := "📈"
	if current < previous {
		arrow = "📉"
	}
	return &model.AlertEvent{
		Symbol:  rule.Symbol,
		Metric:  changePct,
		Message: fmt.Sprintf("%s: %s price moved %.1f%% in the last %.0f minutes", rule.Symbol, arrow, changePct, period),
	}
}

func (e *Engine) evalVolumeSpikeShortTerm(ctx context.Context, rule model.AlertRule) *model.AlertEvent {
	if rule.Symbol == "" {
		return nil
	}
	threshold := rule.ParamFloat("spikeRatio", 5)

	fiveMin, err := e.market.Klines(ctx, rule.Symbol, "5", 12)
	if err != nil {
		return nil
	}
	hourly, err := e.market.Klines(ctx, rule.Symbol, "60", 24)
	if err != nil || len(hourly) < 2 {
		return nil
	}

	// last six 5m bars = the most recent 30 minutes
	recent := 0.0
	for i := max(0, len(fiveMin)-6); i < len(fiveMin); i++ {
		recent += fiveMin[i].Volume
	}
	// previous full hour, skipping the still-forming bar
	prevHour := hourly[len(hourly)-2].Volume
	if prevHour <= 0 {
		return nil
	}

	ratio := recent / prevHour
	if ratio < threshold {
		return nil
	}
	return &model.AlertEvent{
		Symbol:  rule.Symbol,
		Metric:  ratio,
		Message: fmt.Sprintf("%s: volume spike %.1fx over the last 30 minutes", rule.Symbol, ratio),
	}
}

func evalAllPriceChange(rule model.AlertRule, tickers []model.Ticker) *model.AlertEvent {
	minVolume := rule.ParamFloat("minVolume", 80e6)
	threshold := rule.ParamFloat("thresholdPct", 10)
	period := rule.ParamString("period", "24h")

	// Scan in snapshot order; the first qualifying symbol ends the scan.
	// Deliberate cost bound, not an oversight.
	for _, t := range tickers {
		if t.Turnover24h < minVolume {
			continue
		}
		pct := t.Price24hPcnt * 100
		if math.Abs(pct) < threshold {
			continue
		}
		return &model.AlertEvent{
			Symbol:  t.Symbol,
			Metric:  pct,
			Message: fmt.Sprintf("%s: price change %s %.2f%%", t.Symbol, period, pct),
		}
	}
	return nil
}

func (e *Engine) evalAllVolumeSpike(ctx context.Context, rule model.AlertRule, tickers []model.Ticker) *model.AlertEvent {
	minVolume := rule.ParamFloat("minVolume", 50e6)
	threshold := rule.ParamFloat("spikeRatio", 3)
	period := rule.ParamString("period", "1h vs 24h")

	for _, t := range tickers {
		if t.Turnover24h < minVolume {
			continue
		}

		ratio, ok := e.periodVolumeRatio(ctx, t.Symbol, period)
		if !ok {
			// per-symbol fetch failures do not end the scan
			continue
		}
		if ratio < threshold {
			continue
		}
		return &model.AlertEvent{
			Symbol:  t.Symbol,
			Metric:  ratio,
			Message: fmt.Sprintf("%s: volume spike %s %.1fx!", t.Symbol, period, ratio),
		}
	}
	return nil
}

// periodVolumeRatio compares current-period volume against the
// comparison period for the configured pair. Current is the newest bar
// of the short interval; the comparison is the latest completed bar of
// the long interval, except 15m-vs-4h which sums the three completed 4h
// bars before the newest.
func (e *Engine) periodVolumeRatio(ctx context.Context, symbol, period string) (float64, bool) {
	var current, previous float64

	switch period {
	case "5m vs 1h":
		short, err := e.market.Klines(ctx, symbol, "5", 2)
		if err != nil || len(short) == 0 {
			return 0, false
		}
		long, err := e.market.Klines(ctx, symbol, "60", 2)
		if err != nil || len(long) < 2 {
			return 0, false
		}
		current = short[len(short)-1].Volume
		previous = long[len(long)-2].Volume

	case "15m vs 4h":
		short, err := e.market.Klines(ctx, symbol, "15", 4)
		if err != nil || len(short) == 0 {
			return 0, false
		}
		long, err := e.market.Klines(ctx, symbol, "240", 4)
		if err != nil || len(long) < 2 {
			return 0, false
		}
		current = short[len(short)-1].Volume
		for i := 0; i < len(long)-1; i++ {
			previous += long[i].Volume
		}

	case "1h vs 24h":
		short, err := e.market.Klines(ctx, symbol, "60", 2)
		if err != nil || len(short) == 0 {
			return 0, false
		}
		long, err := e.market.Klines(ctx, symbol, "D", 2)
		if err != nil || len(long) < 2 {
			return 0, false
		}
		current = short[len(short)-1].Volume
		previous = long[len(long)-2].Volume

	default:
		return 0, false
	}

	if previous <= 0 {
		return 0, false
	}
	return current / previous, true
}
