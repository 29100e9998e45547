package model

import "strconv"

// ========== Alert Models ==========

// Rule types. The all_* types scan every symbol in the ticker snapshot;
// the rest target a single symbol.
const (
	RulePriceChange          = "price_change"
	RuleVolatility           = "volatility"
	RuleVolumeSpike          = "volume_spike"
	RuleFunding              = "funding"
	RulePriceChangeShortTerm = "price_change_short_term"
	RuleVolumeSpikeShortTerm = "volume_spike_short_term"
	RuleAllPriceChange       = "all_price_change"
	RuleAllVolumeSpike       = "all_volume_spike"
)

// AlertRule is one user-defined threshold rule. Params carries the
// per-type numeric/string options under their wire names.
type AlertRule struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Type    string         `json:"type"`
	Symbol  string         `json:"symbol,omitempty"`
	Enabled bool           `json:"enabled"`
	Params  map[string]any `json:"params,omitempty"`
}

// ParamFloat reads a numeric option, falling back when absent or
// unparseable. Rule forms serialize numbers inconsistently, so numeric
// strings are coerced.
func (r AlertRule) ParamFloat(key string, def float64) float64 {
	v, ok := r.Params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f
		}
	}
	return def
}

// ParamString reads a string option with a fallback.
func (r AlertRule) ParamString(key, def string) string {
	if v, ok := r.Params[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}

// AlertEvent records one fired rule for the audit trail.
type AlertEvent struct {
	RuleID    string  `json:"rule_id"`
	RuleType  string  `json:"rule_type"`
	Symbol    string  `json:"symbol"`
	Metric    float64 `json:"metric"`
	Message   string  `json:"message"`
	Timestamp int64   `json:"ts_ms"`
}
