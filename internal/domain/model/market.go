package model

// ========== Market Data Models ==========

// Candle is one kline bar. Time is unix seconds regardless of source unit.
type Candle struct {
	Time     int64   `json:"time"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume,omitempty"`
	Turnover float64 `json:"turnover,omitempty"`
}

// Equal compares the fields that matter for change suppression.
// Turnover is deliberately left out: it trails volume and would let
// otherwise-identical bars through.
func (c Candle) Equal(o Candle) bool {
	return c.Time == o.Time &&
		c.Open == o.Open &&
		c.High == o.High &&
		c.Low == o.Low &&
		c.Close == o.Close &&
		c.Volume == o.Volume
}

// SubscriptionKey identifies one upstream feed: (symbol, interval).
type SubscriptionKey struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
}

// Topic is the upstream push topic for this key, e.g. "kline.5.BTCUSDT".
func (k SubscriptionKey) Topic() string {
	return "kline." + k.Interval + "." + k.Symbol
}

// Ticker is a per-symbol 24h market snapshot, refreshed wholesale.
type Ticker struct {
	Symbol        string  `json:"symbol"`
	LastPrice     float64 `json:"lastPrice"`
	Price24hPcnt  float64 `json:"price24hPcnt"` // fraction, e.g. 0.06 == +6%
	Turnover24h   float64 `json:"turnover24h"`
	HighPrice24h  float64 `json:"highPrice24h"`
	LowPrice24h   float64 `json:"lowPrice24h"`
	PrevPrice24h  float64 `json:"prevPrice24h"`
	FundingRate   float64 `json:"fundingRate"`
}

// NormalizeTime converts a kline timestamp to seconds. Values above 10^12
// are milliseconds.
func NormalizeTime(ts int64) int64 {
	if ts > 1e12 {
		return ts / 1000
	}
	return ts
}
