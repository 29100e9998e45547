package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"marketpulse/internal/application/port"
	"marketpulse/internal/domain/model"
)

const defaultBaseURL = "https://api.bybit.com"

// MarketClient is the Bybit v5 public market data REST client.
// All queries use category=linear, matching the perpetual market the
// alert rules are defined over.
type MarketClient struct {
	baseURL string
	client  *http.Client
}

func NewMarketClient(baseURL string) *MarketClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &MarketClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type tickersResp struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []struct {
			Symbol       string `json:"symbol"`
			LastPrice    string `json:"lastPrice"`
			Price24hPcnt string `json:"price24hPcnt"`
			Turnover24h  string `json:"turnover24h"`
			HighPrice24h string `json:"highPrice24h"`
			LowPrice24h  string `json:"lowPrice24h"`
			PrevPrice24h string `json:"prevPrice24h"`
			FundingRate  string `json:"fundingRate"`
		} `json:"list"`
	} `json:"result"`
}

type klineResp struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List [][]string `json:"list"`
	} `json:"result"`
}

// Tickers fetches the full linear ticker snapshot. List order is the
// exchange's; all-symbol rule scans depend on it staying untouched.
func (c *MarketClient) Tickers(ctx context.Context) ([]model.Ticker, error) {
	params := url.Values{}
	params.Set("category", "linear")

	var resp tickersResp
	if err := c.get(ctx, "/v5/market/tickers", params, &resp); err != nil {
		return nil, err
	}
	if resp.RetCode != 0 {
		return nil, fmt.Errorf("bybit api error: %s", resp.RetMsg)
	}

	out := make([]model.Ticker, 0, len(resp.Result.List))
	for _, t := range resp.Result.List {
		out = append(out, model.Ticker{
			Symbol:       t.Symbol,
			LastPrice:    parseFloat(t.LastPrice),
			Price24hPcnt: parseFloat(t.Price24hPcnt),
			Turnover24h:  parseFloat(t.Turnover24h),
			HighPrice24h: parseFloat(t.HighPrice24h),
			LowPrice24h:  parseFloat(t.LowPrice24h),
			PrevPrice24h: parseFloat(t.PrevPrice24h),
			FundingRate:  parseFloat(t.FundingRate),
		})
	}
	return out, nil
}

// Klines fetches up to limit candles for symbol/interval. Bybit returns
// newest-first; the result is reversed so callers always see
// chronological order with the forming bar last.
func (c *MarketClient) Klines(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	params := url.Values{}
	params.Set("category", "linear")
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	var resp klineResp
	if err := c.get(ctx, "/v5/market/kline", params, &resp); err != nil {
		return nil, err
	}
	if resp.RetCode != 0 {
		return nil, fmt.Errorf("bybit api error: %s", resp.RetMsg)
	}

	out := make([]model.Candle, 0, len(resp.Result.List))
	for i := len(resp.Result.List) - 1; i >= 0; i-- {
		row := resp.Result.List[i]
		if len(row) < 5 {
			continue
		}
		ts, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}
		cndl := model.Candle{
			Time:  model.NormalizeTime(ts),
			Open:  parseFloat(row[1]),
			High:  parseFloat(row[2]),
			Low:   parseFloat(row[3]),
			Close: parseFloat(row[4]),
		}
		if len(row) > 5 {
			cndl.Volume = parseFloat(row[5])
		}
		if len(row) > 6 {
			cndl.Turnover = parseFloat(row[6])
		}
		out = append(out, cndl)
	}
	return out, nil
}

// LatestCandle returns the most recent (possibly still forming) bar.
// ok is false when the exchange has no data for the key.
func (c *MarketClient) LatestCandle(ctx context.Context, symbol, interval string) (model.Candle, bool, error) {
	list, err := c.Klines(ctx, symbol, interval, 3)
	if err != nil {
		return model.Candle{}, false, err
	}
	if len(list) == 0 {
		return model.Candle{}, false, nil
	}
	return list[len(list)-1], true, nil
}

func (c *MarketClient) get(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bybit api error: status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

var _ port.MarketData = (*MarketClient)(nil)
