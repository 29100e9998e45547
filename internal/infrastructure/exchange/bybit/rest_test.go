package bybit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestKlinesReversedToChronological(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v5/market/kline" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("category"); got != "linear" {
			t.Errorf("category = %s", got)
		}
		// newest first, as bybit sends it
		_, _ = w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[
			["1700000120000","103","104","102","103.5","7","721"],
			["1700000060000","101","103","100","103","6","612"],
			["1700000000000","100","102","99","101","5","505"]
		]}}`))
	}))
	defer srv.Close()

	c := NewMarketClient(srv.URL)
	list, err := c.Klines(context.Background(), "BTCUSDT", "1", 3)
	if err != nil {
		t.Fatalf("klines: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	if list[0].Time != 1700000000 || list[2].Time != 1700000120 {
		t.Fatalf("order = [%d %d %d], want oldest first", list[0].Time, list[1].Time, list[2].Time)
	}
	if list[0].Open != 100 || list[2].Close != 103.5 || list[2].Turnover != 721 {
		t.Fatalf("fields = %+v", list)
	}
}

func TestLatestCandleIsNewestBar(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[
			["1700000060000","101","103","100","102.5","6","612"],
			["1700000000000","100","102","99","101","5","505"]
		]}}`))
	}))
	defer srv.Close()

	c := NewMarketClient(srv.URL)
	candle, ok, err := c.LatestCandle(context.Background(), "BTCUSDT", "1")
	if err != nil || !ok {
		t.Fatalf("latest: ok=%v err=%v", ok, err)
	}
	if candle.Time != 1700000060 || candle.Close != 102.5 {
		t.Fatalf("candle = %+v, want the newest bar", candle)
	}
}

func TestLatestCandleEmptyList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[]}}`))
	}))
	defer srv.Close()

	c := NewMarketClient(srv.URL)
	_, ok, err := c.LatestCandle(context.Background(), "NOSUCH", "1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if ok {
		t.Fatal("ok = true for empty list")
	}
}

func TestTickersPreserveExchangeOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[
			{"symbol":"BTCUSDT","lastPrice":"50000","price24hPcnt":"0.05","turnover24h":"2000000000","highPrice24h":"51000","lowPrice24h":"48000","prevPrice24h":"47600","fundingRate":"0.0001"},
			{"symbol":"ETHUSDT","lastPrice":"3000","price24hPcnt":"-0.02","turnover24h":"900000000","highPrice24h":"3100","lowPrice24h":"2900","prevPrice24h":"3061","fundingRate":"-0.0002"}
		]}}`))
	}))
	defer srv.Close()

	c := NewMarketClient(srv.URL)
	tickers, err := c.Tickers(context.Background())
	if err != nil {
		t.Fatalf("tickers: %v", err)
	}
	if len(tickers) != 2 {
		t.Fatalf("len = %d, want 2", len(tickers))
	}
	if tickers[0].Symbol != "BTCUSDT" || tickers[1].Symbol != "ETHUSDT" {
		t.Fatalf("order = %s,%s", tickers[0].Symbol, tickers[1].Symbol)
	}
	if tickers[0].Price24hPcnt != 0.05 || tickers[1].FundingRate != -0.0002 {
		t.Fatalf("fields = %+v", tickers)
	}
}

func TestAPIErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"retCode":10001,"retMsg":"params error","result":{}}`))
	}))
	defer srv.Close()

	c := NewMarketClient(srv.URL)
	if _, err := c.Tickers(context.Background()); err == nil {
		t.Fatal("expected error for non-zero retCode")
	}
	if _, err := c.Klines(context.Background(), "BTCUSDT", "1", 3); err == nil {
		t.Fatal("expected error for non-zero retCode")
	}
}
