package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"marketpulse/internal/application/port"
	"marketpulse/internal/application/service"
	"marketpulse/internal/domain/model"
	"marketpulse/internal/infrastructure/notify/telegram"
	"marketpulse/internal/infrastructure/storage"
)

type fakeMarket struct {
	tickers []model.Ticker
}

func (m *fakeMarket) Tickers(ctx context.Context) ([]model.Ticker, error) {
	return m.tickers, nil
}

func (m *fakeMarket) Klines(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	return nil, nil
}

func (m *fakeMarket) LatestCandle(ctx context.Context, symbol, interval string) (model.Candle, bool, error) {
	return model.Candle{}, false, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (n *fakeNotifier) Send(ctx context.Context, chatID, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, chatID+": "+text)
	return nil
}

var _ port.MarketData = (*fakeMarket)(nil)
var _ port.Notifier = (*fakeNotifier)(nil)

func newTestServer(market port.MarketData, notifier port.Notifier) *Server {
	repo := storage.NewNoopRepo()
	registry := service.NewRegistry(market, nil, repo, time.Hour)
	engine := service.NewEngine(market, notifier, repo, time.Minute, time.Hour)
	return New(registry, engine, notifier)
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("bad response body %q: %v", rec.Body.String(), err)
		}
	}
	return rec.Code, out
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(&fakeMarket{}, &fakeNotifier{})

	code, body := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["ok"] != true {
		t.Fatalf("body = %v", body)
	}
}

func TestNotifyRequiresFields(t *testing.T) {
	srv := newTestServer(&fakeMarket{}, &fakeNotifier{})

	for _, body := range []string{
		``,
		`{}`,
		`{"telegramChatId":"123"}`,
		`{"text":"hello"}`,
	} {
		code, _ := doJSON(t, srv.Handler(), http.MethodPost, "/notify", body)
		if code != http.StatusBadRequest {
			t.Fatalf("body %q: status = %d, want 400", body, code)
		}
	}
}

func TestNotifySends(t *testing.T) {
	notifier := &fakeNotifier{}
	srv := newTestServer(&fakeMarket{}, notifier)

	code, body := doJSON(t, srv.Handler(), http.MethodPost, "/notify",
		`{"telegramChatId":"123","text":"hello"}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["ok"] != true || body["sent"] != true {
		t.Fatalf("body = %v", body)
	}
	if len(notifier.sent) != 1 || notifier.sent[0] != "123: hello" {
		t.Fatalf("sent = %v", notifier.sent)
	}
}

func TestNotifyDisabledNotifier(t *testing.T) {
	disabled, err := telegram.New("")
	if err != nil {
		t.Fatalf("telegram: %v", err)
	}
	srv := newTestServer(&fakeMarket{}, disabled)

	code, body := doJSON(t, srv.Handler(), http.MethodPost, "/notify",
		`{"telegramChatId":"123","text":"hello"}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for disabled notifier", code)
	}
	if body["ok"] != false || body["sent"] != false {
		t.Fatalf("body = %v", body)
	}
}

func TestAlertsSyncAndCheck(t *testing.T) {
	notifier := &fakeNotifier{}
	market := &fakeMarket{tickers: []model.Ticker{
		{Symbol: "BTCUSDT", Price24hPcnt: 0.20},
	}}
	srv := newTestServer(market, notifier)

	code, body := doJSON(t, srv.Handler(), http.MethodPost, "/alerts/sync", `{
		"telegramChatId": "123",
		"alerts": [
			{"id":"r1","name":"BTC move","type":"price_change","symbol":"BTCUSDT","enabled":true},
			{"id":"r2","type":"funding","symbol":"BTCUSDT","enabled":false}
		]
	}`)
	if code != http.StatusOK {
		t.Fatalf("sync status = %d", code)
	}
	if body["ok"] != true || body["count"] != float64(2) {
		t.Fatalf("sync body = %v", body)
	}

	code, body = doJSON(t, srv.Handler(), http.MethodGet, "/alerts/check", "")
	if code != http.StatusOK || body["ok"] != true {
		t.Fatalf("check status = %d body = %v", code, body)
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("notifications = %v, want the enabled rule to fire", notifier.sent)
	}
}

func TestAlertsSyncRejectsBadBody(t *testing.T) {
	srv := newTestServer(&fakeMarket{}, &fakeNotifier{})

	code, _ := doJSON(t, srv.Handler(), http.MethodPost, "/alerts/sync", `{"alerts": "nope"}`)
	if code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", code)
	}
}
