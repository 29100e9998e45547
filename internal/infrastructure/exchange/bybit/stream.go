package bybit

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"marketpulse/internal/application/port"
	"marketpulse/internal/domain/model"
)

// Reconnect backoff: 1000ms, grown by 1.5x per failure, capped at 60s,
// reset after a successful dial.
const (
	initialBackoff = 1 * time.Second
	backoffFactor  = 1.5
	maxBackoff     = 60 * time.Second
)

func nextBackoff(cur time.Duration) time.Duration {
	next := time.Duration(float64(cur) * backoffFactor)
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

// KlineFeed maintains the Bybit v5 public kline stream. Topic interest
// survives reconnects: every outstanding topic is re-subscribed once the
// dial succeeds. Poll remains the source of truth; this feed only cuts
// latency, so every failure path just retries.
type KlineFeed struct {
	wsURL string

	// writeMu serializes data writes: subscribe ops may come from the
	// registry while Run's resubscribe loop is writing, and the
	// connection allows only one concurrent writer.
	writeMu sync.Mutex

	mu        sync.Mutex
	topics    map[string]struct{}
	conn      *websocket.Conn
	connected bool

	out chan port.PushKline
}

func NewKlineFeed(wsURL string) *KlineFeed {
	return &KlineFeed{
		wsURL:  strings.TrimSpace(wsURL),
		topics: make(map[string]struct{}),
		out:    make(chan port.PushKline, 1024),
	}
}

func (f *KlineFeed) Klines() <-chan port.PushKline { return f.out }

// Subscribe registers interest in a topic and, when connected, issues the
// subscribe op immediately.
func (f *KlineFeed) Subscribe(topic string) {
	f.mu.Lock()
	f.topics[topic] = struct{}{}
	conn, connected := f.conn, f.connected
	f.mu.Unlock()

	if connected {
		f.writeOp(conn, "subscribe", topic)
	}
}

// Unsubscribe withdraws interest; no further messages for the topic are
// wanted even if the exchange still sends a few in flight.
func (f *KlineFeed) Unsubscribe(topic string) {
	f.mu.Lock()
	delete(f.topics, topic)
	conn, connected := f.conn, f.connected
	f.mu.Unlock()

	if connected {
		f.writeOp(conn, "unsubscribe", topic)
	}
}

type subRequest struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

func (f *KlineFeed) writeOp(conn *websocket.Conn, op, topic string) {
	f.writeMu.Lock()
	err := conn.WriteJSON(subRequest{Op: op, Args: []string{topic}})
	f.writeMu.Unlock()
	if err != nil {
		log.Warn().Str("op", op).Str("topic", topic).Err(err).Msg("push op failed")
	}
}

// Run dials and reads until ctx is cancelled.
func (f *KlineFeed) Run(ctx context.Context) {
	defer close(f.out)

	backoff := initialBackoff

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		conn, _, err := websocket.DefaultDialer.DialContext(cctx, f.wsURL, nil)
		cancel()
		if err != nil {
			log.Warn().Str("url", f.wsURL).Err(err).Dur("backoff", backoff).Msg("push dial failed")
			if !sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = initialBackoff
		log.Info().Str("url", f.wsURL).Msg("push connected")

		f.mu.Lock()
		f.conn = conn
		f.connected = true
		pending := make([]string, 0, len(f.topics))
		for t := range f.topics {
			pending = append(pending, t)
		}
		f.mu.Unlock()

		for _, topic := range pending {
			f.writeOp(conn, "subscribe", topic)
		}

		err = f.readLoop(ctx, conn)

		f.mu.Lock()
		f.conn = nil
		f.connected = false
		f.mu.Unlock()
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Dur("backoff", backoff).Msg("push disconnected, reconnecting")
		if !sleep(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

func (f *KlineFeed) readLoop(ctx context.Context, conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(25 * time.Second)
	defer pingTicker.Stop()

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			f.handleMessage(b)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-pingTicker.C:
			_ = conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
		}
	}
}

type pushMsg struct {
	Topic   string          `json:"topic"`
	Data    json.RawMessage `json:"data"`
	Success *bool           `json:"success,omitempty"`
	RetMsg  string          `json:"ret_msg,omitempty"`
}

// handleMessage normalizes one inbound frame. Anything that does not
// resolve to a kline topic plus a parseable candle is dropped.
func (f *KlineFeed) handleMessage(raw []byte) {
	var msg pushMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	if msg.Success != nil {
		if !*msg.Success {
			log.Warn().Str("ret_msg", msg.RetMsg).Msg("push op rejected")
		}
		return
	}

	// topic: kline.<interval>.<symbol>
	parts := strings.Split(msg.Topic, ".")
	if len(parts) != 3 || parts[0] != "kline" {
		return
	}
	key := model.SubscriptionKey{Symbol: parts[2], Interval: parts[1]}

	entry := firstEntry(msg.Data)
	if entry == nil {
		return
	}
	candle, ok := parseEntry(entry)
	if !ok {
		return
	}

	select {
	case f.out <- port.PushKline{Key: key, Candle: candle}:
	default:
		// consumer behind; poll path covers the gap
	}
}

// firstEntry unwraps data that may be an array of entries or one object.
func firstEntry(data json.RawMessage) json.RawMessage {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	if trimmed[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(data, &arr); err != nil || len(arr) == 0 {
			return nil
		}
		return arr[0]
	}
	if trimmed[0] == '{' {
		return data
	}
	return nil
}

// parseEntry accepts either positional [t,o,h,l,c,v,turnover] tuples or
// objects with known alias spellings, tried in a fixed order. Failure to
// resolve the timestamp or any OHLC field skips the message.
func parseEntry(entry json.RawMessage) (model.Candle, bool) {
	var fields map[string]json.RawMessage

	var arr []json.RawMessage
	if err := json.Unmarshal(entry, &arr); err == nil {
		fields = make(map[string]json.RawMessage, len(arr))
		for i, v := range arr {
			fields[strconv.Itoa(i)] = v
		}
	} else if err := json.Unmarshal(entry, &fields); err != nil {
		return model.Candle{}, false
	}

	ts, ok := pickInt(fields, "0", "start", "ts", "StartTime", "s")
	if !ok {
		return model.Candle{}, false
	}

	open, ok1 := pickFloat(fields, "1", "open", "O")
	high, ok2 := pickFloat(fields, "2", "high", "H")
	low, ok3 := pickFloat(fields, "3", "low", "L")
	cls, ok4 := pickFloat(fields, "4", "close", "C")
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return model.Candle{}, false
	}

	vol, _ := pickFloat(fields, "5", "volume", "V")
	turnover, _ := pickFloat(fields, "6", "turnover")

	return model.Candle{
		Time:     model.NormalizeTime(ts),
		Open:     open,
		High:     high,
		Low:      low,
		Close:    cls,
		Volume:   vol,
		Turnover: turnover,
	}, true
}

func pickFloat(fields map[string]json.RawMessage, names ...string) (float64, bool) {
	for _, name := range names {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		if f, ok := asFloat(raw); ok {
			return f, true
		}
	}
	return 0, false
}

func pickInt(fields map[string]json.RawMessage, names ...string) (int64, bool) {
	f, ok := pickFloat(fields, names...)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

// asFloat handles both JSON numbers and numeric strings, which Bybit
// mixes freely.
func asFloat(raw json.RawMessage) (float64, bool) {
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

var _ port.PushFeed = (*KlineFeed)(nil)
