package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"

	"github.com/cadogan/gridline/internal/bus"
	"github.com/cadogan/gridline/internal/observability"
	"github.com/cadogan/gridline/internal/schema"
)

const (
	priceStaleAfter    = 15 * time.Second
	priceBackoffCeil   = 10 * time.Second
	watchdogInterval   = time.Second
	subscribeAckWindow = 5 * time.Second
)

// PriceStream maintains a best bid/ask feed over a websocket session,
// reconnecting with linear backoff and flagging staleness without tearing
// the connection down.
type PriceStream struct {
	baseURL    string
	symbol     string
	streamName string
	tickers    *bus.Hub[schema.Ticker]
	status     *statusPublisher
	clock      func() time.Time

	cancel context.CancelFunc
	wg     conc.WaitGroup
}

// NewPriceStream builds a stream for symbol against the venue's public
// websocket base URL.
func NewPriceStream(baseURL, symbol string, b *bus.Bus) *PriceStream {
	streamName := strings.ToLower(strings.TrimSpace(symbol)) + "@bookTicker"
	return &PriceStream{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		symbol:     strings.ToUpper(strings.TrimSpace(symbol)),
		streamName: streamName,
		tickers:    b.Tickers,
		status:     newStatusPublisher(b.PriceState, baseURL, streamName),
		clock:      time.Now,
	}
}

// Status returns the latest status snapshot.
func (s *PriceStream) Status() schema.StreamStatus {
	return s.status.current()
}

// Start launches the session loop. It returns immediately; Stop tears the
// stream down.
func (s *PriceStream) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Go(func() {
		s.run(ctx)
	})
}

// Stop cancels the session loop and waits for it to unwind.
func (s *PriceStream) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.status.update(func(st *schema.StreamStatus) {
		st.State = schema.StreamStopped
		st.Connected = false
		st.Receiving = false
	})
}

// connector is one ordered websocket establishment strategy.
type connector struct {
	name string
	dial func(ctx context.Context, s *PriceStream) (*websocket.Conn, bool, error)
}

// connectors are tried in order each session; the first one that completes a
// connection wins. A failed attempt closes its socket before the next try.
func connectors() []connector {
	return []connector{
		{name: "root+subscribe", dial: dialRootSubscribe},
		{name: "direct-path", dial: dialDirectPath},
		{name: "combined-path", dial: dialCombinedPath},
	}
}

func dialRootSubscribe(ctx context.Context, s *PriceStream) (*websocket.Conn, bool, error) {
	conn, _, err := websocket.Dial(ctx, s.baseURL+"/ws", nil)
	if err != nil {
		return nil, false, err
	}
	return conn, true, nil
}

func dialDirectPath(ctx context.Context, s *PriceStream) (*websocket.Conn, bool, error) {
	conn, _, err := websocket.Dial(ctx, s.baseURL+"/ws/"+s.streamName, nil)
	if err != nil {
		return nil, false, err
	}
	return conn, false, nil
}

func dialCombinedPath(ctx context.Context, s *PriceStream) (*websocket.Conn, bool, error) {
	conn, _, err := websocket.Dial(ctx, s.baseURL+"/stream?streams="+s.streamName, nil)
	if err != nil {
		return nil, false, err
	}
	return conn, false, nil
}

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     uint64   `json:"id"`
}

func (s *PriceStream) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := s.establish(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.scheduleReconnect(ctx, err)
			continue
		}

		err = s.session(ctx, conn)
		_ = conn.Close(websocket.StatusNormalClosure, "")
		if errors.Is(err, context.Canceled) {
			return
		}
		s.scheduleReconnect(ctx, err)
	}
}

// establish walks the connector strategies in order for this session.
func (s *PriceStream) establish(ctx context.Context) (*websocket.Conn, error) {
	var lastErr error
	for _, c := range connectors() {
		s.status.update(func(st *schema.StreamStatus) {
			st.State = schema.StreamConnecting
			st.Connected = false
			st.Receiving = false
		})
		conn, needsSubscribe, err := c.dial(ctx, s)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", c.name, err)
			observability.Log().Debug("price stream dial failed",
				observability.F("strategy", c.name), observability.F("err", err))
			continue
		}
		s.status.update(func(st *schema.StreamStatus) {
			st.State = schema.StreamConnected
			st.Connected = true
		})
		if needsSubscribe {
			if err := s.subscribe(ctx, conn); err != nil {
				lastErr = fmt.Errorf("%s: %w", c.name, err)
				_ = conn.Close(websocket.StatusNormalClosure, "subscribe failed")
				continue
			}
		}
		s.status.update(func(st *schema.StreamStatus) {
			st.State = schema.StreamSubscribed
			// Seed the watchdog so a session that never delivers a single
			// message still goes stale a full window after subscribing.
			st.LastMessageAt = s.clock().UTC()
		})
		return conn, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no connection strategy succeeded")
	}
	return nil, lastErr
}

func (s *PriceStream) subscribe(ctx context.Context, conn *websocket.Conn) error {
	s.status.update(func(st *schema.StreamStatus) {
		st.State = schema.StreamSubscribing
	})
	req := subscribeRequest{Method: "SUBSCRIBE", Params: []string{s.streamName}, ID: 1}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal subscribe: %w", err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, subscribeAckWindow)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	return nil
}

// session runs the read loop plus the staleness watchdog until either fails.
func (s *PriceStream) session(ctx context.Context, conn *websocket.Conn) error {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var watchdog conc.WaitGroup
	watchdog.Go(func() {
		s.watch(sessionCtx)
	})
	defer watchdog.Wait()

	for {
		msgType, data, err := conn.Read(sessionCtx)
		if err != nil {
			if sessionCtx.Err() != nil {
				return context.Canceled
			}
			return fmt.Errorf("read: %w", err)
		}
		if msgType != websocket.MessageText {
			continue
		}
		s.handleMessage(data)
	}
}

// watch flips the state to Stale after 15 seconds of silence. The connection
// stays up; a genuine message flips the state back to Receiving.
func (s *PriceStream) watch(ctx context.Context) {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkStale()
		}
	}
}

func (s *PriceStream) checkStale() {
	current := s.status.current()
	if current.State != schema.StreamReceiving && current.State != schema.StreamSubscribed {
		return
	}
	if s.clock().Sub(current.LastMessageAt) < priceStaleAfter {
		return
	}
	s.status.update(func(st *schema.StreamStatus) {
		switch st.State {
		case schema.StreamReceiving, schema.StreamSubscribed:
			st.State = schema.StreamStale
			st.Receiving = false
		}
	})
}

func (s *PriceStream) handleMessage(data []byte) {
	ticker, err := parseBookTicker(data)
	if err != nil {
		observability.Log().Debug("price stream message dropped", observability.F("err", err))
		return
	}
	if ticker.Symbol == "" {
		ticker.Symbol = s.symbol
	}
	now := s.clock().UTC()
	ticker.At = now
	s.status.update(func(st *schema.StreamStatus) {
		st.State = schema.StreamReceiving
		st.Receiving = true
		st.LastMessageAt = now
	})
	s.tickers.Publish(ticker)
}

func (s *PriceStream) scheduleReconnect(ctx context.Context, cause error) {
	snapshot := s.status.update(func(st *schema.StreamStatus) {
		st.State = schema.StreamError
		st.Connected = false
		st.Receiving = false
		if cause != nil {
			st.LastErr = cause.Error()
		}
	})
	delay := time.Duration(1+snapshot.Reconnects) * time.Second
	if delay > priceBackoffCeil {
		delay = priceBackoffCeil
	}
	s.status.update(func(st *schema.StreamStatus) {
		st.State = schema.StreamReconnecting
		st.Reconnects++
	})
	observability.Log().Info("price stream reconnecting",
		observability.F("delay", delay), observability.F("err", cause))
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

// bookTickerPayload tolerates the short field pair, the verbose field pair,
// and the combined-stream data envelope.
type bookTickerPayload struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`

	Symbol    string `json:"s"`
	Bid       string `json:"b"`
	Ask       string `json:"a"`
	SymbolAlt string `json:"symbol"`
	BidPrice  string `json:"bidPrice"`
	AskPrice  string `json:"askPrice"`
}

func parseBookTicker(data []byte) (schema.Ticker, error) {
	var payload bookTickerPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return schema.Ticker{}, fmt.Errorf("decode book ticker: %w", err)
	}
	if len(payload.Data) > 0 {
		return parseBookTicker(payload.Data)
	}
	symbol := payload.Symbol
	if symbol == "" {
		symbol = payload.SymbolAlt
	}
	bidText := payload.Bid
	if bidText == "" {
		bidText = payload.BidPrice
	}
	askText := payload.Ask
	if askText == "" {
		askText = payload.AskPrice
	}
	if bidText == "" || askText == "" {
		return schema.Ticker{}, errors.New("book ticker fields missing")
	}
	bid, err := decimal.NewFromString(bidText)
	if err != nil {
		return schema.Ticker{}, fmt.Errorf("decode bid: %w", err)
	}
	ask, err := decimal.NewFromString(askText)
	if err != nil {
		return schema.Ticker{}, fmt.Errorf("decode ask: %w", err)
	}
	return schema.Ticker{Symbol: strings.ToUpper(symbol), Bid: bid, Ask: ask}, nil
}
