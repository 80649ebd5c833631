package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"

	"github.com/cadogan/gridline/internal/bus"
	"github.com/cadogan/gridline/internal/observability"
	"github.com/cadogan/gridline/internal/schema"
)

const (
	listenKeyRenewEvery = 30 * time.Minute
	userBackoffInitial  = 2 * time.Second
	userBackoffFactor   = 1.7
	userBackoffCeil     = 20 * time.Second
)

// AccountClient is the REST surface the user-data stream depends on.
type AccountClient interface {
	CreateListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context, listenKey string) error
	CloseListenKey(ctx context.Context, listenKey string) error
	AccountSnapshot(ctx context.Context) ([]schema.Balance, error)
}

// UserDataStream maintains the authenticated user-data session: listen key
// lifecycle, balance state, and execution report delivery.
type UserDataStream struct {
	baseURL    string
	rest       AccountClient
	status     *statusPublisher
	orders     *bus.Hub[schema.OrderUpdate]
	balHub     *bus.Hub[map[string]schema.Balance]
	clock      func() time.Time
	renewEvery time.Duration

	balanceMu sync.Mutex
	balances  map[string]schema.Balance

	cancel context.CancelFunc
	wg     conc.WaitGroup
}

// NewUserDataStream builds the private stream against the venue's private
// websocket base URL.
func NewUserDataStream(baseURL string, rest AccountClient, b *bus.Bus) *UserDataStream {
	return &UserDataStream{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		rest:       rest,
		status:     newStatusPublisher(b.UserState, baseURL, "user-data"),
		orders:     b.Orders,
		balHub:     b.Balances,
		clock:      time.Now,
		renewEvery: listenKeyRenewEvery,
		balances:   make(map[string]schema.Balance),
	}
}

// Status returns the latest status snapshot.
func (s *UserDataStream) Status() schema.StreamStatus {
	return s.status.current()
}

// Balances returns a copy of the current balance map.
func (s *UserDataStream) Balances() map[string]schema.Balance {
	s.balanceMu.Lock()
	defer s.balanceMu.Unlock()
	return copyBalances(s.balances)
}

// Start launches the session loop.
func (s *UserDataStream) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Go(func() {
		s.run(ctx)
	})
}

// Stop cancels the loop and waits for it to unwind. The backoff attempt
// counter resets here and nowhere else.
func (s *UserDataStream) Stop() {
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

func newUserBackoff() *backoff.ExponentialBackOff {
	cfg := backoff.NewExponentialBackOff()
	cfg.InitialInterval = userBackoffInitial
	cfg.Multiplier = userBackoffFactor
	cfg.MaxInterval = userBackoffCeil
	cfg.RandomizationFactor = 0
	return cfg
}

func (s *UserDataStream) run(ctx context.Context) {
	// The schedule deliberately never resets on a successful session, so
	// repeated short-lived connects still back off.
	schedule := newUserBackoff()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := s.runSession(ctx)
		if errors.Is(err, context.Canceled) {
			return
		}
		delay := schedule.NextBackOff()
		s.status.update(func(st *schema.StreamStatus) {
			st.State = schema.StreamReconnecting
			st.Reconnects++
			st.Connected = false
			st.Receiving = false
			if err != nil {
				st.LastErr = err.Error()
			}
		})
		observability.Log().Info("user data stream reconnecting",
			observability.F("delay", delay), observability.F("err", err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (s *UserDataStream) runSession(ctx context.Context) error {
	s.status.update(func(st *schema.StreamStatus) {
		st.State = schema.StreamCreatingListenKey
	})
	listenKey, err := s.rest.CreateListenKey(ctx)
	if err != nil {
		return fmt.Errorf("create listen key: %w", err)
	}
	defer s.releaseListenKey(listenKey)

	s.status.update(func(st *schema.StreamStatus) {
		st.State = schema.StreamConnecting
	})
	conn, _, err := websocket.Dial(ctx, s.baseURL+"/ws/"+listenKey, nil)
	if err != nil {
		return fmt.Errorf("dial user stream: %w", err)
	}
	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()
	s.status.update(func(st *schema.StreamStatus) {
		st.State = schema.StreamConnected
		st.Connected = true
	})

	// Full snapshot before the read loop gives the delta events a
	// consistent baseline.
	if err := s.publishSnapshot(ctx); err != nil {
		return fmt.Errorf("account snapshot: %w", err)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	keepAliveErr := make(chan error, 1)
	var keepAlive conc.WaitGroup
	keepAlive.Go(func() {
		s.keepAliveLoop(sessionCtx, cancel, listenKey, keepAliveErr)
	})
	defer keepAlive.Wait()

	for {
		select {
		case err := <-keepAliveErr:
			return fmt.Errorf("listen key keepalive: %w", err)
		default:
		}
		msgType, data, err := conn.Read(sessionCtx)
		if err != nil {
			// A fatal renewal cancels sessionCtx to unblock this read; the
			// keepalive error is the session's cause, not the read error.
			select {
			case kerr := <-keepAliveErr:
				return fmt.Errorf("listen key keepalive: %w", kerr)
			default:
			}
			if ctx.Err() != nil {
				return context.Canceled
			}
			return fmt.Errorf("read user stream: %w", err)
		}
		if msgType != websocket.MessageText {
			continue
		}
		s.handleMessage(data)
	}
}

// keepAliveLoop renews the listen key on a fixed cadence. A renewal failure
// is fatal for the session: it cancels the session context so the read loop
// unwinds immediately instead of trading on an expired key.
func (s *UserDataStream) keepAliveLoop(ctx context.Context, cancel context.CancelFunc, listenKey string, fatal chan<- error) {
	ticker := time.NewTicker(s.renewEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.status.update(func(st *schema.StreamStatus) {
				st.State = schema.StreamKeepAlive
			})
			if err := s.rest.KeepAliveListenKey(ctx, listenKey); err != nil {
				fatal <- err
				cancel()
				return
			}
			s.status.update(func(st *schema.StreamStatus) {
				if st.State == schema.StreamKeepAlive {
					st.State = schema.StreamReceiving
				}
			})
		}
	}
}

func (s *UserDataStream) releaseListenKey(listenKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.rest.CloseListenKey(ctx, listenKey); err != nil {
		observability.Log().Debug("listen key release failed", observability.F("err", err))
	}
}

func (s *UserDataStream) publishSnapshot(ctx context.Context) error {
	balances, err := s.rest.AccountSnapshot(ctx)
	if err != nil {
		return err
	}
	s.balanceMu.Lock()
	s.balances = make(map[string]schema.Balance, len(balances))
	for _, bal := range balances {
		s.balances[bal.Asset] = bal
	}
	snapshot := copyBalances(s.balances)
	s.balanceMu.Unlock()
	s.balHub.Publish(snapshot)
	return nil
}

type userDataHeader struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
}

type accountPositionEvent struct {
	EventTime int64 `json:"E"`
	Balances  []struct {
		Asset  string `json:"a"`
		Free   string `json:"f"`
		Locked string `json:"l"`
	} `json:"B"`
}

type balanceDeltaEvent struct {
	EventTime int64  `json:"E"`
	Asset     string `json:"a"`
	Delta     string `json:"d"`
}

type executionReportEvent struct {
	EventTime     int64  `json:"E"`
	Symbol        string `json:"s"`
	ClientOrderID string `json:"c"`
	Side          string `json:"S"`
	OrderType     string `json:"o"`
	TimeInForce   string `json:"f"`
	OrigQty       string `json:"q"`
	Price         string `json:"p"`
	Status        string `json:"X"`
	OrderID       int64  `json:"i"`
	LastQty       string `json:"l"`
	CumQty        string `json:"z"`
	LastPrice     string `json:"L"`
	TransactTime  int64  `json:"T"`
}

// handleMessage dispatches one inbound frame by event type. Malformed
// payloads are dropped; the connection stays open.
func (s *UserDataStream) handleMessage(data []byte) {
	s.status.update(func(st *schema.StreamStatus) {
		st.State = schema.StreamReceiving
		st.Receiving = true
		st.LastMessageAt = s.clock().UTC()
	})
	var header userDataHeader
	if err := json.Unmarshal(data, &header); err != nil {
		observability.Log().Debug("user data frame dropped", observability.F("err", err))
		return
	}
	switch strings.ToLower(header.EventType) {
	case "outboundaccountposition":
		var event accountPositionEvent
		if err := json.Unmarshal(data, &event); err != nil {
			observability.Log().Debug("account position dropped", observability.F("err", err))
			return
		}
		s.handleAccountPosition(event)
	case "balanceupdate":
		var event balanceDeltaEvent
		if err := json.Unmarshal(data, &event); err != nil {
			observability.Log().Debug("balance delta dropped", observability.F("err", err))
			return
		}
		s.handleBalanceDelta(event)
	case "executionreport":
		var event executionReportEvent
		if err := json.Unmarshal(data, &event); err != nil {
			observability.Log().Debug("execution report dropped", observability.F("err", err))
			return
		}
		s.handleExecutionReport(event)
	default:
		// other user data events are irrelevant to the grid
	}
}

// handleAccountPosition replaces the entry for every listed asset wholesale.
func (s *UserDataStream) handleAccountPosition(event accountPositionEvent) {
	s.balanceMu.Lock()
	for _, bal := range event.Balances {
		asset := strings.ToUpper(strings.TrimSpace(bal.Asset))
		if asset == "" {
			continue
		}
		free, freeErr := decimal.NewFromString(bal.Free)
		locked, lockedErr := decimal.NewFromString(bal.Locked)
		if freeErr != nil || lockedErr != nil {
			continue
		}
		s.balances[asset] = schema.Balance{Asset: asset, Free: free, Locked: locked}
	}
	snapshot := copyBalances(s.balances)
	s.balanceMu.Unlock()
	s.balHub.Publish(snapshot)
}

// handleBalanceDelta applies a signed delta to one asset's free balance,
// creating the entry when absent.
func (s *UserDataStream) handleBalanceDelta(event balanceDeltaEvent) {
	asset := strings.ToUpper(strings.TrimSpace(event.Asset))
	if asset == "" {
		return
	}
	delta, err := decimal.NewFromString(event.Delta)
	if err != nil || delta.IsZero() {
		return
	}
	s.balanceMu.Lock()
	bal := s.balances[asset]
	bal.Asset = asset
	bal.Free = bal.Free.Add(delta)
	s.balances[asset] = bal
	snapshot := copyBalances(s.balances)
	s.balanceMu.Unlock()
	s.balHub.Publish(snapshot)
}

func (s *UserDataStream) handleExecutionReport(event executionReportEvent) {
	update, err := orderUpdateFromEvent(event)
	if err != nil {
		observability.Log().Debug("execution report dropped", observability.F("err", err))
		return
	}
	s.orders.Publish(update)
}

func orderUpdateFromEvent(event executionReportEvent) (schema.OrderUpdate, error) {
	price, err := decimal.NewFromString(strings.TrimSpace(event.Price))
	if err != nil {
		return schema.OrderUpdate{}, fmt.Errorf("price: %w", err)
	}
	origQty, err := decimal.NewFromString(strings.TrimSpace(event.OrigQty))
	if err != nil {
		return schema.OrderUpdate{}, fmt.Errorf("orig qty: %w", err)
	}
	cumQty, err := decimal.NewFromString(strings.TrimSpace(event.CumQty))
	if err != nil {
		return schema.OrderUpdate{}, fmt.Errorf("cum qty: %w", err)
	}
	lastQty := decimal.Zero
	if trimmed := strings.TrimSpace(event.LastQty); trimmed != "" {
		if parsed, err := decimal.NewFromString(trimmed); err == nil {
			lastQty = parsed
		}
	}
	lastPrice := decimal.Zero
	if trimmed := strings.TrimSpace(event.LastPrice); trimmed != "" {
		if parsed, err := decimal.NewFromString(trimmed); err == nil {
			lastPrice = parsed
		}
	}
	eventTime := event.TransactTime
	if eventTime == 0 {
		eventTime = event.EventTime
	}
	return schema.OrderUpdate{
		OrderID:       event.OrderID,
		ClientOrderID: strings.TrimSpace(event.ClientOrderID),
		Symbol:        strings.ToUpper(strings.TrimSpace(event.Symbol)),
		Side:          schema.Side(strings.ToUpper(strings.TrimSpace(event.Side))),
		Status:        schema.OrderStatus(strings.ToUpper(strings.TrimSpace(event.Status))),
		OrderType:     strings.ToUpper(strings.TrimSpace(event.OrderType)),
		TimeInForce:   strings.ToUpper(strings.TrimSpace(event.TimeInForce)),
		Price:         price,
		OrigQty:       origQty,
		CumQty:        cumQty,
		LastQty:       lastQty,
		LastPrice:     lastPrice,
		EventTime:     time.UnixMilli(eventTime).UTC(),
	}, nil
}

func copyBalances(in map[string]schema.Balance) map[string]schema.Balance {
	out := make(map[string]schema.Balance, len(in))
	for asset, bal := range in {
		out[asset] = bal
	}
	return out
}
