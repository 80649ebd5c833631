package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cadogan/gridline/config"
	"github.com/cadogan/gridline/errs"
)

func TestSignPayload(t *testing.T) {
	// Reference vector computed independently against the documented scheme.
	payload := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"
	secret := "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j"
	want := "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71"
	require.Equal(t, want, signPayload(payload, secret))
}

func TestSignedCallAppendsValidSignature(t *testing.T) {
	const secret = "test-secret"
	var capturedQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/time":
			fmt.Fprintf(w, `{"serverTime":%d}`, time.Now().UnixMilli())
		case "/api/v3/openOrders":
			capturedQuery = r.URL.RawQuery
			require.Equal(t, "test-key", r.Header.Get("X-MBX-APIKEY"))
			_, _ = w.Write([]byte(`[]`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.OpenOrders(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	// The signature must cover the exact query string preceding it.
	const marker = "&signature="
	idx := len(capturedQuery) - 64 - len(marker)
	require.Greater(t, idx, 0)
	payload, tail := capturedQuery[:idx], capturedQuery[idx:]
	require.Equal(t, marker, tail[:len(marker)])

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	require.Equal(t, hex.EncodeToString(mac.Sum(nil)), tail[len(marker):])
	require.Contains(t, payload, "recvWindow=5000")
	require.Contains(t, payload, "timestamp=")
}

func TestSignedCallUsesServerClockOffset(t *testing.T) {
	const skew = 7 * time.Second
	var capturedTimestamp string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/time":
			fmt.Fprintf(w, `{"serverTime":%d}`, time.Now().Add(skew).UnixMilli())
		case "/api/v3/openOrders":
			capturedTimestamp = r.URL.Query().Get("timestamp")
			_, _ = w.Write([]byte(`[]`))
		}
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.OpenOrders(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	millis, err := strconv.ParseInt(capturedTimestamp, 10, 64)
	require.NoError(t, err)
	drift := time.UnixMilli(millis).Sub(time.Now().Add(skew))
	require.Less(t, drift.Abs(), 2*time.Second, "timestamp not corrected toward server clock")
}

func TestClockOffsetCachedWithinWindow(t *testing.T) {
	timeCalls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/time":
			timeCalls++
			fmt.Fprintf(w, `{"serverTime":%d}`, time.Now().UnixMilli())
		case "/api/v3/openOrders":
			_, _ = w.Write([]byte(`[]`))
		}
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	for i := 0; i < 3; i++ {
		_, err := client.OpenOrders(context.Background(), "BTCUSDT")
		require.NoError(t, err)
	}
	require.Equal(t, 1, timeCalls, "offset must be reused inside the refresh window")
}

func TestClockOffsetRefreshesWhenStale(t *testing.T) {
	timeCalls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/time":
			timeCalls++
			fmt.Fprintf(w, `{"serverTime":%d}`, time.Now().UnixMilli())
		case "/api/v3/openOrders":
			_, _ = w.Write([]byte(`[]`))
		}
	}))
	defer srv.Close()

	now := time.Now()
	client := NewClient(config.VenueSettings{
		Name:        "binance",
		RESTBaseURL: srv.URL,
		Credentials: config.Credentials{APIKey: "k", APISecret: "s"},
	}, nil, func() time.Time { return now })

	_, err := client.OpenOrders(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Equal(t, 1, timeCalls)

	now = now.Add(clockOffsetMaxAge + time.Second)
	_, err = client.OpenOrders(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Equal(t, 2, timeCalls)
}

func TestDoMapsVenueError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v3/time" {
			fmt.Fprintf(w, `{"serverTime":%d}`, time.Now().UnixMilli())
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-2011,"msg":"Unknown order sent."}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	err := client.CancelOrder(context.Background(), "BTCUSDT", 42)
	require.Error(t, err)
	require.True(t, errs.HasCode(err, errs.CodeExchange))
	code, ok := errs.VenueCode(err)
	require.True(t, ok)
	require.Equal(t, "-2011", code)
	require.True(t, IsUnknownOrder(err))
}

func TestDoMapsNonJSONFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream unavailable"))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.SymbolRules(context.Background(), "BTCUSDT")
	require.Error(t, err)
	require.True(t, errs.HasCode(err, errs.CodeNetwork))
}
