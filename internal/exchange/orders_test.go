package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cadogan/gridline/errs"
	"github.com/cadogan/gridline/internal/schema"
)

func testRules() schema.SymbolRules {
	return schema.SymbolRules{
		Symbol:         "BTCUSDT",
		BaseAsset:      "BTC",
		QuoteAsset:     "USDT",
		TickSize:       dec("0.01"),
		StepSize:       dec("0.001"),
		MinQty:         dec("0.001"),
		MinNotional:    dec("5"),
		PricePrecision: 2,
		QtyPrecision:   3,
	}
}

func orderServer(t *testing.T, captured *url.Values) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/time":
			fmt.Fprintf(w, `{"serverTime":%d}`, time.Now().UnixMilli())
		case "/api/v3/order":
			*captured = r.URL.Query()
			_, _ = w.Write([]byte(`{
				"orderId": 12345,
				"clientOrderId": "grid-test",
				"status": "NEW",
				"price": "` + captured.Get("price") + `",
				"origQty": "` + captured.Get("quantity") + `"
			}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
}

func TestPlaceLimitOrderBuyFloorsPrice(t *testing.T) {
	var captured url.Values
	srv := orderServer(t, &captured)
	defer srv.Close()

	client := newTestClient(srv.URL)
	ack, err := client.PlaceLimitOrder(context.Background(), "BTCUSDT",
		schema.SideBuy, dec("50000.119"), dec("0.0015"), testRules(), "GTC", "grid-test")
	require.NoError(t, err)

	require.Equal(t, "50000.11", captured.Get("price"), "buy price must floor to tick")
	require.Equal(t, "0.001", captured.Get("quantity"), "quantity must floor to step")
	require.Equal(t, "BUY", captured.Get("side"))
	require.Equal(t, "LIMIT", captured.Get("type"))
	require.Equal(t, "GTC", captured.Get("timeInForce"))
	require.Equal(t, "grid-test", captured.Get("newClientOrderId"))
	require.Equal(t, int64(12345), ack.OrderID)
	require.Equal(t, schema.OrderStatusNew, ack.Status)
}

func TestPlaceLimitOrderSellCeilsPrice(t *testing.T) {
	var captured url.Values
	srv := orderServer(t, &captured)
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.PlaceLimitOrder(context.Background(), "BTCUSDT",
		schema.SideSell, dec("50000.111"), dec("0.002"), testRules(), "GTC", "")
	require.NoError(t, err)

	require.Equal(t, "50000.12", captured.Get("price"), "sell price must ceil to tick")
	require.Equal(t, "SELL", captured.Get("side"))
	require.Empty(t, captured.Get("newClientOrderId"))
}

func TestPlaceLimitOrderRejectsBelowMinQtyLocally(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no network call expected, got %s", r.URL.Path)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	// 0.0009 floors to 0.000, below minQty.
	_, err := client.PlaceLimitOrder(context.Background(), "BTCUSDT",
		schema.SideBuy, dec("50000"), dec("0.0009"), testRules(), "GTC", "")
	require.Error(t, err)
	require.True(t, errs.HasCode(err, errs.CodeInvalid))
}

func TestPlaceLimitOrderRejectsBelowMinNotionalLocally(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no network call expected, got %s", r.URL.Path)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	// 0.001 * 100 = 0.1, far below the 5 minimum notional.
	_, err := client.PlaceLimitOrder(context.Background(), "BTCUSDT",
		schema.SideBuy, dec("100"), dec("0.001"), testRules(), "GTC", "")
	require.Error(t, err)
	require.True(t, errs.HasCode(err, errs.CodeInvalid))
}

func TestOpenOrdersParsesSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/time":
			fmt.Fprintf(w, `{"serverTime":%d}`, time.Now().UnixMilli())
		case "/api/v3/openOrders":
			_, _ = w.Write([]byte(`[
				{"orderId":1,"clientOrderId":"a","symbol":"BTCUSDT","side":"BUY","status":"NEW","price":"50000.00","origQty":"0.001","executedQty":"0"},
				{"orderId":2,"clientOrderId":"b","symbol":"BTCUSDT","side":"SELL","status":"PARTIALLY_FILLED","price":"51000.00","origQty":"0.002","executedQty":"0.001"}
			]`))
		}
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	orders, err := client.OpenOrders(context.Background(), "btcusdt")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	require.Equal(t, schema.SideBuy, orders[0].Side)
	require.Equal(t, schema.SideSell, orders[1].Side)
	require.True(t, orders[1].ExecutedQty.Equal(dec("0.001")))
}

func TestCancelAllOpenOrders(t *testing.T) {
	var captured url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/time":
			fmt.Fprintf(w, `{"serverTime":%d}`, time.Now().UnixMilli())
		case "/api/v3/openOrders":
			require.Equal(t, http.MethodDelete, r.Method)
			captured = r.URL.Query()
			_, _ = w.Write([]byte(`[]`))
		}
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	require.NoError(t, client.CancelAllOpenOrders(context.Background(), "btcusdt"))
	require.Equal(t, "BTCUSDT", captured.Get("symbol"))
	require.NotEmpty(t, captured.Get("signature"))
}

func TestPlaceMarketSell(t *testing.T) {
	var captured url.Values
	srv := orderServer(t, &captured)
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.PlaceMarketSell(context.Background(), "BTCUSDT", dec("0.005"), "grid-exit")
	require.NoError(t, err)
	require.Equal(t, "MARKET", captured.Get("type"))
	require.Equal(t, "0.005", captured.Get("quantity"))
	require.Empty(t, captured.Get("price"))
}
