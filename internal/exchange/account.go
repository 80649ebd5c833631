package exchange

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cadogan/gridline/errs"
	"github.com/cadogan/gridline/internal/schema"
)

type bookTickerResponse struct {
	Symbol   string `json:"symbol"`
	BidPrice string `json:"bidPrice"`
	AskPrice string `json:"askPrice"`
}

// AskPrice reads the current best ask from the book ticker endpoint.
func (c *Client) AskPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(strings.TrimSpace(symbol)))
	var payload bookTickerResponse
	if err := c.getJSON(ctx, "/api/v3/ticker/bookTicker", params, &payload); err != nil {
		return decimal.Zero, err
	}
	ask, err := decimal.NewFromString(strings.TrimSpace(payload.AskPrice))
	if err != nil {
		return decimal.Zero, errs.New(c.opts.Name, errs.CodeParse,
			errs.WithMessage("book ticker ask"), errs.WithCause(err))
	}
	return ask, nil
}

type accountInfoResponse struct {
	Balances []accountBalance `json:"balances"`
}

type accountBalance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// AccountSnapshot fetches the full balance set for the account.
func (c *Client) AccountSnapshot(ctx context.Context) ([]schema.Balance, error) {
	var payload accountInfoResponse
	if err := c.signedCall(ctx, http.MethodGet, "/api/v3/account", nil, &payload); err != nil {
		return nil, err
	}
	balances := make([]schema.Balance, 0, len(payload.Balances))
	for _, entry := range payload.Balances {
		asset := strings.ToUpper(strings.TrimSpace(entry.Asset))
		if asset == "" {
			continue
		}
		free, freeErr := decimal.NewFromString(strings.TrimSpace(entry.Free))
		locked, lockedErr := decimal.NewFromString(strings.TrimSpace(entry.Locked))
		if freeErr != nil || lockedErr != nil {
			continue
		}
		balances = append(balances, schema.Balance{Asset: asset, Free: free, Locked: locked})
	}
	return balances, nil
}

type listenKeyResponse struct {
	ListenKey string `json:"listenKey"`
}

// CreateListenKey requests a user-data session token from the venue.
func (c *Client) CreateListenKey(ctx context.Context) (string, error) {
	var payload listenKeyResponse
	if err := c.keyedCall(ctx, http.MethodPost, "/api/v3/userDataStream", nil, &payload); err != nil {
		return "", err
	}
	key := strings.TrimSpace(payload.ListenKey)
	if key == "" {
		return "", errs.New(c.opts.Name, errs.CodeState, errs.WithMessage("empty listen key"))
	}
	return key, nil
}

// KeepAliveListenKey renews the session token before it expires server-side.
func (c *Client) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	params := url.Values{}
	params.Set("listenKey", strings.TrimSpace(listenKey))
	return c.keyedCall(ctx, http.MethodPut, "/api/v3/userDataStream", params, nil)
}

// CloseListenKey releases the session token. Best-effort at shutdown; the
// key expires server-side regardless.
func (c *Client) CloseListenKey(ctx context.Context, listenKey string) error {
	params := url.Values{}
	params.Set("listenKey", strings.TrimSpace(listenKey))
	return c.keyedCall(ctx, http.MethodDelete, "/api/v3/userDataStream", params, nil)
}
