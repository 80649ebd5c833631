// Package exchange implements the signed REST client for the trading venue.
package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/cadogan/gridline/config"
	"github.com/cadogan/gridline/errs"
)

const clockOffsetMaxAge = 10 * time.Minute

// Client is a stateless-per-call signed REST client. Every private call
// appends a server-time-corrected timestamp and a receive window and signs
// the exact query string with HMAC-SHA256.
type Client struct {
	opts  config.VenueSettings
	http  *http.Client
	clock func() time.Time

	offsetMu   sync.Mutex
	offset     time.Duration
	offsetAt   time.Time
	offsetSync bool
}

// NewClient constructs a client for the configured venue. A nil httpClient
// or clock selects the defaults.
func NewClient(opts config.VenueSettings, httpClient *http.Client, clock func() time.Time) *Client {
	if httpClient == nil {
		timeout := opts.HTTPTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if clock == nil {
		clock = time.Now
	}
	return &Client{opts: opts, http: httpClient, clock: clock}
}

type serverTimeResponse struct {
	ServerTime int64 `json:"serverTime"`
}

// syncClock refreshes the local-to-server clock offset when it is unset or
// older than ten minutes.
func (c *Client) syncClock(ctx context.Context) error {
	c.offsetMu.Lock()
	fresh := c.offsetSync && c.clock().Sub(c.offsetAt) < clockOffsetMaxAge
	c.offsetMu.Unlock()
	if fresh {
		return nil
	}

	local := c.clock()
	var payload serverTimeResponse
	if err := c.getJSON(ctx, "/api/v3/time", nil, &payload); err != nil {
		return fmt.Errorf("sync server time: %w", err)
	}
	server := time.UnixMilli(payload.ServerTime)

	c.offsetMu.Lock()
	c.offset = server.Sub(local)
	c.offsetAt = c.clock()
	c.offsetSync = true
	c.offsetMu.Unlock()
	return nil
}

func (c *Client) correctedMillis() int64 {
	c.offsetMu.Lock()
	offset := c.offset
	c.offsetMu.Unlock()
	return c.clock().Add(offset).UTC().UnixMilli()
}

func signPayload(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// signedQuery appends timestamp, recvWindow, and signature to params.
func (c *Client) signedQuery(ctx context.Context, params url.Values) (string, error) {
	if err := c.syncClock(ctx); err != nil {
		return "", err
	}
	if params == nil {
		params = url.Values{}
	}
	if c.opts.RecvWindow > 0 {
		params.Set("recvWindow", strconv.FormatInt(c.opts.RecvWindow.Milliseconds(), 10))
	}
	params.Set("timestamp", strconv.FormatInt(c.correctedMillis(), 10))
	query := params.Encode()
	return query + "&signature=" + signPayload(query, c.opts.Credentials.APISecret), nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := strings.TrimSuffix(c.opts.RESTBaseURL, "/") + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request %s: %w", path, err)
	}
	return c.do(req, out)
}

// signedCall issues a signed request with the query carried in the URL, the
// venue's convention for every private endpoint.
func (c *Client) signedCall(ctx context.Context, method, path string, params url.Values, out any) error {
	query, err := c.signedQuery(ctx, params)
	if err != nil {
		return err
	}
	endpoint := strings.TrimSuffix(c.opts.RESTBaseURL, "/") + path + "?" + query
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request %s: %w", path, err)
	}
	req.Header.Set("X-MBX-APIKEY", c.opts.Credentials.APIKey)
	return c.do(req, out)
}

// keyedCall issues a request that needs the API key header but no signature.
func (c *Client) keyedCall(ctx context.Context, method, path string, params url.Values, out any) error {
	endpoint := strings.TrimSuffix(c.opts.RESTBaseURL, "/") + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request %s: %w", path, err)
	}
	req.Header.Set("X-MBX-APIKEY", c.opts.Credentials.APIKey)
	return c.do(req, out)
}

type venueError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return errs.New(c.opts.Name, errs.CodeNetwork, errs.WithCause(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errs.New(c.opts.Name, errs.CodeNetwork, errs.WithCause(err))
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return parseVenueError(c.opts.Name, resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errs.New(c.opts.Name, errs.CodeParse,
			errs.WithMessage("decode response"), errs.WithCause(err))
	}
	return nil
}

func parseVenueError(venue string, status int, body []byte) error {
	var apiErr venueError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Msg != "" {
		return errs.New(venue, errs.CodeExchange,
			errs.WithHTTP(status),
			errs.WithRawCode(strconv.Itoa(apiErr.Code)),
			errs.WithRawMessage(apiErr.Msg))
	}
	return errs.New(venue, errs.CodeNetwork,
		errs.WithHTTP(status),
		errs.WithRawMessage(strings.TrimSpace(string(body))))
}
