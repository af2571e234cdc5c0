// Package client is a Go client for the cascade HTTP API. Requests are
// signed with the caller's key when a signer is configured, otherwise the
// development owner header is sent.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/alanyoungcy/cascade/internal/auth"
	"github.com/alanyoungcy/cascade/internal/domain"
	"github.com/alanyoungcy/cascade/internal/ledger"
)

const (
	defaultTimeout = 30 * time.Second
	defaultRetries = 3
)

// APIError is a non-2xx reply from the server.
type APIError struct {
	Status  int
	Message string
	Kind    domain.ErrorKind
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("cascade: %d %s: %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("cascade: %d: %s", e.Status, e.Message)
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// Client talks to one cascade server.
type Client struct {
	http   *resty.Client
	signer *auth.Signer
	owner  string
	now    func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithSigner signs every request with s.
func WithSigner(s *auth.Signer) Option {
	return func(c *Client) { c.signer = s }
}

// WithOwner sends owner in the development identity header. A signer, when
// also set, takes precedence.
func WithOwner(owner string) Option {
	return func(c *Client) { c.owner = owner }
}

// WithRetries sets how often idempotent reads are retried on 429 and 5xx.
func WithRetries(n int) Option {
	return func(c *Client) { c.http.SetRetryCount(n) }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.SetTimeout(d) }
}

// New creates a client for baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) *Client {
	rc := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(defaultTimeout).
		SetRetryCount(defaultRetries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			// Writes are not idempotent; only reads are retried on a reply.
			if resp == nil || resp.Request == nil || resp.Request.Method != http.MethodGet {
				return false
			}
			return resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500
		})

	c := &Client{http: rc, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Caller returns the identity requests are sent as, or "".
func (c *Client) Caller() domain.Owner {
	if c.signer != nil {
		return c.signer.Owner()
	}
	return domain.NormalizeOwner(c.owner)
}

// do sends one request. The body is marshalled here so the exact bytes
// sent are the bytes signed.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	req := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json")

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("client: encode %s body: %w", path, err)
		}
		req.SetHeader("Content-Type", "application/json").SetBody(payload)
	}
	if len(query) > 0 {
		req.SetQueryParamsFromValues(query)
	}

	switch {
	case c.signer != nil:
		h, err := c.signer.Headers(method, path, payload, c.now())
		if err != nil {
			return fmt.Errorf("client: sign %s: %w", path, err)
		}
		for k := range h {
			req.SetHeader(k, h.Get(k))
		}
	case c.owner != "":
		req.SetHeader(auth.HeaderOwner, c.owner)
	}

	var apiErr errorBody
	req.SetError(&apiErr)
	if out != nil {
		req.SetResult(out)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	if resp.IsError() {
		msg := apiErr.Error
		if msg == "" {
			msg = strings.TrimSpace(string(resp.Body()))
		}
		return &APIError{Status: resp.StatusCode(), Message: msg, Kind: domain.ErrorKind(apiErr.Kind)}
	}
	return nil
}

// Health returns the per-dependency health report.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodGet, "/api/health", nil, nil, &out)
	return out, err
}

// MarketQuery filters ListMarkets.
type MarketQuery struct {
	Category domain.MarketCategory
	Status   domain.MarketStatus
	ParentID *string
	Limit    int
	Offset   int
}

// MarketPage is one page of ListMarkets.
type MarketPage struct {
	Markets []ledger.MarketView `json:"markets"`
	Total   int                 `json:"total"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

// ListMarkets lists markets in creation order.
func (c *Client) ListMarkets(ctx context.Context, q MarketQuery) (MarketPage, error) {
	v := url.Values{}
	if q.Category != "" {
		v.Set("category", string(q.Category))
	}
	if q.Status != "" {
		v.Set("status", string(q.Status))
	}
	if q.ParentID != nil {
		v.Set("parent", *q.ParentID)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	var out MarketPage
	err := c.do(ctx, http.MethodGet, "/api/markets", v, nil, &out)
	return out, err
}

// Market returns one market.
func (c *Client) Market(ctx context.Context, id string) (ledger.MarketView, error) {
	var out ledger.MarketView
	err := c.do(ctx, http.MethodGet, "/api/markets/"+url.PathEscape(id), nil, nil, &out)
	return out, err
}

// Children lists the markets whose parent is id.
func (c *Client) Children(ctx context.Context, id string) ([]ledger.MarketView, error) {
	var out struct {
		Markets []ledger.MarketView `json:"markets"`
	}
	err := c.do(ctx, http.MethodGet, "/api/markets/"+url.PathEscape(id)+"/children", nil, nil, &out)
	return out.Markets, err
}

// MarketBets lists the bets placed on a market.
func (c *Client) MarketBets(ctx context.Context, id string) ([]domain.Bet, error) {
	var out struct {
		Bets []domain.Bet `json:"bets"`
	}
	err := c.do(ctx, http.MethodGet, "/api/markets/"+url.PathEscape(id)+"/bets", nil, nil, &out)
	return out.Bets, err
}

// OwnerBets lists an owner's bets.
func (c *Client) OwnerBets(ctx context.Context, owner domain.Owner) ([]domain.Bet, error) {
	var out struct {
		Bets []domain.Bet `json:"bets"`
	}
	err := c.do(ctx, http.MethodGet, "/api/owners/"+url.PathEscape(string(owner))+"/bets", nil, nil, &out)
	return out.Bets, err
}

type balanceBody struct {
	Account domain.Account `json:"account"`
	Balance uint64         `json:"balance"`
}

// Balance returns an owner's spendable balance.
func (c *Client) Balance(ctx context.Context, owner domain.Owner) (uint64, error) {
	var out balanceBody
	err := c.do(ctx, http.MethodGet, "/api/owners/"+url.PathEscape(string(owner))+"/balance", nil, nil, &out)
	return out.Balance, err
}

// Estimate previews the payout of staking amount on an outcome.
func (c *Client) Estimate(ctx context.Context, marketID, outcomeID string, amount uint64) (ledger.Estimate, error) {
	v := url.Values{}
	v.Set("outcome", outcomeID)
	v.Set("amount", strconv.FormatUint(amount, 10))
	var out ledger.Estimate
	err := c.do(ctx, http.MethodGet, "/api/markets/"+url.PathEscape(marketID)+"/estimate", v, nil, &out)
	return out, err
}

// Admin returns the ledger admin.
func (c *Client) Admin(ctx context.Context) (domain.Owner, error) {
	var out struct {
		Admin domain.Owner `json:"admin"`
	}
	err := c.do(ctx, http.MethodGet, "/api/admin", nil, nil, &out)
	return out.Admin, err
}

// Leaderboard ranks owners by profit. limit <= 0 returns everyone.
func (c *Client) Leaderboard(ctx context.Context, limit int) ([]ledger.LeaderboardEntry, error) {
	var v url.Values
	if limit > 0 {
		v = url.Values{"limit": {strconv.Itoa(limit)}}
	}
	var out struct {
		Entries []ledger.LeaderboardEntry `json:"entries"`
	}
	err := c.do(ctx, http.MethodGet, "/api/leaderboard", v, nil, &out)
	return out.Entries, err
}

// CreateMarket opens a market.
func (c *Client) CreateMarket(ctx context.Context, op domain.CreateMarket) (ledger.Receipt, error) {
	var out ledger.Receipt
	err := c.do(ctx, http.MethodPost, "/api/markets", nil, op, &out)
	return out, err
}

// PlaceBet stakes amount on outcomeID as the caller.
func (c *Client) PlaceBet(ctx context.Context, marketID, outcomeID string, amount uint64) (ledger.Receipt, error) {
	body := map[string]any{"outcome_id": outcomeID, "amount": amount}
	var out ledger.Receipt
	err := c.do(ctx, http.MethodPost, "/api/markets/"+url.PathEscape(marketID)+"/bets", nil, body, &out)
	return out, err
}

// Resolve declares the winning outcome. The caller must be the admin.
func (c *Client) Resolve(ctx context.Context, marketID, winningOutcomeID string) (ledger.Receipt, error) {
	body := map[string]any{"winning_outcome_id": winningOutcomeID}
	var out ledger.Receipt
	err := c.do(ctx, http.MethodPost, "/api/markets/"+url.PathEscape(marketID)+"/resolve", nil, body, &out)
	return out, err
}

// Claim settles one of the caller's winning bets on a market.
func (c *Client) Claim(ctx context.Context, marketID string) (ledger.Receipt, error) {
	var out ledger.Receipt
	err := c.do(ctx, http.MethodPost, "/api/markets/"+url.PathEscape(marketID)+"/claim", nil, nil, &out)
	return out, err
}

// Deposit credits account from the faucet. The caller must be the admin.
func (c *Client) Deposit(ctx context.Context, account domain.Owner, amount uint64) (uint64, error) {
	body := map[string]any{"account": account, "amount": amount}
	var out balanceBody
	err := c.do(ctx, http.MethodPost, "/api/admin/deposits", nil, body, &out)
	return out.Balance, err
}
