package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cascade/internal/auth"
	"github.com/alanyoungcy/cascade/internal/domain"
	"github.com/alanyoungcy/cascade/internal/ledger"
	"github.com/alanyoungcy/cascade/internal/server/handler"
	"github.com/alanyoungcy/cascade/internal/service"
	"github.com/alanyoungcy/cascade/internal/store/memory"
	"github.com/alanyoungcy/cascade/internal/transfer"
)

const (
	admin = "0xadmin"
	alice = "0xalice"
	bob   = "0xbob"
)

type apiFixture struct {
	t   *testing.T
	srv *httptest.Server
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	engine := ledger.NewEngine(memory.New(), transfer.NewBook(), nil, "", logger)
	require.NoError(t, engine.Instantiate(ctx, admin))
	for _, who := range []domain.Account{alice, bob} {
		_, err := engine.Deposit(ctx, admin, who, 1000)
		require.NoError(t, err)
	}
	svc := service.NewLedgerService(engine, logger)

	s := NewServer(Config{Addr: ":0"}, Handlers{
		Health:  handler.NewHealthHandler(nil, logger),
		Markets: handler.NewMarketHandler(svc, engine, logger),
		Owners:  handler.NewOwnerHandler(engine, logger),
		Admin:   handler.NewAdminHandler(svc, engine, logger),
	}, nil, auth.HeaderAuthenticator{}, nil, logger)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &apiFixture{t: t, srv: srv}
}

func (f *apiFixture) do(method, path, owner string, body any) (int, map[string]any) {
	f.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(f.t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(f.t, err)
	if owner != "" {
		req.Header.Set(auth.HeaderOwner, owner)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(f.t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(f.t, err)
	if len(raw) > 0 {
		require.NoError(f.t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestMarketLifecycleOverHTTP(t *testing.T) {
	f := newAPI(t)

	code, _ := f.do(http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, code)

	code, body := f.do(http.MethodPost, "/api/markets", alice, map[string]any{
		"question":    "Will BTC close above 100k?",
		"outcomes":    []string{"yes", "no"},
		"expiry_time": time.Now().Add(time.Hour).UnixMicro(),
		"category":    "crypto",
	})
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, "id_1", body["market_id"])

	code, body = f.do(http.MethodPost, "/api/markets/id_1/bets", alice, map[string]any{"outcome_id": "id_1_0", "amount": 100})
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, "id_2", body["bet_id"])
	code, _ = f.do(http.MethodPost, "/api/markets/id_1/bets", bob, map[string]any{"outcome_id": "id_1_1", "amount": 300})
	require.Equal(t, http.StatusCreated, code)

	code, body = f.do(http.MethodGet, "/api/markets/id_1", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 400, body["total_staked"])
	assert.Equal(t, false, body["expired"])
	outcomes := body["outcomes"].([]any)
	assert.Equal(t, "4", outcomes[0].(map[string]any)["odds"])

	code, body = f.do(http.MethodGet, "/api/markets/id_1/estimate?outcome=id_1_0&amount=100", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 250, body["potential_payout"]) // floor(100*500/200)

	code, body = f.do(http.MethodPost, "/api/markets/id_1/resolve", alice, map[string]any{"winning_outcome_id": "id_1_0"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "unauthorized", body["kind"])

	code, _ = f.do(http.MethodPost, "/api/markets/id_1/resolve", admin, map[string]any{"winning_outcome_id": "id_1_0"})
	require.Equal(t, http.StatusOK, code)

	code, _ = f.do(http.MethodPost, "/api/markets/id_1/claim", bob, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, body = f.do(http.MethodPost, "/api/markets/id_1/claim", alice, nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 400, body["payout"])

	code, _ = f.do(http.MethodPost, "/api/markets/id_1/claim", alice, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, body = f.do(http.MethodGet, "/api/owners/0xALICE/balance", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1300, body["balance"])

	code, body = f.do(http.MethodGet, "/api/owners/0xalice/bets", "", nil)
	require.Equal(t, http.StatusOK, code)
	bets := body["bets"].([]any)
	require.Len(t, bets, 1)
	assert.Equal(t, true, bets[0].(map[string]any)["claimed"])

	code, body = f.do(http.MethodGet, "/api/leaderboard", "", nil)
	require.Equal(t, http.StatusOK, code)
	entries := body["entries"].([]any)
	require.Len(t, entries, 2)
	assert.Equal(t, alice, entries[0].(map[string]any)["owner"])

	code, body = f.do(http.MethodGet, "/api/admin", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, admin, body["admin"])
}

func TestErrorMapping(t *testing.T) {
	f := newAPI(t)
	code, _ := f.do(http.MethodPost, "/api/markets", alice, map[string]any{
		"question":    "q",
		"outcomes":    []string{"a", "b"},
		"expiry_time": time.Now().Add(time.Hour).UnixMicro(),
		"category":    "sports",
	})
	require.Equal(t, http.StatusCreated, code)

	tests := []struct {
		name   string
		method string
		path   string
		owner  string
		body   any
		status int
	}{
		{"no caller", http.MethodPost, "/api/markets/id_1/bets", "", map[string]any{"outcome_id": "id_1_0", "amount": 1}, http.StatusUnauthorized},
		{"zero amount", http.MethodPost, "/api/markets/id_1/bets", alice, map[string]any{"outcome_id": "id_1_0", "amount": 0}, http.StatusBadRequest},
		{"unknown outcome", http.MethodPost, "/api/markets/id_1/bets", alice, map[string]any{"outcome_id": "id_1_7", "amount": 1}, http.StatusNotFound},
		{"over balance", http.MethodPost, "/api/markets/id_1/bets", alice, map[string]any{"outcome_id": "id_1_0", "amount": 5000}, http.StatusPaymentRequired},
		{"unknown field", http.MethodPost, "/api/markets/id_1/bets", alice, map[string]any{"outcome": "id_1_0"}, http.StatusBadRequest},
		{"missing market", http.MethodGet, "/api/markets/id_9", "", nil, http.StatusNotFound},
		{"claim unresolved", http.MethodPost, "/api/markets/id_1/claim", alice, nil, http.StatusConflict},
		{"bad category filter", http.MethodGet, "/api/markets?category=weather", "", nil, http.StatusBadRequest},
		{"one outcome", http.MethodPost, "/api/markets", alice, map[string]any{"question": "q", "outcomes": []string{"a"}, "expiry_time": time.Now().Add(time.Hour).UnixMicro(), "category": "tech"}, http.StatusBadRequest},
		{"past expiry", http.MethodPost, "/api/markets", alice, map[string]any{"question": "q", "outcomes": []string{"a", "b"}, "expiry_time": 1, "category": "tech"}, http.StatusBadRequest},
		{"envelope unknown type", http.MethodPost, "/api/operations", alice, map[string]any{"type": "mint"}, http.StatusBadRequest},
		{"deposit not admin", http.MethodPost, "/api/admin/deposits", alice, map[string]any{"account": alice, "amount": 5}, http.StatusUnauthorized},
		{"estimate bad amount", http.MethodGet, "/api/markets/id_1/estimate?outcome=id_1_0&amount=-1", "", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := f.do(tt.method, tt.path, tt.owner, tt.body)
			assert.Equal(t, tt.status, code, body)
		})
	}
}

func TestLedgerErrorKindsReachCaller(t *testing.T) {
	f := newAPI(t)
	future := time.Now().Add(time.Hour).UnixMicro()

	code, body := f.do(http.MethodPost, "/api/markets", alice, map[string]any{
		"question": "", "outcomes": []string{"a", "b"}, "expiry_time": future, "category": "tech",
	})
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, "id_1", body["market_id"])

	code, body = f.do(http.MethodPost, "/api/operations", alice, map[string]any{
		"type": "create_market", "question": "q", "outcomes": []string{"a", ""}, "expiry_time": future, "category": "tech",
	})
	require.Equal(t, http.StatusOK, code, body)

	tests := []struct {
		name   string
		method string
		path   string
		owner  string
		body   any
		status int
		kind   domain.ErrorKind
		err    error
	}{
		{"no outcomes", http.MethodPost, "/api/markets", alice,
			map[string]any{"question": "q", "expiry_time": future, "category": "tech"},
			http.StatusBadRequest, domain.KindValidation, domain.ErrInvalidOutcomeCount},
		{"missing expiry", http.MethodPost, "/api/markets", alice,
			map[string]any{"question": "q", "outcomes": []string{"a", "b"}, "category": "tech"},
			http.StatusBadRequest, domain.KindValidation, domain.ErrInvalidExpiryTime},
		{"empty winner", http.MethodPost, "/api/markets/id_1/resolve", admin,
			map[string]any{"winning_outcome_id": ""},
			http.StatusNotFound, domain.KindNotFound, domain.ErrOutcomeNotFound},
		{"empty winner by non-admin", http.MethodPost, "/api/markets/id_1/resolve", alice,
			map[string]any{},
			http.StatusUnauthorized, domain.KindUnauthorized, domain.ErrUnauthorized},
		{"empty outcome bet", http.MethodPost, "/api/markets/id_1/bets", alice,
			map[string]any{"amount": 5},
			http.StatusNotFound, domain.KindNotFound, domain.ErrOutcomeNotFound},
		{"anonymous empty outcome bet", http.MethodPost, "/api/markets/id_1/bets", "",
			map[string]any{"amount": 5},
			http.StatusUnauthorized, domain.KindUnauthorized, domain.ErrUnauthorized},
		{"envelope bet without market", http.MethodPost, "/api/operations", alice,
			map[string]any{"type": "place_bet", "outcome_id": "id_1_0", "amount": 5},
			http.StatusNotFound, domain.KindNotFound, domain.ErrMarketNotFound},
		{"envelope claim without market", http.MethodPost, "/api/operations", alice,
			map[string]any{"type": "claim_winnings"},
			http.StatusNotFound, domain.KindNotFound, domain.ErrMarketNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := f.do(tt.method, tt.path, tt.owner, tt.body)
			assert.Equal(t, tt.status, code, body)
			assert.Equal(t, string(tt.kind), body["kind"])
			assert.Contains(t, body["error"], tt.err.Error())
		})
	}
}

func TestOperationEnvelopeAndDeposit(t *testing.T) {
	f := newAPI(t)

	code, body := f.do(http.MethodPost, "/api/operations", bob, map[string]any{
		"type":        "create_market",
		"question":    "parent",
		"outcomes":    []string{"a", "b"},
		"expiry_time": time.Now().Add(time.Hour).UnixMicro(),
		"category":    "politics",
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "create_market", body["operation"])

	code, _ = f.do(http.MethodPost, "/api/operations", bob, map[string]any{
		"type":        "create_market",
		"question":    "child",
		"outcomes":    []string{"a", "b"},
		"expiry_time": time.Now().Add(time.Hour).UnixMicro(),
		"category":    "politics",
		"parent_id":   "id_1",
	})
	require.Equal(t, http.StatusOK, code)

	code, body = f.do(http.MethodGet, "/api/markets/id_1/children", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["markets"], 1)

	code, body = f.do(http.MethodGet, "/api/markets?parent=id_1", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["total"])

	code, body = f.do(http.MethodPost, "/api/operations", bob, map[string]any{
		"type": "place_bet", "market_id": "id_1", "outcome_id": "id_1_1", "amount": 10,
	})
	require.Equal(t, http.StatusOK, code, body)

	code, body = f.do(http.MethodGet, "/api/markets/id_1/bets", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["bets"], 1)

	code, body = f.do(http.MethodPost, "/api/admin/deposits", admin, map[string]any{"account": "0xCarol", "amount": 50})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "0xcarol", body["account"])
	assert.EqualValues(t, 50, body["balance"])

	code, body = f.do(http.MethodGet, "/api/events", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["events"])
}

func TestRequestIDHeader(t *testing.T) {
	f := newAPI(t)
	resp, err := http.Get(f.srv.URL + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}
