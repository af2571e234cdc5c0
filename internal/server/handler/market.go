package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/cascade/internal/auth"
	"github.com/alanyoungcy/cascade/internal/domain"
	"github.com/alanyoungcy/cascade/internal/ledger"
)

// MarketHandler serves market reads and the four ledger operations.
type MarketHandler struct {
	writer LedgerWriter
	reader LedgerReader
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(writer LedgerWriter, reader LedgerReader, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{writer: writer, reader: reader, logger: logger}
}

type listMarketsResponse struct {
	Markets []ledger.MarketView `json:"markets"`
	Total   int                 `json:"total"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

// ListMarkets returns markets in creation order.
// GET /api/markets?category=&status=&parent=&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	filter, err := parseMarketFilter(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "list markets", err)
		return
	}
	markets, err := h.reader.ListMarkets(r.Context(), filter)
	if err != nil {
		writeDomainError(w, r, h.logger, "list markets", err)
		return
	}
	opts := parseListOpts(r)
	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: ledger.NewMarketViews(page(markets, opts), h.reader.Clock().NowMicros()),
		Total:   len(markets),
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

func parseMarketFilter(r *http.Request) (ledger.MarketFilter, error) {
	q := r.URL.Query()
	var f ledger.MarketFilter
	if v := q.Get("category"); v != "" {
		f.Category = domain.MarketCategory(v)
		if !f.Category.Valid() {
			return f, fmt.Errorf("%w: unknown category %q", domain.ErrInvalidInput, v)
		}
	}
	if v := q.Get("status"); v != "" {
		f.Status = domain.MarketStatus(v)
		if !f.Status.Valid() {
			return f, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, v)
		}
	}
	if q.Has("parent") {
		parent := q.Get("parent")
		f.ParentID = &parent
	}
	return f, nil
}

// GetMarket returns one market with its odds.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := h.writer.GetMarket(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, ledger.NewMarketView(m, h.reader.Clock().NowMicros()))
}

// Children lists markets whose parent is {id}.
// GET /api/markets/{id}/children
func (h *MarketHandler) Children(w http.ResponseWriter, r *http.Request) {
	markets, err := h.reader.Children(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "list children", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"markets": ledger.NewMarketViews(markets, h.reader.Clock().NowMicros()),
	})
}

// Bets lists the bets placed on a market in placement order.
// GET /api/markets/{id}/bets
func (h *MarketHandler) Bets(w http.ResponseWriter, r *http.Request) {
	bets, err := h.reader.BetsByMarket(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "list market bets", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bets": nonNil(bets)})
}

// Estimate previews the payout of a stake.
// GET /api/markets/{id}/estimate?outcome=id_1_0&amount=100
func (h *MarketHandler) Estimate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	outcome := q.Get("outcome")
	if outcome == "" {
		writeError(w, http.StatusBadRequest, "outcome query parameter required")
		return
	}
	amount, err := parseUint(q.Get("amount"))
	if err != nil {
		writeDomainError(w, r, h.logger, "estimate", err)
		return
	}
	est, err := h.reader.EstimateBet(r.Context(), r.PathValue("id"), outcome, amount)
	if err != nil {
		writeDomainError(w, r, h.logger, "estimate", err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

// CreateMarket opens a market.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var op domain.CreateMarket
	if err := decodeBody(r, &op); err != nil {
		writeDomainError(w, r, h.logger, "create market", err)
		return
	}
	h.execute(w, r, http.StatusCreated, op)
}

type placeBetRequest struct {
	OutcomeID string `json:"outcome_id"`
	Amount    uint64 `json:"amount"`
}

// PlaceBet stakes on an outcome as the caller.
// POST /api/markets/{id}/bets
func (h *MarketHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req placeBetRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, r, h.logger, "place bet", err)
		return
	}
	h.execute(w, r, http.StatusCreated, domain.PlaceBet{
		MarketID:  r.PathValue("id"),
		OutcomeID: req.OutcomeID,
		Amount:    req.Amount,
	})
}

type resolveRequest struct {
	WinningOutcomeID string `json:"winning_outcome_id"`
}

// Resolve settles a market. Admin only.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, r, h.logger, "resolve market", err)
		return
	}
	h.execute(w, r, http.StatusOK, domain.ResolveMarket{
		MarketID:         r.PathValue("id"),
		WinningOutcomeID: req.WinningOutcomeID,
	})
}

// Claim pays out one of the caller's winning bets.
// POST /api/markets/{id}/claim
func (h *MarketHandler) Claim(w http.ResponseWriter, r *http.Request) {
	h.execute(w, r, http.StatusOK, domain.ClaimWinnings{MarketID: r.PathValue("id")})
}

// Operation executes a tagged operation envelope.
// POST /api/operations
func (h *MarketHandler) Operation(w http.ResponseWriter, r *http.Request) {
	op, err := decodeOperation(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "operation", err)
		return
	}
	h.execute(w, r, http.StatusOK, op)
}

func (h *MarketHandler) execute(w http.ResponseWriter, r *http.Request, status int, op domain.Operation) {
	receipt, err := h.writer.Execute(r.Context(), auth.CallerFrom(r.Context()), op)
	if err != nil {
		writeDomainError(w, r, h.logger, string(op.Type()), err)
		return
	}
	writeJSON(w, status, receipt)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
