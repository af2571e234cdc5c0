package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/cascade/internal/auth"
	"github.com/alanyoungcy/cascade/internal/domain"
)

// AdminHandler serves ledger-wide endpoints: the admin identity, the
// leaderboard, the faucet and the event journal.
type AdminHandler struct {
	writer LedgerWriter
	reader LedgerReader
	logger *slog.Logger
	faucet bool
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(writer LedgerWriter, reader LedgerReader, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{writer: writer, reader: reader, logger: logger, faucet: true}
}

// WithFaucet toggles the deposit endpoint.
func (h *AdminHandler) WithFaucet(enabled bool) *AdminHandler {
	h.faucet = enabled
	return h
}

// Admin returns the ledger admin.
// GET /api/admin
func (h *AdminHandler) Admin(w http.ResponseWriter, r *http.Request) {
	admin, err := h.reader.Admin(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, "admin", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"admin": admin})
}

// Leaderboard ranks owners by profit on resolved markets.
// GET /api/leaderboard?limit=10
func (h *AdminHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	entries, err := h.reader.Leaderboard(r.Context(), limit)
	if err != nil {
		writeDomainError(w, r, h.logger, "leaderboard", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": nonNil(entries)})
}

type depositRequest struct {
	Account string `json:"account" validate:"required"`
	Amount  uint64 `json:"amount" validate:"required"`
}

// Deposit credits an account. Admin only.
// POST /api/admin/deposits
func (h *AdminHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	if !h.faucet {
		writeError(w, http.StatusForbidden, "faucet is disabled")
		return
	}
	var req depositRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, r, h.logger, "deposit", err)
		return
	}
	acct := domain.AccountOf(domain.NormalizeOwner(req.Account))
	bal, err := h.writer.Deposit(r.Context(), auth.CallerFrom(r.Context()), acct, req.Amount)
	if err != nil {
		writeDomainError(w, r, h.logger, "deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Account: acct, Balance: bal})
}

type journalEntry struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

// Events replays the committed-event journal after a cursor.
// GET /api/events?after=0&count=100
func (h *AdminHandler) Events(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	count := 100
	if v := q.Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "count must be between 1 and 1000")
			return
		}
		count = n
	}
	msgs, err := h.writer.Events(r.Context(), q.Get("after"), count)
	if err != nil {
		writeDomainError(w, r, h.logger, "events", err)
		return
	}
	out := make([]journalEntry, 0, len(msgs))
	for _, m := range msgs {
		if !json.Valid(m.Payload) {
			continue
		}
		out = append(out, journalEntry{ID: m.ID, Event: m.Payload})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

// History lists the audit log, newest first.
// GET /api/audit?limit=50&offset=0
func (h *AdminHandler) History(w http.ResponseWriter, r *http.Request) {
	entries, err := h.writer.History(r.Context(), parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, "history", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": nonNil(entries)})
}
