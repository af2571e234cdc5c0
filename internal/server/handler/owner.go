package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/cascade/internal/domain"
)

// OwnerHandler serves per-owner reads.
type OwnerHandler struct {
	reader LedgerReader
	logger *slog.Logger
}

// NewOwnerHandler creates an OwnerHandler.
func NewOwnerHandler(reader LedgerReader, logger *slog.Logger) *OwnerHandler {
	return &OwnerHandler{reader: reader, logger: logger}
}

// Bets lists an owner's bets in placement order.
// GET /api/owners/{owner}/bets
func (h *OwnerHandler) Bets(w http.ResponseWriter, r *http.Request) {
	owner := domain.NormalizeOwner(r.PathValue("owner"))
	bets, err := h.reader.BetsByOwner(r.Context(), owner)
	if err != nil {
		writeDomainError(w, r, h.logger, "list owner bets", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"owner": owner, "bets": nonNil(bets)})
}

type balanceResponse struct {
	Account domain.Account `json:"account"`
	Balance uint64         `json:"balance"`
}

// Balance returns an owner's spendable balance.
// GET /api/owners/{owner}/balance
func (h *OwnerHandler) Balance(w http.ResponseWriter, r *http.Request) {
	acct := domain.AccountOf(domain.NormalizeOwner(r.PathValue("owner")))
	bal, err := h.reader.Balance(r.Context(), acct)
	if err != nil {
		writeDomainError(w, r, h.logger, "balance", err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Account: acct, Balance: bal})
}
