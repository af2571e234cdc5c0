package handler

import (
	"context"

	"github.com/alanyoungcy/cascade/internal/domain"
	"github.com/alanyoungcy/cascade/internal/ledger"
)

// LedgerWriter is the write side the handlers need from the service layer.
type LedgerWriter interface {
	Execute(ctx context.Context, caller domain.Owner, op domain.Operation) (ledger.Receipt, error)
	Deposit(ctx context.Context, caller domain.Owner, account domain.Account, amount uint64) (uint64, error)
	GetMarket(ctx context.Context, id string) (domain.Market, error)
	Events(ctx context.Context, lastID string, count int) ([]domain.StreamMessage, error)
	History(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// LedgerReader is the query side, served straight from the engine.
type LedgerReader interface {
	ListMarkets(ctx context.Context, filter ledger.MarketFilter) ([]domain.Market, error)
	Children(ctx context.Context, parentID string) ([]domain.Market, error)
	BetsByOwner(ctx context.Context, owner domain.Owner) ([]domain.Bet, error)
	BetsByMarket(ctx context.Context, marketID string) ([]domain.Bet, error)
	Admin(ctx context.Context) (domain.Owner, error)
	Balance(ctx context.Context, account domain.Account) (uint64, error)
	EstimateBet(ctx context.Context, marketID, outcomeID string, amount uint64) (ledger.Estimate, error)
	Leaderboard(ctx context.Context, limit int) ([]ledger.LeaderboardEntry, error)
	Clock() domain.Clock
}
