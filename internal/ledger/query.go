package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cascade/internal/domain"
)

// MarketFilter narrows ListMarkets. Zero fields match everything.
type MarketFilter struct {
	Category domain.MarketCategory
	Status   domain.MarketStatus
	ParentID *string
}

func (f MarketFilter) match(m domain.Market) bool {
	if f.Category != "" && m.Category != f.Category {
		return false
	}
	if f.Status != "" && m.Status != f.Status {
		return false
	}
	if f.ParentID != nil && (m.ParentID == nil || *m.ParentID != *f.ParentID) {
		return false
	}
	return true
}

// ListMarkets returns markets in creation order.
func (e *Engine) ListMarkets(ctx context.Context, filter MarketFilter) ([]domain.Market, error) {
	var out []domain.Market
	err := e.backend.View(ctx, func(kv domain.KV) error {
		all, err := newState(kv).Markets()
		if err != nil {
			return err
		}
		for _, m := range all {
			if filter.match(m) {
				out = append(out, m)
			}
		}
		return nil
	})
	return out, err
}

// GetMarket returns one market.
func (e *Engine) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	var m domain.Market
	err := e.backend.View(ctx, func(kv domain.KV) error {
		var err error
		m, err = newState(kv).Market(id)
		return err
	})
	return m, err
}

// Children returns the markets whose parent is parentID.
func (e *Engine) Children(ctx context.Context, parentID string) ([]domain.Market, error) {
	return e.ListMarkets(ctx, MarketFilter{ParentID: &parentID})
}

// BetsByOwner returns the owner's bets in placement order.
func (e *Engine) BetsByOwner(ctx context.Context, owner domain.Owner) ([]domain.Bet, error) {
	owner = domain.NormalizeOwner(string(owner))
	var bets []domain.Bet
	err := e.backend.View(ctx, func(kv domain.KV) error {
		var err error
		bets, err = newState(kv).OwnerBets(owner)
		return err
	})
	return bets, err
}

// BetsByMarket returns the market's bets in placement order. Unknown
// markets have no bets.
func (e *Engine) BetsByMarket(ctx context.Context, marketID string) ([]domain.Bet, error) {
	var bets []domain.Bet
	err := e.backend.View(ctx, func(kv domain.KV) error {
		var err error
		bets, err = newState(kv).MarketBets(marketID)
		return err
	})
	return bets, err
}

// Admin returns the current admin.
func (e *Engine) Admin(ctx context.Context) (domain.Owner, error) {
	var admin domain.Owner
	err := e.backend.View(ctx, func(kv domain.KV) error {
		var err error
		admin, err = newState(kv).Admin()
		return err
	})
	return admin, err
}

// Balance returns an account's balance in the transfer book.
func (e *Engine) Balance(ctx context.Context, account domain.Account) (uint64, error) {
	account = domain.Account(domain.NormalizeOwner(string(account)))
	var bal uint64
	err := e.backend.View(ctx, func(kv domain.KV) error {
		var err error
		bal, err = e.book.Balance(kv, account)
		return err
	})
	return bal, err
}

// Estimate describes the result of a hypothetical stake.
type Estimate struct {
	MarketID           string          `json:"market_id"`
	OutcomeID          string          `json:"outcome_id"`
	Amount             uint64          `json:"amount"`
	Payout             uint64          `json:"potential_payout"`
	Odds               decimal.Decimal `json:"odds"`
	ImpliedProbability decimal.Decimal `json:"implied_probability"`
}

// EstimateBet reports what staking amount on outcomeID would pay if that
// outcome won, and the odds after the stake.
func (e *Engine) EstimateBet(ctx context.Context, marketID, outcomeID string, amount uint64) (Estimate, error) {
	m, err := e.GetMarket(ctx, marketID)
	if err != nil {
		return Estimate{}, err
	}
	o, ok := m.FindOutcome(outcomeID)
	if !ok {
		return Estimate{}, domain.OutcomeNotFound(outcomeID)
	}
	payout, err := EstimatePayout(amount, m.TotalStaked, o.TotalStaked)
	if err != nil {
		return Estimate{}, err
	}

	after := m.Clone()
	if amount > 0 && after.TotalStaked <= ^uint64(0)-amount {
		after.Outcomes[after.OutcomeIndex(outcomeID)].TotalStaked += amount
		after.TotalStaked += amount
	}
	return Estimate{
		MarketID:           marketID,
		OutcomeID:          outcomeID,
		Amount:             amount,
		Payout:             payout,
		Odds:               after.Odds(outcomeID),
		ImpliedProbability: after.ImpliedProbability(outcomeID),
	}, nil
}
