package ledger

import (
	"context"
	"math/big"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cascade/internal/domain"
)

// LeaderboardEntry summarises one owner's record on resolved markets.
// Profit is the payout the winning bets are owed minus every stake, whether
// or not the winnings have been claimed.
type LeaderboardEntry struct {
	Owner   domain.Owner    `json:"owner"`
	Bets    int             `json:"bets"`
	Wins    int             `json:"wins"`
	Volume  uint64          `json:"volume"`
	Profit  decimal.Decimal `json:"profit"`
	WinRate decimal.Decimal `json:"win_rate"`
}

// Leaderboard ranks owners by profit over resolved markets. limit <= 0
// returns every owner.
func (e *Engine) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	byOwner := make(map[domain.Owner]*LeaderboardEntry)
	err := e.backend.View(ctx, func(kv domain.KV) error {
		st := newState(kv)
		markets, err := st.Markets()
		if err != nil {
			return err
		}
		for _, m := range markets {
			winner, ok := m.WinningOutcome()
			if m.Status != domain.MarketStatusResolved || !ok {
				continue
			}
			bets, err := st.MarketBets(m.ID)
			if err != nil {
				return err
			}
			for _, b := range bets {
				entry := byOwner[b.Owner]
				if entry == nil {
					entry = &LeaderboardEntry{Owner: b.Owner, Profit: decimal.Zero}
					byOwner[b.Owner] = entry
				}
				entry.Bets++
				entry.Volume += b.Amount
				stake := decimal.NewFromBigInt(new(big.Int).SetUint64(b.Amount), 0)
				if b.OutcomeID != winner.ID {
					entry.Profit = entry.Profit.Sub(stake)
					continue
				}
				entry.Wins++
				payout, err := Payout(b.Amount, m.TotalStaked, winner.TotalStaked)
				if err != nil {
					return err
				}
				won := decimal.NewFromBigInt(new(big.Int).SetUint64(payout), 0)
				entry.Profit = entry.Profit.Add(won.Sub(stake))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]LeaderboardEntry, 0, len(byOwner))
	for _, entry := range byOwner {
		entry.WinRate = decimal.NewFromInt(int64(entry.Wins)).
			Mul(decimal.NewFromInt(100)).
			DivRound(decimal.NewFromInt(int64(entry.Bets)), 2)
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Profit.Cmp(out[j].Profit); c != 0 {
			return c > 0
		}
		if out[i].Volume != out[j].Volume {
			return out[i].Volume > out[j].Volume
		}
		return out[i].Owner < out[j].Owner
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
