package domain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive   MarketStatus = "active"
	MarketStatusResolved MarketStatus = "resolved"
	// MarketStatusExpired is part of the persisted enumeration but no
	// operation transitions a market into it.
	MarketStatusExpired MarketStatus = "expired"
)

// Valid reports whether s is a known status.
func (s MarketStatus) Valid() bool {
	switch s {
	case MarketStatusActive, MarketStatusResolved, MarketStatusExpired:
		return true
	}
	return false
}

// MarketCategory is the closed set of market classifications.
type MarketCategory string

const (
	CategoryCrypto    MarketCategory = "crypto"
	CategoryPolitics  MarketCategory = "politics"
	CategoryEconomics MarketCategory = "economics"
	CategoryTech      MarketCategory = "tech"
	CategorySports    MarketCategory = "sports"
	CategoryOther     MarketCategory = "other"
)

// Categories lists every category in declaration order. The index of a
// category in this slice is its persisted ordinal.
var Categories = []MarketCategory{
	CategoryCrypto,
	CategoryPolitics,
	CategoryEconomics,
	CategoryTech,
	CategorySports,
	CategoryOther,
}

// Valid reports whether c is a known category.
func (c MarketCategory) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Outcome is one possible answer to a market's question.
type Outcome struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	TotalStaked uint64 `json:"total_staked"`
}

// Market is a question with mutually exclusive outcomes and a pooled stake.
type Market struct {
	ID               string         `json:"id"`
	Question         string         `json:"question"`
	Outcomes         []Outcome      `json:"outcomes"`
	TotalStaked      uint64         `json:"total_staked"`
	Status           MarketStatus   `json:"status"`
	ExpiryTime       uint64         `json:"expiry_time"` // microseconds since the Unix epoch
	WinningOutcomeID *string        `json:"winning_outcome_id,omitempty"`
	ParentID         *string        `json:"parent_id,omitempty"`
	Category         MarketCategory `json:"category"`
}

// OutcomeIndex returns the position of the outcome with the given id, or -1.
func (m *Market) OutcomeIndex(outcomeID string) int {
	for i := range m.Outcomes {
		if m.Outcomes[i].ID == outcomeID {
			return i
		}
	}
	return -1
}

// FindOutcome returns the outcome with the given id.
func (m *Market) FindOutcome(outcomeID string) (Outcome, bool) {
	if i := m.OutcomeIndex(outcomeID); i >= 0 {
		return m.Outcomes[i], true
	}
	return Outcome{}, false
}

// WinningOutcome returns the resolved winner, if any.
func (m *Market) WinningOutcome() (Outcome, bool) {
	if m.WinningOutcomeID == nil {
		return Outcome{}, false
	}
	return m.FindOutcome(*m.WinningOutcomeID)
}

// IsExpired reports whether now (microseconds) has reached the expiry time.
// It does not consult or change Status.
func (m *Market) IsExpired(now uint64) bool {
	return now >= m.ExpiryTime
}

// StakeBalanced reports whether TotalStaked equals the sum of the outcome
// stakes.
func (m *Market) StakeBalanced() bool {
	var sum uint64
	for _, o := range m.Outcomes {
		sum += o.TotalStaked
	}
	return sum == m.TotalStaked
}

// Odds returns the decimal odds for an outcome: the pool divided by the
// outcome's stake. Unknown or unstaked outcomes yield zero.
func (m *Market) Odds(outcomeID string) decimal.Decimal {
	o, ok := m.FindOutcome(outcomeID)
	if !ok || o.TotalStaked == 0 {
		return decimal.Zero
	}
	return udec(m.TotalStaked).DivRound(udec(o.TotalStaked), 4)
}

// ImpliedProbability returns the outcome's share of the pool as a
// percentage in [0, 100].
func (m *Market) ImpliedProbability(outcomeID string) decimal.Decimal {
	o, ok := m.FindOutcome(outcomeID)
	if !ok || m.TotalStaked == 0 {
		return decimal.Zero
	}
	return udec(o.TotalStaked).Mul(decimal.NewFromInt(100)).DivRound(udec(m.TotalStaked), 2)
}

// udec converts a uint64 to a decimal without going through int64.
func udec(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

// Clone returns a deep copy of m.
func (m Market) Clone() Market {
	out := m
	out.Outcomes = append([]Outcome(nil), m.Outcomes...)
	if m.WinningOutcomeID != nil {
		w := *m.WinningOutcomeID
		out.WinningOutcomeID = &w
	}
	if m.ParentID != nil {
		p := *m.ParentID
		out.ParentID = &p
	}
	return out
}
