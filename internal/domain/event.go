package domain

import "time"

// EventType names a committed ledger change.
type EventType string

const (
	EventMarketCreated   EventType = "market_created"
	EventBetPlaced       EventType = "bet_placed"
	EventMarketResolved  EventType = "market_resolved"
	EventWinningsClaimed EventType = "winnings_claimed"
	EventDeposit         EventType = "deposit"
)

// LedgerEvent is published after an operation commits.
type LedgerEvent struct {
	Type             EventType `json:"type"`
	MarketID         string    `json:"market_id,omitempty"`
	BetID            string    `json:"bet_id,omitempty"`
	Owner            Owner     `json:"owner,omitempty"`
	OutcomeID        string    `json:"outcome_id,omitempty"`
	WinningOutcomeID string    `json:"winning_outcome_id,omitempty"`
	Amount           uint64    `json:"amount,omitempty"`
	Payout           uint64    `json:"payout,omitempty"`
	Question         string    `json:"question,omitempty"`
	At               time.Time `json:"at"`
}
