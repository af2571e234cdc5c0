package domain

// OperationType tags a write operation on the wire.
type OperationType string

const (
	OpCreateMarket  OperationType = "create_market"
	OpPlaceBet      OperationType = "place_bet"
	OpResolveMarket OperationType = "resolve_market"
	OpClaimWinnings OperationType = "claim_winnings"
)

// Operation is one of CreateMarket, PlaceBet, ResolveMarket or
// ClaimWinnings. The set is closed: only types in this package implement it.
type Operation interface {
	Type() OperationType
	isOperation()
}

// CreateMarket opens a new market with one outcome per name.
type CreateMarket struct {
	Question     string         `json:"question"`
	OutcomeNames []string       `json:"outcomes"`
	ExpiryTime   uint64         `json:"expiry_time"`
	Category     MarketCategory `json:"category"`
	ParentID     *string        `json:"parent_id,omitempty"`
}

// PlaceBet stakes Amount on one outcome of an active market.
type PlaceBet struct {
	MarketID  string `json:"market_id"`
	OutcomeID string `json:"outcome_id"`
	Amount    uint64 `json:"amount"`
}

// ResolveMarket declares the winning outcome. Admin only.
type ResolveMarket struct {
	MarketID         string `json:"market_id"`
	WinningOutcomeID string `json:"winning_outcome_id"`
}

// ClaimWinnings settles one of the caller's winning bets on a market.
type ClaimWinnings struct {
	MarketID string `json:"market_id"`
}

func (CreateMarket) Type() OperationType  { return OpCreateMarket }
func (PlaceBet) Type() OperationType      { return OpPlaceBet }
func (ResolveMarket) Type() OperationType { return OpResolveMarket }
func (ClaimWinnings) Type() OperationType { return OpClaimWinnings }

func (CreateMarket) isOperation()  {}
func (PlaceBet) isOperation()      {}
func (ResolveMarket) isOperation() {}
func (ClaimWinnings) isOperation() {}

// Message is an advisory notification exchanged between ledger instances.
type Message interface {
	isMessage()
}

// MarketResolved announces that a market settled on a winning outcome.
type MarketResolved struct {
	MarketID         string `json:"market_id"`
	WinningOutcomeID string `json:"winning_outcome_id"`
}

func (MarketResolved) isMessage() {}
