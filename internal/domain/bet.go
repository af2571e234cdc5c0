package domain

import "strings"

// Owner is the verified identity of a caller: a 0x-prefixed hex address.
type Owner string

// NormalizeOwner lowercases an address so that equality comparisons are not
// sensitive to checksum casing.
func NormalizeOwner(s string) Owner {
	return Owner(strings.ToLower(strings.TrimSpace(s)))
}

// Account names a balance holder in the value-transfer book. Owners hold
// their balance under an account of the same name.
type Account string

// AccountOf returns the transfer account backing an owner.
func AccountOf(o Owner) Account {
	return Account(o)
}

// Bet is a caller's stake on one outcome of one market.
type Bet struct {
	ID        string `json:"id"`
	Owner     Owner  `json:"owner"`
	MarketID  string `json:"market_id"`
	OutcomeID string `json:"outcome_id"`
	Amount    uint64 `json:"amount"`
	Claimed   bool   `json:"claimed"`
}
