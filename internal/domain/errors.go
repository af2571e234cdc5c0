package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrLockHeld      = errors.New("lock already held")
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotInstalled  = errors.New("ledger not instantiated")
)

// Ledger errors.
var (
	ErrInvalidOutcomeCount = errors.New("invalid outcome count: minimum 2 outcomes required")
	ErrInvalidExpiryTime   = errors.New("invalid expiry time: must be in the future")
	ErrInvalidBetAmount    = errors.New("invalid bet amount: must be greater than 0")
	ErrMarketNotFound      = errors.New("market not found")
	ErrOutcomeNotFound     = errors.New("outcome not found")
	ErrBetNotFound         = errors.New("bet not found")
	ErrMarketNotActive     = errors.New("market is not active")
	ErrMarketExpired       = errors.New("market has expired")
	ErrMarketNotResolved   = errors.New("market is not resolved")
	ErrAlreadyClaimed      = errors.New("already claimed")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// MarketNotFound returns ErrMarketNotFound annotated with the market id.
func MarketNotFound(id string) error {
	return fmt.Errorf("%w: %s", ErrMarketNotFound, id)
}

// OutcomeNotFound returns ErrOutcomeNotFound annotated with the outcome id.
func OutcomeNotFound(id string) error {
	return fmt.Errorf("%w: %s", ErrOutcomeNotFound, id)
}

// InsufficientFundsError reports a payout that cannot be made.
type InsufficientFundsError struct {
	Required  uint64
	Available uint64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: required %d, available %d", e.Required, e.Available)
}

// Is lets errors.Is(err, ErrInsufficientFunds) match the typed error.
func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// ErrorKind classifies an error for callers that need a coarse category,
// such as the HTTP layer choosing a status code.
type ErrorKind string

const (
	KindValidation     ErrorKind = "validation"
	KindNotFound       ErrorKind = "not_found"
	KindConflict       ErrorKind = "conflict"
	KindUnauthorized   ErrorKind = "unauthorized"
	KindForbidden      ErrorKind = "forbidden"
	KindFunds          ErrorKind = "funds"
	KindRateLimited    ErrorKind = "rate_limited"
	KindInfrastructure ErrorKind = "infrastructure"
)

var kindTable = []struct {
	err  error
	kind ErrorKind
}{
	{ErrInvalidOutcomeCount, KindValidation},
	{ErrInvalidExpiryTime, KindValidation},
	{ErrInvalidBetAmount, KindValidation},
	{ErrInvalidInput, KindValidation},
	{ErrMarketNotFound, KindNotFound},
	{ErrOutcomeNotFound, KindNotFound},
	{ErrBetNotFound, KindNotFound},
	{ErrNotFound, KindNotFound},
	{ErrMarketNotActive, KindConflict},
	{ErrMarketExpired, KindConflict},
	{ErrMarketNotResolved, KindConflict},
	{ErrAlreadyClaimed, KindConflict},
	{ErrAlreadyExists, KindConflict},
	{ErrNotInstalled, KindConflict},
	{ErrUnauthorized, KindUnauthorized},
	{ErrForbidden, KindForbidden},
	{ErrInsufficientFunds, KindFunds},
	{ErrInsufficientBalance, KindFunds},
	{ErrRateLimited, KindRateLimited},
}

// KindOf maps err to its ErrorKind. Unrecognised errors, including storage
// and codec failures, are infrastructure errors.
func KindOf(err error) ErrorKind {
	for _, k := range kindTable {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInfrastructure
}
