// Package transfer keeps account balances in the ledger's key-value store
// so that value movements commit in the same transaction as the bookkeeping
// that caused them.
package transfer

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/alanyoungcy/cascade/internal/codec"
	"github.com/alanyoungcy/cascade/internal/domain"
)

// ErrOverflow is returned when a credit would exceed the uint64 range.
var ErrOverflow = errors.New("transfer: balance overflow")

// Book moves value between accounts.
type Book struct{}

// NewBook returns a Book.
func NewBook() *Book { return &Book{} }

func balanceKey(a domain.Account) string {
	return domain.PrefixBalance + string(a)
}

// Balance returns the account balance; unknown accounts hold zero.
func (b *Book) Balance(kv domain.KV, account domain.Account) (uint64, error) {
	raw, err := kv.Get(balanceKey(account))
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("transfer: balance %s: %w", account, err)
	}
	v, err := codec.DecodeUint64(raw)
	if err != nil {
		return 0, fmt.Errorf("transfer: balance %s: %w", account, err)
	}
	return v, nil
}

func (b *Book) setBalance(kv domain.KV, account domain.Account, v uint64) error {
	if err := kv.Set(balanceKey(account), codec.EncodeUint64(v)); err != nil {
		return fmt.Errorf("transfer: write balance %s: %w", account, err)
	}
	return nil
}

// Transfer debits from and credits to. A zero amount is a no-op.
func (b *Book) Transfer(kv domain.KV, from, to domain.Account, amount uint64) error {
	if amount == 0 {
		return nil
	}
	fromBal, err := b.Balance(kv, from)
	if err != nil {
		return err
	}
	if fromBal < amount {
		return fmt.Errorf("%w: account %s holds %d, needs %d", domain.ErrInsufficientBalance, from, fromBal, amount)
	}
	if from == to {
		return nil
	}
	toBal, err := b.Balance(kv, to)
	if err != nil {
		return err
	}
	if toBal > math.MaxUint64-amount {
		return fmt.Errorf("%w: account %s", ErrOverflow, to)
	}
	if err := b.setBalance(kv, from, fromBal-amount); err != nil {
		return err
	}
	return b.setBalance(kv, to, toBal+amount)
}

// Deposit credits account with newly issued value and returns the new
// balance.
func (b *Book) Deposit(kv domain.KV, account domain.Account, amount uint64) (uint64, error) {
	bal, err := b.Balance(kv, account)
	if err != nil {
		return 0, err
	}
	if bal > math.MaxUint64-amount {
		return 0, fmt.Errorf("%w: account %s", ErrOverflow, account)
	}
	bal += amount
	if err := b.setBalance(kv, account, bal); err != nil {
		return 0, err
	}
	return bal, nil
}

// Balances returns every non-empty account balance.
func (b *Book) Balances(kv domain.KV) (map[domain.Account]uint64, error) {
	out := make(map[domain.Account]uint64)
	err := kv.Scan(domain.PrefixBalance, func(key string, value []byte) error {
		v, err := codec.DecodeUint64(value)
		if err != nil {
			return fmt.Errorf("transfer: balance %s: %w", key, err)
		}
		if v > 0 {
			out[domain.Account(strings.TrimPrefix(key, domain.PrefixBalance))] = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
