package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/cascade/internal/domain"
)

// SnapshotVersion is bumped when the snapshot layout changes.
const SnapshotVersion = 1

// Snapshot is a portable copy of the full ledger state.
type Snapshot struct {
	Version  int                       `json:"version"`
	TakenAt  time.Time                 `json:"taken_at"`
	Admin    domain.Owner              `json:"admin"`
	Counter  uint64                    `json:"id_counter"`
	Markets  []domain.Market           `json:"markets"`
	Bets     []domain.Bet              `json:"bets"` // ordered by id
	Balances map[domain.Account]uint64 `json:"balances"`
}

// Export reads the whole ledger in one consistent view.
func (e *Engine) Export(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Version: SnapshotVersion, TakenAt: time.Now().UTC()}
	err := e.backend.View(ctx, func(kv domain.KV) error {
		st := newState(kv)
		var err error
		if snap.Admin, err = st.Admin(); err != nil {
			return err
		}
		if snap.Counter, err = st.Counter(); err != nil {
			return err
		}
		if snap.Markets, err = st.Markets(); err != nil {
			return err
		}
		for _, m := range snap.Markets {
			bets, err := st.MarketBets(m.ID)
			if err != nil {
				return err
			}
			snap.Bets = append(snap.Bets, bets...)
		}
		snap.Balances, err = e.book.Balances(kv)
		return err
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("ledger: export: %w", err)
	}
	sort.SliceStable(snap.Bets, func(i, j int) bool { return idLess(snap.Bets[i].ID, snap.Bets[j].ID) })
	return snap, nil
}

// Import loads snap into an uninstantiated backend. Bets are replayed in
// id order, which rebuilds both indices in their original order.
func (e *Engine) Import(ctx context.Context, snap Snapshot) error {
	if snap.Version != SnapshotVersion {
		return fmt.Errorf("ledger: import: %w: snapshot version %d", domain.ErrInvalidInput, snap.Version)
	}
	if snap.Admin == "" {
		return fmt.Errorf("ledger: import: %w: snapshot has no admin", domain.ErrInvalidInput)
	}
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("ledger: import: %w", err)
	}
	bets := append([]domain.Bet(nil), snap.Bets...)
	sort.SliceStable(bets, func(i, j int) bool { return idLess(bets[i].ID, bets[j].ID) })

	err := e.backend.Update(ctx, func(kv domain.KV) error {
		st := newState(kv)
		if _, err := st.Admin(); !errors.Is(err, domain.ErrNotInstalled) {
			if err == nil {
				return fmt.Errorf("%w: ledger already instantiated", domain.ErrAlreadyExists)
			}
			return err
		}
		if err := st.setAdmin(snap.Admin); err != nil {
			return err
		}
		if err := st.setCounter(snap.Counter); err != nil {
			return err
		}
		for _, m := range snap.Markets {
			if err := st.PutMarket(m); err != nil {
				return err
			}
		}
		for _, b := range bets {
			if err := st.AddBet(b); err != nil {
				return err
			}
		}
		for acct, bal := range snap.Balances {
			if _, err := e.book.Deposit(kv, acct, bal); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ledger: import: %w", err)
	}
	return nil
}

// Validate checks the invariants the engine maintains on live state: ids
// below the counter, balanced stakes, a winner exactly on resolved markets,
// and bets that reference an outcome and sum to its stake.
func (s Snapshot) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: snapshot: %s", domain.ErrInvalidInput, fmt.Sprintf(format, args...))
	}
	checkID := func(id string) error {
		n, ok := idNumber(id)
		if !ok {
			return invalid("malformed id %q", id)
		}
		if n == 0 || n > s.Counter {
			return invalid("id %s is not below counter %d", id, s.Counter)
		}
		return nil
	}

	markets := make(map[string]domain.Market, len(s.Markets))
	betStake := make(map[string]uint64)
	for _, m := range s.Markets {
		if err := checkID(m.ID); err != nil {
			return err
		}
		if _, dup := markets[m.ID]; dup {
			return invalid("duplicate market %s", m.ID)
		}
		if len(m.Outcomes) < 2 {
			return invalid("market %s has %d outcomes", m.ID, len(m.Outcomes))
		}
		if !m.Status.Valid() || !m.Category.Valid() {
			return invalid("market %s has status %q category %q", m.ID, m.Status, m.Category)
		}

		var sum uint64
		seen := make(map[string]bool, len(m.Outcomes))
		for _, o := range m.Outcomes {
			if seen[o.ID] {
				return invalid("market %s repeats outcome %s", m.ID, o.ID)
			}
			seen[o.ID] = true
			if sum > ^uint64(0)-o.TotalStaked {
				return invalid("market %s stake overflows", m.ID)
			}
			sum += o.TotalStaked
			betStake[o.ID] = 0
		}
		if sum != m.TotalStaked {
			return invalid("market %s total %d differs from outcome stakes %d", m.ID, m.TotalStaked, sum)
		}

		resolved := m.Status == domain.MarketStatusResolved
		if resolved != (m.WinningOutcomeID != nil) {
			return invalid("market %s is %s with winner set %t", m.ID, m.Status, m.WinningOutcomeID != nil)
		}
		if resolved && !seen[*m.WinningOutcomeID] {
			return invalid("market %s winner %s is not an outcome", m.ID, *m.WinningOutcomeID)
		}
		markets[m.ID] = m
	}

	bets := make(map[string]bool, len(s.Bets))
	for _, b := range s.Bets {
		if err := checkID(b.ID); err != nil {
			return err
		}
		if bets[b.ID] {
			return invalid("duplicate bet %s", b.ID)
		}
		if _, clash := markets[b.ID]; clash {
			return invalid("bet %s shares an id with a market", b.ID)
		}
		bets[b.ID] = true
		m, ok := markets[b.MarketID]
		if !ok {
			return invalid("bet %s references missing market %s", b.ID, b.MarketID)
		}
		if m.OutcomeIndex(b.OutcomeID) < 0 {
			return invalid("bet %s references missing outcome %s", b.ID, b.OutcomeID)
		}
		if b.Owner == "" || b.Amount == 0 {
			return invalid("bet %s has no owner or amount", b.ID)
		}
		if b.Claimed && (m.WinningOutcomeID == nil || *m.WinningOutcomeID != b.OutcomeID) {
			return invalid("bet %s is claimed but did not win", b.ID)
		}
		if betStake[b.OutcomeID] > ^uint64(0)-b.Amount {
			return invalid("outcome %s bet stakes overflow", b.OutcomeID)
		}
		betStake[b.OutcomeID] += b.Amount
	}
	for _, m := range s.Markets {
		for _, o := range m.Outcomes {
			if betStake[o.ID] != o.TotalStaked {
				return invalid("outcome %s stake %d differs from its bets %d", o.ID, o.TotalStaked, betStake[o.ID])
			}
		}
	}
	return nil
}
