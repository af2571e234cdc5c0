package ledger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cascade/internal/domain"
	"github.com/alanyoungcy/cascade/internal/store/memory"
	"github.com/alanyoungcy/cascade/internal/transfer"
)

const (
	admin domain.Owner = "0xadmin"
	alice domain.Owner = "0xalice"
	bob   domain.Owner = "0xbob"
	carol domain.Owner = "0xcarol"

	hourMicros = uint64(3600 * 1_000_000)
	startTime  = uint64(1_700_000_000_000_000)
)

type testClock struct{ now atomic.Uint64 }

func (c *testClock) NowMicros() uint64 { return c.now.Load() }
func (c *testClock) advance(d uint64) { c.now.Add(d) }

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *memory.Store
	clock  *testClock
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{t: t, ctx: context.Background(), store: memory.New(), clock: &testClock{}}
	f.clock.now.Store(startTime)
	f.engine = NewEngine(f.store, transfer.NewBook(), f.clock, "", nil)
	require.NoError(t, f.engine.Instantiate(f.ctx, admin))
	for _, o := range []domain.Owner{alice, bob, carol} {
		_, err := f.engine.Deposit(f.ctx, admin, domain.AccountOf(o), 10_000)
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) exec(caller domain.Owner, op domain.Operation) (Receipt, error) {
	return f.engine.Execute(f.ctx, caller, op)
}

func (f *fixture) mustExec(caller domain.Owner, op domain.Operation) Receipt {
	f.t.Helper()
	r, err := f.exec(caller, op)
	require.NoError(f.t, err)
	return r
}

func (f *fixture) createMarket(names ...string) string {
	f.t.Helper()
	if len(names) == 0 {
		names = []string{"Yes", "No"}
	}
	r := f.mustExec(alice, domain.CreateMarket{
		Question:     "Will it happen?",
		OutcomeNames: names,
		ExpiryTime:   f.clock.NowMicros() + hourMicros,
		Category:     domain.CategoryCrypto,
	})
	return r.MarketID
}

func (f *fixture) market(id string) domain.Market {
	f.t.Helper()
	m, err := f.engine.GetMarket(f.ctx, id)
	require.NoError(f.t, err)
	return m
}

func (f *fixture) balance(o domain.Owner) uint64 {
	f.t.Helper()
	b, err := f.engine.Balance(f.ctx, domain.AccountOf(o))
	require.NoError(f.t, err)
	return b
}

func (f *fixture) escrow() uint64 {
	f.t.Helper()
	b, err := f.engine.Balance(f.ctx, DefaultEscrow)
	require.NoError(f.t, err)
	return b
}

func TestInstantiate(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.engine.Instantiate(f.ctx, "0xADMIN"))
	err := f.engine.Instantiate(f.ctx, "0xsomeoneelse")
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	got, err := f.engine.Admin(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, admin, got)

	fresh := NewEngine(memory.New(), transfer.NewBook(), f.clock, "", nil)
	_, err = fresh.Admin(f.ctx)
	assert.ErrorIs(t, err, domain.ErrNotInstalled)
}

func TestCreateMarket(t *testing.T) {
	f := newFixture(t)
	parent := "id_99"
	r := f.mustExec(bob, domain.CreateMarket{
		Question:     "Who wins?",
		OutcomeNames: []string{"Red", "Green", "Blue"},
		ExpiryTime:   startTime + hourMicros,
		Category:     domain.CategorySports,
		ParentID:     &parent,
	})
	assert.Equal(t, "id_1", r.MarketID)

	m := f.market("id_1")
	assert.Equal(t, "Who wins?", m.Question)
	assert.Equal(t, domain.MarketStatusActive, m.Status)
	assert.Equal(t, domain.CategorySports, m.Category)
	assert.Nil(t, m.WinningOutcomeID)
	require.NotNil(t, m.ParentID)
	assert.Equal(t, "id_99", *m.ParentID)
	assert.Zero(t, m.TotalStaked)
	require.Len(t, m.Outcomes, 3)
	for i, o := range m.Outcomes {
		assert.Equal(t, fmt.Sprintf("id_1_%d", i), o.ID)
		assert.Zero(t, o.TotalStaked)
	}
	assert.Equal(t, "Blue", m.Outcomes[2].Name)

	// Creation needs no caller.
	r = f.mustExec("", domain.CreateMarket{OutcomeNames: []string{"a", "b"}, ExpiryTime: startTime + 1, Category: domain.CategoryOther})
	assert.Equal(t, "id_2", r.MarketID)
}

func TestCreateMarketValidation(t *testing.T) {
	f := newFixture(t)
	valid := domain.CreateMarket{
		Question:     "q",
		OutcomeNames: []string{"a", "b"},
		ExpiryTime:   startTime + hourMicros,
		Category:     domain.CategoryTech,
	}

	for _, names := range [][]string{nil, {}, {"only"}} {
		op := valid
		op.OutcomeNames = names
		_, err := f.exec(alice, op)
		assert.ErrorIs(t, err, domain.ErrInvalidOutcomeCount)
	}

	for _, expiry := range []uint64{0, startTime - 1, startTime} {
		op := valid
		op.ExpiryTime = expiry
		_, err := f.exec(alice, op)
		assert.ErrorIs(t, err, domain.ErrInvalidExpiryTime)
		assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	}

	op := valid
	op.Category = "weather"
	_, err := f.exec(alice, op)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	// Rejected operations never consume an id.
	r := f.mustExec(alice, valid)
	assert.Equal(t, "id_1", r.MarketID)
}

func TestPlaceBetZeroAmountRegardlessOfState(t *testing.T) {
	f := newFixture(t)
	id := f.createMarket()

	cases := map[string]domain.PlaceBet{
		"unknown market":  {MarketID: "id_404", OutcomeID: "id_404_0"},
		"unknown outcome": {MarketID: id, OutcomeID: "nope"},
		"valid target":    {MarketID: id, OutcomeID: id + "_0"},
	}
	for name, op := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.exec(alice, op)
			assert.ErrorIs(t, err, domain.ErrInvalidBetAmount)
		})
	}

	f.mustExec(admin, domain.ResolveMarket{MarketID: id, WinningOutcomeID: id + "_0"})
	_, err := f.exec(alice, domain.PlaceBet{MarketID: id, OutcomeID: id + "_0"})
	assert.ErrorIs(t, err, domain.ErrInvalidBetAmount)
}

func TestPlaceBetRequiresCaller(t *testing.T) {
	f := newFixture(t)
	id := f.createMarket()
	_, err := f.exec("", domain.PlaceBet{MarketID: id, OutcomeID: id + "_0", Amount: 5})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestPlaceBetErrors(t *testing.T) {
	f := newFixture(t)
	id := f.createMarket()

	_, err := f.exec(alice, domain.PlaceBet{MarketID: "id_404", OutcomeID: "x", Amount: 1})
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)
	assert.Contains(t, err.Error(), "id_404")

	_, err = f.exec(alice, domain.PlaceBet{MarketID: id, OutcomeID: id + "_7", Amount: 1})
	assert.ErrorIs(t, err, domain.ErrOutcomeNotFound)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestPlaceBetExpiredWhileActive(t *testing.T) {
	f := newFixture(t)
	id := f.createMarket()
	f.clock.advance(hourMicros)

	_, err := f.exec(alice, domain.PlaceBet{MarketID: id, OutcomeID: id + "_0", Amount: 10})
	assert.ErrorIs(t, err, domain.ErrMarketExpired)

	m := f.market(id)
	assert.Equal(t, domain.MarketStatusActive, m.Status)
	assert.True(t, NewMarketView(m, f.clock.NowMicros()).Expired)
}

func TestPlaceBetOnResolvedMarket(t *testing.T) {
	f := newFixture(t)
	id := f.createMarket()
	f.mustExec(admin, domain.ResolveMarket{MarketID: id, WinningOutcomeID: id + "_1"})

	_, err := f.exec(alice, domain.PlaceBet{MarketID: id, OutcomeID: id + "_0", Amount: 10})
	assert.ErrorIs(t, err, domain.ErrMarketNotActive)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
}

func TestStakeSumsAfterBets(t *testing.T) {
	f := newFixture(t)
	id := f.createMarket("A", "B", "C")
	amounts := []uint64{5, 17, 1, 300, 42}

	var betIDs []string
	var sum uint64
	for _, a := range amounts {
		r := f.mustExec(alice, domain.PlaceBet{MarketID: id, OutcomeID: id + "_1", Amount: a})
		betIDs = append(betIDs, r.BetID)
		sum += a
	}
	f.mustExec(bob, domain.PlaceBet{MarketID: id, OutcomeID: id + "_2", Amount: 8})

	m := f.market(id)
	assert.Equal(t, sum, m.Outcomes[1].TotalStaked)
	assert.Equal(t, uint64(8), m.Outcomes[2].TotalStaked)
	assert.Equal(t, sum+8, m.TotalStaked)
	assert.True(t, m.StakeBalanced())

	assert.Equal(t, 10_000-sum, f.balance(alice))
	assert.Equal(t, sum+8, f.escrow())

	// Shared id sequence: market id_1, bets id_2..id_6, bob's bet id_7.
	assert.Equal(t, []string{"id_2", "id_3", "id_4", "id_5", "id_6"}, betIDs)

	byOwner, err := f.engine.BetsByOwner(f.ctx, alice)
	require.NoError(t, err)
	byMarket, err := f.engine.BetsByMarket(f.ctx, id)
	require.NoError(t, err)
	require.Len(t, byOwner, len(amounts))
	require.Len(t, byMarket, len(amounts)+1)
	assert.Equal(t, byOwner, byMarket[:len(amounts)])
	assert.Equal(t, bob, byMarket[len(amounts)].Owner)
}

func TestPlaceBetInsufficientBalanceCommitsNothing(t *testing.T) {
	f := newFixture(t)
	id := f.createMarket()

	_, err := f.exec(alice, domain.PlaceBet{MarketID: id, OutcomeID: id + "_0", Amount: 10_001})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	m := f.market(id)
	assert.Zero(t, m.TotalStaked)
	assert.Zero(t, m.Outcomes[0].TotalStaked)
	bets, err := f.engine.BetsByOwner(f.ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, bets)

	r := f.mustExec(alice, domain.PlaceBet{MarketID: id, OutcomeID: id + "_0", Amount: 1})
	assert.Equal(t, "id_2", r.BetID)
}

func TestResolveByNonAdminLeavesMarketUnchanged(t *testing.T) {
	f := newFixture(t)
	id := f.createMarket()
	f.mustExec(alice, domain.PlaceBet{MarketID: id, OutcomeID: id + "_0", Amount: 50})
	before := f.market(id)

	for _, caller := range []domain.Owner{"", alice, bob} {
		_, err := f.exec(caller, domain.ResolveMarket{MarketID: id, WinningOutcomeID: id + "_0"})
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	}
	assert.Equal(t, before, f.market(id))
}

func TestResolveMarket(t *testing.T) {
	f := newFixture(t)
	id := f.createMarket()

	_, err := f.exec(admin, domain.ResolveMarket{MarketID: "id_404", WinningOutcomeID: "x"})
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)
	_, err = f.exec(admin, domain.ResolveMarket{MarketID: id, WinningOutcomeID: "x"})
	assert.ErrorIs(t, err, domain.ErrOutcomeNotFound)

	// Admin comparison ignores address casing.
	r := f.mustExec("0xADMIN", domain.ResolveMarket{MarketID: id, WinningOutcomeID: id + "_1"})
	require.NotNil(t, r.Resolved)
	assert.Equal(t, domain.MarketResolved{MarketID: id, WinningOutcomeID: id + "_1"}, *r.Resolved)

	m := f.market(id)
	assert.Equal(t, domain.MarketStatusResolved, m.Status)
	require.NotNil(t, m.WinningOutcomeID)
	assert.Equal(t, id+"_1", *m.WinningOutcomeID)

	_, err = f.exec(admin, domain.ResolveMarket{MarketID: id, WinningOutcomeID: id + "_0"})
	assert.ErrorIs(t, err, domain.ErrMarketNotActive)
	assert.Equal(t, id+"_1", *f.market(id).WinningOutcomeID)
}

func TestResolveAfterExpiry(t *testing.T) {
	f := newFixture(t)
	id := f.createMarket()
	f.clock.advance(2 * hourMicros)
	f.mustExec(admin, domain.ResolveMarket{MarketID: id, WinningOutcomeID: id + "_0"})
	assert.Equal(t, domain.MarketStatusResolved, f.market(id).Status)
}

func TestClaimOnUnresolvedMarket(t *testing.T) {
	f := newFixture(t)
	id := f.createMarket()
	f.mustExec(alice, domain.PlaceBet{MarketID: id, OutcomeID: id + "_0", Amount: 50})

	_, err := f.exec(alice, domain.ClaimWinnings{MarketID: id})
	assert.ErrorIs(t, err, domain.ErrMarketNotResolved)

	f.clock.advance(2 * hourMicros)
	_, err = f.exec(alice, domain.ClaimWinnings{MarketID: id})
	assert.ErrorIs(t, err, domain.ErrMarketNotResolved)

	_, err = f.exec("", domain.ClaimWinnings{MarketID: id})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = f.exec(alice, domain.ClaimWinnings{MarketID: "id_404"})
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)
}

func TestWorkedExample(t *testing.T) {
	f := newFixture(t)
	id := f.createMarket("A", "B")
	a, b := id+"_0", id+"_1"

	f.mustExec(alice, domain.PlaceBet{MarketID: id, OutcomeID: a, Amount: 100})
	f.mustExec(carol, domain.PlaceBet{MarketID: id, OutcomeID: a, Amount: 900})
	f.mustExec(bob, domain.PlaceBet{MarketID: id, OutcomeID: b, Amount: 3000})

	m := f.market(id)
	assert.Equal(t, uint64(4000), m.TotalStaked)
	assert.Equal(t, "4", m.Odds(a).String())
	assert.Equal(t, "25", m.ImpliedProbability(a).String())

	f.mustExec(admin, domain.ResolveMarket{MarketID: id, WinningOutcomeID: a})

	r := f.mustExec(alice, domain.ClaimWinnings{MarketID: id})
	assert.Equal(t, uint64(400), r.Payout)
	assert.Equal(t, uint64(10_000-100+400), f.balance(alice))

	_, err := f.exec(alice, domain.ClaimWinnings{MarketID: id})
	assert.ErrorIs(t, err, domain.ErrBetNotFound)

	_, err = f.exec(bob, domain.ClaimWinnings{MarketID: id})
	assert.ErrorIs(t, err, domain.ErrBetNotFound)

	r = f.mustExec(carol, domain.ClaimWinnings{MarketID: id})
	assert.Equal(t, uint64(3600), r.Payout)
	assert.Zero(t, f.escrow())

	bets, err := f.engine.BetsByMarket(f.ctx, id)
	require.NoError(t, err)
	owned, err := f.engine.BetsByOwner(f.ctx, alice)
	require.NoError(t, err)
	assert.True(t, bets[0].Claimed)
	assert.Equal(t, bets[0], owned[0])
	assert.False(t, bets[2].Claimed)
}

func TestClaimSettlesOneBetPerCall(t *testing.T) {
	f := newFixture(t)
	id := f.createMarket()
	win, lose := id+"_0", id+"_1"

	first := f.mustExec(alice, domain.PlaceBet{MarketID: id, OutcomeID: win, Amount: 10})
	second := f.mustExec(alice, domain.PlaceBet{MarketID: id, OutcomeID: win, Amount: 30})
	f.mustExec(bob, domain.PlaceBet{MarketID: id, OutcomeID: lose, Amount: 60})
	f.mustExec(admin, domain.ResolveMarket{MarketID: id, WinningOutcomeID: win})

	r := f.mustExec(alice, domain.ClaimWinnings{MarketID: id})
	assert.Equal(t, first.BetID, r.BetID)
	assert.Equal(t, uint64(25), r.Payout)

	r = f.mustExec(alice, domain.ClaimWinnings{MarketID: id})
	assert.Equal(t, second.BetID, r.BetID)
	assert.Equal(t, uint64(75), r.Payout)

	_, err := f.exec(alice, domain.ClaimWinnings{MarketID: id})
	assert.ErrorIs(t, err, domain.ErrBetNotFound)
}

func TestRoundingDustStaysInEscrow(t *testing.T) {
	f := newFixture(t)
	id := f.createMarket()
	win, lose := id+"_0", id+"_1"

	for _, o := range []domain.Owner{alice, bob, carol} {
		f.mustExec(o, domain.PlaceBet{MarketID: id, OutcomeID: win, Amount: 1})
	}
	f.mustExec(bob, domain.PlaceBet{MarketID: id, OutcomeID: lose, Amount: 1})
	f.mustExec(admin, domain.ResolveMarket{MarketID: id, WinningOutcomeID: win})

	var paid uint64
	for _, o := range []domain.Owner{alice, bob, carol} {
		r := f.mustExec(o, domain.ClaimWinnings{MarketID: id})
		assert.Equal(t, uint64(1), r.Payout) // floor(1*4/3)
		paid += r.Payout
	}
	assert.Equal(t, uint64(3), paid)
	assert.Equal(t, uint64(1), f.escrow())
}

func TestZeroStakeWinnerRejectsClaim(t *testing.T) {
	f := newFixture(t)
	id := f.createMarket()
	f.mustExec(bob, domain.PlaceBet{MarketID: id, OutcomeID: id + "_1", Amount: 100})
	f.mustExec(admin, domain.ResolveMarket{MarketID: id, WinningOutcomeID: id + "_0"})

	// Nobody holds a bet on the unstaked winner.
	_, err := f.exec(bob, domain.ClaimWinnings{MarketID: id})
	assert.ErrorIs(t, err, domain.ErrBetNotFound)

	// Inject a bet on the winner without staking it, so the winner pool
	// stays at zero.
	require.NoError(t, f.store.Update(f.ctx, func(kv domain.KV) error {
		return newState(kv).AddBet(domain.Bet{ID: "id_900", Owner: alice, MarketID: id, OutcomeID: id + "_0", Amount: 5})
	}))
	_, err = f.exec(alice, domain.ClaimWinnings{MarketID: id})
	var funds *domain.InsufficientFundsError
	require.ErrorAs(t, err, &funds)
	assert.Equal(t, uint64(1), funds.Required)
	assert.Equal(t, uint64(0), funds.Available)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, domain.KindFunds, domain.KindOf(err))
	assert.Equal(t, "insufficient funds: required 1, available 0", err.Error())
}

func TestEscrowCannotActAsCaller(t *testing.T) {
	f := newFixture(t)
	id := f.createMarket()
	f.mustExec(alice, domain.PlaceBet{MarketID: id, OutcomeID: id + "_0", Amount: 100})

	for _, caller := range []domain.Owner{"escrow", " ESCROW "} {
		_, err := f.exec(caller, domain.PlaceBet{MarketID: id, OutcomeID: id + "_1", Amount: 100})
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
		_, err = f.exec(caller, domain.ClaimWinnings{MarketID: id})
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	}
	_, err := f.engine.Deposit(f.ctx, admin, DefaultEscrow, 50)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	m := f.market(id)
	assert.EqualValues(t, 100, m.TotalStaked)
	assert.Equal(t, m.TotalStaked, f.escrow())

	f.mustExec(admin, domain.ResolveMarket{MarketID: id, WinningOutcomeID: id + "_0"})
	r := f.mustExec(alice, domain.ClaimWinnings{MarketID: id})
	assert.EqualValues(t, 100, r.Payout)
	assert.Zero(t, f.escrow())
	assert.EqualValues(t, 10_000, f.balance(alice))
}

func TestInstantiateRejectsEscrowAdmin(t *testing.T) {
	e := NewEngine(memory.New(), transfer.NewBook(), nil, "Vault", nil)
	assert.Equal(t, domain.Account("vault"), e.Escrow())
	err := e.Instantiate(context.Background(), "VAULT")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestDeposit(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Deposit(f.ctx, alice, domain.AccountOf(alice), 5)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = f.engine.Deposit(f.ctx, admin, domain.AccountOf(alice), 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	bal, err := f.engine.Deposit(f.ctx, admin, "0xALICE", 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_005), bal)
}

func TestHandleMessage(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.HandleMessage(f.ctx, domain.MarketResolved{MarketID: "id_1", WinningOutcomeID: "id_1_0"}))
}

func TestConcurrentBetsConserveStake(t *testing.T) {
	f := newFixture(t)
	id := f.createMarket()

	var wg sync.WaitGroup
	owners := []domain.Owner{alice, bob, carol}
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.exec(owners[i%3], domain.PlaceBet{MarketID: id, OutcomeID: fmt.Sprintf("%s_%d", id, i%2), Amount: 10})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	m := f.market(id)
	assert.Equal(t, uint64(300), m.TotalStaked)
	assert.True(t, m.StakeBalanced())
	assert.Equal(t, uint64(300), f.escrow())
	bets, err := f.engine.BetsByMarket(f.ctx, id)
	require.NoError(t, err)
	assert.Len(t, bets, 30)
}
