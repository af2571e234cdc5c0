package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cascade/internal/codec"
	"github.com/alanyoungcy/cascade/internal/domain"
	"github.com/alanyoungcy/cascade/internal/ledger"
	"github.com/alanyoungcy/cascade/internal/store/memory"
	"github.com/alanyoungcy/cascade/internal/transfer"
)

const (
	admin = domain.Owner("0xadmin")
	alice = domain.Owner("0xalice")
)

type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	journal   [][]byte
	sub       chan []byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: map[string][][]byte{}, sub: make(chan []byte, 4)}
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.sub, nil
}

func (b *fakeBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.journal = append(b.journal, payload)
	return nil
}

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.StreamMessage, len(b.journal))
	for i, p := range b.journal {
		out[i] = domain.StreamMessage{ID: string(rune('a' + i)), Payload: p}
	}
	return out, nil
}

type fakeCache struct {
	mu          sync.Mutex
	markets     map[string]domain.Market
	versions    map[string]uint64
	hits        int
	skipped     int
	invalidated []string

	// beforeFill runs between the backend read and the conditional fill.
	beforeFill func()
}

func (c *fakeCache) Version(_ context.Context, id string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[id], nil
}

func (c *fakeCache) SetIfVersion(_ context.Context, m domain.Market, version uint64) (bool, error) {
	if c.beforeFill != nil {
		hook := c.beforeFill
		c.beforeFill = nil
		hook()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versions[m.ID] != version {
		c.skipped++
		return false, nil
	}
	if c.markets == nil {
		c.markets = map[string]domain.Market{}
	}
	c.markets[m.ID] = m
	return true, nil
}

func (c *fakeCache) Get(_ context.Context, id string) (domain.Market, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	c.hits++
	return m, nil
}

func (c *fakeCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.markets, id)
	if c.versions == nil {
		c.versions = map[string]uint64{}
	}
	c.versions[id]++
	c.invalidated = append(c.invalidated, id)
	return nil
}

type fakeAudit struct {
	events []string
}

func (a *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	out := make([]domain.AuditEntry, len(a.events))
	for i, e := range a.events {
		out[i] = domain.AuditEntry{ID: int64(i + 1), Event: e}
	}
	return out, nil
}

type fakeNotifier struct {
	events []domain.EventType
}

func (n *fakeNotifier) NotifyEvent(_ context.Context, ev domain.LedgerEvent) error {
	n.events = append(n.events, ev.Type)
	return nil
}

func newService(t *testing.T) *LedgerService {
	t.Helper()
	engine := ledger.NewEngine(memory.New(), transfer.NewBook(), nil, "", nil)
	ctx := context.Background()
	require.NoError(t, engine.Instantiate(ctx, admin))
	_, err := engine.Deposit(ctx, admin, domain.AccountOf(alice), 1000)
	require.NoError(t, err)
	return NewLedgerService(engine, nil)
}

func createMarket(t *testing.T, s *LedgerService) string {
	t.Helper()
	r, err := s.Execute(context.Background(), alice, domain.CreateMarket{
		Question:     "q?",
		OutcomeNames: []string{"yes", "no"},
		ExpiryTime:   uint64(time.Now().Add(time.Hour).UnixMicro()),
		Category:     domain.CategoryTech,
	})
	require.NoError(t, err)
	return r.MarketID
}

func TestExecuteFansOut(t *testing.T) {
	bus, cache, audit, notes := newFakeBus(), &fakeCache{}, &fakeAudit{}, &fakeNotifier{}
	s := newService(t).WithBus(bus).WithCache(cache).WithAudit(audit).WithNotifier(notes)
	var observed []domain.LedgerEvent
	s.Observe(func(ev domain.LedgerEvent) { observed = append(observed, ev) })
	ctx := context.Background()

	id := createMarket(t, s)
	_, err := s.Execute(ctx, alice, domain.PlaceBet{MarketID: id, OutcomeID: id + "_0", Amount: 10})
	require.NoError(t, err)
	_, err = s.Execute(ctx, admin, domain.ResolveMarket{MarketID: id, WinningOutcomeID: id + "_0"})
	require.NoError(t, err)
	r, err := s.Execute(ctx, alice, domain.ClaimWinnings{MarketID: id})
	require.NoError(t, err)
	assert.Equal(t, uint64(10), r.Payout)

	want := []domain.EventType{
		domain.EventMarketCreated, domain.EventBetPlaced,
		domain.EventMarketResolved, domain.EventWinningsClaimed,
	}
	assert.Equal(t, want, notes.events)
	require.Len(t, observed, 4)
	assert.Equal(t, alice, observed[3].Owner)
	assert.Equal(t, uint64(10), observed[3].Payout)
	assert.Equal(t, id+"_0", observed[2].WinningOutcomeID)

	assert.Len(t, bus.published[domain.ChannelEvents], 4)
	assert.Len(t, bus.journal, 4)
	require.Len(t, bus.published[domain.ChannelMessages], 1)
	msg, err := codec.DecodeMessage(bus.published[domain.ChannelMessages][0])
	require.NoError(t, err)
	assert.Equal(t, domain.MarketResolved{MarketID: id, WinningOutcomeID: id + "_0"}, msg)

	assert.Equal(t, []string{id, id, id, id}, cache.invalidated)
	assert.Equal(t, []string{"market_created", "bet_placed", "market_resolved", "winnings_claimed"}, audit.events)

	events, err := s.Events(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, events, 4)
}

func TestFailedOperationHasNoSideEffects(t *testing.T) {
	bus, notes := newFakeBus(), &fakeNotifier{}
	s := newService(t).WithBus(bus).WithNotifier(notes)

	_, err := s.Execute(context.Background(), alice, domain.PlaceBet{MarketID: "id_9", OutcomeID: "x", Amount: 1})
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)
	assert.Empty(t, notes.events)
	assert.Empty(t, bus.journal)
}

func TestDepositEvent(t *testing.T) {
	notes := &fakeNotifier{}
	s := newService(t).WithNotifier(notes)

	bal, err := s.Deposit(context.Background(), admin, "0xBob", 25)
	require.NoError(t, err)
	assert.Equal(t, uint64(25), bal)
	assert.Equal(t, []domain.EventType{domain.EventDeposit}, notes.events)

	_, err = s.Deposit(context.Background(), alice, "0xbob", 25)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestGetMarketReadsThroughCache(t *testing.T) {
	cache := &fakeCache{}
	s := newService(t).WithCache(cache)
	id := createMarket(t, s)
	ctx := context.Background()

	m, err := s.GetMarket(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "q?", m.Question)
	assert.Zero(t, cache.hits)

	_, err = s.GetMarket(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.hits)

	_, err = s.GetMarket(ctx, "id_77")
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)
}

func TestGetMarketDropsFillRacingAWrite(t *testing.T) {
	cache := &fakeCache{}
	s := newService(t).WithCache(cache)
	id := createMarket(t, s)
	ctx := context.Background()

	// A bet commits after the read saw the empty market but before the read
	// fills the cache.
	cache.beforeFill = func() {
		_, err := s.Execute(ctx, alice, domain.PlaceBet{MarketID: id, OutcomeID: id + "_0", Amount: 10})
		require.NoError(t, err)
	}
	stale, err := s.GetMarket(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, stale.TotalStaked)
	assert.Equal(t, 1, cache.skipped)

	m, err := s.GetMarket(ctx, id)
	require.NoError(t, err)
	assert.EqualValues(t, 10, m.TotalStaked)
	assert.Zero(t, cache.hits)

	m, err = s.GetMarket(ctx, id)
	require.NoError(t, err)
	assert.EqualValues(t, 10, m.TotalStaked)
	assert.Equal(t, 1, cache.hits)
}

type flakyLocks struct {
	busy  int
	calls int
}

func (l *flakyLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	l.calls++
	if l.calls <= l.busy {
		return nil, domain.ErrLockHeld
	}
	return func() {}, nil
}

func TestLockRetry(t *testing.T) {
	locks := &flakyLocks{busy: 2}
	s := newService(t).WithLocks(locks)
	createMarket(t, s)
	assert.Equal(t, 3, locks.calls)
}

func TestLockGivesUpWithContext(t *testing.T) {
	s := newService(t).WithLocks(&flakyLocks{busy: 1 << 30})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := s.Execute(ctx, alice, domain.ClaimWinnings{MarketID: "id_1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocalLocksSerialize(t *testing.T) {
	l := NewLocalLocks()
	ctx := context.Background()
	unlock, err := l.Acquire(ctx, "k", 0)
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(short, "k", 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := l.Acquire(ctx, "other", 0)
	require.NoError(t, err)
	other()

	unlock()
	unlock()
	again, err := l.Acquire(ctx, "k", 0)
	require.NoError(t, err)
	again()
}

func TestConcurrentBetsThroughService(t *testing.T) {
	s := newService(t)
	id := createMarket(t, s)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Execute(context.Background(), alice, domain.PlaceBet{MarketID: id, OutcomeID: id + "_1", Amount: 5})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	m, err := s.GetMarket(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), m.TotalStaked)
}

func TestConsumeMessages(t *testing.T) {
	bus := newFakeBus()
	s := newService(t).WithBus(bus)

	payload, err := codec.EncodeMessage(domain.MarketResolved{MarketID: "id_1", WinningOutcomeID: "id_1_0"})
	require.NoError(t, err)
	bus.sub <- payload
	bus.sub <- []byte("garbage")
	close(bus.sub)

	err = s.ConsumeMessages(context.Background())
	assert.NoError(t, err)
}

func TestConsumeMessagesWithoutBus(t *testing.T) {
	assert.NoError(t, newService(t).ConsumeMessages(context.Background()))
	events, err := newService(t).Events(context.Background(), "", 1)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestLockErrorIsWrapped(t *testing.T) {
	boom := errors.New("redis down")
	s := newService(t).WithLocks(lockFunc(func() error { return boom }))
	_, err := s.Execute(context.Background(), alice, domain.ClaimWinnings{MarketID: "id_1"})
	assert.ErrorIs(t, err, boom)
}

type lockFunc func() error

func (f lockFunc) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, f()
}
