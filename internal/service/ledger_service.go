// Package service coordinates ledger writes with the infrastructure around
// them: the write lock, the read cache, the event bus, the audit log and
// operator notifications.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/cascade/internal/codec"
	"github.com/alanyoungcy/cascade/internal/domain"
	"github.com/alanyoungcy/cascade/internal/ledger"
)

// LockKey guards every ledger write.
const LockKey = "ledger"

const (
	lockTTL        = 30 * time.Second
	lockRetryMin   = 10 * time.Millisecond
	lockRetryMax   = 250 * time.Millisecond
	publishTimeout = 5 * time.Second
)

// Notifier is the outbound notification hook.
type Notifier interface {
	NotifyEvent(ctx context.Context, ev domain.LedgerEvent) error
}

// LedgerService executes operations under the ledger lock and fans out
// what they committed. Every collaborator except the engine is optional.
type LedgerService struct {
	engine   *ledger.Engine
	locks    domain.LockManager
	cache    domain.MarketCache
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier Notifier
	logger   *slog.Logger

	mu        sync.RWMutex
	observers []func(domain.LedgerEvent)
}

// NewLedgerService wraps engine with an in-process lock.
func NewLedgerService(engine *ledger.Engine, logger *slog.Logger) *LedgerService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerService{
		engine: engine,
		locks:  NewLocalLocks(),
		logger: logger.With(slog.String("component", "ledger_service")),
	}
}

// WithLocks replaces the in-process lock, e.g. with a Redis lock shared by
// several instances.
func (s *LedgerService) WithLocks(l domain.LockManager) *LedgerService {
	s.locks = l
	return s
}

// WithCache attaches a market read cache.
func (s *LedgerService) WithCache(c domain.MarketCache) *LedgerService {
	s.cache = c
	return s
}

// WithBus attaches the event bus.
func (s *LedgerService) WithBus(b domain.SignalBus) *LedgerService {
	s.bus = b
	return s
}

// WithAudit attaches the audit log.
func (s *LedgerService) WithAudit(a domain.AuditStore) *LedgerService {
	s.audit = a
	return s
}

// WithNotifier attaches operator notifications.
func (s *LedgerService) WithNotifier(n Notifier) *LedgerService {
	s.notifier = n
	return s
}

// Observe registers fn to receive every event committed by this instance.
func (s *LedgerService) Observe(fn func(domain.LedgerEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Engine returns the underlying engine for read queries.
func (s *LedgerService) Engine() *ledger.Engine {
	return s.engine
}

// HasBus reports whether an event bus is attached.
func (s *LedgerService) HasBus() bool {
	return s.bus != nil
}

// Execute runs op for caller under the ledger lock.
func (s *LedgerService) Execute(ctx context.Context, caller domain.Owner, op domain.Operation) (ledger.Receipt, error) {
	var receipt ledger.Receipt
	err := s.withLock(ctx, func() error {
		var err error
		receipt, err = s.engine.Execute(ctx, caller, op)
		return err
	})
	if err != nil {
		return ledger.Receipt{}, err
	}

	ev := eventFor(domain.NormalizeOwner(string(caller)), op, receipt, time.Now().UTC())
	s.afterCommit(ctx, ev, receipt.MarketID)
	if receipt.Resolved != nil {
		s.publishMessage(ctx, *receipt.Resolved)
	}
	return receipt, nil
}

// Deposit credits account under the ledger lock.
func (s *LedgerService) Deposit(ctx context.Context, caller domain.Owner, account domain.Account, amount uint64) (uint64, error) {
	var balance uint64
	err := s.withLock(ctx, func() error {
		var err error
		balance, err = s.engine.Deposit(ctx, caller, account, amount)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.afterCommit(ctx, domain.LedgerEvent{
		Type:   domain.EventDeposit,
		Owner:  domain.NormalizeOwner(string(account)),
		Amount: amount,
		At:     time.Now().UTC(),
	}, "")
	return balance, nil
}

// GetMarket reads through the cache when one is attached.
func (s *LedgerService) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	if s.cache == nil {
		return s.engine.GetMarket(ctx, id)
	}
	if m, err := s.cache.Get(ctx, id); err == nil {
		return m, nil
	}

	// The version must be read before the backend.
	version, verr := s.cache.Version(ctx, id)
	m, err := s.engine.GetMarket(ctx, id)
	if err != nil {
		return domain.Market{}, err
	}
	if verr != nil {
		s.warn(ctx, "cache version", verr)
		return m, nil
	}
	stored, err := s.cache.SetIfVersion(ctx, m, version)
	if err != nil {
		s.warn(ctx, "cache set", err)
	} else if !stored {
		s.logger.DebugContext(ctx, "ledger_service: cache fill skipped after concurrent write",
			slog.String("market_id", id),
		)
	}
	return m, nil
}

// Events returns journal entries after lastID. Without a bus the journal
// is empty.
func (s *LedgerService) Events(ctx context.Context, lastID string, count int) ([]domain.StreamMessage, error) {
	if s.bus == nil {
		return nil, nil
	}
	msgs, err := s.bus.StreamRead(ctx, domain.StreamEvents, lastID, count)
	if err != nil {
		return nil, fmt.Errorf("ledger_service: read journal: %w", err)
	}
	return msgs, nil
}

// History lists audit entries newest first. Without an audit store it is
// empty.
func (s *LedgerService) History(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	if s.audit == nil {
		return nil, nil
	}
	return s.audit.List(ctx, opts)
}

// ConsumeMessages routes inter-ledger messages from the bus to the engine
// until ctx ends. It returns immediately when no bus is attached.
func (s *LedgerService) ConsumeMessages(ctx context.Context) error {
	if s.bus == nil {
		return nil
	}
	ch, err := s.bus.Subscribe(ctx, domain.ChannelMessages)
	if err != nil {
		return fmt.Errorf("ledger_service: subscribe messages: %w", err)
	}
	s.logger.InfoContext(ctx, "ledger_service: consuming messages")
	for payload := range ch {
		msg, err := codec.DecodeMessage(payload)
		if err != nil {
			s.logger.WarnContext(ctx, "ledger_service: bad message",
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := s.engine.HandleMessage(ctx, msg); err != nil {
			s.logger.WarnContext(ctx, "ledger_service: handle message failed",
				slog.String("error", err.Error()),
			)
		}
	}
	return ctx.Err()
}

// withLock runs fn while holding the ledger lock. A lock reported as held
// is retried with backoff until ctx ends.
func (s *LedgerService) withLock(ctx context.Context, fn func() error) error {
	delay := lockRetryMin
	for {
		unlock, err := s.locks.Acquire(ctx, LockKey, lockTTL)
		if err == nil {
			defer unlock()
			return fn()
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return fmt.Errorf("ledger_service: acquire lock: %w", err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("ledger_service: acquire lock: %w", ctx.Err())
		case <-time.After(delay):
		}
		if delay *= 2; delay > lockRetryMax {
			delay = lockRetryMax
		}
	}
}

// afterCommit performs the best-effort side effects of a committed write.
// Failures are logged; the write itself already succeeded.
func (s *LedgerService) afterCommit(ctx context.Context, ev domain.LedgerEvent, marketID string) {
	// Side effects outlive a cancelled request.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if s.cache != nil && marketID != "" {
		if err := s.cache.Invalidate(ctx, marketID); err != nil {
			s.warn(ctx, "cache invalidate", err)
		}
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		s.warn(ctx, "marshal event", err)
		return
	}
	if s.bus != nil {
		if err := s.bus.Publish(ctx, domain.ChannelEvents, payload); err != nil {
			s.warn(ctx, "publish event", err)
		}
		if err := s.bus.StreamAppend(ctx, domain.StreamEvents, payload); err != nil {
			s.warn(ctx, "journal event", err)
		}
	}
	if s.audit != nil {
		var detail map[string]any
		if err := json.Unmarshal(payload, &detail); err == nil {
			if err := s.audit.Log(ctx, string(ev.Type), detail); err != nil {
				s.warn(ctx, "audit", err)
			}
		}
	}
	if s.notifier != nil {
		if err := s.notifier.NotifyEvent(ctx, ev); err != nil {
			s.warn(ctx, "notify", err)
		}
	}

	s.mu.RLock()
	observers := s.observers
	s.mu.RUnlock()
	for _, fn := range observers {
		fn(ev)
	}
}

func (s *LedgerService) publishMessage(ctx context.Context, msg domain.Message) {
	if s.bus == nil {
		return
	}
	payload, err := codec.EncodeMessage(msg)
	if err != nil {
		s.warn(ctx, "encode message", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.bus.Publish(ctx, domain.ChannelMessages, payload); err != nil {
		s.warn(ctx, "publish message", err)
	}
}

func (s *LedgerService) warn(ctx context.Context, step string, err error) {
	s.logger.WarnContext(ctx, "ledger_service: "+step+" failed",
		slog.String("error", err.Error()),
	)
}

// eventFor describes a committed operation.
func eventFor(caller domain.Owner, op domain.Operation, r ledger.Receipt, at time.Time) domain.LedgerEvent {
	ev := domain.LedgerEvent{
		MarketID: r.MarketID,
		BetID:    r.BetID,
		Owner:    caller,
		At:       at,
	}
	switch v := op.(type) {
	case domain.CreateMarket:
		ev.Type = domain.EventMarketCreated
		ev.Question = v.Question
	case domain.PlaceBet:
		ev.Type = domain.EventBetPlaced
		ev.OutcomeID = r.OutcomeID
		ev.Amount = r.Amount
	case domain.ResolveMarket:
		ev.Type = domain.EventMarketResolved
		ev.WinningOutcomeID = r.OutcomeID
	case domain.ClaimWinnings:
		ev.Type = domain.EventWinningsClaimed
		ev.OutcomeID = r.OutcomeID
		ev.Amount = r.Amount
		ev.Payout = r.Payout
	}
	return ev
}
