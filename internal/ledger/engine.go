// Package ledger is the market and bet accounting engine: the market
// lifecycle, the dual-indexed bet ledger and pari-mutuel settlement.
//
// Every write runs through Engine.Execute inside a single backend
// transaction, so an operation either commits all of its changes,
// including the value transfers it triggers, or none of them.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/alanyoungcy/cascade/internal/domain"
)

// DefaultEscrow is the account holding staked value until payout.
const DefaultEscrow domain.Account = "escrow"

// Book is the value-transfer collaborator. Implementations operate on the
// transaction they are handed so transfers commit with the ledger state.
type Book interface {
	Transfer(kv domain.KV, from, to domain.Account, amount uint64) error
	Deposit(kv domain.KV, account domain.Account, amount uint64) (uint64, error)
	Balance(kv domain.KV, account domain.Account) (uint64, error)
	Balances(kv domain.KV) (map[domain.Account]uint64, error)
}

// Receipt reports what a committed operation produced.
type Receipt struct {
	Operation domain.OperationType `json:"operation"`
	MarketID  string               `json:"market_id,omitempty"`
	BetID     string               `json:"bet_id,omitempty"`
	OutcomeID string               `json:"outcome_id,omitempty"`
	Amount    uint64               `json:"amount,omitempty"`
	Payout    uint64               `json:"payout,omitempty"`

	// Resolved is the advisory message emitted by ResolveMarket.
	Resolved *domain.MarketResolved `json:"resolved,omitempty"`
}

// Engine executes ledger operations against a backend.
type Engine struct {
	backend domain.Backend
	book    Book
	clock   domain.Clock
	escrow  domain.Account
	logger  *slog.Logger
}

// NewEngine wires an engine. An empty escrow selects DefaultEscrow.
func NewEngine(backend domain.Backend, book Book, clock domain.Clock, escrow domain.Account, logger *slog.Logger) *Engine {
	escrow = domain.AccountOf(domain.NormalizeOwner(string(escrow)))
	if escrow == "" {
		escrow = DefaultEscrow
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		backend: backend,
		book:    book,
		clock:   clock,
		escrow:  escrow,
		logger:  logger,
	}
}

// Clock returns the engine's time source.
func (e *Engine) Clock() domain.Clock { return e.clock }

// Escrow returns the escrow account name.
func (e *Engine) Escrow() domain.Account { return e.escrow }

// Instantiate records the admin and initialises the id counter. Running it
// again with the same admin is a no-op; a different admin is rejected.
func (e *Engine) Instantiate(ctx context.Context, admin domain.Owner) error {
	admin = domain.NormalizeOwner(string(admin))
	if admin == "" {
		return fmt.Errorf("ledger: instantiate: %w: admin is required", domain.ErrInvalidInput)
	}
	if domain.AccountOf(admin) == e.escrow {
		return fmt.Errorf("ledger: instantiate: %w: %s is a reserved account", domain.ErrInvalidInput, admin)
	}
	return e.backend.Update(ctx, func(kv domain.KV) error {
		st := newState(kv)
		current, err := st.Admin()
		switch {
		case err == nil && current == admin:
			return nil
		case err == nil:
			return fmt.Errorf("ledger: instantiate: %w: admin is %s", domain.ErrAlreadyExists, current)
		case !errors.Is(err, domain.ErrNotInstalled):
			return err
		}
		if err := st.setAdmin(admin); err != nil {
			return err
		}
		return st.setCounter(0)
	})
}

// Execute runs one operation on behalf of caller. An empty caller means
// the request carried no authenticated identity.
func (e *Engine) Execute(ctx context.Context, caller domain.Owner, op domain.Operation) (Receipt, error) {
	caller = domain.NormalizeOwner(string(caller))
	if err := e.precheck(caller, op); err != nil {
		return Receipt{}, err
	}

	var receipt Receipt
	err := e.backend.Update(ctx, func(kv domain.KV) error {
		st := newState(kv)
		var err error
		switch v := op.(type) {
		case domain.CreateMarket:
			receipt, err = e.createMarket(st, v)
		case domain.PlaceBet:
			receipt, err = e.placeBet(st, caller, v)
		case domain.ResolveMarket:
			receipt, err = e.resolveMarket(st, caller, v)
		case domain.ClaimWinnings:
			receipt, err = e.claimWinnings(st, caller, v)
		default:
			err = fmt.Errorf("%w: unsupported operation %T", domain.ErrInvalidInput, op)
		}
		return err
	})
	if err != nil {
		return Receipt{}, err
	}

	e.logger.Debug("ledger: operation committed",
		slog.String("operation", string(op.Type())),
		slog.String("caller", string(caller)),
		slog.String("market_id", receipt.MarketID),
		slog.String("bet_id", receipt.BetID),
	)
	return receipt, nil
}

// precheck performs the validations that must fail before any state is
// read. The escrow account cannot act as a caller.
func (e *Engine) precheck(caller domain.Owner, op domain.Operation) error {
	if caller != "" && domain.AccountOf(caller) == e.escrow {
		return fmt.Errorf("%w: %s is a reserved account", domain.ErrUnauthorized, caller)
	}
	switch v := op.(type) {
	case domain.PlaceBet:
		if caller == "" {
			return domain.ErrUnauthorized
		}
		if v.Amount == 0 {
			return domain.ErrInvalidBetAmount
		}
	case domain.ClaimWinnings:
		if caller == "" {
			return domain.ErrUnauthorized
		}
	case domain.ResolveMarket:
		if caller == "" {
			return domain.ErrUnauthorized
		}
	}
	return nil
}

func (e *Engine) createMarket(st *State, op domain.CreateMarket) (Receipt, error) {
	if len(op.OutcomeNames) < 2 {
		return Receipt{}, domain.ErrInvalidOutcomeCount
	}
	if op.ExpiryTime <= e.clock.NowMicros() {
		return Receipt{}, domain.ErrInvalidExpiryTime
	}
	if !op.Category.Valid() {
		return Receipt{}, fmt.Errorf("%w: unknown category %q", domain.ErrInvalidInput, op.Category)
	}

	id, err := st.GenerateID()
	if err != nil {
		return Receipt{}, err
	}
	outcomes := make([]domain.Outcome, len(op.OutcomeNames))
	for i, name := range op.OutcomeNames {
		outcomes[i] = domain.Outcome{ID: id + "_" + strconv.Itoa(i), Name: name}
	}
	m := domain.Market{
		ID:         id,
		Question:   op.Question,
		Outcomes:   outcomes,
		Status:     domain.MarketStatusActive,
		ExpiryTime: op.ExpiryTime,
		ParentID:   op.ParentID,
		Category:   op.Category,
	}
	if err := st.PutMarket(m); err != nil {
		return Receipt{}, err
	}
	return Receipt{Operation: domain.OpCreateMarket, MarketID: id}, nil
}

func (e *Engine) placeBet(st *State, caller domain.Owner, op domain.PlaceBet) (Receipt, error) {
	m, err := st.Market(op.MarketID)
	if err != nil {
		return Receipt{}, err
	}
	if m.Status != domain.MarketStatusActive {
		return Receipt{}, domain.ErrMarketNotActive
	}
	if m.IsExpired(e.clock.NowMicros()) {
		return Receipt{}, domain.ErrMarketExpired
	}
	i := m.OutcomeIndex(op.OutcomeID)
	if i < 0 {
		return Receipt{}, domain.OutcomeNotFound(op.OutcomeID)
	}

	if m.Outcomes[i].TotalStaked > ^uint64(0)-op.Amount || m.TotalStaked > ^uint64(0)-op.Amount {
		return Receipt{}, fmt.Errorf("%w: stake overflows market total", domain.ErrInvalidBetAmount)
	}
	m.Outcomes[i].TotalStaked += op.Amount
	m.TotalStaked += op.Amount

	if err := e.book.Transfer(st.kv, domain.AccountOf(caller), e.escrow, op.Amount); err != nil {
		return Receipt{}, err
	}
	if err := st.PutMarket(m); err != nil {
		return Receipt{}, err
	}

	id, err := st.GenerateID()
	if err != nil {
		return Receipt{}, err
	}
	bet := domain.Bet{
		ID:        id,
		Owner:     caller,
		MarketID:  m.ID,
		OutcomeID: op.OutcomeID,
		Amount:    op.Amount,
	}
	if err := st.AddBet(bet); err != nil {
		return Receipt{}, err
	}
	return Receipt{
		Operation: domain.OpPlaceBet,
		MarketID:  m.ID,
		BetID:     id,
		OutcomeID: op.OutcomeID,
		Amount:    op.Amount,
	}, nil
}

func (e *Engine) resolveMarket(st *State, caller domain.Owner, op domain.ResolveMarket) (Receipt, error) {
	if err := authorizeAdmin(st, caller); err != nil {
		return Receipt{}, err
	}
	m, err := st.Market(op.MarketID)
	if err != nil {
		return Receipt{}, err
	}
	if m.Status != domain.MarketStatusActive {
		return Receipt{}, domain.ErrMarketNotActive
	}
	if m.OutcomeIndex(op.WinningOutcomeID) < 0 {
		return Receipt{}, domain.OutcomeNotFound(op.WinningOutcomeID)
	}

	winner := op.WinningOutcomeID
	m.Status = domain.MarketStatusResolved
	m.WinningOutcomeID = &winner
	if err := st.PutMarket(m); err != nil {
		return Receipt{}, err
	}
	return Receipt{
		Operation: domain.OpResolveMarket,
		MarketID:  m.ID,
		OutcomeID: winner,
		Resolved:  &domain.MarketResolved{MarketID: m.ID, WinningOutcomeID: winner},
	}, nil
}

func (e *Engine) claimWinnings(st *State, caller domain.Owner, op domain.ClaimWinnings) (Receipt, error) {
	m, err := st.Market(op.MarketID)
	if err != nil {
		return Receipt{}, err
	}
	if m.Status != domain.MarketStatusResolved || m.WinningOutcomeID == nil {
		return Receipt{}, domain.ErrMarketNotResolved
	}
	winnerID := *m.WinningOutcomeID

	bets, err := st.OwnerBets(caller)
	if err != nil {
		return Receipt{}, err
	}
	var (
		bet   domain.Bet
		found bool
	)
	for _, b := range bets {
		if b.MarketID == m.ID && b.OutcomeID == winnerID && !b.Claimed {
			bet, found = b, true
			break
		}
	}
	if !found {
		return Receipt{}, domain.ErrBetNotFound
	}
	if bet.Claimed {
		return Receipt{}, domain.ErrAlreadyClaimed
	}

	winner, ok := m.FindOutcome(winnerID)
	if !ok {
		return Receipt{}, domain.OutcomeNotFound(winnerID)
	}
	payout, err := Payout(bet.Amount, m.TotalStaked, winner.TotalStaked)
	if err != nil {
		return Receipt{}, err
	}
	if payout == 0 {
		return Receipt{}, &domain.InsufficientFundsError{Required: 1, Available: 0}
	}

	if err := e.book.Transfer(st.kv, e.escrow, domain.AccountOf(caller), payout); err != nil {
		return Receipt{}, err
	}
	bet.Claimed = true
	if err := st.UpdateBet(bet); err != nil {
		return Receipt{}, err
	}
	return Receipt{
		Operation: domain.OpClaimWinnings,
		MarketID:  m.ID,
		BetID:     bet.ID,
		OutcomeID: winnerID,
		Amount:    bet.Amount,
		Payout:    payout,
	}, nil
}

// authorizeAdmin is the single comparison of caller against the stored
// admin.
func authorizeAdmin(st *State, caller domain.Owner) error {
	if caller == "" {
		return domain.ErrUnauthorized
	}
	admin, err := st.Admin()
	if errors.Is(err, domain.ErrNotInstalled) {
		return domain.ErrUnauthorized
	}
	if err != nil {
		return err
	}
	if admin != caller {
		return domain.ErrUnauthorized
	}
	return nil
}

// HandleMessage processes a message from another ledger instance. Messages
// are advisory and never change local state.
func (e *Engine) HandleMessage(ctx context.Context, msg domain.Message) error {
	switch v := msg.(type) {
	case domain.MarketResolved:
		e.logger.InfoContext(ctx, "ledger: remote market resolved",
			slog.String("market_id", v.MarketID),
			slog.String("winning_outcome_id", v.WinningOutcomeID),
		)
		return nil
	default:
		return fmt.Errorf("%w: unsupported message %T", domain.ErrInvalidInput, msg)
	}
}

// Deposit credits account with newly issued value. Only the admin may
// mint.
func (e *Engine) Deposit(ctx context.Context, caller domain.Owner, account domain.Account, amount uint64) (uint64, error) {
	caller = domain.NormalizeOwner(string(caller))
	account = domain.Account(domain.NormalizeOwner(string(account)))
	if amount == 0 {
		return 0, fmt.Errorf("%w: deposit amount must be greater than 0", domain.ErrInvalidInput)
	}
	if account == "" {
		return 0, fmt.Errorf("%w: account is required", domain.ErrInvalidInput)
	}
	if account == e.escrow {
		return 0, fmt.Errorf("%w: %s is a reserved account", domain.ErrInvalidInput, account)
	}
	var balance uint64
	err := e.backend.Update(ctx, func(kv domain.KV) error {
		if err := authorizeAdmin(newState(kv), caller); err != nil {
			return err
		}
		var err error
		balance, err = e.book.Deposit(kv, account, amount)
		return err
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}
