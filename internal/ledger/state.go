package ledger

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/alanyoungcy/cascade/internal/codec"
	"github.com/alanyoungcy/cascade/internal/domain"
)

// State is the typed view of the ledger keys inside one transaction.
type State struct {
	kv domain.KV
}

func newState(kv domain.KV) *State {
	return &State{kv: kv}
}

// Admin returns the identity set at instantiation.
func (s *State) Admin() (domain.Owner, error) {
	raw, err := s.kv.Get(domain.KeyAdmin)
	if errors.Is(err, domain.ErrNotFound) {
		return "", domain.ErrNotInstalled
	}
	if err != nil {
		return "", fmt.Errorf("ledger: read admin: %w", err)
	}
	return domain.Owner(raw), nil
}

func (s *State) setAdmin(admin domain.Owner) error {
	if err := s.kv.Set(domain.KeyAdmin, []byte(admin)); err != nil {
		return fmt.Errorf("ledger: write admin: %w", err)
	}
	return nil
}

// Counter returns the last identifier issued, zero if none.
func (s *State) Counter() (uint64, error) {
	raw, err := s.kv.Get(domain.KeyIDCounter)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger: read id counter: %w", err)
	}
	n, err := codec.DecodeUint64(raw)
	if err != nil {
		return 0, fmt.Errorf("ledger: read id counter: %w", err)
	}
	return n, nil
}

func (s *State) setCounter(n uint64) error {
	if err := s.kv.Set(domain.KeyIDCounter, codec.EncodeUint64(n)); err != nil {
		return fmt.Errorf("ledger: write id counter: %w", err)
	}
	return nil
}

// GenerateID advances the shared counter and returns "id_<n>". Markets and
// bets draw from the same sequence.
func (s *State) GenerateID() (string, error) {
	n, err := s.Counter()
	if err != nil {
		return "", err
	}
	n++
	if err := s.setCounter(n); err != nil {
		return "", err
	}
	return "id_" + strconv.FormatUint(n, 10), nil
}

// Market loads a market by id.
func (s *State) Market(id string) (domain.Market, error) {
	raw, err := s.kv.Get(domain.PrefixMarket + id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Market{}, domain.MarketNotFound(id)
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("ledger: read market %s: %w", id, err)
	}
	return codec.DecodeMarket(raw)
}

// PutMarket stores m under its id.
func (s *State) PutMarket(m domain.Market) error {
	if err := s.kv.Set(domain.PrefixMarket+m.ID, codec.EncodeMarket(m)); err != nil {
		return fmt.Errorf("ledger: write market %s: %w", m.ID, err)
	}
	return nil
}

// Markets returns every market ordered by creation.
func (s *State) Markets() ([]domain.Market, error) {
	var markets []domain.Market
	err := s.kv.Scan(domain.PrefixMarket, func(_ string, value []byte) error {
		m, err := codec.DecodeMarket(value)
		if err != nil {
			return err
		}
		markets = append(markets, m)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: list markets: %w", err)
	}
	sort.SliceStable(markets, func(i, j int) bool {
		return idLess(markets[i].ID, markets[j].ID)
	})
	return markets, nil
}

// OwnerBets returns the owner's bets in placement order.
func (s *State) OwnerBets(owner domain.Owner) ([]domain.Bet, error) {
	return s.betList(domain.PrefixOwnerBets + string(owner))
}

// MarketBets returns the market's bets in placement order.
func (s *State) MarketBets(marketID string) ([]domain.Bet, error) {
	return s.betList(domain.PrefixMarketBets + marketID)
}

func (s *State) betList(key string) ([]domain.Bet, error) {
	raw, err := s.kv.Get(key)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: read %s: %w", key, err)
	}
	return codec.DecodeBetList(raw)
}

func (s *State) putBetList(key string, bets []domain.Bet) error {
	if err := s.kv.Set(key, codec.EncodeBetList(bets)); err != nil {
		return fmt.Errorf("ledger: write %s: %w", key, err)
	}
	return nil
}

// AddBet appends a new bet to both indices.
func (s *State) AddBet(bet domain.Bet) error {
	return s.applyBet(bet, true)
}

// UpdateBet replaces a stored bet in both indices.
func (s *State) UpdateBet(bet domain.Bet) error {
	return s.applyBet(bet, false)
}

// applyBet is the only writer of the by-owner and by-market lists, so the
// two copies of a bet never diverge.
func (s *State) applyBet(bet domain.Bet, insert bool) error {
	keys := []string{
		domain.PrefixOwnerBets + string(bet.Owner),
		domain.PrefixMarketBets + bet.MarketID,
	}
	for _, key := range keys {
		bets, err := s.betList(key)
		if err != nil {
			return err
		}
		if insert {
			bets = append(bets, bet)
		} else {
			i := indexOfBet(bets, bet.ID)
			if i < 0 {
				return fmt.Errorf("ledger: bet %s missing from %s", bet.ID, key)
			}
			bets[i] = bet
		}
		if err := s.putBetList(key, bets); err != nil {
			return err
		}
	}
	return nil
}

func indexOfBet(bets []domain.Bet, id string) int {
	for i := range bets {
		if bets[i].ID == id {
			return i
		}
	}
	return -1
}

// idLess orders "id_<n>" identifiers numerically, falling back to string
// order for anything else.
func idLess(a, b string) bool {
	na, okA := idNumber(a)
	nb, okB := idNumber(b)
	if okA && okB {
		return na < nb
	}
	return a < b
}

func idNumber(id string) (uint64, bool) {
	rest, ok := strings.CutPrefix(id, "id_")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(rest, 10, 64)
	return n, err == nil
}
