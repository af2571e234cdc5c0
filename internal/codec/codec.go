// Package codec encodes ledger values for the key-value store.
//
// Markets and bets are written as protobuf wire-format messages built by
// hand with protowire, so the layout is stable without generated code.
// Unknown fields are skipped on decode.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/alanyoungcy/cascade/internal/domain"
)

// ErrCorrupt is returned when stored bytes cannot be decoded.
var ErrCorrupt = errors.New("codec: corrupt value")

// Market field numbers.
const (
	marketID       protowire.Number = 1
	marketQuestion protowire.Number = 2
	marketOutcome  protowire.Number = 3
	marketTotal    protowire.Number = 4
	marketStatus   protowire.Number = 5
	marketExpiry   protowire.Number = 6
	marketWinner   protowire.Number = 7
	marketParent   protowire.Number = 8
	marketCategory protowire.Number = 9
)

// Outcome field numbers.
const (
	outcomeID    protowire.Number = 1
	outcomeName  protowire.Number = 2
	outcomeTotal protowire.Number = 3
)

// Bet field numbers.
const (
	betID      protowire.Number = 1
	betOwner   protowire.Number = 2
	betMarket  protowire.Number = 3
	betOutcome protowire.Number = 4
	betAmount  protowire.Number = 5
	betClaimed protowire.Number = 6
)

const betListEntry protowire.Number = 1

var statuses = []domain.MarketStatus{
	domain.MarketStatusActive,
	domain.MarketStatusResolved,
	domain.MarketStatusExpired,
}

func statusOrdinal(s domain.MarketStatus) uint64 {
	for i, v := range statuses {
		if v == s {
			return uint64(i)
		}
	}
	return 0
}

func categoryOrdinal(c domain.MarketCategory) uint64 {
	for i, v := range domain.Categories {
		if v == c {
			return uint64(i)
		}
	}
	return uint64(len(domain.Categories) - 1)
}

// EncodeMarket serialises a market.
func EncodeMarket(m domain.Market) []byte {
	var b []byte
	b = appendString(b, marketID, m.ID)
	b = appendString(b, marketQuestion, m.Question)
	for _, o := range m.Outcomes {
		b = protowire.AppendTag(b, marketOutcome, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeOutcome(o))
	}
	b = appendVarint(b, marketTotal, m.TotalStaked)
	b = appendVarint(b, marketStatus, statusOrdinal(m.Status))
	b = appendVarint(b, marketExpiry, m.ExpiryTime)
	if m.WinningOutcomeID != nil {
		b = appendString(b, marketWinner, *m.WinningOutcomeID)
	}
	if m.ParentID != nil {
		b = appendString(b, marketParent, *m.ParentID)
	}
	b = appendVarint(b, marketCategory, categoryOrdinal(m.Category))
	return b
}

func encodeOutcome(o domain.Outcome) []byte {
	var b []byte
	b = appendString(b, outcomeID, o.ID)
	b = appendString(b, outcomeName, o.Name)
	b = appendVarint(b, outcomeTotal, o.TotalStaked)
	return b
}

// DecodeMarket parses bytes produced by EncodeMarket.
func DecodeMarket(b []byte) (domain.Market, error) {
	m := domain.Market{Status: domain.MarketStatusActive, Category: domain.CategoryCrypto}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == marketID && typ == protowire.BytesType:
			return consumeString(b, &m.ID)
		case num == marketQuestion && typ == protowire.BytesType:
			return consumeString(b, &m.Question)
		case num == marketOutcome && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			o, err := decodeOutcome(v)
			if err != nil {
				return 0, err
			}
			m.Outcomes = append(m.Outcomes, o)
			return n, nil
		case num == marketTotal && typ == protowire.VarintType:
			return consumeVarint(b, &m.TotalStaked)
		case num == marketStatus && typ == protowire.VarintType:
			var v uint64
			n, err := consumeVarint(b, &v)
			if n >= 0 {
				if v >= uint64(len(statuses)) {
					return 0, fmt.Errorf("%w: status ordinal %d", ErrCorrupt, v)
				}
				m.Status = statuses[v]
			}
			return n, err
		case num == marketExpiry && typ == protowire.VarintType:
			return consumeVarint(b, &m.ExpiryTime)
		case num == marketWinner && typ == protowire.BytesType:
			var s string
			n, err := consumeString(b, &s)
			m.WinningOutcomeID = &s
			return n, err
		case num == marketParent && typ == protowire.BytesType:
			var s string
			n, err := consumeString(b, &s)
			m.ParentID = &s
			return n, err
		case num == marketCategory && typ == protowire.VarintType:
			var v uint64
			n, err := consumeVarint(b, &v)
			if n >= 0 {
				if v >= uint64(len(domain.Categories)) {
					return 0, fmt.Errorf("%w: category ordinal %d", ErrCorrupt, v)
				}
				m.Category = domain.Categories[v]
			}
			return n, err
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("codec: decode market: %w", err)
	}
	return m, nil
}

func decodeOutcome(b []byte) (domain.Outcome, error) {
	var o domain.Outcome
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == outcomeID && typ == protowire.BytesType:
			return consumeString(b, &o.ID)
		case num == outcomeName && typ == protowire.BytesType:
			return consumeString(b, &o.Name)
		case num == outcomeTotal && typ == protowire.VarintType:
			return consumeVarint(b, &o.TotalStaked)
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return o, err
}

// EncodeBet serialises a single bet.
func EncodeBet(bet domain.Bet) []byte {
	var b []byte
	b = appendString(b, betID, bet.ID)
	b = appendString(b, betOwner, string(bet.Owner))
	b = appendString(b, betMarket, bet.MarketID)
	b = appendString(b, betOutcome, bet.OutcomeID)
	b = appendVarint(b, betAmount, bet.Amount)
	b = appendVarint(b, betClaimed, protowire.EncodeBool(bet.Claimed))
	return b
}

// DecodeBet parses bytes produced by EncodeBet.
func DecodeBet(b []byte) (domain.Bet, error) {
	var bet domain.Bet
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == betID && typ == protowire.BytesType:
			return consumeString(b, &bet.ID)
		case num == betOwner && typ == protowire.BytesType:
			var s string
			n, err := consumeString(b, &s)
			bet.Owner = domain.Owner(s)
			return n, err
		case num == betMarket && typ == protowire.BytesType:
			return consumeString(b, &bet.MarketID)
		case num == betOutcome && typ == protowire.BytesType:
			return consumeString(b, &bet.OutcomeID)
		case num == betAmount && typ == protowire.VarintType:
			return consumeVarint(b, &bet.Amount)
		case num == betClaimed && typ == protowire.VarintType:
			var v uint64
			n, err := consumeVarint(b, &v)
			bet.Claimed = protowire.DecodeBool(v)
			return n, err
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return domain.Bet{}, fmt.Errorf("codec: decode bet: %w", err)
	}
	return bet, nil
}

// EncodeBetList serialises an ordered list of bets.
func EncodeBetList(bets []domain.Bet) []byte {
	var b []byte
	for _, bet := range bets {
		b = protowire.AppendTag(b, betListEntry, protowire.BytesType)
		b = protowire.AppendBytes(b, EncodeBet(bet))
	}
	return b
}

// DecodeBetList parses bytes produced by EncodeBetList. An empty input is
// an empty list.
func DecodeBetList(b []byte) ([]domain.Bet, error) {
	var bets []domain.Bet
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != betListEntry || typ != protowire.BytesType {
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}
		bet, err := DecodeBet(v)
		if err != nil {
			return 0, err
		}
		bets = append(bets, bet)
		return n, nil
	})
	if err != nil {
		return nil, fmt.Errorf("codec: decode bet list: %w", err)
	}
	return bets, nil
}

// EncodeUint64 stores counters and balances as 8 big-endian bytes.
func EncodeUint64(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

// DecodeUint64 is the inverse of EncodeUint64.
func DecodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("%w: want 8 bytes, got %d", ErrCorrupt, len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// walk iterates the fields of a message. fn consumes the field value and
// returns the number of bytes used, or a negative protowire error code.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
		}
		b = b[n:]
		n, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func consumeString(b []byte, dst *string) (int, error) {
	v, n := protowire.ConsumeString(b)
	if n >= 0 {
		*dst = v
	}
	return n, nil
}

func consumeVarint(b []byte, dst *uint64) (int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n >= 0 {
		*dst = v
	}
	return n, nil
}
