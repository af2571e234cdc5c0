package codec

import (
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/cascade/internal/domain"
)

// MessageTypeMarketResolved tags a MarketResolved message on the wire.
const MessageTypeMarketResolved = "market_resolved"

type typeTag struct {
	Type string `json:"type"`
}

// EncodeOperation renders op as a flat JSON object with a "type" tag, e.g.
// {"type":"place_bet","market_id":"id_1","outcome_id":"id_1_0","amount":5}.
func EncodeOperation(op domain.Operation) ([]byte, error) {
	switch v := op.(type) {
	case domain.CreateMarket:
		return json.Marshal(struct {
			Type domain.OperationType `json:"type"`
			domain.CreateMarket
		}{v.Type(), v})
	case domain.PlaceBet:
		return json.Marshal(struct {
			Type domain.OperationType `json:"type"`
			domain.PlaceBet
		}{v.Type(), v})
	case domain.ResolveMarket:
		return json.Marshal(struct {
			Type domain.OperationType `json:"type"`
			domain.ResolveMarket
		}{v.Type(), v})
	case domain.ClaimWinnings:
		return json.Marshal(struct {
			Type domain.OperationType `json:"type"`
			domain.ClaimWinnings
		}{v.Type(), v})
	default:
		return nil, fmt.Errorf("codec: encode operation: unsupported type %T", op)
	}
}

// DecodeOperation parses the output of EncodeOperation. Unknown type tags
// are rejected with domain.ErrInvalidInput.
func DecodeOperation(data []byte) (domain.Operation, error) {
	var tag typeTag
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("codec: decode operation: %w: %v", domain.ErrInvalidInput, err)
	}

	var (
		op  domain.Operation
		err error
	)
	switch domain.OperationType(tag.Type) {
	case domain.OpCreateMarket:
		var v domain.CreateMarket
		err = json.Unmarshal(data, &v)
		op = v
	case domain.OpPlaceBet:
		var v domain.PlaceBet
		err = json.Unmarshal(data, &v)
		op = v
	case domain.OpResolveMarket:
		var v domain.ResolveMarket
		err = json.Unmarshal(data, &v)
		op = v
	case domain.OpClaimWinnings:
		var v domain.ClaimWinnings
		err = json.Unmarshal(data, &v)
		op = v
	default:
		return nil, fmt.Errorf("codec: decode operation: %w: unknown type %q", domain.ErrInvalidInput, tag.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("codec: decode operation %s: %w: %v", tag.Type, domain.ErrInvalidInput, err)
	}
	return op, nil
}

// EncodeMessage renders a cross-instance message with a "type" tag.
func EncodeMessage(msg domain.Message) ([]byte, error) {
	switch v := msg.(type) {
	case domain.MarketResolved:
		return json.Marshal(struct {
			Type string `json:"type"`
			domain.MarketResolved
		}{MessageTypeMarketResolved, v})
	default:
		return nil, fmt.Errorf("codec: encode message: unsupported type %T", msg)
	}
}

// DecodeMessage parses the output of EncodeMessage.
func DecodeMessage(data []byte) (domain.Message, error) {
	var tag typeTag
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("codec: decode message: %w: %v", domain.ErrInvalidInput, err)
	}
	switch tag.Type {
	case MessageTypeMarketResolved:
		var v domain.MarketResolved
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("codec: decode message: %w: %v", domain.ErrInvalidInput, err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("codec: decode message: %w: unknown type %q", domain.ErrInvalidInput, tag.Type)
	}
}
