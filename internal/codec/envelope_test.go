package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cascade/internal/domain"
)

func TestDecodeOperation(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want domain.Operation
	}{
		{
			name: "create",
			in:   `{"type":"create_market","question":"q?","outcomes":["Yes","No"],"expiry_time":99,"category":"tech","parent_id":"id_1"}`,
			want: domain.CreateMarket{Question: "q?", OutcomeNames: []string{"Yes", "No"}, ExpiryTime: 99, Category: domain.CategoryTech, ParentID: strptr("id_1")},
		},
		{
			name: "place bet",
			in:   `{"type":"place_bet","market_id":"id_1","outcome_id":"id_1_0","amount":5}`,
			want: domain.PlaceBet{MarketID: "id_1", OutcomeID: "id_1_0", Amount: 5},
		},
		{
			name: "resolve",
			in:   `{"type":"resolve_market","market_id":"id_1","winning_outcome_id":"id_1_1"}`,
			want: domain.ResolveMarket{MarketID: "id_1", WinningOutcomeID: "id_1_1"},
		},
		{
			name: "claim",
			in:   `{"type":"claim_winnings","market_id":"id_4"}`,
			want: domain.ClaimWinnings{MarketID: "id_4"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeOperation([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			out, err := EncodeOperation(got)
			require.NoError(t, err)
			assert.JSONEq(t, tt.in, string(out))
		})
	}
}

func TestDecodeOperationRejectsUnknownType(t *testing.T) {
	_, err := DecodeOperation([]byte(`{"type":"withdraw_all"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = DecodeOperation([]byte(`not json`))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = DecodeOperation([]byte(`{"type":"place_bet","amount":"lots"}`))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestMessageRoundTrip(t *testing.T) {
	msg := domain.MarketResolved{MarketID: "id_1", WinningOutcomeID: "id_1_0"}
	b, err := EncodeMessage(msg)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"type":"market_resolved"`)

	got, err := DecodeMessage(b)
	require.NoError(t, err)
	assert.Equal(t, msg, got)

	_, err = DecodeMessage([]byte(`{"type":"nope"}`))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
