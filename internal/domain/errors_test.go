package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{ErrInvalidBetAmount, KindValidation},
		{fmt.Errorf("wrapped: %w", ErrInvalidOutcomeCount), KindValidation},
		{MarketNotFound("id_1"), KindNotFound},
		{OutcomeNotFound("id_1_4"), KindNotFound},
		{ErrBetNotFound, KindNotFound},
		{ErrMarketExpired, KindConflict},
		{ErrAlreadyClaimed, KindConflict},
		{ErrUnauthorized, KindUnauthorized},
		{&InsufficientFundsError{Required: 1}, KindFunds},
		{fmt.Errorf("book: %w", ErrInsufficientBalance), KindFunds},
		{errors.New("disk on fire"), KindInfrastructure},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.err), tt.err.Error())
	}
}

func TestNotFoundMessages(t *testing.T) {
	assert.Equal(t, "market not found: id_3", MarketNotFound("id_3").Error())
	assert.ErrorIs(t, OutcomeNotFound("x"), ErrOutcomeNotFound)
}
