package ledger

import (
	"errors"

	"github.com/holiman/uint256"
)

var errPayoutOverflow = errors.New("ledger: payout exceeds uint64")

// Payout is the pari-mutuel share of pool owed to a winning stake:
// floor(amount * pool / winnerPool). The product is formed in 256 bits so
// it cannot wrap. A winner pool of zero pays nothing.
func Payout(amount, pool, winnerPool uint64) (uint64, error) {
	if winnerPool == 0 {
		return 0, nil
	}
	var q uint256.Int
	q.Mul(uint256.NewInt(amount), uint256.NewInt(pool))
	q.Div(&q, uint256.NewInt(winnerPool))
	if !q.IsUint64() {
		return 0, errPayoutOverflow
	}
	return q.Uint64(), nil
}

// EstimatePayout is what a new stake of amount on an outcome holding
// outcomePool would pay if that outcome won, given the market pool before
// the stake: floor(amount * (pool+amount) / (outcomePool+amount)).
func EstimatePayout(amount, pool, outcomePool uint64) (uint64, error) {
	if amount == 0 {
		return 0, nil
	}
	a := uint256.NewInt(amount)
	var num, den uint256.Int
	num.Add(uint256.NewInt(pool), a)
	num.Mul(&num, a)
	den.Add(uint256.NewInt(outcomePool), a)
	num.Div(&num, &den)
	if !num.IsUint64() {
		return 0, errPayoutOverflow
	}
	return num.Uint64(), nil
}
