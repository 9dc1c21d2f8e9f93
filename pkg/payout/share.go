// Package payout turns accepted shares into payout records and periodically
// disburses the unpaid ones in a single batched send.
package payout

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/NicolasHaas/poolproxy/pkg/model"
)

var (
	ErrNoTarget          = errors.New("payout: no share target set")
	ErrNoAddress         = errors.New("payout: no payout address set")
	ErrInvalidTarget     = errors.New("payout: share target must be positive")
	ErrInvalidDifficulty = errors.New("payout: network difficulty must be positive")
)

// ShareParams fixes the coin-specific constants of the share value formula.
type ShareParams struct {
	BlockReward decimal.Decimal // coins paid per block to the pool
	Diff1Target *big.Int        // target corresponding to difficulty 1
}

var amountScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(model.AmountDecimals), nil)

// ShareValue is the expected block reward a single share represents:
//
//	reward * (diff1Target / target) / difficulty
//
// The share's own difficulty is diff1Target/target, so the value shrinks as
// the target grows. Everything is exact rational arithmetic; the result is
// floored to model.AmountDecimals digits as the only rounding step.
func ShareValue(difficulty *big.Rat, target *big.Int, p ShareParams) (decimal.Decimal, error) {
	if target == nil {
		return decimal.Zero, ErrNoTarget
	}
	if target.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidTarget, target)
	}
	if difficulty == nil || difficulty.Sign() <= 0 {
		return decimal.Zero, ErrInvalidDifficulty
	}
	if p.Diff1Target == nil || p.Diff1Target.Sign() <= 0 || p.BlockReward.IsNegative() {
		return decimal.Zero, fmt.Errorf("payout: invalid share params")
	}

	v := new(big.Rat).Mul(p.BlockReward.Rat(), new(big.Rat).SetInt(p.Diff1Target))
	v.Quo(v, new(big.Rat).SetInt(target))
	v.Quo(v, difficulty)
	v.Mul(v, new(big.Rat).SetInt(amountScale))

	// v >= 0, so truncating division is a floor.
	units := new(big.Int).Quo(v.Num(), v.Denom())
	return decimal.NewFromBigInt(units, -model.AmountDecimals), nil
}
