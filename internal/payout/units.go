package payout

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/strmly/strmly/internal/donation"
)

// NativeDecimals is the number of fractional digits of the native currency.
const NativeDecimals int32 = 18

// maxUintBits is the width of an EVM uint256.
const maxUintBits = 256

// ToSmallestUnit converts a whole-unit amount to the chain's smallest unit.
// Amounts with more fractional digits than decimals are rejected, never rounded.
func ToSmallestUnit(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	if amount.Sign() < 0 {
		return nil, donation.New(donation.KindInvalidAmount, errors.New("negative amount"))
	}
	if err := donation.CheckRange(amount); err != nil {
		return nil, err
	}
	shifted := amount.Shift(decimals)
	if !shifted.IsInteger() {
		return nil, donation.New(donation.KindAmountPrecision,
			fmt.Errorf("%s has more than %d fractional digits", amount, decimals))
	}
	v := shifted.BigInt()
	if v.BitLen() > maxUintBits {
		return nil, donation.New(donation.KindInvalidAmount, fmt.Errorf("%s does not fit in uint256", amount))
	}
	return v, nil
}

// FromSmallestUnit converts a smallest-unit quantity back to whole units.
func FromSmallestUnit(v *big.Int, decimals int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -decimals)
}
