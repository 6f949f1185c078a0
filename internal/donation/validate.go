package donation

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

const (
	// MaxIntegerDigits bounds the whole part of a donation amount. With 18
	// decimals it keeps the smallest-unit value within a uint256.
	MaxIntegerDigits = 60
	// MaxFractionDigits bounds the fractional part; no supported chain has
	// more decimals.
	MaxFractionDigits = 36
)

var bigTen = big.NewInt(10)

// Intent is a validated donation ready for recipient resolution.
// Recipient is filled in by the dispatcher.
type Intent struct {
	Amount          decimal.Decimal
	Message         string
	SourceMessageID string
	StreamID        string
	Sender          string
	Recipient       string
}

// Validate applies the donation rules to a candidate:
// negative amounts are InvalidAmount, zero is the informational
// ErrNoDonation, positive amounts proceed.
func Validate(c Candidate, sourceMessageID string) (Intent, error) {
	switch c.Amount.Sign() {
	case -1:
		return Intent{}, New(KindInvalidAmount, errors.New("negative amount"))
	case 0:
		return Intent{}, ErrNoDonation
	}
	if err := CheckRange(c.Amount); err != nil {
		return Intent{}, err
	}
	return Intent{
		Amount:          c.Amount,
		Message:         c.Message,
		SourceMessageID: sourceMessageID,
	}, nil
}

// Parse runs Sanitize then Validate.
func Parse(raw, sourceMessageID string) (Intent, error) {
	c, err := Sanitize(raw)
	if err != nil {
		return Intent{}, err
	}
	return Validate(c, sourceMessageID)
}

// CheckRange rejects amounts whose magnitude or precision no chain can carry.
// It inspects the coefficient and exponent only, so values like 1e400000000
// are refused without being expanded.
func CheckRange(amount decimal.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	coef := new(big.Int).Abs(amount.Coefficient())
	exp := int64(amount.Exponent())

	// 1.50 and 1.5 have the same precision.
	q, r := new(big.Int), new(big.Int)
	for exp < 0 {
		q.QuoRem(coef, bigTen, r)
		if r.Sign() != 0 {
			break
		}
		coef, q = q, coef
		exp++
	}

	if exp < -MaxFractionDigits {
		return New(KindAmountPrecision, fmt.Errorf("more than %d fractional digits", MaxFractionDigits))
	}
	if int64(len(coef.Text(10)))+exp > MaxIntegerDigits {
		return New(KindInvalidAmount, fmt.Errorf("more than %d integer digits", MaxIntegerDigits))
	}
	return nil
}
