package solana

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ParseAmount parses a human-scaled token amount such as "10" or "2.5".
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return d, nil
}

// ToRawAmount converts a human-scaled amount to the mint's integer base units.
// Amounts with more fractional digits than the mint declares are rejected, never rounded.
func ToRawAmount(amount decimal.Decimal, decimals uint8) (uint64, error) {
	if !amount.IsPositive() {
		return 0, fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, amount)
	}

	shifted := amount.Shift(int32(decimals))
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, amount, decimals)
	}

	raw := shifted.BigInt()
	if !raw.IsUint64() {
		return 0, fmt.Errorf("%w: %s overflows u64", ErrInvalidAmount, amount)
	}
	return raw.Uint64(), nil
}

// FromRawAmount converts integer base units to the human-scaled amount.
func FromRawAmount(raw uint64, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(raw), -int32(decimals))
}
