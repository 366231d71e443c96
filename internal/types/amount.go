package types

import (
	"fmt"
	"math/big"
	"regexp"

	"github.com/shopspring/decimal"
)

// ShareDecimals is the fixed decimal precision of vault shares (ERC-4626)
const ShareDecimals = 18

var rawAmountRegex = regexp.MustCompile(`^\d+$`)

// ValidateRawAmount checks that a string is a base-10 unsigned integer,
// the only representation raw on-chain quantities are allowed to take.
func ValidateRawAmount(amount string) error {
	if !rawAmountRegex.MatchString(amount) {
		return &ServiceError{
			Code:    "INVALID_AMOUNT",
			Message: fmt.Sprintf("invalid raw amount %q: must be a base-10 unsigned integer string", amount),
			Details: map[string]interface{}{"amount": amount},
		}
	}
	return nil
}

// FormatUnits converts a raw integer quantity into a human-unit decimal
// string by shifting the decimal point left. Exact; no floating point.
//
//	FormatUnits("1500000", 6) == "1.5"
func FormatUnits(raw string, decimals int) (string, error) {
	if err := ValidateRawAmount(raw); err != nil {
		return "", err
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse raw amount %q: %w", raw, err)
	}
	return d.Shift(int32(-decimals)).String(), nil
}

// ParseUnits converts a human-unit decimal string back into a raw integer
// quantity. Fails if the value carries more fractional digits than the
// token supports, rather than silently truncating.
func ParseUnits(amount string, decimals int) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount %q: %w", amount, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount %q must not be negative", amount)
	}
	shifted := d.Shift(int32(decimals))
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", amount, decimals)
	}
	return shifted.BigInt(), nil
}

// FormatShares converts a raw share quantity to its 18-decimal human form
func FormatShares(rawShares string) (string, error) {
	return FormatUnits(rawShares, ShareDecimals)
}
