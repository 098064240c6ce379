package utils

import (
	"fmt"
	"math/big"
	"regexp"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

var base58Pattern = regexp.MustCompile("^[1-9A-HJ-NP-Za-km-z]+$")

// validateAmount checks if an amount string is a valid, non-negative decimal
func validateAmount(amount string) (*decimal.Decimal, error) {
	if amount == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}

	if dec.IsNegative() {
		return nil, fmt.Errorf("amount cannot be negative")
	}

	return &dec, nil
}

// ValidateAddress validates a base58 Solana address.
func ValidateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if len(address) < 32 || len(address) > 44 {
		return fmt.Errorf("Solana address has invalid length")
	}
	if !isBase58String(address) {
		return fmt.Errorf("Solana address must be valid base58")
	}
	if _, err := solana.PublicKeyFromBase58(address); err != nil {
		return fmt.Errorf("invalid Solana address: %w", err)
	}

	return nil
}

// ValidateTransactionID validates a base58 Solana transaction signature.
func ValidateTransactionID(sig string) error {
	if sig == "" {
		return fmt.Errorf("transaction signature cannot be empty")
	}
	if len(sig) < 80 || len(sig) > 90 {
		return fmt.Errorf("Solana transaction signature has invalid length")
	}
	if !isBase58String(sig) {
		return fmt.Errorf("Solana transaction signature must be valid base58")
	}

	return nil
}

// Helper function to check if a string is valid base58
func isBase58String(s string) bool {
	return base58Pattern.MatchString(s)
}

// ParseAmountWithDecimals parses a decimal amount string and converts it to atomic units.
func ParseAmountWithDecimals(amount string, decimals int) (uint64, error) {
	dec, err := validateAmount(amount)
	if err != nil {
		return 0, err
	}

	atomic := dec.Shift(int32(decimals))
	if !atomic.Equal(atomic.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than %d decimal places", amount, decimals)
	}
	if !atomic.BigInt().IsUint64() {
		return 0, fmt.Errorf("amount %s overflows", amount)
	}

	return atomic.BigInt().Uint64(), nil
}

// FormatAtomicAmount formats atomic units as a decimal string with the given decimals.
func FormatAtomicAmount(amount uint64, decimals int) string {
	dec := decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -int32(decimals))
	return dec.StringFixed(int32(decimals))
}
