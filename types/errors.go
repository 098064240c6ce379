package types

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Error types
type X402Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e X402Error) Error() string {
	return e.Message
}

// Common error codes
const (
	ErrInvalidPayload      = "INVALID_PAYLOAD"
	ErrInvalidRequirements = "INVALID_REQUIREMENTS"
	ErrUnsupportedNetwork  = "UNSUPPORTED_NETWORK"
	ErrExpiredPayment      = "EXPIRED_PAYMENT"
	ErrAmountExceedsLimit  = "AMOUNT_EXCEEDS_LIMIT"
	ErrNetworkError        = "NETWORK_ERROR"
	ErrConfigError         = "CONFIG_ERROR"
	ErrInvalidChallenge    = "INVALID_CHALLENGE"
)

var (
	// ErrNoKeyMaterial is returned when an operation needs a private key the client was not given.
	ErrNoKeyMaterial = errors.New("no private key material: client is in read-only mode")

	// ErrDuplicateReference is returned when a payment reference was already submitted.
	ErrDuplicateReference = errors.New("payment reference already submitted")
)

// SignatureVerificationError means the server could not verify our challenge signature
// against the wallet. It indicates a key or derivation mismatch, not a balance problem.
type SignatureVerificationError struct {
	Wallet string
	Reason string
}

func (e *SignatureVerificationError) Error() string {
	return fmt.Sprintf("signature verification failed for wallet %s: %s", e.Wallet, e.Reason)
}

// LedgerUnavailableError wraps a transport failure talking to the ledger RPC.
type LedgerUnavailableError struct {
	Op  string
	Err error
}

func (e *LedgerUnavailableError) Error() string {
	return fmt.Sprintf("ledger unavailable during %s: %v", e.Op, e.Err)
}

func (e *LedgerUnavailableError) Unwrap() error { return e.Err }

// Temporary marks the error as retryable.
func (e *LedgerUnavailableError) Temporary() bool { return true }

// InsufficientBalanceError carries the exact atomic amounts involved.
type InsufficientBalanceError struct {
	Required  uint64
	Available uint64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: need $%s, have $%s",
		AtomicToDollars(e.Required).StringFixed(2),
		AtomicToDollars(e.Available).StringFixed(2))
}

// PaymentTimeoutError is returned when a submitted transaction was not confirmed in time.
// Funds may have moved; check TransactionID before paying again.
type PaymentTimeoutError struct {
	TransactionID string
	Reference     string
	Err           error
}

func (e *PaymentTimeoutError) Error() string {
	return fmt.Sprintf("payment %s not confirmed (transaction %s): %v", e.Reference, e.TransactionID, e.Err)
}

func (e *PaymentTimeoutError) Unwrap() error { return e.Err }

// PaidCallError is returned when a call failed after its payment confirmed.
// The funds have moved; Receipt identifies the settled transaction.
type PaidCallError struct {
	Receipt PaymentReceipt
	Err     error
}

func (e *PaidCallError) Error() string {
	return fmt.Sprintf("call failed after payment %s (transaction %s): %v",
		e.Receipt.Reference, e.Receipt.TransactionID, e.Err)
}

func (e *PaidCallError) Unwrap() error { return e.Err }

// TransactionError is returned when the ledger rejected or failed the payment transaction.
type TransactionError struct {
	TransactionID string
	Reason        string
}

func (e *TransactionError) Error() string {
	if e.TransactionID == "" {
		return fmt.Sprintf("transaction rejected: %s", e.Reason)
	}
	return fmt.Sprintf("transaction %s failed: %s", e.TransactionID, e.Reason)
}

// ProtocolError means the server broke the single-retry payment contract.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol violation: " + e.Reason
}

// APIError is a non-payment endpoint failure passed through with its status and body.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.IsAuthentication() {
		return fmt.Sprintf("authentication failed (status %d): %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Body)
}

// IsAuthentication reports whether the server rejected our credentials.
func (e *APIError) IsAuthentication() bool {
	return e.StatusCode == 401
}

// PaymentRequiredError surfaces a payment requirement the client chose not to pay.
type PaymentRequiredError struct {
	Requirement PaymentRequirement
}

func (e *PaymentRequiredError) Error() string {
	return fmt.Sprintf("payment required: $%s USDC", AtomicToDollars(e.Requirement.Amount).StringFixed(2))
}

// AtomicToDollars converts USDC atomic units to dollars.
func AtomicToDollars(amount uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -USDCDecimals)
}
