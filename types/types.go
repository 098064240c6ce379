package types

import (
	"time"
)

// X402Version represents the version of the x402 protocol
type X402Version int

const (
	X402Version1 X402Version = 1
	X402Version2 X402Version = 2
)

// Supported reports whether the client understands 402 bodies of this
// version. An absent version is read as version 1.
func (v X402Version) Supported() bool {
	return v == 0 || v == X402Version1 || v == X402Version2
}

// Network represents the Solana cluster payments settle on
type Network string

const (
	NetworkSolanaMainnet Network = "solana"
	NetworkSolanaDevnet  Network = "solana-devnet" // testnet
)

// PaymentScheme represents different payment schemes
type PaymentScheme string

const (
	SchemeExact PaymentScheme = "exact"
)

// PaymentRequirements is one entry of the accepts list in a 402 response.
type PaymentRequirements struct {
	// Scheme of the payment protocol to use. Only "exact" is paid automatically.
	Scheme string `json:"scheme" validate:"required,eq=exact"`

	// Network the payment must settle on.
	Network string `json:"network" validate:"required"`

	// Amount required in atomic units of the asset.
	MaxAmountRequired string `json:"maxAmountRequired" validate:"required,numeric"`

	// URL of the resource to pay for.
	Resource string `json:"resource"`

	Description string `json:"description,omitempty"`

	MimeType string `json:"mimeType,omitempty"`

	// Wallet that owns the receiving token account.
	PayTo string `json:"payTo" validate:"required"`

	MaxTimeoutSeconds int `json:"maxTimeoutSeconds"`

	// Mint of the settlement asset.
	Asset string `json:"asset" validate:"required"`

	// Extra carries the payment reference ("reference") and its expiry ("expiresAt").
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// X402Response represents a 402 response body.
type X402Response struct {
	// Version of the x402 payment protocol.
	X402Version int `json:"x402Version"`

	// List of payment requirements that the resource server accepts.
	Accepts []PaymentRequirements `json:"accepts" validate:"required,min=1,dive"`

	// Message from the resource server indicating any processing error.
	Error string `json:"error"`
}

// PaymentPayload is the JSON document carried base64-encoded in the X-Payment header.
type PaymentPayload struct {
	X402Version int `json:"x402Version" validate:"required"`

	Scheme string `json:"scheme" validate:"required"`

	Network string `json:"network" validate:"required"`

	Payload SolanaPaymentPayload `json:"payload"`
}

// SolanaPaymentPayload binds a payment reference to the transaction that settled it.
type SolanaPaymentPayload struct {
	Reference   string `json:"reference" validate:"required"`
	Transaction string `json:"transaction" validate:"required,base58"` // transaction signature
}

// Challenge is a single-use nonce issued by the verification endpoint.
type Challenge struct {
	Value     string    `json:"challenge"`
	Wallet    string    `json:"wallet,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the challenge can no longer be signed.
func (c *Challenge) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// HolderStatus is the server's verdict on whether a wallet qualifies for free access.
type HolderStatus struct {
	Wallet        string    `json:"wallet"`
	Balance       uint64    `json:"balance"`
	Threshold     uint64    `json:"threshold"`
	HasFreeAccess bool      `json:"has_free_access"`
	VerifiedAt    time.Time `json:"verified_at"`

	// Proof is attached to priced calls while the status is fresh.
	Proof string `json:"proof,omitempty"`
}

// PaymentRequirement is a demand for one on-chain payment, issued once per rejected request.
type PaymentRequirement struct {
	Amount    uint64    `json:"amount" validate:"gt=0"`
	Recipient string    `json:"recipient" validate:"required"`
	Reference string    `json:"reference" validate:"required"`
	Asset     string    `json:"asset" validate:"required"`
	Network   string    `json:"network"`
	Resource  string    `json:"resource,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// Expired reports whether the requirement may no longer be paid.
func (r *PaymentRequirement) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// PaymentReceipt is produced by a settled payment and attached to the retried call.
type PaymentReceipt struct {
	Reference     string `json:"reference"`
	TransactionID string `json:"transactionId"`
	Confirmed     bool   `json:"confirmed"`
	Amount        uint64 `json:"amount"`
	Slot          uint64 `json:"slot,omitempty"`
}

// TxStatus is the ledger's view of a submitted transaction.
type TxStatus struct {
	Found         bool
	Slot          uint64
	Commitment    string
	Failed        bool
	FailureReason string
}

// Confirmed reports whether the transaction reached confirmed or finalized commitment.
func (s *TxStatus) Confirmed() bool {
	return s.Found && !s.Failed && (s.Commitment == "confirmed" || s.Commitment == "finalized")
}

// APIRequest is one logical call against the metered API.
type APIRequest struct {
	Endpoint Endpoint
	Path     string
	Body     interface{}
}

// APIResponse is a raw endpoint reply.
type APIResponse struct {
	StatusCode int
	Body       []byte
}

// Result is a decoded JSON object returned by the API.
type Result map[string]interface{}

// DispatchState is a state of the request dispatcher.
type DispatchState string

const (
	StateEvaluating DispatchState = "evaluating"
	StateCalling    DispatchState = "calling"
	StatePaying     DispatchState = "paying"
	StateDone       DispatchState = "done"
	StateFailed     DispatchState = "failed"
)

// Config contains the client configuration.
type Config struct {
	BaseURL string  `json:"baseUrl" validate:"required,url"`
	RPCURL  string  `json:"rpcUrl" validate:"required,url"`
	Network Network `json:"network" validate:"required,oneof=solana solana-devnet"`

	// WalletAddress identifies a read-only wallet. Ignored when PrivateKey is set.
	WalletAddress string `json:"walletAddress,omitempty"`

	// PrivateKey is a base58 keypair. It is never serialized.
	PrivateKey string `json:"-"`

	// DisableAutoPay surfaces 402 responses as PaymentRequiredError instead of paying.
	DisableAutoPay bool `json:"disableAutoPay,omitempty"`

	Timeout        time.Duration `json:"timeout,omitempty" validate:"gte=0"`
	ConfirmTimeout time.Duration `json:"confirmTimeout,omitempty" validate:"gte=0"`
	CacheTTL       time.Duration `json:"cacheTtl,omitempty" validate:"gte=0"`

	// RetryCount bounds retries of transient API and ledger failures. Zero
	// selects the default; a negative value disables retries.
	RetryCount int `json:"retryCount,omitempty" validate:"gte=-1,lte=10"`

	GatingMint      string `json:"gatingMint,omitempty"`
	SettlementMint  string `json:"settlementMint,omitempty"`
	HolderThreshold uint64 `json:"holderThreshold,omitempty"`

	// LogLevel enables the built-in zap logger when no logger is supplied.
	// Empty leaves logging off.
	LogLevel      string `json:"logLevel,omitempty" validate:"omitempty,oneof=debug info warn error"`
	EnableMetrics bool   `json:"enableMetrics,omitempty"`
}

// DefaultConfig returns a configuration pointed at the public API and mainnet.
func DefaultConfig() Config {
	return Config{
		BaseURL:         DefaultBaseURL,
		RPCURL:          DefaultRPCURL,
		Network:         NetworkSolanaMainnet,
		Timeout:         30 * time.Second,
		ConfirmTimeout:  30 * time.Second,
		CacheTTL:        60 * time.Second,
		RetryCount:      3,
		SettlementMint:  USDCMint,
		HolderThreshold: DefaultHolderThreshold,
		LogLevel:        "info",
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig. LogLevel is left
// as given.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	if c.RPCURL == "" {
		c.RPCURL = d.RPCURL
	}
	if c.Network == "" {
		c.Network = d.Network
	}
	if c.Timeout == 0 {
		c.Timeout = d.Timeout
	}
	if c.ConfirmTimeout == 0 {
		c.ConfirmTimeout = d.ConfirmTimeout
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = d.CacheTTL
	}
	if c.SettlementMint == "" {
		c.SettlementMint = d.SettlementMint
	}
	if c.HolderThreshold == 0 {
		c.HolderThreshold = d.HolderThreshold
	}
	if c.RetryCount == 0 {
		c.RetryCount = d.RetryCount
	}
	return c
}

// Retries is the effective retry count.
func (c Config) Retries() int {
	if c.RetryCount < 0 {
		return 0
	}
	return c.RetryCount
}

// Helper functions for network classification
func (n Network) IsSolana() bool {
	return n == NetworkSolanaMainnet || n == NetworkSolanaDevnet
}

func (n Network) String() string {
	return string(n)
}
