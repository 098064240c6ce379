package utils

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/oraclesentinel/sentinel-go/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	if err := validate.RegisterValidation("base58", func(fl validator.FieldLevel) bool {
		return isBase58String(fl.Field().String())
	}); err != nil {
		panic(err)
	}
}

// ParseConfig parses and validates Config from JSON. Missing fields take defaults.
func ParseConfig(data []byte) (*types.Config, error) {
	var config types.Config

	if err := json.Unmarshal(data, &config); err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("failed to parse config: %v", err),
		}
	}

	config = config.WithDefaults()
	if err := ValidateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// ValidateConfig checks struct tags and that configured addresses are valid base58 keys.
func ValidateConfig(config *types.Config) error {
	if err := validate.Struct(config); err != nil {
		return &types.X402Error{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("validation failed: %v", err),
		}
	}

	for name, addr := range map[string]string{
		"walletAddress":  config.WalletAddress,
		"gatingMint":     config.GatingMint,
		"settlementMint": config.SettlementMint,
	} {
		if addr == "" {
			continue
		}
		if err := ValidateAddress(addr); err != nil {
			return &types.X402Error{
				Code:    types.ErrConfigError,
				Message: fmt.Sprintf("invalid %s: %v", name, err),
			}
		}
	}

	return nil
}

// ParsePaymentRequired parses a 402 response body into the first payment
// requirement it offers.
func ParsePaymentRequired(data []byte) (*types.PaymentRequirement, error) {
	var resp types.X402Response

	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrInvalidRequirements,
			Message: fmt.Sprintf("failed to parse payment requirements: %v", err),
		}
	}

	if !types.X402Version(resp.X402Version).Supported() {
		return nil, &types.X402Error{
			Code:    types.ErrInvalidRequirements,
			Message: fmt.Sprintf("unsupported x402 version %d", resp.X402Version),
		}
	}

	// Validate using struct tags
	if err := validate.Struct(&resp); err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrInvalidRequirements,
			Message: fmt.Sprintf("validation failed: %v", err),
		}
	}

	return ToPaymentRequirement(&resp.Accepts[0])
}

// ToPaymentRequirement converts a wire accepts entry into a PaymentRequirement.
func ToPaymentRequirement(pr *types.PaymentRequirements) (*types.PaymentRequirement, error) {
	amount, err := strconv.ParseUint(pr.MaxAmountRequired, 10, 64)
	if err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrInvalidRequirements,
			Message: fmt.Sprintf("invalid maxAmountRequired %q", pr.MaxAmountRequired),
		}
	}

	reference, _ := pr.Extra["reference"].(string)
	req := &types.PaymentRequirement{
		Amount:    amount,
		Recipient: pr.PayTo,
		Reference: reference,
		Asset:     pr.Asset,
		Network:   pr.Network,
		Resource:  pr.Resource,
	}

	switch v := pr.Extra["expiresAt"].(type) {
	case string:
		t, err := ParseFlexibleTime(v)
		if err != nil {
			return nil, &types.X402Error{
				Code:    types.ErrInvalidRequirements,
				Message: fmt.Sprintf("invalid expiresAt: %v", err),
			}
		}
		req.ExpiresAt = t
	case float64:
		req.ExpiresAt = time.Unix(int64(v), 0).UTC()
	}

	if err := ValidatePaymentRequirement(req); err != nil {
		return nil, err
	}

	return req, nil
}

// ValidatePaymentRequirement checks a requirement before it is paid.
func ValidatePaymentRequirement(req *types.PaymentRequirement) error {
	if err := validate.Struct(req); err != nil {
		return &types.X402Error{
			Code:    types.ErrInvalidRequirements,
			Message: fmt.Sprintf("validation failed: %v", err),
		}
	}
	if err := ValidateAddress(req.Recipient); err != nil {
		return &types.X402Error{
			Code:    types.ErrInvalidRequirements,
			Message: fmt.Sprintf("invalid recipient: %v", err),
		}
	}
	if err := ValidateAddress(req.Asset); err != nil {
		return &types.X402Error{
			Code:    types.ErrInvalidRequirements,
			Message: fmt.Sprintf("invalid asset: %v", err),
		}
	}
	return nil
}

// EncodePaymentHeader builds the X-Payment header value for a settled receipt.
func EncodePaymentHeader(receipt *types.PaymentReceipt, network types.Network) (string, error) {
	payload := types.PaymentPayload{
		X402Version: int(types.X402Version2),
		Scheme:      string(types.SchemeExact),
		Network:     network.String(),
		Payload: types.SolanaPaymentPayload{
			Reference:   receipt.Reference,
			Transaction: receipt.TransactionID,
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode payment header: %w", err)
	}

	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePaymentHeader parses an X-Payment header value.
func DecodePaymentHeader(header string) (*types.PaymentPayload, error) {
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrInvalidPayload,
			Message: fmt.Sprintf("invalid base64: %v", err),
		}
	}

	var payload types.PaymentPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrInvalidPayload,
			Message: fmt.Sprintf("invalid payment header: %v", err),
		}
	}

	if err := validate.Struct(&payload); err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrInvalidPayload,
			Message: fmt.Sprintf("validation failed: %v", err),
		}
	}

	return &payload, nil
}

// Helper to parse time fields that might be in different formats
func ParseFlexibleTime(timeStr string) (time.Time, error) {
	formats := []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, timeStr); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse time: %s", timeStr)
}
