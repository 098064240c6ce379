package utils

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/oraclesentinel/sentinel-go/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paymentRequiredBody(payTo, amount string, extra string) []byte {
	return []byte(`{
		"x402Version": 2,
		"error": "payment required",
		"accepts": [{
			"scheme": "exact",
			"network": "solana",
			"maxAmountRequired": "` + amount + `",
			"resource": "/api/v1/signal/btc",
			"payTo": "` + payTo + `",
			"maxTimeoutSeconds": 60,
			"asset": "` + types.USDCMint + `",
			"extra": ` + extra + `
		}]
	}`)
}

func withVersion(body []byte, version int) []byte {
	return bytes.Replace(body, []byte(`"x402Version": 2`), []byte(fmt.Sprintf(`"x402Version": %d`, version)), 1)
}

func TestParsePaymentRequired(t *testing.T) {
	payTo := solana.NewWallet().PublicKey().String()
	body := paymentRequiredBody(payTo, "10000", `{"reference":"ref-1","expiresAt":"2030-01-01T00:00:00Z"}`)

	req, err := ParsePaymentRequired(body)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000), req.Amount)
	assert.Equal(t, payTo, req.Recipient)
	assert.Equal(t, "ref-1", req.Reference)
	assert.Equal(t, types.USDCMint, req.Asset)
	assert.Equal(t, "/api/v1/signal/btc", req.Resource)
	assert.Equal(t, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), req.ExpiresAt)
}

func TestParsePaymentRequiredUnixExpiry(t *testing.T) {
	payTo := solana.NewWallet().PublicKey().String()
	body := paymentRequiredBody(payTo, "10000", `{"reference":"ref-1","expiresAt":1893456000}`)

	req, err := ParsePaymentRequired(body)
	require.NoError(t, err)
	assert.Equal(t, int64(1893456000), req.ExpiresAt.Unix())
}

func TestParsePaymentRequiredAcceptsVersionOne(t *testing.T) {
	payTo := solana.NewWallet().PublicKey().String()
	body := withVersion(paymentRequiredBody(payTo, "10000", `{"reference":"ref-1"}`), 1)

	req, err := ParsePaymentRequired(body)
	require.NoError(t, err)
	assert.Equal(t, "ref-1", req.Reference)
}

func TestParsePaymentRequiredRejects(t *testing.T) {
	payTo := solana.NewWallet().PublicKey().String()

	cases := map[string][]byte{
		"not json":          []byte(`<html>`),
		"no accepts":        []byte(`{"x402Version":2,"accepts":[]}`),
		"missing reference": paymentRequiredBody(payTo, "10000", `{}`),
		"zero amount":       paymentRequiredBody(payTo, "0", `{"reference":"r"}`),
		"bad recipient":     paymentRequiredBody("0xabc", "10000", `{"reference":"r"}`),
		"negative amount":   paymentRequiredBody(payTo, "-5", `{"reference":"r"}`),
		"unknown version":   withVersion(paymentRequiredBody(payTo, "10000", `{"reference":"r"}`), 3),
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePaymentRequired(body)
			var xerr *types.X402Error
			require.ErrorAs(t, err, &xerr)
			assert.Equal(t, types.ErrInvalidRequirements, xerr.Code)
		})
	}
}

func TestPaymentHeaderRoundTrip(t *testing.T) {
	sig := solana.Signature{7, 7, 7}
	receipt := &types.PaymentReceipt{Reference: "ref-9", TransactionID: sig.String(), Confirmed: true}

	header, err := EncodePaymentHeader(receipt, types.NetworkSolanaDevnet)
	require.NoError(t, err)

	payload, err := DecodePaymentHeader(header)
	require.NoError(t, err)
	assert.Equal(t, 2, payload.X402Version)
	assert.Equal(t, "exact", payload.Scheme)
	assert.Equal(t, "solana-devnet", payload.Network)
	assert.Equal(t, "ref-9", payload.Payload.Reference)
	assert.Equal(t, sig.String(), payload.Payload.Transaction)

	_, err = DecodePaymentHeader("%%%")
	assert.Error(t, err)
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`{"walletAddress":"` + solana.NewWallet().PublicKey().String() + `","network":"solana-devnet"}`))
	require.NoError(t, err)
	assert.Equal(t, types.DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, types.NetworkSolanaDevnet, cfg.Network)

	_, err = ParseConfig([]byte(`{"network":"polygon"}`))
	var xerr *types.X402Error
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, types.ErrConfigError, xerr.Code)

	_, err = ParseConfig([]byte(`{"walletAddress":"nope"}`))
	require.ErrorAs(t, err, &xerr)
}
