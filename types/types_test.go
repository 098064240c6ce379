package types

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpointAtomicPrices(t *testing.T) {
	cases := map[string]uint64{
		"info":     0,
		"signal":   10_000,
		"analysis": 30_000,
		"whale":    20_000,
		"bulk":     80_000,
		"analyze":  50_000,
	}

	seen := 0
	for _, e := range Endpoints() {
		want, ok := cases[e.Name]
		require.True(t, ok, e.Name)
		assert.Equal(t, want, e.AtomicPrice(), e.Name)
		assert.Equal(t, want == 0, e.Free(), e.Name)
		seen++
	}
	assert.Equal(t, len(cases), seen)
}

func TestEndpointRequestEscapesSlug(t *testing.T) {
	req := EndpointSignal.Request("btc above/100k", nil)
	assert.Equal(t, "/api/v1/signal/btc%20above%2F100k", req.Path)

	bulk := EndpointBulk.Request("", nil)
	assert.Equal(t, "/api/v1/bulk", bulk.Path)
	assert.False(t, EndpointBulk.Parameterized())
}

func TestInsufficientBalanceErrorMessage(t *testing.T) {
	err := &InsufficientBalanceError{Required: 30_000, Available: 4_000}
	assert.Equal(t, "insufficient balance: need $0.03, have $0.00", err.Error())
}

func TestErrorsUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	var err error = fmt.Errorf("pay: %w", &LedgerUnavailableError{Op: "getBalance", Err: cause})

	var lu *LedgerUnavailableError
	require.True(t, errors.As(err, &lu))
	assert.True(t, lu.Temporary())
	assert.ErrorIs(t, err, cause)

	timeout := &PaymentTimeoutError{TransactionID: "sig", Err: errors.New("deadline")}
	assert.Contains(t, timeout.Error(), "sig")
}

func TestChallengeExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Challenge{Value: "abc", ExpiresAt: now.Add(time.Minute)}
	assert.False(t, c.Expired(now))
	assert.True(t, c.Expired(now.Add(time.Minute)))

	open := Challenge{Value: "abc"}
	assert.False(t, open.Expired(now))
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{WalletAddress: "x"}.WithDefaults()
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, DefaultRPCURL, cfg.RPCURL)
	assert.Equal(t, 60*time.Second, cfg.CacheTTL)
	assert.Equal(t, DefaultHolderThreshold, cfg.HolderThreshold)
	assert.False(t, cfg.DisableAutoPay)
	assert.Equal(t, 3, cfg.RetryCount)
	assert.Empty(t, cfg.LogLevel)
}

func TestConfigRetries(t *testing.T) {
	tests := []struct {
		name  string
		count int
		want  int
	}{
		{"zero selects default", 0, 3},
		{"negative disables", -1, 0},
		{"explicit", 5, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{RetryCount: tt.count}.WithDefaults()
			assert.Equal(t, tt.want, cfg.Retries())
		})
	}
}
