package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/oraclesentinel/sentinel-go/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
}

// newRPCServer answers JSON-RPC calls from a method -> result/error table.
func newRPCServer(t *testing.T, results map[string]string, errs map[string]string) *SolanaClient {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("Content-Type", "application/json")
		if e, ok := errs[req.Method]; ok {
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"error":` + e + `}`))
			return
		}
		result, ok := results[req.Method]
		if !ok {
			t.Errorf("unexpected rpc method %s", req.Method)
			result = "null"
		}
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"result":` + result + `}`))
	}))
	t.Cleanup(srv.Close)

	client, err := NewSolanaClient(types.NetworkSolanaDevnet, srv.URL)
	require.NoError(t, err)
	return client
}

func TestSolanaGetBalance(t *testing.T) {
	client := newRPCServer(t, map[string]string{
		"getTokenAccountBalance": `{"context":{"slot":1},"value":{"amount":"1500","decimals":0,"uiAmountString":"1500"}}`,
	}, nil)

	wallet := solana.NewWallet().PublicKey()
	mint := solana.MustPublicKeyFromBase58(types.USDCMint)

	balance, err := client.GetBalance(context.Background(), wallet, mint)
	require.NoError(t, err)
	assert.Equal(t, uint64(1500), balance)
}

func TestSolanaGetBalanceMissingAccountIsZero(t *testing.T) {
	client := newRPCServer(t, nil, map[string]string{
		"getTokenAccountBalance": `{"code":-32602,"message":"Invalid param: could not find account"}`,
	})

	balance, err := client.GetBalance(context.Background(), solana.NewWallet().PublicKey(), solana.MustPublicKeyFromBase58(types.USDCMint))
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestSolanaTransportFailureIsLedgerUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client, err := NewSolanaClient(types.NetworkSolanaMainnet, url)
	require.NoError(t, err)

	_, err = client.GetBalance(context.Background(), solana.NewWallet().PublicKey(), solana.MustPublicKeyFromBase58(types.USDCMint))
	var lu *types.LedgerUnavailableError
	require.ErrorAs(t, err, &lu)
	assert.Equal(t, "getTokenAccountBalance", lu.Op)

	_, err = client.LatestBlockhash(context.Background())
	require.ErrorAs(t, err, &lu)
}

func TestSolanaSignatureStatus(t *testing.T) {
	client := newRPCServer(t, map[string]string{
		"getSignatureStatuses": `{"context":{"slot":9},"value":[{"slot":7,"confirmations":null,"err":null,"confirmationStatus":"confirmed"}]}`,
	}, nil)

	status, err := client.SignatureStatus(context.Background(), solana.Signature{9})
	require.NoError(t, err)
	assert.True(t, status.Found)
	assert.True(t, status.Confirmed())
	assert.Equal(t, uint64(7), status.Slot)
}

func TestSolanaSignatureStatusUnknown(t *testing.T) {
	client := newRPCServer(t, map[string]string{
		"getSignatureStatuses": `{"context":{"slot":9},"value":[null]}`,
	}, nil)

	status, err := client.SignatureStatus(context.Background(), solana.Signature{9})
	require.NoError(t, err)
	assert.False(t, status.Found)
	assert.False(t, status.Confirmed())
}

func TestNewSolanaClientRejectsForeignNetwork(t *testing.T) {
	_, err := NewSolanaClient(types.Network("polygon"), "http://localhost")
	var xerr *types.X402Error
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, types.ErrUnsupportedNetwork, xerr.Code)
}

func TestBalanceOracle(t *testing.T) {
	client := newRPCServer(t, map[string]string{
		"getTokenAccountBalance": `{"context":{"slot":1},"value":{"amount":"42","decimals":6,"uiAmountString":"0.000042"}}`,
	}, nil)
	wallet := solana.NewWallet().PublicKey()

	oracle := NewBalanceOracle(client, solana.PublicKey{}, solana.MustPublicKeyFromBase58(types.USDCMint))

	got, err := oracle.GetSettlementBalance(context.Background(), wallet)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), got)

	_, err = oracle.GetHolderBalance(context.Background(), wallet)
	var xerr *types.X402Error
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, types.ErrConfigError, xerr.Code)
}
