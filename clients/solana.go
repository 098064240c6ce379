package clients

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/oraclesentinel/sentinel-go/types"
)

// SolanaClient implements Ledger over a Solana JSON-RPC endpoint.
type SolanaClient struct {
	network    types.Network
	rpcURL     string
	client     *rpc.Client
	commitment rpc.CommitmentType
}

var _ Ledger = (*SolanaClient)(nil)

// NewSolanaClient creates a Solana ledger client
func NewSolanaClient(network types.Network, rpcURL string) (*SolanaClient, error) {
	if !network.IsSolana() {
		return nil, &types.X402Error{
			Code:    types.ErrUnsupportedNetwork,
			Message: fmt.Sprintf("network %s is not a Solana network", network),
		}
	}

	return &SolanaClient{
		network:    network,
		rpcURL:     rpcURL,
		client:     rpc.New(rpcURL),
		commitment: rpc.CommitmentConfirmed,
	}, nil
}

// GetBalance returns the wallet's balance of mint in atomic units, read from its
// associated token account. A wallet without a token account holds zero.
func (c *SolanaClient) GetBalance(ctx context.Context, wallet, mint solana.PublicKey) (uint64, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(wallet, mint)
	if err != nil {
		return 0, fmt.Errorf("failed to derive token account: %w", err)
	}

	out, err := c.client.GetTokenAccountBalance(ctx, ata, c.commitment)
	if err != nil {
		if isAccountNotFound(err) {
			return 0, nil
		}
		return 0, &types.LedgerUnavailableError{Op: "getTokenAccountBalance", Err: err}
	}
	if out == nil || out.Value == nil {
		return 0, nil
	}

	amount, err := strconv.ParseUint(out.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid token amount %q: %w", out.Value.Amount, err)
	}

	return amount, nil
}

func (c *SolanaClient) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	out, err := c.client.GetLatestBlockhash(ctx, c.commitment)
	if err != nil {
		return solana.Hash{}, &types.LedgerUnavailableError{Op: "getLatestBlockhash", Err: err}
	}
	return out.Value.Blockhash, nil
}

// SendTransaction broadcasts a signed transaction once. Preflight rejections are
// returned as *types.TransactionError; anything else leaves the outcome unknown.
func (c *SolanaClient) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := c.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: c.commitment,
	})
	if err != nil {
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) {
			return solana.Signature{}, &types.TransactionError{
				Reason: fmt.Sprintf("%s: %s", ErrTransactionRejected, rpcErr.Message),
			}
		}
		return solana.Signature{}, &types.LedgerUnavailableError{Op: "sendTransaction", Err: err}
	}

	return sig, nil
}

func (c *SolanaClient) SignatureStatus(ctx context.Context, sig solana.Signature) (*types.TxStatus, error) {
	out, err := c.client.GetSignatureStatuses(ctx, false, sig)
	if err != nil {
		return nil, &types.LedgerUnavailableError{Op: "getSignatureStatuses", Err: err}
	}

	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return &types.TxStatus{Found: false}, nil
	}

	st := out.Value[0]
	status := &types.TxStatus{
		Found:      true,
		Slot:       st.Slot,
		Commitment: string(st.ConfirmationStatus),
	}
	if st.Err != nil {
		status.Failed = true
		status.FailureReason = fmt.Sprint(st.Err)
	}

	return status, nil
}

func (c *SolanaClient) GetNetwork() types.Network { return c.network }

func (c *SolanaClient) Close() {}

func isAccountNotFound(err error) bool {
	if errors.Is(err, rpc.ErrNotFound) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "could not find account") || strings.Contains(msg, "account not found")
}
