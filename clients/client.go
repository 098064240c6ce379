package clients

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/oraclesentinel/sentinel-go/types"
)

// Ledger is the subset of a Solana RPC node the client depends on.
//
// Transport failures are reported as *types.LedgerUnavailableError so callers
// can retry them; rejections by the network are reported as *types.TransactionError.
type Ledger interface {
	GetBalance(ctx context.Context, wallet, mint solana.PublicKey) (uint64, error)
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	SignatureStatus(ctx context.Context, sig solana.Signature) (*types.TxStatus, error)
	GetNetwork() types.Network
	Close()
}
