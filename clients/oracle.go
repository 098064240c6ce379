package clients

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/oraclesentinel/sentinel-go/types"
)

// BalanceOracle answers balance questions for the gating and settlement assets.
// It is read-only and does not cache.
type BalanceOracle struct {
	ledger         Ledger
	gatingMint     solana.PublicKey
	settlementMint solana.PublicKey
}

// NewBalanceOracle creates an oracle. gatingMint may be the zero key when the
// gating token is not configured.
func NewBalanceOracle(ledger Ledger, gatingMint, settlementMint solana.PublicKey) *BalanceOracle {
	return &BalanceOracle{
		ledger:         ledger,
		gatingMint:     gatingMint,
		settlementMint: settlementMint,
	}
}

// GetBalance returns wallet's holdings of asset in atomic units.
func (o *BalanceOracle) GetBalance(ctx context.Context, wallet, asset solana.PublicKey) (uint64, error) {
	return o.ledger.GetBalance(ctx, wallet, asset)
}

// GetHolderBalance returns wallet's holdings of the gating token.
func (o *BalanceOracle) GetHolderBalance(ctx context.Context, wallet solana.PublicKey) (uint64, error) {
	if o.gatingMint.IsZero() {
		return 0, &types.X402Error{
			Code:    types.ErrConfigError,
			Message: "gating token mint is not configured",
		}
	}
	return o.ledger.GetBalance(ctx, wallet, o.gatingMint)
}

// GetSettlementBalance returns wallet's holdings of the settlement stablecoin.
func (o *BalanceOracle) GetSettlementBalance(ctx context.Context, wallet solana.PublicKey) (uint64, error) {
	return o.ledger.GetBalance(ctx, wallet, o.settlementMint)
}
