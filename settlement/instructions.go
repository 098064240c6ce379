package settlement

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/token"

	"github.com/oraclesentinel/sentinel-go/types"
)

// transferPlan is everything needed to build one settlement transaction.
type transferPlan struct {
	Payer     solana.PublicKey
	Recipient solana.PublicKey
	Mint      solana.PublicKey
	Amount    uint64
	Decimals  uint8
	Reference string
	Blockhash solana.Hash
}

// buildTransaction assembles the compute budget, TransferChecked and memo
// instructions into a single transaction paid for by the payer.
func buildTransaction(plan transferPlan) (*solana.Transaction, error) {
	source, _, err := solana.FindAssociatedTokenAddress(plan.Payer, plan.Mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive payer token account: %w", err)
	}
	destination, _, err := solana.FindAssociatedTokenAddress(plan.Recipient, plan.Mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive recipient token account: %w", err)
	}

	limitIx, err := computebudget.NewSetComputeUnitLimitInstruction(types.DefaultComputeUnitLimit).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to build compute unit limit: %w", err)
	}
	priceIx, err := computebudget.NewSetComputeUnitPriceInstruction(types.DefaultComputeUnitPriceMu).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to build compute unit price: %w", err)
	}

	transferIx, err := token.NewTransferCheckedInstruction(
		plan.Amount,
		plan.Decimals,
		source,
		plan.Mint,
		destination,
		plan.Payer,
		[]solana.PublicKey{},
	).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to build transfer: %w", err)
	}

	instructions := []solana.Instruction{
		limitIx,
		priceIx,
		transferIx,
		memoInstruction(plan.Payer, plan.Reference),
	}

	tx, err := solana.NewTransaction(instructions, plan.Blockhash, solana.TransactionPayer(plan.Payer))
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}

	return tx, nil
}

// memoInstruction binds the payment reference to the transaction. The memo
// program reads its data as raw UTF-8; the programs/memo builder would
// length-prefix it.
func memoInstruction(signer solana.PublicKey, reference string) solana.Instruction {
	return solana.NewInstruction(
		solana.MemoProgramID,
		solana.AccountMetaSlice{solana.NewAccountMeta(signer, false, true)},
		[]byte(reference),
	)
}
