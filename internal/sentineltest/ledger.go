package sentineltest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/token"

	"github.com/oraclesentinel/sentinel-go/clients"
	"github.com/oraclesentinel/sentinel-go/types"
)

// ConfirmMode controls how the fake ledger resolves submitted transactions.
type ConfirmMode int

const (
	// ConfirmImmediately marks transactions confirmed as soon as they are sent.
	ConfirmImmediately ConfirmMode = iota
	// ConfirmNever leaves transactions pending forever.
	ConfirmNever
	// FailOnChain records transactions as failed.
	FailOnChain
)

// Transfer is a settled TransferChecked decoded from a submitted transaction.
type Transfer struct {
	Signature   solana.Signature
	Source      solana.PublicKey
	Destination solana.PublicKey
	Owner       solana.PublicKey
	Mint        solana.PublicKey
	Amount      uint64
	Decimals    uint8
	Reference   string

	ComputeUnitLimit uint32
	ComputeUnitPrice uint64
}

// Ledger is an in-memory clients.Ledger holding token balances per
// associated token account.
type Ledger struct {
	mu        sync.Mutex
	network   types.Network
	balances  map[solana.PublicKey]uint64
	transfers map[solana.Signature]Transfer
	statuses  map[solana.Signature]*types.TxStatus
	blockhash solana.Hash
	slot      uint64

	mode        ConfirmMode
	balanceErrs []error
	sendErr     error
	sends       int
}

// NewLedger creates an empty ledger on devnet.
func NewLedger() *Ledger {
	return &Ledger{
		network:   types.NetworkSolanaDevnet,
		balances:  make(map[solana.PublicKey]uint64),
		transfers: make(map[solana.Signature]Transfer),
		statuses:  make(map[solana.Signature]*types.TxStatus),
		blockhash: solana.HashFromBytes([]byte("sentineltest-recent-blockhash-01")),
		slot:      1000,
	}
}

// SetBalance credits owner's associated token account for mint.
func (l *Ledger) SetBalance(owner, mint solana.PublicKey, amount uint64) {
	ata := mustATA(owner, mint)
	l.mu.Lock()
	l.balances[ata] = amount
	l.mu.Unlock()
}

// SetConfirmMode changes how later submissions resolve.
func (l *Ledger) SetConfirmMode(mode ConfirmMode) {
	l.mu.Lock()
	l.mode = mode
	l.mu.Unlock()
}

// FailBalance makes the next len(errs) balance reads fail with errs in order.
func (l *Ledger) FailBalance(errs ...error) {
	l.mu.Lock()
	l.balanceErrs = append(l.balanceErrs, errs...)
	l.mu.Unlock()
}

// FailSend makes every submission fail with err.
func (l *Ledger) FailSend(err error) {
	l.mu.Lock()
	l.sendErr = err
	l.mu.Unlock()
}

// Sends is the number of SendTransaction calls.
func (l *Ledger) Sends() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sends
}

// Transfers returns every recorded transfer.
func (l *Ledger) Transfers() []Transfer {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Transfer, 0, len(l.transfers))
	for _, t := range l.transfers {
		out = append(out, t)
	}
	return out
}

// ConfirmedTransfer returns the transfer for sig if it confirmed.
func (l *Ledger) ConfirmedTransfer(sig solana.Signature) (Transfer, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	status, ok := l.statuses[sig]
	if !ok || !status.Confirmed() {
		return Transfer{}, false
	}
	return l.transfers[sig], true
}

func (l *Ledger) GetBalance(_ context.Context, wallet, mint solana.PublicKey) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.balanceErrs) > 0 {
		err := l.balanceErrs[0]
		l.balanceErrs = l.balanceErrs[1:]
		return 0, err
	}
	return l.balances[mustATA(wallet, mint)], nil
}

func (l *Ledger) LatestBlockhash(context.Context) (solana.Hash, error) {
	return l.blockhash, nil
}

// SendTransaction checks signatures, decodes the transfer and memo, and applies
// the transfer when the source account can cover it.
func (l *Ledger) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sends++
	if l.sendErr != nil {
		return solana.Signature{}, l.sendErr
	}
	if err := ctx.Err(); err != nil {
		return solana.Signature{}, err
	}
	if len(tx.Signatures) == 0 {
		return solana.Signature{}, &types.TransactionError{Reason: clients.ErrTransactionSignerMissingSignatures}
	}

	// Decode what would cross the wire, as a node does.
	raw, err := tx.MarshalBinary()
	if err != nil {
		return solana.Signature{}, &types.TransactionError{Reason: fmt.Sprintf("failed to serialize transaction: %v", err)}
	}
	tx, err = solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return solana.Signature{}, &types.TransactionError{Reason: fmt.Sprintf("failed to decode transaction: %v", err)}
	}
	if err := tx.VerifySignatures(); err != nil {
		return solana.Signature{}, &types.TransactionError{Reason: fmt.Sprintf("%s: %v", clients.ErrTransactionSignerMissingSignatures, err)}
	}

	sig := tx.Signatures[0]
	transfer, err := decodeTransfer(tx)
	if err != nil {
		return solana.Signature{}, &types.TransactionError{TransactionID: sig.String(), Reason: err.Error()}
	}
	transfer.Signature = sig

	if l.balances[transfer.Source] < transfer.Amount {
		return solana.Signature{}, &types.TransactionError{
			TransactionID: sig.String(),
			Reason:        "insufficient funds",
		}
	}

	l.slot++
	status := &types.TxStatus{Found: true, Slot: l.slot}
	switch l.mode {
	case ConfirmImmediately:
		l.balances[transfer.Source] -= transfer.Amount
		l.balances[transfer.Destination] += transfer.Amount
		status.Commitment = "confirmed"
	case FailOnChain:
		status.Commitment = "confirmed"
		status.Failed = true
		status.FailureReason = "custom program error: 0x1"
	case ConfirmNever:
		status.Commitment = "processed"
	}

	l.transfers[sig] = transfer
	l.statuses[sig] = status

	return sig, nil
}

func (l *Ledger) SignatureStatus(_ context.Context, sig solana.Signature) (*types.TxStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	status, ok := l.statuses[sig]
	if !ok {
		return &types.TxStatus{}, nil
	}
	copied := *status
	return &copied, nil
}

func (l *Ledger) GetNetwork() types.Network { return l.network }

func (l *Ledger) Close() {}

func decodeTransfer(tx *solana.Transaction) (Transfer, error) {
	var (
		transfer Transfer
		found    bool
	)
	for _, ix := range tx.Message.Instructions {
		program, err := tx.Message.ResolveProgramIDIndex(ix.ProgramIDIndex)
		if err != nil {
			return Transfer{}, err
		}
		accounts, err := ix.ResolveInstructionAccounts(&tx.Message)
		if err != nil {
			return Transfer{}, err
		}

		switch {
		case program.Equals(solana.TokenProgramID):
			decoded, err := token.DecodeInstruction(accounts, ix.Data)
			if err != nil {
				return Transfer{}, fmt.Errorf("failed to decode token instruction: %w", err)
			}
			checked, ok := decoded.Impl.(*token.TransferChecked)
			if !ok {
				return Transfer{}, errors.New("unexpected token instruction")
			}
			if checked.Amount == nil || checked.Decimals == nil {
				return Transfer{}, errors.New("transfer is missing parameters")
			}
			if len(checked.Accounts) < 4 {
				return Transfer{}, errors.New("transfer is missing accounts")
			}
			transfer.Amount = *checked.Amount
			transfer.Decimals = *checked.Decimals
			transfer.Source = checked.GetSourceAccount().PublicKey
			transfer.Mint = checked.GetMintAccount().PublicKey
			transfer.Destination = checked.GetDestinationAccount().PublicKey
			transfer.Owner = checked.GetOwnerAccount().PublicKey
			found = true
		case program.Equals(solana.ComputeBudget):
			decoded, err := computebudget.DecodeInstruction(accounts, ix.Data)
			if err != nil {
				return Transfer{}, fmt.Errorf("failed to decode compute budget instruction: %w", err)
			}
			switch impl := decoded.Impl.(type) {
			case *computebudget.SetComputeUnitLimit:
				transfer.ComputeUnitLimit = impl.Units
			case *computebudget.SetComputeUnitPrice:
				transfer.ComputeUnitPrice = impl.MicroLamports
			}
		case program.Equals(solana.MemoProgramID):
			// raw UTF-8, not the length-prefixed layout programs/memo decodes
			transfer.Reference = string(ix.Data)
		}
	}

	if !found {
		return Transfer{}, errors.New("no token transfer in transaction")
	}
	if transfer.Source != mustATA(transfer.Owner, transfer.Mint) {
		return Transfer{}, errors.New("source is not the owner's token account")
	}
	return transfer, nil
}

func mustATA(owner, mint solana.PublicKey) solana.PublicKey {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		panic(err)
	}
	return ata
}
