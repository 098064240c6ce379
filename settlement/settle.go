// Package settlement pays x402 payment requirements with SPL token transfers
// and waits for them to confirm.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gojek/heimdall/v7"

	"github.com/oraclesentinel/sentinel-go/clients"
	"github.com/oraclesentinel/sentinel-go/events"
	"github.com/oraclesentinel/sentinel-go/logger"
	"github.com/oraclesentinel/sentinel-go/metrics"
	"github.com/oraclesentinel/sentinel-go/types"
	"github.com/oraclesentinel/sentinel-go/utils"
)

// TransactionSigner signs settlement transactions as the fee payer.
type TransactionSigner interface {
	PublicKey() solana.PublicKey
	CanSign() bool
	SignTransaction(tx *solana.Transaction) error
}

// EngineConfig configures an Engine. Ledger and Signer are required.
type EngineConfig struct {
	Ledger         clients.Ledger
	Signer         TransactionSigner
	SettlementMint solana.PublicKey
	Decimals       uint8

	// ConfirmTimeout bounds how long Pay waits for confirmation after submission.
	ConfirmTimeout time.Duration
	// LedgerRetries is the number of retries for unavailable ledger reads.
	LedgerRetries int
	LedgerBackoff heimdall.Backoff
	PollBackoff   heimdall.Backoff

	// MaxAmount rejects requirements above this many atomic units. Zero disables the check.
	MaxAmount uint64

	Publisher events.Publisher
	Logger    logger.Logger
	Metrics   metrics.Recorder
	Now       func() time.Time
}

// Engine settles payment requirements. Each reference is submitted at most once
// per engine.
type Engine struct {
	ledger   clients.Ledger
	signer   TransactionSigner
	mint     solana.PublicKey
	decimals uint8

	confirmTimeout time.Duration
	ledgerRetries  int
	ledgerBackoff  heimdall.Backoff
	pollBackoff    heimdall.Backoff
	maxAmount      uint64

	publisher events.Publisher
	logger    logger.Logger
	metrics   metrics.Recorder
	now       func() time.Time

	mu        sync.Mutex
	submitted map[string]bool
}

// NewEngine creates a payment engine
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Ledger == nil || cfg.Signer == nil {
		return nil, &types.X402Error{
			Code:    types.ErrConfigError,
			Message: "payment engine requires a ledger and a signer",
		}
	}

	e := &Engine{
		ledger:         cfg.Ledger,
		signer:         cfg.Signer,
		mint:           cfg.SettlementMint,
		decimals:       cfg.Decimals,
		confirmTimeout: cfg.ConfirmTimeout,
		ledgerRetries:  cfg.LedgerRetries,
		ledgerBackoff:  cfg.LedgerBackoff,
		pollBackoff:    cfg.PollBackoff,
		maxAmount:      cfg.MaxAmount,
		publisher:      cfg.Publisher,
		logger:         logger.OrNoop(cfg.Logger),
		metrics:        metrics.OrNoop(cfg.Metrics),
		now:            cfg.Now,
		submitted:      make(map[string]bool),
	}

	if e.mint.IsZero() {
		e.mint = solana.MustPublicKeyFromBase58(types.USDCMint)
	}
	if e.decimals == 0 {
		e.decimals = types.USDCDecimals
	}
	if e.confirmTimeout <= 0 {
		e.confirmTimeout = 30 * time.Second
	}
	if e.ledgerBackoff == nil {
		e.ledgerBackoff = utils.DefaultLedgerBackoff()
	}
	if e.pollBackoff == nil {
		e.pollBackoff = heimdall.NewExponentialBackoff(400*time.Millisecond, 4*time.Second, 1.5, 50*time.Millisecond)
	}
	if e.publisher == nil {
		e.publisher = events.NoopPublisher{}
	}
	if e.now == nil {
		e.now = time.Now
	}

	return e, nil
}

// Pay settles req and returns a receipt once the transfer is confirmed.
//
// Errors before submission leave no side effect. Once the transaction has been
// submitted, a timeout or cancellation is reported as *types.PaymentTimeoutError
// carrying the transaction id; the transaction is never resubmitted.
func (e *Engine) Pay(ctx context.Context, req types.PaymentRequirement) (*types.PaymentReceipt, error) {
	if e.maxAmount > 0 && req.Amount > e.maxAmount {
		return nil, &types.X402Error{
			Code: types.ErrAmountExceedsLimit,
			Message: fmt.Sprintf("payment of %s exceeds limit of %s",
				utils.FormatAtomicAmount(req.Amount, int(e.decimals)),
				utils.FormatAtomicAmount(e.maxAmount, int(e.decimals))),
		}
	}

	recipient, err := e.validate(&req)
	if err != nil {
		return nil, err
	}

	if e.isSubmitted(req.Reference) {
		return nil, fmt.Errorf("%w: %s", types.ErrDuplicateReference, req.Reference)
	}
	if !e.signer.CanSign() {
		return nil, types.ErrNoKeyMaterial
	}

	payer := e.signer.PublicKey()

	var balance uint64
	err = utils.RetryLedger(ctx, e.ledgerRetries, e.ledgerBackoff, func(ctx context.Context) error {
		var err error
		balance, err = e.ledger.GetBalance(ctx, payer, e.mint)
		return err
	})
	if err != nil {
		return nil, err
	}
	if balance < req.Amount {
		return nil, &types.InsufficientBalanceError{Required: req.Amount, Available: balance}
	}

	var blockhash solana.Hash
	err = utils.RetryLedger(ctx, e.ledgerRetries, e.ledgerBackoff, func(ctx context.Context) error {
		var err error
		blockhash, err = e.ledger.LatestBlockhash(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	tx, err := buildTransaction(transferPlan{
		Payer:     payer,
		Recipient: recipient,
		Mint:      e.mint,
		Amount:    req.Amount,
		Decimals:  e.decimals,
		Reference: req.Reference,
		Blockhash: blockhash,
	})
	if err != nil {
		return nil, err
	}

	if err := e.signer.SignTransaction(tx); err != nil {
		return nil, err
	}

	if err := e.reserve(ctx, req.Reference); err != nil {
		return nil, err
	}

	sig, err := e.submit(ctx, tx, req.Reference)
	if err != nil {
		e.metrics.IncCounter(metrics.EventPaymentFailed, map[string]string{"outcome": "submit"})
		return nil, err
	}

	e.logger.Info("payment submitted", map[string]any{
		"reference":      req.Reference,
		"transaction_id": sig.String(),
		"amount":         req.Amount,
		"recipient":      req.Recipient,
	})

	receipt, err := e.confirm(ctx, sig, req)
	if err != nil {
		e.metrics.IncCounter(metrics.EventPaymentFailed, map[string]string{"outcome": "confirm"})
		return nil, err
	}

	e.metrics.IncCounter(metrics.EventPayment, map[string]string{"outcome": "confirmed"})
	e.logger.Info("payment confirmed", map[string]any{
		"reference":      receipt.Reference,
		"transaction_id": receipt.TransactionID,
		"slot":           receipt.Slot,
	})

	event := events.PaymentEvent{
		Reference:     receipt.Reference,
		TransactionID: receipt.TransactionID,
		Payer:         payer.String(),
		Recipient:     req.Recipient,
		Resource:      req.Resource,
		Amount:        receipt.Amount,
		Confirmed:     receipt.Confirmed,
		OccurredAt:    e.now().UTC(),
	}
	if err := e.publisher.PublishPayment(ctx, event); err != nil {
		e.logger.Warn("failed to publish payment event", map[string]any{
			"reference": receipt.Reference,
			"error":     err,
		})
	}

	return receipt, nil
}

// CanPay reports whether the engine holds a key able to sign payments.
func (e *Engine) CanPay() bool {
	return e.signer.CanSign()
}

func (e *Engine) validate(req *types.PaymentRequirement) (solana.PublicKey, error) {
	if err := utils.ValidatePaymentRequirement(req); err != nil {
		return solana.PublicKey{}, err
	}
	if req.Expired(e.now()) {
		return solana.PublicKey{}, &types.X402Error{
			Code:    types.ErrExpiredPayment,
			Message: fmt.Sprintf("payment requirement %s expired at %s", req.Reference, req.ExpiresAt.Format(time.RFC3339)),
		}
	}

	recipient, err := solana.PublicKeyFromBase58(req.Recipient)
	if err != nil {
		return solana.PublicKey{}, &types.X402Error{
			Code:    types.ErrInvalidRequirements,
			Message: clients.ErrInvalidRecipient,
		}
	}

	asset, err := solana.PublicKeyFromBase58(req.Asset)
	if err != nil {
		return solana.PublicKey{}, &types.X402Error{
			Code:    types.ErrInvalidRequirements,
			Message: clients.ErrInvalidAsset,
		}
	}
	if !asset.Equals(e.mint) {
		return solana.PublicKey{}, &types.X402Error{
			Code:    types.ErrInvalidRequirements,
			Message: clients.ErrAssetMismatch,
			Data:    map[string]interface{}{"asset": req.Asset, "expected": e.mint.String()},
		}
	}

	return recipient, nil
}

func (e *Engine) isSubmitted(reference string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.submitted[reference]
}

// reserve marks reference as submitted. It is the last point at which a
// cancelled ctx aborts the payment without side effects.
func (e *Engine) reserve(ctx context.Context, reference string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if e.submitted[reference] {
		return fmt.Errorf("%w: %s", types.ErrDuplicateReference, reference)
	}
	e.submitted[reference] = true
	return nil
}

func (e *Engine) release(reference string) {
	e.mu.Lock()
	delete(e.submitted, reference)
	e.mu.Unlock()
}

// submit sends tx once. A transaction the node rejected during preflight never
// reached the ledger, so its reference is released.
func (e *Engine) submit(ctx context.Context, tx *solana.Transaction, reference string) (solana.Signature, error) {
	expected := tx.Signatures[0]

	sig, err := e.ledger.SendTransaction(ctx, tx)
	if err == nil {
		return sig, nil
	}

	var txErr *types.TransactionError
	if errors.As(err, &txErr) {
		e.release(reference)
		if txErr.TransactionID == "" {
			txErr.TransactionID = expected.String()
		}
		return solana.Signature{}, txErr
	}

	var unavailable *types.LedgerUnavailableError
	if errors.As(err, &unavailable) {
		// the transaction may have landed; its signature is known locally
		e.logger.Warn("ledger unavailable during submission, polling for outcome", map[string]any{
			"reference":      reference,
			"transaction_id": expected.String(),
			"error":          err,
		})
		return expected, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return solana.Signature{}, &types.PaymentTimeoutError{
			TransactionID: expected.String(),
			Reference:     reference,
			Err:           ctxErr,
		}
	}

	return solana.Signature{}, err
}

func (e *Engine) confirm(ctx context.Context, sig solana.Signature, req types.PaymentRequirement) (*types.PaymentReceipt, error) {
	start := e.now()
	confirmCtx, cancel := context.WithTimeout(ctx, e.confirmTimeout)
	defer cancel()

	observe := func(outcome string) {
		e.metrics.ObserveLatency(metrics.OpConfirm, e.now().Sub(start), map[string]string{"outcome": outcome})
	}

	for attempt := 0; ; attempt++ {
		status, err := e.ledger.SignatureStatus(confirmCtx, sig)
		switch {
		case err != nil:
			e.logger.Debug("signature status unavailable", map[string]any{
				"transaction_id": sig.String(),
				"attempt":        attempt,
				"error":          err,
			})
		case status.Failed:
			observe("failed")
			return nil, &types.TransactionError{
				TransactionID: sig.String(),
				Reason:        fmt.Sprintf("%s: %s", clients.ErrTransactionFailedOnChain, status.FailureReason),
			}
		case status.Confirmed():
			observe("confirmed")
			return &types.PaymentReceipt{
				Reference:     req.Reference,
				TransactionID: sig.String(),
				Confirmed:     true,
				Amount:        req.Amount,
				Slot:          status.Slot,
			}, nil
		}

		timer := time.NewTimer(e.pollBackoff.Next(attempt))
		select {
		case <-confirmCtx.Done():
			timer.Stop()
			observe("timeout")
			return nil, &types.PaymentTimeoutError{
				TransactionID: sig.String(),
				Reference:     req.Reference,
				Err:           confirmCtx.Err(),
			}
		case <-timer.C:
		}
	}
}
