// Package verification decides whether a wallet qualifies for free access by
// proving key ownership to the server through a signed challenge.
package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/sync/singleflight"

	"github.com/oraclesentinel/sentinel-go/logger"
	"github.com/oraclesentinel/sentinel-go/metrics"
	"github.com/oraclesentinel/sentinel-go/types"
)

// ChallengeService is the server side of the challenge-response exchange.
type ChallengeService interface {
	RequestChallenge(ctx context.Context, wallet string) (*types.Challenge, error)
	VerifyChallenge(ctx context.Context, wallet string, challenge string, sig solana.Signature) (*types.HolderStatus, error)
}

// Signer signs challenges on behalf of a wallet.
type Signer interface {
	PublicKey() solana.PublicKey
	CanSign() bool
	Sign(msg []byte) (solana.Signature, error)
}

// EvaluatorConfig configures an Evaluator. Only Challenges is required.
type EvaluatorConfig struct {
	Challenges ChallengeService
	Signer     Signer
	Cache      StatusCache
	TTL        time.Duration
	Timeout    time.Duration // bounds one challenge round trip
	Threshold  uint64        // reported when the server's verdict omits it
	Logger     logger.Logger
	Metrics    metrics.Recorder
	Now        func() time.Time
}

// Evaluator resolves a wallet's HolderStatus, caching verdicts for TTL.
type Evaluator struct {
	challenges ChallengeService
	signer     Signer
	cache      StatusCache
	ttl        time.Duration
	timeout    time.Duration
	threshold  uint64
	logger     logger.Logger
	metrics    metrics.Recorder
	now        func() time.Time

	group singleflight.Group
}

// NewEvaluator creates an evaluator
func NewEvaluator(cfg EvaluatorConfig) (*Evaluator, error) {
	if cfg.Challenges == nil {
		return nil, &types.X402Error{
			Code:    types.ErrConfigError,
			Message: "evaluator requires a challenge service",
		}
	}

	e := &Evaluator{
		challenges: cfg.Challenges,
		signer:     cfg.Signer,
		cache:      cfg.Cache,
		ttl:        cfg.TTL,
		timeout:    cfg.Timeout,
		threshold:  cfg.Threshold,
		logger:     logger.OrNoop(cfg.Logger),
		metrics:    metrics.OrNoop(cfg.Metrics),
		now:        cfg.Now,
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.ttl <= 0 {
		e.ttl = 60 * time.Second
	}
	if e.timeout <= 0 {
		e.timeout = 30 * time.Second
	}
	if e.cache == nil {
		e.cache = NewMemoryCache(e.now)
	}

	return e, nil
}

// Evaluate returns wallet's holder status. A fresh cached verdict is returned
// without network I/O. When the evaluator cannot sign for wallet the result is
// a non-holder status and the server is not contacted.
//
// A signature the server rejects is returned as *types.SignatureVerificationError
// and is never reported as a non-holder.
//
// Concurrent calls for one wallet share a single round trip. The shared work
// is detached from any one caller's cancellation; each caller stops waiting
// when its own ctx is done.
func (e *Evaluator) Evaluate(ctx context.Context, wallet solana.PublicKey) (types.HolderStatus, error) {
	key := wallet.String()

	if status, err := e.cache.Get(ctx, key); err == nil {
		e.metrics.IncCounter(metrics.EventCacheHit, nil)
		e.logger.Debug("holder status cache hit", map[string]any{
			"wallet":          key,
			"has_free_access": status.HasFreeAccess,
		})
		return *status, nil
	}

	ch := e.group.DoChan(key, func() (interface{}, error) {
		evalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
		defer cancel()
		return e.evaluate(evalCtx, wallet)
	})

	select {
	case <-ctx.Done():
		return types.HolderStatus{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return types.HolderStatus{}, res.Err
		}
		if res.Shared {
			e.logger.Debug("holder evaluation coalesced", map[string]any{"wallet": key})
		}
		return res.Val.(types.HolderStatus), nil
	}
}

// Refresh drops any cached verdict for wallet and evaluates again.
func (e *Evaluator) Refresh(ctx context.Context, wallet solana.PublicKey) (types.HolderStatus, error) {
	if err := e.Invalidate(ctx, wallet); err != nil {
		return types.HolderStatus{}, err
	}
	return e.Evaluate(ctx, wallet)
}

// Invalidate drops any cached verdict for wallet.
func (e *Evaluator) Invalidate(ctx context.Context, wallet solana.PublicKey) error {
	if err := e.cache.Delete(ctx, wallet.String()); err != nil && !errors.Is(err, ErrCacheMiss) {
		return fmt.Errorf("failed to invalidate holder status: %w", err)
	}
	return nil
}

func (e *Evaluator) evaluate(ctx context.Context, wallet solana.PublicKey) (types.HolderStatus, error) {
	key := wallet.String()

	if !e.canSignFor(wallet) {
		e.record("no_key")
		return e.nonHolder(key), nil
	}

	challenge, err := e.challenges.RequestChallenge(ctx, key)
	if err != nil {
		e.record("error")
		return types.HolderStatus{}, err
	}
	if challenge.Expired(e.now()) {
		e.record("error")
		return types.HolderStatus{}, &types.X402Error{
			Code:    types.ErrInvalidChallenge,
			Message: "server issued an already expired challenge",
		}
	}

	sig, err := e.signer.Sign([]byte(challenge.Value))
	if errors.Is(err, types.ErrNoKeyMaterial) {
		// holder closed between the check above and signing
		e.record("no_key")
		return e.nonHolder(key), nil
	}
	if err != nil {
		e.record("error")
		return types.HolderStatus{}, fmt.Errorf("failed to sign challenge: %w", err)
	}

	status, err := e.challenges.VerifyChallenge(ctx, key, challenge.Value, sig)
	if err != nil {
		var sigErr *types.SignatureVerificationError
		if errors.As(err, &sigErr) {
			e.logger.Warn("server rejected challenge signature", map[string]any{
				"wallet": key,
				"reason": sigErr.Reason,
			})
			e.record("signature_mismatch")
		} else {
			e.record("error")
		}
		return types.HolderStatus{}, err
	}

	if status.Wallet == "" {
		status.Wallet = key
	}
	if status.Wallet != key {
		e.record("error")
		return types.HolderStatus{}, &types.ProtocolError{
			Reason: fmt.Sprintf("holder status for %s returned for %s", status.Wallet, key),
		}
	}
	if status.Threshold == 0 {
		status.Threshold = e.threshold
	}
	if status.VerifiedAt.IsZero() {
		status.VerifiedAt = e.now()
	}

	if err := e.cache.Set(ctx, status, e.ttl); err != nil {
		e.logger.Warn("failed to cache holder status", map[string]any{
			"wallet": key,
			"error":  err,
		})
	}

	outcome := "non_holder"
	if status.HasFreeAccess {
		outcome = "holder"
	}
	e.record(outcome)
	e.logger.Info("holder status evaluated", map[string]any{
		"wallet":          key,
		"balance":         status.Balance,
		"threshold":       status.Threshold,
		"has_free_access": status.HasFreeAccess,
	})

	return *status, nil
}

func (e *Evaluator) canSignFor(wallet solana.PublicKey) bool {
	return e.signer != nil && e.signer.CanSign() && e.signer.PublicKey().Equals(wallet)
}

func (e *Evaluator) nonHolder(wallet string) types.HolderStatus {
	return types.HolderStatus{
		Wallet:     wallet,
		VerifiedAt: e.now(),
	}
}

func (e *Evaluator) record(outcome string) {
	e.metrics.IncCounter(metrics.EventEvaluation, map[string]string{"outcome": outcome})
}
