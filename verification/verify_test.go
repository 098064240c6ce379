package verification

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oraclesentinel/sentinel-go/signer"
	"github.com/oraclesentinel/sentinel-go/types"
)

// fakeChallenges issues challenges and checks signatures like the server does.
type fakeChallenges struct {
	mu         sync.Mutex
	balances   map[string]uint64
	threshold  uint64
	issued     map[string]bool
	requests   atomic.Int32
	verifies   atomic.Int32
	tamper     bool
	gate       chan struct{}
	requestErr error
	answerFor  string
}

func newFakeChallenges() *fakeChallenges {
	return &fakeChallenges{
		balances:  make(map[string]uint64),
		threshold: types.DefaultHolderThreshold,
		issued:    make(map[string]bool),
	}
}

func (f *fakeChallenges) RequestChallenge(ctx context.Context, wallet string) (*types.Challenge, error) {
	f.requests.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.requestErr != nil {
		return nil, f.requestErr
	}

	value := wallet + "-" + time.Now().Format(time.RFC3339Nano)
	f.mu.Lock()
	f.issued[value] = true
	f.mu.Unlock()

	return &types.Challenge{Value: value, Wallet: wallet, ExpiresAt: time.Now().Add(time.Minute)}, nil
}

func (f *fakeChallenges) VerifyChallenge(_ context.Context, wallet, challenge string, sig solana.Signature) (*types.HolderStatus, error) {
	f.verifies.Add(1)

	f.mu.Lock()
	live := f.issued[challenge]
	delete(f.issued, challenge)
	balance := f.balances[wallet]
	f.mu.Unlock()

	if !live {
		return nil, &types.APIError{StatusCode: 401, Body: `{"error":"challenge_consumed"}`}
	}

	msg := []byte(challenge)
	if f.tamper {
		msg = append(msg, 'x')
	}
	if !signer.Verify(solana.MustPublicKeyFromBase58(wallet), msg, sig) {
		return nil, &types.SignatureVerificationError{Wallet: wallet, Reason: "signature_mismatch"}
	}

	if f.answerFor != "" {
		wallet = f.answerFor
	}
	return &types.HolderStatus{
		Wallet:        wallet,
		Balance:       balance,
		Threshold:     f.threshold,
		HasFreeAccess: balance >= f.threshold,
		Proof:         "proof-" + wallet,
	}, nil
}

func newTestHolder(t *testing.T) *signer.Holder {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	h, err := signer.NewHolder(key)
	require.NoError(t, err)
	t.Cleanup(h.Close)
	return h
}

func newTestEvaluator(t *testing.T, challenges ChallengeService, s Signer, now func() time.Time) *Evaluator {
	t.Helper()
	e, err := NewEvaluator(EvaluatorConfig{
		Challenges: challenges,
		Signer:     s,
		TTL:        time.Minute,
		Now:        now,
	})
	require.NoError(t, err)
	return e
}

func TestEvaluateThresholdBoundary(t *testing.T) {
	tests := []struct {
		name    string
		balance uint64
		want    bool
	}{
		{"below threshold", 999, false},
		{"at threshold", 1000, true},
		{"above threshold", 1500, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			holder := newTestHolder(t)
			fake := newFakeChallenges()
			fake.balances[holder.PublicKey().String()] = tt.balance

			status, err := newTestEvaluator(t, fake, holder, nil).Evaluate(context.Background(), holder.PublicKey())
			require.NoError(t, err)
			assert.Equal(t, tt.want, status.HasFreeAccess)
			assert.Equal(t, tt.balance, status.Balance)
			assert.Equal(t, holder.PublicKey().String(), status.Wallet)
			assert.False(t, status.VerifiedAt.IsZero())
		})
	}
}

func TestEvaluateCacheTTL(t *testing.T) {
	holder := newTestHolder(t)
	fake := newFakeChallenges()
	fake.balances[holder.PublicKey().String()] = 1500

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	e := newTestEvaluator(t, fake, holder, clock)
	ctx := context.Background()

	_, err := e.Evaluate(ctx, holder.PublicKey())
	require.NoError(t, err)

	now = now.Add(59 * time.Second)
	status, err := e.Evaluate(ctx, holder.PublicKey())
	require.NoError(t, err)
	assert.True(t, status.HasFreeAccess)
	assert.Equal(t, int32(1), fake.requests.Load(), "fresh entry must not reach the server")

	now = now.Add(2 * time.Second)
	_, err = e.Evaluate(ctx, holder.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, int32(2), fake.requests.Load(), "expired entry must be re-evaluated")
}

func TestRefreshBypassesCache(t *testing.T) {
	holder := newTestHolder(t)
	fake := newFakeChallenges()
	wallet := holder.PublicKey().String()
	fake.balances[wallet] = 999

	e := newTestEvaluator(t, fake, holder, nil)
	ctx := context.Background()

	status, err := e.Evaluate(ctx, holder.PublicKey())
	require.NoError(t, err)
	assert.False(t, status.HasFreeAccess)

	fake.mu.Lock()
	fake.balances[wallet] = 1000
	fake.mu.Unlock()

	status, err = e.Refresh(ctx, holder.PublicKey())
	require.NoError(t, err)
	assert.True(t, status.HasFreeAccess)
	assert.Equal(t, int32(2), fake.verifies.Load())
}

func TestEvaluateReadOnlyMakesNoServerCalls(t *testing.T) {
	wallet := solana.NewWallet().PublicKey()
	fake := newFakeChallenges()
	fake.balances[wallet.String()] = 5000

	status, err := newTestEvaluator(t, fake, signer.NewReadOnly(wallet), nil).Evaluate(context.Background(), wallet)
	require.NoError(t, err)
	assert.False(t, status.HasFreeAccess)
	assert.Zero(t, fake.requests.Load())
	assert.Zero(t, fake.verifies.Load())
}

func TestEvaluateForeignWalletIsNotHolder(t *testing.T) {
	holder := newTestHolder(t)
	other := solana.NewWallet().PublicKey()
	fake := newFakeChallenges()
	fake.balances[other.String()] = 5000

	status, err := newTestEvaluator(t, fake, holder, nil).Evaluate(context.Background(), other)
	require.NoError(t, err)
	assert.False(t, status.HasFreeAccess)
	assert.Zero(t, fake.requests.Load())
}

func TestEvaluateSignatureMismatch(t *testing.T) {
	holder := newTestHolder(t)
	fake := newFakeChallenges()
	fake.balances[holder.PublicKey().String()] = 5000
	fake.tamper = true

	_, err := newTestEvaluator(t, fake, holder, nil).Evaluate(context.Background(), holder.PublicKey())
	var sigErr *types.SignatureVerificationError
	require.ErrorAs(t, err, &sigErr)
	assert.Equal(t, holder.PublicKey().String(), sigErr.Wallet)
}

func TestEvaluateErrorIsNotCached(t *testing.T) {
	holder := newTestHolder(t)
	fake := newFakeChallenges()
	fake.requestErr = errors.New("boom")

	e := newTestEvaluator(t, fake, holder, nil)
	_, err := e.Evaluate(context.Background(), holder.PublicKey())
	require.Error(t, err)

	fake.requestErr = nil
	fake.balances[holder.PublicKey().String()] = 1000
	status, err := e.Evaluate(context.Background(), holder.PublicKey())
	require.NoError(t, err)
	assert.True(t, status.HasFreeAccess)
}

func TestEvaluateCoalescesConcurrentCalls(t *testing.T) {
	holder := newTestHolder(t)
	fake := newFakeChallenges()
	fake.balances[holder.PublicKey().String()] = 2000
	fake.gate = make(chan struct{})

	e := newTestEvaluator(t, fake, holder, nil)

	const callers = 8
	var wg sync.WaitGroup
	results := make(chan types.HolderStatus, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, err := e.Evaluate(context.Background(), holder.PublicKey())
			assert.NoError(t, err)
			results <- status
		}()
	}

	require.Eventually(t, func() bool { return fake.requests.Load() >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(fake.gate)
	wg.Wait()
	close(results)

	for status := range results {
		assert.True(t, status.HasFreeAccess)
	}
	assert.LessOrEqual(t, fake.verifies.Load(), int32(callers))
	assert.Equal(t, fake.requests.Load(), fake.verifies.Load())
}

func TestEvaluateCallerCancellationDoesNotFailSharedCall(t *testing.T) {
	holder := newTestHolder(t)
	fake := newFakeChallenges()
	fake.balances[holder.PublicKey().String()] = 2000
	fake.gate = make(chan struct{})

	e := newTestEvaluator(t, fake, holder, nil)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()
	firstErr := make(chan error, 1)
	go func() {
		_, err := e.Evaluate(firstCtx, holder.PublicKey())
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return fake.requests.Load() >= 1 }, time.Second, 5*time.Millisecond)

	type result struct {
		status types.HolderStatus
		err    error
	}
	second := make(chan result, 1)
	go func() {
		status, err := e.Evaluate(context.Background(), holder.PublicKey())
		second <- result{status, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(fake.gate)
	select {
	case res := <-second:
		require.NoError(t, res.err)
		assert.True(t, res.status.HasFreeAccess)
	case <-time.After(time.Second):
		t.Fatal("second caller never returned")
	}
	assert.Equal(t, int32(1), fake.requests.Load())
}

func TestEvaluateRejectsVerdictForOtherWallet(t *testing.T) {
	holder := newTestHolder(t)
	other := newTestHolder(t)
	fake := newFakeChallenges()
	fake.balances[holder.PublicKey().String()] = 5000
	fake.answerFor = other.PublicKey().String()

	e := newTestEvaluator(t, fake, holder, nil)

	_, err := e.Evaluate(context.Background(), holder.PublicKey())
	var protoErr *types.ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Contains(t, protoErr.Reason, other.PublicKey().String())

	_, err = e.cache.Get(context.Background(), holder.PublicKey().String())
	assert.ErrorIs(t, err, ErrCacheMiss)

	fake.answerFor = ""
	status, err := e.Evaluate(context.Background(), holder.PublicKey())
	require.NoError(t, err)
	assert.True(t, status.HasFreeAccess)
	assert.Equal(t, int32(2), fake.requests.Load())
}

func TestNewEvaluatorRequiresChallenges(t *testing.T) {
	_, err := NewEvaluator(EvaluatorConfig{})
	require.Error(t, err)
}
