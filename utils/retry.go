package utils

import (
	"context"
	"errors"
	"time"

	"github.com/gojek/heimdall/v7"
	"github.com/oraclesentinel/sentinel-go/types"
)

// DefaultLedgerBackoff is used for retrying ledger reads.
func DefaultLedgerBackoff() heimdall.Backoff {
	return heimdall.NewExponentialBackoff(250*time.Millisecond, 4*time.Second, 2.0, 50*time.Millisecond)
}

// RetryLedger runs fn until it succeeds, fails with an error other than
// *types.LedgerUnavailableError, or retries are exhausted. The last error is returned.
func RetryLedger(ctx context.Context, retries int, backoff heimdall.Backoff, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}

		var unavailable *types.LedgerUnavailableError
		if !errors.As(err, &unavailable) || attempt >= retries {
			return err
		}

		timer := time.NewTimer(backoff.Next(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}
