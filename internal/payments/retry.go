package payments

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retry runs op with exponential backoff. op marks non-retryable errors
// with backoff.Permanent.
func retry(ctx context.Context, maxRetries uint64, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 15 * time.Second
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx))
}
