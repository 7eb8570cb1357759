package db

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a single logical datastore operation.
type Policy struct {
	// OpTimeout bounds each attempt.
	OpTimeout time.Duration
	// Attempts is the total number of tries, including the first one.
	Attempts int
	// InitialInterval is the first backoff delay. Defaults to 50ms.
	InitialInterval time.Duration
}

// DefaultPolicy is used when a component is built without an explicit policy.
var DefaultPolicy = Policy{OpTimeout: 5 * time.Second, Attempts: 3}

// Once runs op a single time under the policy's timeout.
// Use it for operations that are not safe to repeat.
func (p Policy) Once(ctx context.Context, op func(ctx context.Context) error) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	return op(ctx)
}

// Retry runs op until it succeeds, returns an error that retryable rejects,
// or the attempts are exhausted. Only idempotent operations may be retried.
func (p Policy) Retry(ctx context.Context, retryable func(error) bool, op func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	if eb.InitialInterval <= 0 {
		eb.InitialInterval = 50 * time.Millisecond
	}
	eb.MaxInterval = time.Second
	eb.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)

	return backoff.Retry(func() error {
		err := p.Once(ctx, op)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

func (p Policy) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.OpTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.OpTimeout)
}
