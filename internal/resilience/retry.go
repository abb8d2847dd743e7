package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrResultRejected is returned when the last attempt produced no error but
// its result was still rejected by the retry predicate.
var ErrResultRejected = errors.New("result rejected by retry predicate")

// Policy bounds a retry loop: at most MaxAttempts calls with a fixed Backoff
// between them.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
	// Notify, when set, is called before each wait with the attempt number
	// that just failed and the reason.
	Notify func(attempt int, err error, wait time.Duration)
}

// ShouldRetry decides whether an attempt's outcome warrants another try.
type ShouldRetry[T any] func(result T, err error) bool

// OnErrorOrEmpty retries failed calls and calls that returned no items.
func OnErrorOrEmpty[T any](result []T, err error) bool {
	return err != nil || len(result) == 0
}

// OnError retries failed calls only.
func OnError[T any](_ T, err error) bool {
	return err != nil
}

// Do runs op until shouldRetry accepts its outcome or the policy is exhausted.
// The last result is always returned, together with the last error.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error), shouldRetry ShouldRetry[T]) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var b backoff.BackOff = backoff.NewConstantBackOff(p.Backoff)
	b = backoff.WithMaxRetries(b, uint64(attempts-1))
	b = backoff.WithContext(b, ctx)

	attempt := 0
	operation := func() (T, error) {
		attempt++
		result, err := op(ctx)
		if !shouldRetry(result, err) {
			if err != nil {
				return result, backoff.Permanent(err)
			}
			return result, nil
		}
		if err == nil {
			err = ErrResultRejected
		}
		return result, err
	}

	var notify backoff.Notify
	if p.Notify != nil {
		notify = func(err error, wait time.Duration) {
			p.Notify(attempt, err, wait)
		}
	}

	return backoff.RetryNotifyWithData[T](operation, b, notify)
}
