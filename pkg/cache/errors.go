package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNetwork marks a Redis or MongoDB call that failed in transport
	// rather than in the command itself.
	ErrNetwork = errors.New("network error")

	// ErrUnknownBackend is returned by [Open] for a backend name other than
	// file, redis, mongo or none.
	ErrUnknownBackend = errors.New("unknown cache backend")
)

// RetryableError marks a remote backend failure that may succeed when the
// same call is repeated, such as a dropped connection or a timeout.
type RetryableError struct{ Err error }

// Retryable marks err as retryable. It returns nil for a nil err.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// IsRetryable reports whether err carries a [RetryableError].
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

const retryAttempts = 3

// retryDelay is the pause after the first failed attempt. Later pauses
// double it.
var retryDelay = 200 * time.Millisecond

// RetryWithBackoff calls fn until it succeeds, returns an error that is not
// retryable, or has been called retryAttempts times. Cancelling ctx while
// waiting returns ctx.Err().
func RetryWithBackoff(ctx context.Context, fn func() error) error {
	var err error
	for attempt, delay := 1, retryDelay; ; attempt, delay = attempt+1, delay*2 {
		if err = fn(); err == nil || !IsRetryable(err) || attempt == retryAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
