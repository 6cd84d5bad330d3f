// Package retry runs delayed, bounded retry loops against an injectable
// clock so reattachment and crash recovery can be driven deterministically
// in tests.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is returned when every attempt of a Policy failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Clock abstracts the passage of time.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

// Policy waits Delay before each of up to Attempts attempts.
type Policy struct {
	Delay    time.Duration `mapstructure:"delay" yaml:"delay"`
	Attempts int           `mapstructure:"attempts" yaml:"attempts"`
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Do stops and returns it unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs fn until it succeeds, returns a Permanent error, the context ends,
// or the policy's attempts are used up. The attempt number starts at 1.
func Do(ctx context.Context, clock Clock, p Policy, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(p.Delay):
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		last = err
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, last)
}
