// Package retry runs an operation under a bounded exponential backoff and
// substitutes a caller-supplied fallback once every attempt has failed.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// Policy bounds the attempts. The delay before attempt n+1 is BaseDelay*2^(n-1).
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Permanent, when set, marks errors that must not be retried.
	Permanent func(error) bool
	// Name labels log lines.
	Name string
}

// Default is three attempts spaced one and two seconds apart.
var Default = Policy{MaxAttempts: 3, BaseDelay: time.Second}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = p.BaseDelay << uint(attempts)
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Do calls fn until it succeeds, the attempts run out, a permanent error is
// returned, or ctx is done. On failure it returns fallback together with the
// last error so callers can log it; the fallback is the value to use.
func Do[T any](ctx context.Context, p Policy, fallback T, fn func(context.Context) (T, error)) (T, error) {
	var out T
	attempt := 0
	op := func() error {
		attempt++
		v, err := fn(ctx)
		if err != nil {
			if p.Permanent != nil && p.Permanent(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = v
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Debug().Str("op", p.Name).Int("attempt", attempt).Dur("wait", wait).Err(err).Msg("retrying")
	}
	if err := backoff.RetryNotify(op, p.backOff(ctx), notify); err != nil {
		return fallback, err
	}
	return out, nil
}
