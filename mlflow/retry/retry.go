/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package retry retries transient failures of tracking-server calls with
// capped exponential backoff.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/chainguard-dev/clog"
)

// Policy bounds how often and how long an operation is retried. The env tags
// let binaries embed it in their envconfig structs.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt. 0 disables retries.
	MaxRetries int `env:"MAX_RETRIES,default=4"`
	// BaseBackoff is the wait before the first retry; each retry doubles it.
	BaseBackoff time.Duration `env:"BASE_BACKOFF,default=500ms"`
	// MaxBackoff caps the exponential wait, before jitter.
	MaxBackoff time.Duration `env:"MAX_BACKOFF,default=30s"`
	// MaxJitter is the upper bound of the random delay added to every wait.
	MaxJitter time.Duration `env:"MAX_JITTER,default=250ms"`
}

// Validate checks that the policy has no negative values.
func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return errors.New("max retries cannot be negative")
	}
	if p.BaseBackoff < 0 {
		return errors.New("base backoff cannot be negative")
	}
	if p.MaxBackoff < 0 {
		return errors.New("max backoff cannot be negative")
	}
	if p.MaxJitter < 0 {
		return errors.New("max jitter cannot be negative")
	}
	return nil
}

// DefaultPolicy returns the policy used for tracking-server requests.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:  4,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  30 * time.Second,
		MaxJitter:   250 * time.Millisecond,
	}
}

// Backoff returns the wait before retry number attempt (zero based), without jitter.
func (p Policy) Backoff(attempt int) time.Duration {
	d := p.BaseBackoff
	for i := 0; i < attempt && d < p.MaxBackoff; i++ {
		d *= 2
	}
	return max(0, min(d, p.MaxBackoff))
}

// RetryAfter is implemented by errors that carry a server-provided wait,
// such as an HTTP Retry-After header. A positive hint replaces the computed
// backoff for that attempt.
type RetryAfter interface {
	RetryAfter() time.Duration
}

// Do calls fn until it succeeds, returns an error isRetryable rejects, the
// policy runs out of retries, or ctx is done.
func Do[T any](ctx context.Context, p Policy, operation string, isRetryable func(error) bool, fn func(context.Context) (T, error)) (T, error) {
	var (
		result  T
		lastErr error
	)
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		result, lastErr = fn(ctx)
		if lastErr == nil {
			return result, nil
		}
		if !isRetryable(lastErr) || attempt == p.MaxRetries {
			break
		}

		wait := p.Backoff(attempt)
		var hint RetryAfter
		if errors.As(lastErr, &hint) && hint.RetryAfter() > 0 {
			wait = hint.RetryAfter()
		}
		wait += p.jitter()

		clog.FromContext(ctx).With("operation", operation).
			With("attempt", attempt+1).
			With("max_retries", p.MaxRetries).
			With("backoff", wait).
			With("error", lastErr.Error()).
			Warn("Transient failure, retrying")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, ctx.Err()
		case <-timer.C:
		}
	}

	if !isRetryable(lastErr) {
		return result, lastErr
	}
	return result, fmt.Errorf("%s failed after %d retries: %w", operation, p.MaxRetries, lastErr)
}

func (p Policy) jitter() time.Duration {
	if p.MaxJitter <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(p.MaxJitter)))
	if err != nil {
		return 0
	}
	return time.Duration(n.Int64())
}
