package queue

import (
	"time"

	"github.com/huykn/pos-sync/types"
)

// Policy bounds how long and how often a queued action is retried.
type Policy struct {
	// MaxRetry is the number of failed attempts tolerated. An action whose
	// retry count would exceed it is evicted.
	MaxRetry int

	// MaxAge is the oldest an action may be before it is pruned unprocessed.
	MaxAge time.Duration

	// BaseDelay is the backoff step per retry.
	BaseDelay time.Duration

	// MaxDelay caps the backoff.
	MaxDelay time.Duration
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetry:  5,
		MaxAge:    7 * 24 * time.Hour,
		BaseDelay: time.Second,
		MaxDelay:  10 * time.Second,
	}
}

// Validate validates the policy.
func (p Policy) Validate() error {
	if p.MaxRetry < 0 || p.MaxAge <= 0 || p.BaseDelay < 0 || p.MaxDelay < 0 {
		return ErrInvalidPolicy
	}
	return nil
}

// Backoff returns the delay before an attempt of an action that has already
// failed retryCount times: min(MaxDelay, BaseDelay*retryCount). The first
// attempt is immediate.
func (p Policy) Backoff(retryCount int) time.Duration {
	if retryCount <= 0 || p.BaseDelay <= 0 {
		return 0
	}
	if time.Duration(retryCount) > p.MaxDelay/p.BaseDelay {
		return p.MaxDelay
	}
	d := p.BaseDelay * time.Duration(retryCount)
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Expired reports whether a is older than MaxAge at now.
func (p Policy) Expired(a types.MutationAction, now time.Time) bool {
	return now.Sub(a.CreatedAt) > p.MaxAge
}

// Exceeded reports whether a has used up its retry budget.
func (p Policy) Exceeded(a types.MutationAction) bool {
	return a.RetryCount > p.MaxRetry
}

// Exhausted reports whether one more failure of a must evict it.
func (p Policy) Exhausted(a types.MutationAction) bool {
	return a.RetryCount+1 > p.MaxRetry
}
