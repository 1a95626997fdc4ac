package provision

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Default retry tuning for device API calls. Devices answer quickly or not
// at all, so a short constant delay beats an exponential ramp here.
const (
	defaultRetryAttempts = 3
	defaultRetryDelay    = 1500 * time.Millisecond
)

// RetryPolicy bounds repeated attempts at a single network step.
//
// Every device API call goes through a policy so a momentarily busy device
// (mid-reboot, Wi-Fi roaming) gets another chance, while a dead one fails
// the whole step after Attempts tries.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int

	// Delay is the fixed pause between tries.
	Delay time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured:
// 3 attempts, 1.5 seconds apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: defaultRetryAttempts, Delay: defaultRetryDelay}
}

// Run executes op until it succeeds, the attempt budget is exhausted, or
// ctx is cancelled. Wrap an error in backoff.Permanent inside op to stop
// retrying immediately.
func (p RetryPolicy) Run(ctx context.Context, op func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), uint64(attempts-1)),
		ctx,
	)

	return backoff.Retry(op, policy)
}
