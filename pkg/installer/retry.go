package installer

import (
	"context"

	"github.com/cenkalti/backoff/v4"
)

// InstallWithRetry re-invokes Install up to policy.Attempts times with a
// constant delay between attempts. After a successful attempt it pauses for
// the settle delay before returning, letting the package-manager process
// release its file locks. Each attempt is bounded by the policy's per-attempt
// timeout.
func (i *Installer) InstallWithRetry(ctx context.Context, requests []PackageRequest, policy RetryPolicy) error {
	if len(requests) == 0 {
		return nil
	}
	if err := policy.Validate(); err != nil {
		return err
	}

	attempt := 0
	operation := func() error {
		attempt++
		attemptCtx := ctx
		if policy.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, policy.AttemptTimeout)
			defer cancel()
		}

		err := i.Install(attemptCtx, requests)
		if err != nil {
			i.log.WithError(err).Warnf("install attempt %d/%d failed", attempt, policy.Attempts)
		}
		return err
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewConstantBackOff(policy.Delay),
			uint64(policy.Attempts-1),
		),
		ctx,
	)
	if err := backoff.Retry(operation, b); err != nil {
		return err
	}

	if policy.SettleDelay > 0 {
		i.sleep(policy.SettleDelay)
	}
	return nil
}
