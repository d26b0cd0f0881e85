package domain

import (
	"context"
	"time"

	"github.com/micro-manager/mmgocorex/pkg/logging"
)

type RetryPingOptions struct {
	RetryAttempts int
	RetryInterval time.Duration
}

// RetryPing pings the core until it responds, backing off between attempts.
// A freshly spawned headless instance needs a moment before its bridge port
// accepts connections.
func RetryPing(ctx context.Context, core Core, options RetryPingOptions, logger logging.Logger) error {
	logger.Infof("Pinging core...")

	var err error
	retryAttempts := options.RetryAttempts
	retryInterval := options.RetryInterval
	for retryAttempts > 0 {
		err = core.Ping(ctx)
		if err == nil {
			break
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		logger.Infof("Ping failed, retrying in %s", retryInterval)

		select {
		case <-time.After(retryInterval):
		case <-ctx.Done():
			return ctx.Err()
		}

		retryInterval = retryInterval * 2
		retryAttempts--
	}

	if err != nil {
		logger.Errorf("Failed to ping core: %v", err)
		return err
	}

	logger.Infof("Ping done")
	return nil
}
