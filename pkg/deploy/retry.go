package deploy

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/livyctl/pkg/livy"
	"github.com/3leaps/livyctl/pkg/provider"
)

// Retry defaults for uploads.
const (
	DefaultAttempts = 3
	DefaultDelay    = 2 * time.Second
)

// Retrying retries a Deployer a bounded number of times with a fixed delay.
// Missing local files, rejected credentials and cancellation are not
// retried.
type Retrying struct {
	Next     Deployer
	Attempts int
	Delay    time.Duration

	// Sleep replaces the context-aware wait, for tests.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *zap.Logger
}

var _ Deployer = (*Retrying)(nil)

// Upload returns the total number of attempts made, successful or not.
func (r *Retrying) Upload(ctx context.Context, localPath string, t Target) (string, int, error) {
	attempts := r.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	delay := r.Delay
	if delay <= 0 {
		delay = DefaultDelay
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = livy.SleepContext
	}
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		uri, _, err := r.Next.Upload(ctx, localPath, t)
		if err == nil {
			return uri, i, nil
		}
		lastErr = err
		if !retryable(ctx, err) || i == attempts {
			return "", i, err
		}
		logger.Warn("Artifact upload failed, retrying",
			zap.String("path", localPath), zap.Int("attempt", i), zap.Int("max_attempts", attempts), zap.Error(err))
		if err := sleep(ctx, delay); err != nil {
			return "", i, err
		}
	}
	return "", attempts, lastErr
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var local *LocalFileError
	if errors.As(err, &local) {
		return false
	}
	return !provider.IsPermanent(err)
}
