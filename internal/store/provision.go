package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	ragerrors "github.com/bg073/jarvis-rag/internal/errors"
)

// Provisioner retries partition creation with a fixed backoff.
type Provisioner struct {
	Attempts int
	Backoff  time.Duration
}

// NewProvisioner returns a Provisioner; non-positive values fall back to
// 10 attempts and 2s.
func NewProvisioner(attempts int, backoff time.Duration) *Provisioner {
	if attempts <= 0 {
		attempts = 10
	}
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	return &Provisioner{Attempts: attempts, Backoff: backoff}
}

// Ensure runs create until it succeeds or attempts are exhausted, in
// which case it returns a ProvisioningError for partition.
func (p *Provisioner) Ensure(ctx context.Context, partition string, create func(context.Context) error) error {
	cfg := ragerrors.FixedRetryConfig(p.Attempts, p.Backoff)
	cfg.OnRetry = func(attempt int, err error) {
		slog.Warn("partition_provision_retry",
			slog.String("partition", partition),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", p.Attempts),
			slog.String("error", err.Error()))
	}

	err := ragerrors.Retry(ctx, cfg, func() error { return create(ctx) })
	if err != nil {
		return ragerrors.ProvisioningError(partition, err)
	}
	return nil
}

// Pinger is anything with a liveness check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// WaitReady polls target until Ping succeeds, making at most attempts
// calls spaced by interval.
func WaitReady(ctx context.Context, name string, target Pinger, attempts int, interval time.Duration) error {
	cfg := ragerrors.FixedRetryConfig(attempts, interval)
	cfg.OnRetry = func(attempt int, err error) {
		slog.Info("backend_not_ready",
			slog.String("backend", name),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
	}

	if err := ragerrors.Retry(ctx, cfg, func() error { return target.Ping(ctx) }); err != nil {
		return ragerrors.New(ragerrors.ErrCodeNetworkUnavailable,
			fmt.Sprintf("%s not ready after %d attempts", name, attempts), err)
	}
	slog.Info("backend_ready", slog.String("backend", name))
	return nil
}
