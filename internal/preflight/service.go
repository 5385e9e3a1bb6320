package preflight

import (
	"context"
	"fmt"
	"time"
)

// DefaultServiceTimeout bounds a single service probe.
const DefaultServiceTimeout = 5 * time.Second

// Service is a remote dependency probed by CheckService.
type Service struct {
	// Name appears in the result, e.g. "embedder".
	Name string
	// Target is shown in the message, e.g. the server URL.
	Target string
	// Required services fail the check; optional ones only warn.
	Required bool
	// Timeout defaults to DefaultServiceTimeout.
	Timeout time.Duration
	// Ping returns nil when the service is usable.
	Ping func(ctx context.Context) error
}

// CheckService runs s.Ping under a timeout.
func (c *Checker) CheckService(ctx context.Context, s Service) CheckResult {
	result := CheckResult{Name: s.Name, Required: s.Required}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultServiceTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if err := s.Ping(pingCtx); err != nil {
		result.Status = StatusWarn
		if s.Required {
			result.Status = StatusFail
		}
		result.Message = fmt.Sprintf("%s unreachable", s.Target)
		result.Details = err.Error()
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s OK (%s)", s.Target, time.Since(start).Round(time.Millisecond))
	return result
}
