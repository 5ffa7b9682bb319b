package hub

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/fingerworks/finger/internal/types"
)

// Blocking-send retry defaults, overridable through the FINGER_* environment
const (
	DefaultBlockingTimeout = 600 * time.Second
	DefaultMaxRetries      = 5
	DefaultRetryBase       = 750 * time.Millisecond
	MaxRetryDelay          = 30 * time.Second
)

// StatusError carries an HTTP-like status code surfaced by a module reply
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("status %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("status %d", e.Code)
}

// BlockingPolicy bounds the retry loop used by the external blocking-send
// boundary. The scheduler's own execution path does not retry.
type BlockingPolicy struct {
	Timeout    time.Duration
	MaxRetries int
	RetryBase  time.Duration
}

// PolicyFromEnv reads the blocking-send tunables from the environment
func PolicyFromEnv() BlockingPolicy {
	return BlockingPolicy{
		Timeout:    time.Duration(types.EnvInt(types.EnvBlockingTimeoutMs, int(DefaultBlockingTimeout/time.Millisecond))) * time.Millisecond,
		MaxRetries: types.EnvInt(types.EnvBlockingMaxRetries, DefaultMaxRetries),
		RetryBase:  time.Duration(types.EnvInt(types.EnvBlockingRetryBaseMs, int(DefaultRetryBase/time.Millisecond))) * time.Millisecond,
	}
}

// Error markers that must never be retried regardless of shape
var nonRetryableMarkers = []string{
	"daily_cost_limit_exceeded",
	"insufficient_quota",
	"unauthorized",
	"forbidden",
}

// Retryable 4xx codes (request timeout, conflict, too early, rate limited)
var retryable4xx = map[int]bool{408: true, 409: true, 425: true, 429: true}

// IsRetryable classifies a send failure. Connect/reset/timeout and 5xx
// indicators retry; 4xx (outside the retryable set) and hard quota/auth
// failures do not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range nonRetryableMarkers {
		if strings.Contains(msg, marker) {
			return false
		}
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Code >= 500 {
			return true
		}
		if statusErr.Code >= 400 {
			return retryable4xx[statusErr.Code]
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"timeout",
		"timed out",
		"temporarily unavailable",
		"no responders",
		"eof",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// BlockingSend resolves the target, then sends with the bounded retry loop:
// exponential backoff starting at RetryBase, doubling per attempt, capped at
// MaxRetryDelay, all under the overall Timeout.
func (h *Hub) BlockingSend(ctx context.Context, policy BlockingPolicy, target string, payload map[string]any) (any, error) {
	moduleID, ok := h.Resolve(target, payload)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, target)
	}

	if policy.Timeout <= 0 {
		policy.Timeout = DefaultBlockingTimeout
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.RetryBase <= 0 {
		policy.RetryBase = DefaultRetryBase
	}

	ctx, cancel := context.WithTimeout(ctx, policy.Timeout)
	defer cancel()

	var lastErr error
	delay := policy.RetryBase
	for attempt := 0; ; attempt++ {
		result, err := h.SendToModule(ctx, moduleID, payload)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, fmt.Errorf("blocking send to %s: %w", moduleID, lastErr)
		}
		if attempt >= policy.MaxRetries || !IsRetryable(err) {
			return nil, fmt.Errorf("blocking send to %s: %w", moduleID, lastErr)
		}

		log.Printf("[HUB] Retryable failure from %s (attempt %d/%d), backing off %v: %v",
			moduleID, attempt+1, policy.MaxRetries, delay, err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("blocking send to %s: %w", moduleID, lastErr)
		}

		delay *= 2
		if delay > MaxRetryDelay {
			delay = MaxRetryDelay
		}
	}
}
