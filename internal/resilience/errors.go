// Package resilience wraps external calls with bounded retry, exponential
// backoff, and transient/terminal error classification. Every component
// that touches the network goes through an Executor.
package resilience

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// TransientNetworkError marks a failure worth retrying: timeouts,
// connection resets, DNS hiccups, 5xx responses.
type TransientNetworkError struct {
	Op  string
	Err error
}

func (e *TransientNetworkError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transient failure: %v", e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// AuthError marks a terminal credential or authorization failure. It is
// never retried.
type AuthError struct {
	Provider string
	Err      error
}

func (e *AuthError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: authentication failed: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RateLimitError marks a 429-style rejection. Retried, but with a longer
// forced delay than plain transient failures.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: rate limited: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("rate limited: %v", e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// ProviderUnavailableError reports that every provider a stage depends on
// was exhausted. The stage fails; previously gathered data is preserved.
type ProviderUnavailableError struct {
	Providers []string
}

func (e *ProviderUnavailableError) Error() string {
	return "all source providers unavailable: " + strings.Join(e.Providers, ", ")
}

// Message markers that classify an error as terminal when no typed error
// is available.
var nonRetryableMarkers = []string{
	"401",
	"403",
	"404",
	"not configured",
	"authentication",
}

// IsNonRetryable reports whether err must propagate without further
// attempts: typed auth errors, or messages indicating
// authentication/authorization/not-found.
func IsNonRetryable(err error) bool {
	if err == nil {
		return false
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range nonRetryableMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// RateLimitDelay reports whether err is a rate-limit rejection and any
// provider-suggested wait.
func RateLimitDelay(err error) (time.Duration, bool) {
	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		return rlErr.RetryAfter, true
	}
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "429") {
		return 0, true
	}
	return 0, false
}

// HTTPStatusError maps a non-2xx response to the taxonomy. Providers and
// the LLM client use this so the executor can classify by type instead of
// scraping messages.
func HTTPStatusError(provider string, statusCode int, body string) error {
	base := fmt.Errorf("status %d: %s", statusCode, strings.TrimSpace(body))
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return &AuthError{Provider: provider, Err: base}
	case statusCode == http.StatusTooManyRequests:
		return &RateLimitError{Provider: provider, Err: base}
	case statusCode >= 500:
		return &TransientNetworkError{Op: provider, Err: base}
	default:
		return fmt.Errorf("%s returned %w", provider, base)
	}
}
