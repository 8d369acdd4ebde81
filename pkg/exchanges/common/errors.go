package common

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrReauthorizationRequired is surfaced by adapters whose tokens expire at
	// a fixed wall-clock boundary and cannot be refreshed silently. Callers
	// must prompt a full re-authorization instead of retrying.
	ErrReauthorizationRequired = errors.New("reauthorization required")

	// ErrNoPosition is returned by GetPosition when the venue reports no open
	// position for the symbol.
	ErrNoPosition = errors.New("no open position")

	// ErrOrderNotFound is returned by GetOrder/CancelOrder for unknown ids.
	ErrOrderNotFound = errors.New("order not found")
)

// APIError is a venue HTTP response the adapter could not treat as success.
type APIError struct {
	Status  int    // HTTP status code
	Code    string // venue-specific error code, when present
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("exchange api status %d code %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("exchange api status %d: %s", e.Status, e.Message)
}

// Retryable reports whether the failure is transient (429 or 5xx). Definitive
// 4xx validation failures are never retried.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// IsRateLimited reports whether err is a venue 429.
func IsRateLimited(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == http.StatusTooManyRequests
}

// IsRejected reports whether err is a definitive venue 4xx rejection
// (bad symbol, precision violation, insufficient funds on the venue side).
func IsRejected(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status >= 400 && ae.Status < 500 &&
		ae.Status != http.StatusTooManyRequests
}
