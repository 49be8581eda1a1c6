// Package apierr defines the typed error taxonomy shared by the account
// pool, the upstream client, and the HTTP front-end, plus the
// classification predicates and the client-facing status mapping.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Client-facing error types used in response bodies.
const (
	TypeInvalidRequest = "invalid_request_error"
	TypeAuthentication = "authentication_error"
	TypePermission     = "permission_error"
	TypeNotFound       = "not_found_error"
	TypeAPI            = "api_error"
)

// RateLimited reports quota exhaustion for one account, or for the whole
// pool when AccountID is empty. ResetMs is the parsed cooldown, 0 when
// unknown.
type RateLimited struct {
	AccountID string
	ResetMs   int64
}

func (e *RateLimited) Error() string {
	if e.AccountID == "" {
		return fmt.Sprintf("rate limited, retry in %dms", e.ResetMs)
	}
	return fmt.Sprintf("account %s rate limited, retry in %dms", e.AccountID, e.ResetMs)
}

// AuthInvalid reports an unusable credential. The same account must not be
// retried until a refresh succeeds.
type AuthInvalid struct {
	AccountID string
	Reason    string
}

func (e *AuthInvalid) Error() string {
	return fmt.Sprintf("account %s authentication invalid: %s", e.AccountID, e.Reason)
}

// NoAccounts means selection found no usable account.
type NoAccounts struct {
	AllRateLimited bool
	MinWaitMs      int64
}

func (e *NoAccounts) Error() string {
	if e.AllRateLimited {
		return fmt.Sprintf("all accounts are rate limited, minimum wait %dms", e.MinWaitMs)
	}
	return "no available accounts"
}

// MaxRetries terminates the dispatch loop after the attempt budget.
type MaxRetries struct {
	Attempts int
	Last     error
}

func (e *MaxRetries) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("request failed after %d attempts: %v", e.Attempts, e.Last)
	}
	return fmt.Sprintf("request failed after %d attempts", e.Attempts)
}

func (e *MaxRetries) Unwrap() error { return e.Last }

// Upstream is a non-2xx reply from the vendor service.
type Upstream struct {
	Status int
	Type   string
	Body   string
}

func (e *Upstream) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream error %d", e.Status)
	}
	return fmt.Sprintf("upstream error %d: %s", e.Status, snippet(e.Body))
}

// Retryable reports whether the same request may be retried elsewhere.
func (e *Upstream) Retryable() bool { return e.Status >= 500 }

// Transport wraps a network-level failure, retryable on the next endpoint.
type Transport struct {
	Cause error
}

func (e *Transport) Error() string { return "transport error: " + e.Cause.Error() }

func (e *Transport) Unwrap() error { return e.Cause }

// EndpointsExhausted means every configured endpoint failed for one
// attempt; surfaced to clients as 503.
type EndpointsExhausted struct {
	Last error
}

func (e *EndpointsExhausted) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("all endpoints failed: %v", e.Last)
	}
	return "all endpoints failed"
}

func (e *EndpointsExhausted) Unwrap() error { return e.Last }

// Legacy substring markers. The vendor frequently embeds error codes in
// free text, so predicates fall back to these when no typed error matches.
var (
	rateLimitMarkers  = []string{"429", "resource_exhausted", "quota_exhausted", "quota exceeded", "rate limit", "too many requests"}
	authMarkers       = []string{"401", "unauthenticated", "invalid_grant", "token refresh failed", "invalid authentication"}
	permissionMarkers = []string{"403", "permission_denied", "permission denied"}
)

func containsAny(s string, markers []string) bool {
	s = strings.ToLower(s)
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// IsRateLimited reports whether err is a rate-limit condition, including
// pool exhaustion and upstream errors that only say so in free text.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var rl *RateLimited
	if errors.As(err, &rl) {
		return true
	}
	var na *NoAccounts
	if errors.As(err, &na) {
		return na.AllRateLimited
	}
	var up *Upstream
	if errors.As(err, &up) {
		return up.Status == http.StatusTooManyRequests
	}
	return containsAny(err.Error(), rateLimitMarkers)
}

// IsAuthInvalid reports whether err marks a credential as unusable.
func IsAuthInvalid(err error) bool {
	if err == nil {
		return false
	}
	var ai *AuthInvalid
	if errors.As(err, &ai) {
		return true
	}
	var up *Upstream
	if errors.As(err, &up) {
		return up.Status == http.StatusUnauthorized
	}
	return containsAny(err.Error(), authMarkers)
}

// IsPermissionDenied reports whether err is an upstream permission
// rejection.
func IsPermissionDenied(err error) bool {
	if err == nil {
		return false
	}
	var up *Upstream
	if errors.As(err, &up) {
		return up.Status == http.StatusForbidden
	}
	return containsAny(err.Error(), permissionMarkers)
}

// IsRetryable reports whether the dispatch loop may continue after err,
// either on another account or another endpoint.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var na *NoAccounts
	var mr *MaxRetries
	if errors.As(err, &na) || errors.As(err, &mr) {
		return false
	}
	var tr *Transport
	if errors.As(err, &tr) {
		return true
	}
	var up *Upstream
	if errors.As(err, &up) {
		return up.Status == http.StatusTooManyRequests || up.Retryable()
	}
	return IsRateLimited(err) || IsAuthInvalid(err)
}

// HTTPStatus maps err to the client-facing status code and error type.
// Rate limits map to 400 on purpose so SDKs do not retry the proxy into a
// storm.
func HTTPStatus(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case IsAuthInvalid(err):
		return http.StatusUnauthorized, TypeAuthentication
	case IsRateLimited(err):
		return http.StatusBadRequest, TypeInvalidRequest
	case IsPermissionDenied(err):
		return http.StatusForbidden, TypePermission
	}
	var ee *EndpointsExhausted
	if errors.As(err, &ee) {
		return http.StatusServiceUnavailable, TypeAPI
	}
	return http.StatusInternalServerError, TypeAPI
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
