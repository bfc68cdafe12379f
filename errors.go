package goFit

import (
	"errors"
	"time"
)

var (
	// ErrClientNotReady is an exported constant or variable used by the fitness API client.
	ErrClientNotReady = errors.New("client not initialized")
	// ErrRefreshTokenConsumed is returned when the provider rejects a refresh token
	// that was already exchanged. Single-use tokens must never be resubmitted.
	ErrRefreshTokenConsumed = errors.New("refresh token already consumed")
	// ErrNoRefreshToken is returned when neither the store, process memory, nor the
	// configured seed holds a refresh token to exchange.
	ErrNoRefreshToken = errors.New("no refresh token available")
	// ErrPeerRefreshTimeout is returned when the wait budget for a peer-held refresh
	// lease is spent and the lease could not be taken over.
	ErrPeerRefreshTimeout = errors.New("peer refresh wait budget exhausted")
)

// ErrorKind categorizes failures surfaced by the client. Raw HTTP status codes
// never cross the Fetch boundary; callers branch on the kind instead.
type ErrorKind uint8

const (
	// KindUnknown is an exported constant or variable used by the fitness API client.
	KindUnknown ErrorKind = iota
	// KindValidation marks requests the provider rejected as malformed.
	KindValidation
	// KindAuthentication marks credential failures that survived one forced refresh.
	KindAuthentication
	// KindAuthorization marks scope or permission failures.
	KindAuthorization
	// KindNotFound marks missing provider resources.
	KindNotFound
	// KindRateLimit marks provider quota exhaustion; retry after the reset hint.
	KindRateLimit
	// KindServiceUnavailable marks transient provider or store outages.
	KindServiceUnavailable
	// KindNetwork marks transport-level failures before any response arrived.
	KindNetwork
	// KindInternal marks failures that need operator attention rather than a retry.
	KindInternal
	// KindTokenRefresh marks failures of the coordinated token refresh itself.
	KindTokenRefresh
)

// String describes the kind using the taxonomy's wire names.
func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindRateLimit:
		return "rate_limit"
	case KindServiceUnavailable:
		return "service_unavailable"
	case KindNetwork:
		return "network"
	case KindInternal:
		return "internal"
	case KindTokenRefresh:
		return "token_refresh_failure"
	default:
		return "unknown"
	}
}

// retryable reports the taxonomy default for the kind. Individual errors can
// override it; a token_refresh_failure caused by a consumed token is final.
func (k ErrorKind) retryable() bool {
	switch k {
	case KindRateLimit, KindServiceUnavailable, KindNetwork, KindTokenRefresh:
		return true
	default:
		return false
	}
}

// Error is the single categorized error type surfaced by [Client.Fetch] and
// [Client.EnsureValidToken] once internal retry bounds are exhausted.
//
// Error instances are intended to be inspected via KindOf and IsRetryable rather
// than string matching; Message is human-readable and action-oriented.
type Error struct {
	Kind      ErrorKind
	Message   string
	Retryable bool
	// ResetIn carries the provider's rate-limit reset hint for KindRateLimit.
	ResetIn time.Duration
	// Attempts carries the number of refresh attempts consumed for KindTokenRefresh.
	Attempts int
	Err      error
}

// Error describes the error operation and its observable behavior.
//
// Error returns the action-oriented message joined with the underlying cause when present.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap exposes the underlying cause for errors.Is and errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(kind ErrorKind, message string, err error) *Error {
	return &Error{
		Kind:      kind,
		Message:   message,
		Retryable: kind.retryable(),
		Err:       err,
	}
}

// KindOf returns the taxonomy kind of err, or KindUnknown for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether the calling layer may safely retry the operation.
// Foreign errors report false.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e.Retryable
	}
	return false
}
