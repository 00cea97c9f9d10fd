// Package failure defines the error taxonomy shared by every generation stage
// and the envelope returned to callers when a stage fails.
package failure

import (
	"fmt"
	"net/http"
)

// Kind names a class of failure independent of the provider that produced it.
type Kind string

const (
	KindValidation     Kind = "validation_error"
	KindCredential     Kind = "credential_error"
	KindQuotaExceeded  Kind = "quota_exceeded"
	KindTransient      Kind = "transient_provider_error"
	KindTimeout        Kind = "timeout"
	KindNoUsableOutput Kind = "no_usable_output"
	KindBridge         Kind = "bridge_error"
	KindProvider       Kind = "provider_error"
)

const (
	credentialMissingMessageFormat = "%s credential is not configured"
	providerErrorFormat            = "%s: %s"
	providerErrorWithStatusFormat  = "%s: %s (status %d)"
	wrappedErrorFormat             = "%s: %v"
)

// Error is a failure whose kind has already been decided.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf(wrappedErrorFormat, e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// New returns an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap returns an Error of the given kind that keeps cause in the chain.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

func NoUsableOutput(format string, args ...any) *Error {
	return New(KindNoUsableOutput, fmt.Sprintf(format, args...))
}

// Credential reports that the named provider has no credential configured.
func Credential(provider string) *Error {
	return New(KindCredential, fmt.Sprintf(credentialMissingMessageFormat, provider))
}

func Bridge(message string, cause error) *Error {
	return Wrap(KindBridge, message, cause)
}

// ProviderError is raised by adapters for transport or provider-reported
// failures. HTTPStatus is zero when the provider never answered.
type ProviderError struct {
	Provider   string
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *ProviderError) Error() string {
	if e.HTTPStatus == 0 {
		return fmt.Sprintf(providerErrorFormat, e.Provider, e.Message)
	}
	return fmt.Sprintf(providerErrorWithStatusFormat, e.Provider, e.Message, e.HTTPStatus)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// Envelope is the uniform failure description handed to callers. Retryable is
// advice to the caller about invoking the stage again later. It is not the
// retry policy's decision: a timeout is never retried within one invocation,
// because the attempt already spent its budget, yet a later invocation may
// well finish in time.
type Envelope struct {
	Kind       Kind   `json:"kind"`
	Message    string `json:"error"`
	Retryable  bool   `json:"retryable"`
	HTTPStatus int    `json:"-"`
}

func (e Envelope) Error() string { return e.Message }

// StatusFor maps a kind to the HTTP status reported to callers.
func StatusFor(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindCredential:
		return http.StatusUnauthorized
	case KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindTransient:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// CallerRetryable reports whether invoking the stage again later may succeed.
// It differs from ShouldRetry for timeouts and for quota errors without an
// overload signature, which the policy treats as terminal for the current call.
func CallerRetryable(kind Kind) bool {
	switch kind {
	case KindQuotaExceeded, KindTransient, KindTimeout:
		return true
	default:
		return false
	}
}
