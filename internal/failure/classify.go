package failure

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

const (
	envelopeMessageLimit   = 240
	timeoutMessage         = "provider call timed out"
	canceledMessage        = "provider call was canceled"
	unexpectedErrorMessage = "unexpected failure"
	statusSiteOverloaded   = 529
)

var overloadSignatures = []string{
	"overloaded",
	"temporarily",
	"service unavailable",
	"try again",
	"capacity",
	"server is busy",
}

var quotaSignatures = []string{
	"rate limit",
	"rate-limit",
	"quota",
	"resource exhausted",
	"resource_exhausted",
	"too many requests",
}

var credentialSignatures = []string{
	"unauthorized",
	"invalid api key",
	"api key not valid",
	"permission denied",
	"authentication failed",
}

// Classify decides the kind of err. Errors that already carry a kind keep it.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var kinded *Error
	if errors.As(err, &kinded) {
		return kinded.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	var providerErr *ProviderError
	if errors.As(err, &providerErr) && providerErr.HTTPStatus != 0 {
		return classifyStatus(providerErr.HTTPStatus)
	}
	var networkErr net.Error
	if errors.As(err, &networkErr) && networkErr.Timeout() {
		return KindTimeout
	}
	return classifyMessage(err.Error())
}

func classifyStatus(status int) Kind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindCredential
	case http.StatusTooManyRequests:
		return KindQuotaExceeded
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return KindTimeout
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, statusSiteOverloaded:
		return KindTransient
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return KindValidation
	default:
		return KindProvider
	}
}

func classifyMessage(message string) Kind {
	normalized := strings.ToLower(message)
	switch {
	case containsAny(normalized, quotaSignatures):
		return KindQuotaExceeded
	case containsAny(normalized, overloadSignatures):
		return KindTransient
	case containsAny(normalized, credentialSignatures):
		return KindCredential
	default:
		return KindProvider
	}
}

// ShouldRetry reports whether the in-stage retry policy may attempt the call
// again. Quota failures qualify only when they also look like an overload.
func ShouldRetry(err error) bool {
	switch Classify(err) {
	case KindTransient:
		return true
	case KindQuotaExceeded:
		return containsAny(strings.ToLower(err.Error()), overloadSignatures)
	default:
		return false
	}
}

// EnvelopeFor converts err into the caller-facing envelope.
func EnvelopeFor(err error) Envelope {
	kind := Classify(err)
	return Envelope{
		Kind:       kind,
		Message:    messageFor(err, kind),
		Retryable:  CallerRetryable(kind),
		HTTPStatus: StatusFor(kind),
	}
}

func messageFor(err error, kind Kind) string {
	var kinded *Error
	if errors.As(err, &kinded) && kinded.Message != "" {
		return truncate(kinded.Message)
	}
	if errors.Is(err, context.Canceled) {
		return canceledMessage
	}
	if kind == KindTimeout {
		return timeoutMessage
	}
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return truncate(providerErr.Provider + ": " + providerErr.Message)
	}
	message := strings.TrimSpace(err.Error())
	if message == "" {
		return unexpectedErrorMessage
	}
	return truncate(message)
}

func containsAny(haystack string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}

func truncate(message string) string {
	runes := []rune(message)
	if len(runes) <= envelopeMessageLimit {
		return message
	}
	return string(runes[:envelopeMessageLimit]) + "…"
}
