package completion

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"
)

// FailureKind classifies completion-service failures. Every kind maps to a
// fixed, user-safe message; raw provider error text is only ever logged.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureNotConfigured
	FailureRateLimited
	FailureBlocked
	FailureTransient
	FailureMalformed
)

// String returns the stable name used in logs and metrics.
func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureNotConfigured:
		return "not_configured"
	case FailureRateLimited:
		return "rate_limited"
	case FailureBlocked:
		return "blocked"
	case FailureTransient:
		return "transient"
	case FailureMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// UserMessage returns the user-presentable text for a failure kind.
func (k FailureKind) UserMessage() string {
	switch k {
	case FailureNotConfigured:
		return "Sorry, the AI service is not configured correctly."
	case FailureRateLimited:
		return "I'm experiencing high demand right now. Please try again in a moment."
	case FailureBlocked:
		return "I cannot provide a response based on the input or it may violate safety guidelines. Please try phrasing your request differently."
	case FailureMalformed:
		return "Sorry, I received an empty response from the AI. Please try again."
	default:
		return "Sorry, I encountered an internal error while thinking. Please try again."
	}
}

// Retryable reports whether the failure is worth another attempt.
func (k FailureKind) Retryable() bool {
	return k == FailureRateLimited || k == FailureTransient
}

// Classify maps a completion-call error to its failure kind. This is the
// single dispatch point for retry and degradation policy.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureNone
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			return FailureRateLimited
		case apiErr.Code == 400 && strings.Contains(apiErr.Message, "API key"):
			return FailureNotConfigured
		case apiErr.Code == 401 || apiErr.Code == 403:
			return FailureNotConfigured
		case apiErr.Code >= 500:
			return FailureTransient
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTransient
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "RESOURCE_EXHAUSTED"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "429"):
		return FailureRateLimited
	case strings.Contains(msg, "API key not valid"):
		return FailureNotConfigured
	}

	return FailureTransient
}
