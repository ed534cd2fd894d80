package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
)

// Sentinel errors returned by the selector.
var (
	// ErrNoProviders means the selector was built with an empty candidate list.
	ErrNoProviders = errors.New("no providers configured")

	// ErrUnknownProvider means a forced selection named a provider that is
	// not in the candidate list.
	ErrUnknownProvider = errors.New("unknown provider")
)

// FailureClass categorizes a provider error for circuit accounting.
type FailureClass string

const (
	FailureTimeout     FailureClass = "timeout"
	FailureNetwork     FailureClass = "network"
	FailureRateLimit   FailureClass = "rate_limit"
	FailureServerError FailureClass = "server_error"
	FailureAuth        FailureClass = "auth"
	FailureMalformed   FailureClass = "malformed"
	FailureUnknown     FailureClass = "unknown"
)

// CountsTowardCircuit reports whether a failure of this class should advance
// the circuit breaker. Malformed responses indicate a decode problem on our
// side of the wire, not an unhealthy backend, so they are logged but never
// trip the circuit.
func (c FailureClass) CountsTowardCircuit() bool {
	return c != FailureMalformed
}

// Classify determines the failure class from the error content.
func Classify(err error) FailureClass {
	if err == nil {
		return FailureUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return FailureTimeout
		}
		return FailureNetwork
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return FailureMalformed
	}

	errStr := strings.ToLower(err.Error())

	// Check for timeout patterns
	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "context deadline") {
		return FailureTimeout
	}

	// Check for rate limit patterns
	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "rate_limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429") {
		return FailureRateLimit
	}

	// Check for authentication patterns
	if strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "invalid api key") ||
		strings.Contains(errStr, "authentication") ||
		strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") {
		return FailureAuth
	}

	// Check for connection patterns
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") {
		return FailureNetwork
	}

	// Check for server error patterns
	if strings.Contains(errStr, "internal server") ||
		strings.Contains(errStr, "server error") ||
		strings.Contains(errStr, "overloaded") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") {
		return FailureServerError
	}

	// Check for decode patterns
	if strings.Contains(errStr, "unexpected eof") ||
		strings.Contains(errStr, "decode") ||
		strings.Contains(errStr, "unmarshal") {
		return FailureMalformed
	}

	return FailureUnknown
}
