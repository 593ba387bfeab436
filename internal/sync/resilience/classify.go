// Package resilience turns arbitrary failures into typed errors with a
// retryability flag and a stable user-facing message, and provides bounded
// exponential-backoff retry and timeout wrapping for single operations.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/lib/pq"
)

// ErrorType is the failure taxonomy used across the sync pipeline.
type ErrorType string

const (
	TypeNetwork       ErrorType = "NETWORK"
	TypeAuth          ErrorType = "AUTH"
	TypeValidation    ErrorType = "VALIDATION"
	TypeServer        ErrorType = "SERVER"
	TypeTimeout       ErrorType = "TIMEOUT"
	TypeDataIntegrity ErrorType = "DATA_INTEGRITY"
	TypeUnknown       ErrorType = "UNKNOWN"
)

// userMessages are short, stable, and decoupled from the internal type so
// presentation can evolve without contract breaks.
var userMessages = map[ErrorType]string{
	TypeNetwork:       "Connection problem. Please check your network and try again.",
	TypeAuth:          "Your session is no longer valid. Please sign in again.",
	TypeValidation:    "Some of the submitted data is invalid.",
	TypeServer:        "The server had a problem. Please try again later.",
	TypeTimeout:       "The operation took too long. Please try again.",
	TypeDataIntegrity: "The data conflicts with existing records.",
	TypeUnknown:       "Something went wrong. Please try again.",
}

// ClassifiedError is a failure with its type, retryability and user message
// attached. It wraps the original error.
type ClassifiedError struct {
	Type        ErrorType
	Retryable   bool
	UserMessage string
	StatusCode  int
	Err         error
}

func (e *ClassifiedError) Error() string {
	if e.Err == nil {
		return string(e.Type)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Err.Error())
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// StatusError is an HTTP-like failure from a transport collaborator,
// carrying the response status code.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
}

// newClassified builds a ClassifiedError with the stable message for t.
func newClassified(t ErrorType, retryable bool, statusCode int, err error) *ClassifiedError {
	return &ClassifiedError{
		Type:        t,
		Retryable:   retryable,
		UserMessage: userMessages[t],
		StatusCode:  statusCode,
		Err:         err,
	}
}

// NewError wraps err as a ClassifiedError of an explicit type, for callers
// that already know how a failure should be treated.
func NewError(t ErrorType, err error) *ClassifiedError {
	retryable := t == TypeNetwork || t == TypeServer || t == TypeTimeout
	return newClassified(t, retryable, 0, err)
}

// Classify maps a raw error to a ClassifiedError. Already classified errors
// pass through unchanged. nil maps to nil.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return newClassified(TypeTimeout, true, 0, err)
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return classifyStatus(statusErr.StatusCode, err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return classifyPostgres(pqErr, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return newClassified(TypeTimeout, true, 0, err)
		}
		return newClassified(TypeNetwork, true, 0, err)
	}

	// Unmatched errors are not retried; blind retries of unknown failures
	// do more harm than good.
	return newClassified(TypeUnknown, false, 0, err)
}

func classifyStatus(code int, err error) *ClassifiedError {
	switch {
	case code == 401 || code == 403:
		return newClassified(TypeAuth, false, code, err)
	case code == 408 || code == 504:
		return newClassified(TypeTimeout, true, code, err)
	case code >= 500:
		return newClassified(TypeServer, true, code, err)
	case code >= 400:
		return newClassified(TypeValidation, false, code, err)
	default:
		return newClassified(TypeUnknown, false, code, err)
	}
}

func classifyPostgres(pqErr *pq.Error, err error) *ClassifiedError {
	class := string(pqErr.Code.Class())
	switch {
	case class == "23": // integrity constraint violation
		return newClassified(TypeDataIntegrity, false, 0, err)
	case class == "08": // connection exception
		return newClassified(TypeNetwork, true, 0, err)
	case strings.HasPrefix(class, "57") || class == "53": // shutdown, resources
		return newClassified(TypeServer, true, 0, err)
	default:
		return newClassified(TypeUnknown, false, 0, err)
	}
}

// IsRetryable reports whether err classifies as retryable.
func IsRetryable(err error) bool {
	classified := Classify(err)
	return classified != nil && classified.Retryable
}
