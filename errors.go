package mq

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a failure for the purposes of circuit breaking,
// retry eligibility, and metrics aggregation.
type ErrorKind int

const (
	// KindInvalidConfig marks a non-retryable configuration/validation failure.
	KindInvalidConfig ErrorKind = iota
	// KindConnectionFailure marks a retryable, breaker-tracked transport failure.
	KindConnectionFailure
	// KindProtocolError marks a retryable, breaker-tracked wire-protocol violation.
	KindProtocolError
	// KindResourceExhaustion marks a failure caused by memory/resource pressure;
	// retryable exactly once.
	KindResourceExhaustion
	// KindPoolTimeout marks a non-retryable pool-acquisition timeout.
	KindPoolTimeout
	// KindBreakerOpen marks a non-retryable fast-fail from an open circuit breaker.
	KindBreakerOpen
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidConfig:
		return "configuration"
	case KindConnectionFailure:
		return "connection"
	case KindProtocolError:
		return "protocol"
	case KindResourceExhaustion:
		return "resource"
	case KindPoolTimeout:
		return "resource"
	case KindBreakerOpen:
		return "resource"
	default:
		return "unknown"
	}
}

// Retryable reports whether ErrorHandler.wrapOperation should retry an error
// of this kind at all (subject to the operation's maxRetries).
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindConnectionFailure, KindProtocolError, KindResourceExhaustion:
		return true
	default:
		return false
	}
}

// CountsAgainstBreaker reports whether a failure of this kind should
// increment the per-operation circuit breaker's failure count.
func (k ErrorKind) CountsAgainstBreaker() bool {
	switch k {
	case KindConnectionFailure, KindProtocolError:
		return true
	default:
		return false
	}
}

// RuntimeError is the single error type surfaced by every fallible operation
// in this package. It carries a classification (Kind), an operation name for
// metrics/breaker keying, and an optional wrapped cause.
type RuntimeError struct {
	Kind    ErrorKind
	Op      string
	Message string
	Cause   error
}

func (e *RuntimeError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(" error in ")
		b.WriteString(e.Op)
	} else {
		b.WriteString(" error")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *RuntimeError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a *RuntimeError of the same Kind and, when
// target.Op is set, the same Op, so errors.Is(err, &RuntimeError{Kind: ...})
// matches by kind. Sentinels such as ErrPoolNotFound match through Unwrap.
func (e *RuntimeError) Is(target error) bool {
	other, ok := target.(*RuntimeError)
	if !ok {
		return false
	}
	if other.Op != "" && other.Op != e.Op {
		return false
	}
	return e.Kind == other.Kind
}

// NewInvalidConfigError builds a non-retryable configuration error naming
// the offending field and a human-readable reason.
func NewInvalidConfigError(field, reason string) *RuntimeError {
	return &RuntimeError{Kind: KindInvalidConfig, Op: field, Message: reason}
}

// NewInvalidConfigErrors aggregates multiple field violations into a single
// InvalidConfig error, satisfying validateClientConfig/validateTopicConfig/
// validatePoolConfig's "aggregate all violations" contract.
func NewInvalidConfigErrors(reasons []string) *RuntimeError {
	return &RuntimeError{Kind: KindInvalidConfig, Message: strings.Join(reasons, "; ")}
}

// NewConnectionFailureError wraps a transport-level cause as a retryable,
// breaker-tracked connection failure for the named operation.
func NewConnectionFailureError(op string, cause error) *RuntimeError {
	return &RuntimeError{Kind: KindConnectionFailure, Op: op, Cause: cause}
}

// NewProtocolError wraps a wire-protocol violation as a retryable,
// breaker-tracked error for the named operation.
func NewProtocolError(op, message string, cause error) *RuntimeError {
	return &RuntimeError{Kind: KindProtocolError, Op: op, Message: message, Cause: cause}
}

// NewResourceExhaustionError reports memory/resource pressure for the named operation.
func NewResourceExhaustionError(op, message string) *RuntimeError {
	return &RuntimeError{Kind: KindResourceExhaustion, Op: op, Message: message}
}

// NewPoolTimeoutError reports that Pool.acquire exceeded waitTimeoutSec for poolName.
func NewPoolTimeoutError(poolName string, cause error) *RuntimeError {
	return &RuntimeError{Kind: KindPoolTimeout, Op: poolName, Message: "acquire timed out", Cause: cause}
}

// NewBreakerOpenError reports an immediate fast-fail because op's circuit
// breaker is open.
func NewBreakerOpenError(op string) *RuntimeError {
	return &RuntimeError{Kind: KindBreakerOpen, Op: op, Message: "circuit breaker open"}
}

// Sentinel errors for conditions callers commonly want to match directly
// with errors.Is, grounded on the teacher's own top-level sentinel set.
var (
	// ErrClientDisconnected is returned when an operation is cancelled because
	// the underlying connection or client was closed.
	ErrClientDisconnected = errors.New("client disconnected")

	// ErrPoolClosed is returned by a Pool whose Close has already run.
	ErrPoolClosed = errors.New("pool closed")

	// ErrPoolNotFound is returned when the facade looks up an unregistered pool name.
	ErrPoolNotFound = errors.New("pool not found")
)

// IsRetryable is a convenience wrapper for ErrorHandler.wrapOperation:
// reports whether err (if a *RuntimeError) is eligible for retry.
func IsRetryable(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Kind.Retryable()
	}
	return false
}

// KindOf extracts the ErrorKind from err, defaulting to KindConnectionFailure
// for errors that are not *RuntimeError (e.g. raw I/O errors from the codec).
func KindOf(err error) ErrorKind {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindConnectionFailure
}
