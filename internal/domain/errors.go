package domain

import (
	"errors"
	"fmt"
)

// Category sentinels.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrTimeout      = fmt.Errorf("operation timed out")
	ErrInvalidInput = fmt.Errorf("invalid input")
	ErrConfigLoad   = fmt.Errorf("failed to load configuration")
	ErrStore        = fmt.Errorf("store operation failed")
)

// Chat exchange errors.
var (
	// ErrTransport is a network or DNS failure while reaching a model.
	ErrTransport = fmt.Errorf("transport error")
	// ErrUpstreamStatus is a non-2xx answer from a candidate model.
	ErrUpstreamStatus = fmt.Errorf("upstream status error")
	// ErrDecode is a malformed stream line. It is never fatal to a stream.
	ErrDecode = fmt.Errorf("stream decode error")
	// ErrAllModelsExhausted means every candidate model failed.
	ErrAllModelsExhausted = fmt.Errorf("all models exhausted")
	// ErrNoUserInput means there was nothing to send.
	ErrNoUserInput = fmt.Errorf("no user input")
	// ErrEmptyStream means a candidate answered OK but produced no bytes.
	ErrEmptyStream = fmt.Errorf("empty response stream")
	// ErrTurnSuperseded means a newer turn started before this one finished.
	ErrTurnSuperseded = fmt.Errorf("turn superseded by a newer turn")
)

// Resilience errors.
var (
	ErrContextOverflow = fmt.Errorf("context window exceeded")
	ErrRateLimit       = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid     = fmt.Errorf("authentication failed")
	ErrCircuitOpen     = fmt.Errorf("circuit open")
)

// UpstreamStatusError carries the HTTP status and body of a failed attempt.
type UpstreamStatusError struct {
	StatusCode int
	Body       string
	// Kind is a more specific sentinel (ErrRateLimit, ErrAuthInvalid, ...) or nil.
	Kind error
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Body)
}

// Is matches ErrUpstreamStatus and the specific Kind sentinel.
func (e *UpstreamStatusError) Is(target error) bool {
	return target == ErrUpstreamStatus || (e.Kind != nil && target == e.Kind)
}

// AllModelsExhaustedError reports that every candidate failed.
type AllModelsExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *AllModelsExhaustedError) Error() string {
	if e.LastErr == nil {
		return fmt.Sprintf("%s after %d attempts", ErrAllModelsExhausted, e.Attempts)
	}
	return fmt.Sprintf("%s after %d attempts: %v", ErrAllModelsExhausted, e.Attempts, e.LastErr)
}

// Is matches ErrAllModelsExhausted.
func (e *AllModelsExhaustedError) Is(target error) bool { return target == ErrAllModelsExhausted }

// Unwrap exposes the last recorded attempt error.
func (e *AllModelsExhaustedError) Unwrap() error { return e.LastErr }

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Proxy.Chat")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsRetryableError reports whether err is a failure that a different
// candidate model may not share.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrTransport) ||
		errors.Is(err, ErrUpstreamStatus) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrEmptyStream) ||
		errors.Is(err, ErrCircuitOpen)
}

// ErrorCode is a machine-parseable error category for logs and API responses.
type ErrorCode string

const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeNotFound           ErrorCode = "NOT_FOUND"
	CodeTimeout            ErrorCode = "TIMEOUT"
	CodeInvalidInput       ErrorCode = "INVALID_INPUT"
	CodeConfigLoad         ErrorCode = "CONFIG_LOAD"
	CodeStore              ErrorCode = "STORE"
	CodeTransport          ErrorCode = "TRANSPORT"
	CodeUpstreamStatus     ErrorCode = "UPSTREAM_STATUS"
	CodeDecode             ErrorCode = "DECODE"
	CodeAllModelsExhausted ErrorCode = "ALL_MODELS_EXHAUSTED"
	CodeNoUserInput        ErrorCode = "NO_USER_INPUT"
	CodeEmptyStream        ErrorCode = "EMPTY_STREAM"
	CodeTurnSuperseded     ErrorCode = "TURN_SUPERSEDED"
	CodeContextOverflow    ErrorCode = "CONTEXT_OVERFLOW"
	CodeRateLimit          ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid        ErrorCode = "AUTH_INVALID"
	CodeCircuitOpen        ErrorCode = "CIRCUIT_OPEN"
)

// errorCodes is ordered from most to least specific so that an
// UpstreamStatusError with a Kind reports the Kind.
var errorCodes = []struct {
	err  error
	code ErrorCode
}{
	{ErrRateLimit, CodeRateLimit},
	{ErrAuthInvalid, CodeAuthInvalid},
	{ErrContextOverflow, CodeContextOverflow},
	{ErrCircuitOpen, CodeCircuitOpen},
	{ErrAllModelsExhausted, CodeAllModelsExhausted},
	{ErrUpstreamStatus, CodeUpstreamStatus},
	{ErrTransport, CodeTransport},
	{ErrDecode, CodeDecode},
	{ErrNoUserInput, CodeNoUserInput},
	{ErrEmptyStream, CodeEmptyStream},
	{ErrTurnSuperseded, CodeTurnSuperseded},
	{ErrTimeout, CodeTimeout},
	{ErrNotFound, CodeNotFound},
	{ErrInvalidInput, CodeInvalidInput},
	{ErrConfigLoad, CodeConfigLoad},
	{ErrStore, CodeStore},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return CodeUnknown
}
