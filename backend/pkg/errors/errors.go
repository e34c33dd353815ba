package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInvalidArgument represents caller mistakes (bad or missing input)
	ErrorTypeInvalidArgument ErrorType = "invalid_argument"
	// ErrorTypeUpstreamTimeout represents a single upstream call exceeding its deadline
	ErrorTypeUpstreamTimeout ErrorType = "upstream_timeout"
	// ErrorTypeUpstreamFailure represents an unreachable or failing upstream dependency
	ErrorTypeUpstreamFailure ErrorType = "upstream_failure"
	// ErrorTypeDataIntegrity represents a write that would corrupt stored state
	ErrorTypeDataIntegrity ErrorType = "data_integrity"
	// ErrorTypeLLM represents language-model request errors
	ErrorTypeLLM ErrorType = "llm"
	// ErrorTypeGraph represents graph database errors
	ErrorTypeGraph ErrorType = "graph"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

func (e *BaseError) errorType() ErrorType {
	return e.Type
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Argument Errors

// ErrInvalidArgument is returned when a caller-supplied value is unusable
type ErrInvalidArgument struct {
	*BaseError
	Field  string
	Reason string
}

func NewInvalidArgument(field, reason string) *ErrInvalidArgument {
	return &ErrInvalidArgument{
		BaseError: NewBaseError(ErrorTypeInvalidArgument, fmt.Sprintf("invalid argument %s: %s", field, reason), nil),
		Field:     field,
		Reason:    reason,
	}
}

// Upstream Errors

// ErrUpstreamTimeout is returned when a single upstream call exceeds its deadline.
// Callers running independent signals recover it locally by treating that
// signal as empty.
type ErrUpstreamTimeout struct {
	*BaseError
	Operation string
	Timeout   time.Duration
}

func NewUpstreamTimeout(operation string, timeout time.Duration, err error) *ErrUpstreamTimeout {
	return &ErrUpstreamTimeout{
		BaseError: NewBaseError(ErrorTypeUpstreamTimeout, fmt.Sprintf("upstream call timed out: %s (timeout: %v)", operation, timeout), err),
		Operation: operation,
		Timeout:   timeout,
	}
}

// ErrUpstreamFailure is returned when a required dependency fails outright.
// During resolution this is fatal and must be propagated, never swallowed as
// "no match".
type ErrUpstreamFailure struct {
	*BaseError
	Operation string
}

func NewUpstreamFailure(operation string, err error) *ErrUpstreamFailure {
	return &ErrUpstreamFailure{
		BaseError: NewBaseError(ErrorTypeUpstreamFailure, fmt.Sprintf("upstream failure: %s", operation), err),
		Operation: operation,
	}
}

// Integrity Errors

// ErrDataIntegrity is returned when a create would collide with an unrelated
// existing entity key. The write is aborted.
type ErrDataIntegrity struct {
	*BaseError
	EntityKey string
}

func NewDataIntegrity(entityKey, detail string) *ErrDataIntegrity {
	return &ErrDataIntegrity{
		BaseError: NewBaseError(ErrorTypeDataIntegrity, fmt.Sprintf("entity key collision: %s (%s)", entityKey, detail), nil),
		EntityKey: entityKey,
	}
}

// LLM Errors

// ErrLLMRequestFailed is returned when an LLM request fails after retries
type ErrLLMRequestFailed struct {
	*BaseError
	Model     string
	Attempts  int
	Retryable bool
}

func NewLLMRequestFailed(model string, attempts int, retryable bool, err error) *ErrLLMRequestFailed {
	return &ErrLLMRequestFailed{
		BaseError: NewBaseError(ErrorTypeLLM, fmt.Sprintf("LLM request failed after %d attempts", attempts), err),
		Model:     model,
		Attempts:  attempts,
		Retryable: retryable,
	}
}

// ErrLLMNoResponse is returned when the LLM returns an empty response
var ErrLLMNoResponse = NewBaseError(ErrorTypeLLM, "no response from LLM", nil)

// Graph Errors

// ErrGraphConnectionFailed is returned when the Neo4j connection fails
type ErrGraphConnectionFailed struct {
	*BaseError
	URI string
}

func NewGraphConnectionFailed(uri string, err error) *ErrGraphConnectionFailed {
	return &ErrGraphConnectionFailed{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("failed to connect to Neo4j: %s", uri), err),
		URI:       uri,
	}
}

// ErrEntityNotFound is returned when an entity key has no node in the graph
type ErrEntityNotFound struct {
	*BaseError
	EntityKey string
}

func NewEntityNotFound(entityKey string) *ErrEntityNotFound {
	return &ErrEntityNotFound{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("entity not found: %s", entityKey), nil),
		EntityKey: entityKey,
	}
}

// Config Errors

// ErrConfigMissingRequired is returned when a required config value is missing
type ErrConfigMissingRequired struct {
	*BaseError
	Field string
}

func NewConfigMissingRequired(field string) *ErrConfigMissingRequired {
	return &ErrConfigMissingRequired{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("missing required config: %s", field), nil),
		Field:     field,
	}
}

// Helper functions

type typedError interface {
	errorType() ErrorType
}

// IsErrorType checks if an error (or anything it wraps) is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	var te typedError
	if stderrors.As(err, &te) {
		return te.errorType() == errType
	}
	return false
}

// IsRetryable checks if an error is worth retrying from the calling job layer
func IsRetryable(err error) bool {
	var llmErr *ErrLLMRequestFailed
	if stderrors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	if IsErrorType(err, ErrorTypeUpstreamTimeout) || IsErrorType(err, ErrorTypeUpstreamFailure) {
		return true
	}
	if IsErrorType(err, ErrorTypeGraph) {
		var notFound *ErrEntityNotFound
		return !stderrors.As(err, &notFound)
	}
	return false
}
