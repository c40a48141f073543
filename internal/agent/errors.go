package agent

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the core.
var (
	// ErrNoProvider indicates no LLM provider is configured.
	ErrNoProvider = errors.New("no provider configured")

	// ErrEmptyTask indicates the task text was empty.
	ErrEmptyTask = errors.New("task text must not be empty")

	// ErrNoStartingURL indicates planning completed without resolving a
	// starting URL (setup error, re-raised from Execute per spec.md 7).
	ErrNoStartingURL = errors.New("no starting URL determined")
)

// ToolExecutionError wraps a recoverable failure that the dispatcher already
// recorded on the message log via the tool-result envelope. Per spec.md 4.G
// step 7 / 4.H, the Failure Governor must NOT append an additional user
// message for this class — the tool result itself carries the feedback —
// and the next iteration must not force a fresh snapshot.
type ToolExecutionError struct {
	Message string
	Cause   error
}

func NewToolExecutionError(message string) *ToolExecutionError {
	return &ToolExecutionError{Message: message}
}

func (e *ToolExecutionError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return "tool execution error"
}

func (e *ToolExecutionError) Unwrap() error { return e.Cause }

// RecoverableError is any other runtime failure the Action Loop should
// continue past after appending feedback to the message log (spec.md 7).
type RecoverableError struct {
	Message string
	Cause   error
}

func NewRecoverableError(format string, args ...any) *RecoverableError {
	return &RecoverableError{Message: fmt.Sprintf(format, args...)}
}

func WrapRecoverable(cause error) *RecoverableError {
	if cause == nil {
		return nil
	}
	return &RecoverableError{Message: cause.Error(), Cause: cause}
}

func (e *RecoverableError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return "recoverable error"
}

func (e *RecoverableError) Unwrap() error { return e.Cause }

// HTTPError tags an error with the provider/transport HTTP status code so
// the Failure Governor can apply the non-recoverable [400,500) \ {429} rule
// of spec.md 4.H.
type HTTPError struct {
	StatusCode int
	Message    string
	Cause      error
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("http %d: %v", e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("http %d", e.StatusCode)
}

func (e *HTTPError) Unwrap() error { return e.Cause }

// IsToolExecutionError reports whether err is (or wraps) a *ToolExecutionError.
func IsToolExecutionError(err error) bool {
	var e *ToolExecutionError
	return errors.As(err, &e)
}

// IsRecoverable reports whether err is a *RecoverableError or
// *ToolExecutionError (both are recoverable-by-classification; only the
// message-append behavior differs between them, handled by the governor).
func IsRecoverable(err error) bool {
	var re *RecoverableError
	var te *ToolExecutionError
	return errors.As(err, &re) || errors.As(err, &te)
}

// httpStatusError is implemented by errors from other packages that carry a
// transport status code (e.g. llmprovider/providererr.ProviderError) without
// agent needing to import them — the adapters live downstream of agent, so
// the dependency runs through this interface instead of a direct import.
type httpStatusError interface {
	HTTPStatus() int
}

// classifyHTTPNonRecoverable reports whether an HTTPError status falls in
// the non-recoverable band [400,500) excluding 429 (spec.md 4.H).
func classifyHTTPNonRecoverable(err error) bool {
	var herr *HTTPError
	if errors.As(err, &herr) {
		return inNonRecoverableBand(herr.StatusCode)
	}
	var hse httpStatusError
	if errors.As(err, &hse) {
		return inNonRecoverableBand(hse.HTTPStatus())
	}
	return false
}

func inNonRecoverableBand(status int) bool {
	if status == 429 {
		return false
	}
	return status >= 400 && status < 500
}

// TaskError is returned from Execute for setup failures (spec.md 7): these
// are thrown, not returned as part of a TaskResult.
type TaskError struct {
	Message string
	Cause   error
}

func (e *TaskError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *TaskError) Unwrap() error { return e.Cause }
