// Package errs defines the error taxonomy shared across the engine.
//
// The shapes here follow pkg/orc/errors in the orchestrator this module
// grew out of: sentinel errors for classification via errors.Is, plus a
// small wrapping type for errors that need to carry structured context.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport indicates the LLM gateway could not reach the upstream
	// endpoint at all (DNS, connection refused, context canceled mid-flight).
	ErrTransport = errors.New("llm transport error")

	// ErrSchema indicates the model's response parsed as JSON but did not
	// satisfy the schema a call site required (e.g. missing passage).
	ErrSchema = errors.New("llm response failed schema validation")

	// ErrNonJSON indicates the model did not return parseable JSON when a
	// caller required structured output.
	ErrNonJSON = errors.New("llm response was not valid json")

	// ErrTimeout indicates a blocking wait exceeded its deadline, most
	// commonly branchcache.Coordinator.EnsureReady's WaitTimeout.
	ErrTimeout = errors.New("timed out waiting for readiness")

	// ErrBadRequest indicates a caller-supplied argument failed validation.
	ErrBadRequest = errors.New("bad request")

	// ErrNotFound indicates a requested book or story does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates the caller presented no usable credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the caller is authenticated but does not own
	// the requested book.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict names a lost concurrent update. The persistence adapters
	// report a lost compare-and-set as persistence.ErrNotFound, and no code
	// path in this module currently returns ErrConflict.
	ErrConflict = errors.New("conflicting concurrent update")
)

// HTTPError wraps an upstream HTTP response the gateway received with a
// non-2xx status, so callers can recover the status code via errors.As.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("llm http error: status %d", e.Status)
}

func (e *HTTPError) Unwrap() error {
	return ErrTransport
}

// NewHTTPError builds an HTTPError for a non-2xx upstream response.
func NewHTTPError(status int, body string) *HTTPError {
	return &HTTPError{Status: status, Body: body}
}

// GenerationError wraps a failure from a specific generation call
// (planner, substep expansion, page generation, verifier, adaptation)
// with the stage name and whether the caller may retry.
type GenerationError struct {
	Stage   string
	Err     error
	Retry   bool
	Details map[string]any
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

func (e *GenerationError) CanRetry() bool {
	return e.Retry
}

// NewGenerationError builds a GenerationError for the named stage.
func NewGenerationError(stage string, err error, canRetry bool) *GenerationError {
	return &GenerationError{Stage: stage, Err: err, Retry: canRetry, Details: make(map[string]any)}
}

// IsRetryable reports whether err should be retried by the caller. Unknown
// errors default to retryable, matching the upstream gateway's posture of
// preferring a retry over giving up on a possibly-transient failure.
func IsRetryable(err error) bool {
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return genErr.CanRetry()
	}
	return !errors.Is(err, ErrBadRequest) && !errors.Is(err, ErrNotFound) &&
		!errors.Is(err, ErrUnauthorized) && !errors.Is(err, ErrForbidden)
}

// IsTimeout reports whether err is (or wraps) ErrTimeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// StatusCode maps an error to the HTTP status the reader-facing API
// should report for it. Background-task errors never reach this
// function; they are logged and swallowed at the source.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return 200
	case errors.Is(err, ErrBadRequest):
		return 400
	case errors.Is(err, ErrUnauthorized):
		return 401
	case errors.Is(err, ErrForbidden):
		return 403
	case errors.Is(err, ErrNotFound):
		return 404
	case errors.Is(err, ErrTimeout):
		return 408
	default:
		return 500
	}
}
