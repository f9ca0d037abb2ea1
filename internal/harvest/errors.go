package harvest

import (
	"fmt"
	"time"
)

// ValidationError reports bad caller input, such as an unregistered source
// name or a malformed cycle date. It is surfaced immediately and never
// retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ConfigurationError reports a source/workflow pairing that was never
// registered. It indicates a programmer or deployment error, never retried.
type ConfigurationError struct {
	Source       string
	WorkflowType string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf(
		"no workflow registered for source %q and workflow type %q",
		e.Source, e.WorkflowType,
	)
}

// NotFoundError reports a storage lookup that matched no row.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with key %q does not exist", e.Entity, e.Key)
}

// ConflictError reports a natural key that unexpectedly matched more than
// one row.
type ConflictError struct {
	Entity string
	Key    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s with key %q is not unique", e.Entity, e.Key)
}

// FetchError wraps a network or remote-site failure raised by a stage's
// retrieval hook. It marks the task as failed and leaves retry to the queue.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// TimeoutError reports that the orchestrator's monitor loop exceeded its
// configured ceiling before all tasks reached a terminal state.
type TimeoutError struct {
	Limit   time.Duration
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf(
		"maximum wait of %s exceeded; elapsed time: %s",
		e.Limit, e.Elapsed.Round(time.Second),
	)
}
