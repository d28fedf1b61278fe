package models

import (
	"context"
	"errors"
	"fmt"
)

// Error taxonomy of the extraction engine
var (
	ErrFilterApplication   = errors.New("filter application failed")
	ErrRowExtraction       = errors.New("row extraction failed")
	ErrPaginationExhausted = errors.New("pagination retries exhausted")
	ErrSessionStart        = errors.New("browser session start failed")
	ErrDriverProvisioning  = errors.New("browser provisioning failed")
	ErrConsolidation       = errors.New("consolidation failed")

	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrUnsupported      = errors.New("operation not supported by portal")
)

// TaskError an error attributed to one task and one engine step
type TaskError struct {
	Kind   error  // one of the taxonomy sentinels
	TaskID string // Task.ID()
	Op     string // step that failed
	Err    error  // underlying cause
}

// NewTaskError builds a TaskError
func NewTaskError(kind error, taskID, op string, err error) *TaskError {
	return &TaskError{Kind: kind, TaskID: taskID, Op: op, Err: err}
}

func (e *TaskError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("[%s] %s: %v", e.TaskID, e.Op, e.Kind)
	}
	return fmt.Sprintf("[%s] %s: %v: %v", e.TaskID, e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As
func (e *TaskError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ErrorKind returns the taxonomy name of err, or "unknown". Cancellation
// wins over the step that noticed it.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, ErrFilterApplication):
		return "filter_application"
	case errors.Is(err, ErrPaginationExhausted):
		return "pagination_exhausted"
	case errors.Is(err, ErrSessionStart):
		return "session_start"
	case errors.Is(err, ErrDriverProvisioning):
		return "driver_provisioning"
	case errors.Is(err, ErrRowExtraction):
		return "row_extraction"
	case errors.Is(err, ErrConsolidation):
		return "consolidation"
	default:
		return "unknown"
	}
}
