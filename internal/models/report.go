package models

import (
	"encoding/json"
	"time"
)

// TaskOutcome result of one task as reported by the worker pool
type TaskOutcome struct {
	Task       Task          `json:"task"`
	Records    int           `json:"records"`
	UnitPath   string        `json:"unit_path,omitempty"`
	Err        error         `json:"-"`
	Duration   time.Duration `json:"duration"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Status terminal status derived from Err
func (o TaskOutcome) Status() TaskStatus {
	if o.Err != nil {
		return TaskStatusFailed
	}
	return TaskStatusCompleted
}

// MarshalJSON adds the error text and its taxonomy kind
func (o TaskOutcome) MarshalJSON() ([]byte, error) {
	type alias TaskOutcome
	out := struct {
		alias
		TaskID    string     `json:"task_id"`
		Status    TaskStatus `json:"status"`
		Error     string     `json:"error,omitempty"`
		ErrorKind string     `json:"error_kind,omitempty"`
	}{
		alias:     alias(o),
		TaskID:    o.Task.ID(),
		Status:    o.Status(),
		ErrorKind: ErrorKind(o.Err),
	}
	if o.Err != nil {
		out.Error = o.Err.Error()
	}
	return json.Marshal(out)
}

// ConsolidationResult outcome of merging one (city, year) group
type ConsolidationResult struct {
	City    string   `json:"city"`
	Year    string   `json:"year"`
	Path    string   `json:"path,omitempty"` // empty when nothing was written
	Files   int      `json:"files"`
	Skipped []string `json:"skipped,omitempty"`
	Records int      `json:"records"`
}

// RunSummary aggregated view of a whole run
type RunSummary struct {
	RunID        string                `json:"run_id"`
	Planned      int                   `json:"planned"`
	Succeeded    int                   `json:"succeeded"`
	Failed       int                   `json:"failed"`
	Records      int                   `json:"records"`
	Outcomes     []TaskOutcome         `json:"outcomes"`
	Consolidated []ConsolidationResult `json:"consolidated"`
	StartedAt    time.Time             `json:"started_at"`
	FinishedAt   time.Time             `json:"finished_at"`
}

// Record adds a task outcome to the summary
func (s *RunSummary) Record(o TaskOutcome) {
	s.Outcomes = append(s.Outcomes, o)
	if o.Err != nil {
		s.Failed++
		return
	}
	s.Succeeded++
	s.Records += o.Records
}

// Completed number of tasks that reached a terminal state
func (s *RunSummary) Completed() int {
	return s.Succeeded + s.Failed
}

// ToJSON serializes the summary
func (s *RunSummary) ToJSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// EventKind progress event type
type EventKind string

const (
	EventPageExtracted EventKind = "page_extracted"
	EventUnitSaved     EventKind = "unit_saved"
	EventUnitEmpty     EventKind = "unit_empty"
	EventTaskCompleted EventKind = "task_completed"
	EventConsolidated  EventKind = "consolidated"
)

// ProgressEvent one line of the progress stream
type ProgressEvent struct {
	Kind      EventKind `json:"kind"`
	RunID     string    `json:"run_id,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	City      string    `json:"city,omitempty"`
	Year      string    `json:"year,omitempty"`
	Month     string    `json:"month,omitempty"`
	Page      int       `json:"page,omitempty"`
	Records   int       `json:"records"`
	Completed int       `json:"completed,omitempty"`
	Planned   int       `json:"planned,omitempty"`
	Path      string    `json:"path,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// NewTaskEvent event pre-filled with the task's identity
func NewTaskEvent(kind EventKind, t Task) ProgressEvent {
	return ProgressEvent{
		Kind:   kind,
		TaskID: t.ID(),
		City:   t.City,
		Year:   t.Year,
		Month:  t.Month,
	}
}
