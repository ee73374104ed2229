package app

import "time"

// Operation status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Operation records one CLI run: what was asked, when it started and how it
// ended. It is logged when the app closes.
type Operation struct {
	ID         string
	Name       string
	Parameters string
	StartedAt  time.Time
	Status     string
}

// NewOperation starts a successful operation. The ID is the UTC start time,
// which is also the opID column of every log line of the run.
func NewOperation(name string, startedAt time.Time) *Operation {
	return &Operation{
		ID:        startedAt.UTC().Format("20060102T150405Z"),
		Name:      name,
		StartedAt: startedAt,
		Status:    StatusSuccess,
	}
}

// Record marks the operation failed when err is non-nil and returns err.
func (op *Operation) Record(err error) error {
	if err != nil {
		op.Status = StatusError
	}
	return err
}

// Failed reports whether any recorded step failed.
func (op *Operation) Failed() bool {
	return op.Status == StatusError
}
