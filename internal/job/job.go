// Package job models an import job: the durable record of one file's journey
// through the pipeline, with a small explicit state machine guarding its
// lifecycle. A job is mutated by exactly one goroutine (the pipeline that owns
// it); concurrent readers go through the store's last persisted checkpoint.
package job

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an import job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// transitions is the full set of legal state changes. Terminal states have no
// outgoing edges.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusFailed, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
}

func canTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Job is one import run over one source. Counter invariant, maintained by the
// Record* methods: Processed == Successful + Failed at every observable point;
// Total is fixed to Processed when the run finishes (record count is not known
// up front for streamed sources).
type Job struct {
	ID        string
	Filename  string
	DatasetID string
	Status    Status

	Total      int64
	Processed  int64
	Successful int64
	Failed     int64

	ErrorMessage string

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// New creates a pending job with a fresh UUID.
func New(filename, datasetID string) *Job {
	return &Job{
		ID:        uuid.NewString(),
		Filename:  filename,
		DatasetID: datasetID,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// transition validates and applies a state change.
func (j *Job) transition(to Status) error {
	if !canTransition(j.Status, to) {
		return fmt.Errorf("job %s: illegal transition %s -> %s", j.ID, j.Status, to)
	}
	j.Status = to
	return nil
}

// Start moves the job to processing and stamps StartedAt.
func (j *Job) Start() error {
	if err := j.transition(StatusProcessing); err != nil {
		return err
	}
	now := time.Now().UTC()
	j.StartedAt = &now
	return nil
}

// Complete finishes the job successfully, freezing Total at Processed.
func (j *Job) Complete() error {
	if err := j.transition(StatusCompleted); err != nil {
		return err
	}
	j.finish()
	return nil
}

// Fail terminates the job with an error message.
func (j *Job) Fail(msg string) error {
	if err := j.transition(StatusFailed); err != nil {
		return err
	}
	j.ErrorMessage = msg
	j.finish()
	return nil
}

// Cancel terminates the job due to caller cancellation. Counters keep the
// values accumulated up to the last batch boundary.
func (j *Job) Cancel() error {
	if err := j.transition(StatusCancelled); err != nil {
		return err
	}
	j.finish()
	return nil
}

func (j *Job) finish() {
	now := time.Now().UTC()
	j.CompletedAt = &now
	j.Total = j.Processed
}

// Terminal reports whether the job can no longer change state.
func (j *Job) Terminal() bool {
	return len(transitions[j.Status]) == 0
}

// RecordSuccess counts one record as processed and written.
func (j *Job) RecordSuccess() {
	j.Processed++
	j.Successful++
}

// RecordFailure counts one record as processed and rejected.
func (j *Job) RecordFailure() {
	j.Processed++
	j.Failed++
}

// Duration returns the wall time from start to completion; for a running job,
// elapsed time so far; zero when never started.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	if j.CompletedAt != nil {
		return j.CompletedAt.Sub(*j.StartedAt)
	}
	return time.Since(*j.StartedAt)
}
