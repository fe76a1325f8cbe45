// Package queue defines the durable job queue collaborator used by the
// event publisher and processors, together with an in-process
// implementation providing at-least-once delivery, per-job priority,
// delay, and job-id deduplication.
package queue

import (
	"context"
	"errors"
	"time"
)

var (
	ErrQueueDraining = errors.New("queue is draining")
	ErrQueueStopped  = errors.New("queue is stopped")
)

// Handler processes a single job. Returning an error signals the queue
// to retry the job according to its retry policy; once attempts are
// exhausted the job is reported as permanently failed.
type Handler func(ctx context.Context, job *Job) error

// FailureHandler is invoked when a job has exhausted its retry budget.
type FailureHandler func(job *Job, err error)

// Job is a unit of work delivered to exactly one handler invocation at
// a time.
type Job struct {
	// ID is the deduplication key. Enqueueing a second job with the
	// same ID while one is still waiting, delayed, or active is a
	// no-op.
	ID string

	// Name identifies the job kind within its queue.
	Name string

	// Payload is the opaque job body.
	Payload []byte

	// Priority orders waiting jobs. Higher values dequeue first.
	Priority int

	// Attempt is the current delivery attempt, 1-indexed.
	Attempt int

	// MaxAttempts is the total attempt budget for this job.
	MaxAttempts int

	// EnqueuedAt is when the job was first accepted.
	EnqueuedAt time.Time
}

// RetryPolicy is the queue-agnostic retry configuration attached to a
// job at enqueue time.
type RetryPolicy struct {
	// MaxAttempts is the total attempt budget, including the first.
	MaxAttempts int

	// BackoffKind selects the delay strategy between attempts
	// (constant, linear, exponential, exponential_jitter).
	BackoffKind string

	// BaseDelay is the initial retry delay.
	BaseDelay time.Duration

	// MaxDelay caps the delay for growing strategies. Zero means
	// uncapped.
	MaxDelay time.Duration
}

// Options configures a single enqueue call.
type Options struct {
	// JobID is the deduplication key. Empty means no deduplication;
	// the queue assigns an internal id.
	JobID string

	// Priority orders waiting jobs. Higher values dequeue first.
	Priority int

	// Delay defers the first delivery attempt.
	Delay time.Duration

	// Policy overrides the queue's default retry policy when any of
	// its fields are set.
	Policy RetryPolicy
}

// Counts reports the number of jobs per lifecycle state.
type Counts struct {
	Waiting   int
	Active    int
	Completed int
	Failed    int
	Delayed   int
}

// Queue is the durable queue collaborator. Implementations must
// deliver each job to exactly one worker at a time with at-least-once
// semantics and caller-supplied retry/backoff.
type Queue interface {
	// Enqueue accepts a job for the named queue. The job name selects
	// the registered handler. Duplicate JobIDs are accepted and
	// dropped without error.
	Enqueue(ctx context.Context, queue, name string, payload []byte, opts Options) error

	// RegisterHandler binds a handler to a job name on a queue.
	// Handlers must be registered before Start.
	RegisterHandler(queue, name string, handler Handler)

	// OnPermanentFailure registers a callback invoked after a job's
	// final failed attempt.
	OnPermanentFailure(queue string, fn FailureHandler)

	// Pause stops dispatching jobs from the queue; enqueue still works.
	Pause(queue string)

	// Resume restarts dispatching after Pause.
	Resume(queue string)

	// Drain discards all waiting and delayed jobs on the queue.
	Drain(queue string)

	// Counts returns per-state job counts for the queue.
	Counts(queue string) Counts
}
