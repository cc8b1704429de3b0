package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"FinRisk/internal/domain/models"
)

type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// JobSnapshot is a point-in-time view of a job for listing and polling.
type JobSnapshot struct {
	ID         string      `json:"id"`
	Kind       string      `json:"kind"`
	Status     JobStatus   `json:"status"`
	Error      string      `json:"error,omitempty"`
	ErrorKind  string      `json:"error_kind,omitempty"`
	Result     interface{} `json:"result,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

// Job is a handle on a background computation bounded by a timeout.
// When the timeout fires the job finishes with ErrTimeout and whatever the
// function later returns is dropped.
type Job[T any] struct {
	id      string
	kind    string
	created time.Time
	cancel  context.CancelFunc
	done    chan struct{}

	mu        sync.Mutex
	status    JobStatus
	result    T
	err       error
	finished  time.Time
	cancelled bool
}

func (j *Job[T]) ID() string { return j.id }

// Done is closed when the job reaches a terminal status.
func (j *Job[T]) Done() <-chan struct{} { return j.done }

// Wait blocks until the job finishes or ctx ends. Giving up on Wait does not
// cancel the job.
func (j *Job[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-j.done:
		j.mu.Lock()
		defer j.mu.Unlock()
		return j.result, j.err
	case <-ctx.Done():
		var zero T
		return zero, models.AsTimeout(ctx.Err(), "wait for job "+j.id)
	}
}

// Cancel stops the job; a finished job is left as is.
func (j *Job[T]) Cancel() {
	j.mu.Lock()
	if j.status == JobRunning {
		j.cancelled = true
	}
	j.mu.Unlock()
	j.cancel()
}

func (j *Job[T]) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	s := JobSnapshot{ID: j.id, Kind: j.kind, Status: j.status, CreatedAt: j.created}
	if j.status == JobRunning {
		return s
	}
	fin := j.finished
	s.FinishedAt = &fin
	if j.err != nil {
		s.Error = j.err.Error()
		s.ErrorKind = models.ErrorKind(j.err)
	} else {
		s.Result = j.result
	}
	return s
}

func (j *Job[T]) finish(v T, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != JobRunning {
		return
	}
	switch {
	case j.cancelled:
		j.status, j.err = JobCancelled, fmt.Errorf("job %s cancelled: %w", j.id, context.Canceled)
	case err != nil:
		j.status, j.err = JobFailed, err
	default:
		j.status, j.result = JobSucceeded, v
	}
	j.finished = time.Now()
	close(j.done)
}

func (j *Job[T]) terminal() (bool, time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status != JobRunning, j.finished
}

type jobView interface {
	ID() string
	Snapshot() JobSnapshot
	Cancel()
	terminal() (bool, time.Time)
}

// JobRegistry tracks background jobs by id and forgets finished ones after
// the retention period.
type JobRegistry struct {
	mu        sync.RWMutex
	jobs      map[string]jobView
	retention time.Duration
}

func NewJobRegistry(retention time.Duration) *JobRegistry {
	if retention <= 0 {
		retention = time.Hour
	}
	return &JobRegistry{jobs: make(map[string]jobView), retention: retention}
}

// SubmitJob starts fn in the background under timeout and registers it.
func SubmitJob[T any](r *JobRegistry, kind string, timeout time.Duration, fn func(context.Context) (T, error)) *Job[T] {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	j := &Job[T]{
		id:      uuid.NewString(),
		kind:    kind,
		created: time.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
		status:  JobRunning,
	}
	if r != nil {
		r.add(j)
	}

	type outcome struct {
		v   T
		err error
	}
	out := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				var zero T
				out <- outcome{zero, fmt.Errorf("job %s panicked: %v", j.id, rec)}
			}
		}()
		v, err := fn(ctx)
		out <- outcome{v, err}
	}()
	go func() {
		defer cancel()
		select {
		case o := <-out:
			if o.err != nil && ctx.Err() != nil && !errors.Is(o.err, models.ErrTimeout) {
				o.err = models.AsTimeout(ctx.Err(), kind)
			}
			j.finish(o.v, o.err)
		case <-ctx.Done():
			var zero T
			j.finish(zero, models.AsTimeout(ctx.Err(), kind))
		}
	}()
	return j
}

func (r *JobRegistry) add(j jobView) {
	r.mu.Lock()
	r.jobs[j.ID()] = j
	r.mu.Unlock()
	r.prune()
}

func (r *JobRegistry) Get(id string) (JobSnapshot, bool) {
	r.mu.RLock()
	j, ok := r.jobs[id]
	r.mu.RUnlock()
	if !ok {
		return JobSnapshot{}, false
	}
	return j.Snapshot(), true
}

func (r *JobRegistry) Cancel(id string) bool {
	r.mu.RLock()
	j, ok := r.jobs[id]
	r.mu.RUnlock()
	if ok {
		j.Cancel()
	}
	return ok
}

// List returns all tracked jobs, newest first.
func (r *JobRegistry) List() []JobSnapshot {
	r.mu.RLock()
	out := make([]JobSnapshot, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j.Snapshot())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out
}

func (r *JobRegistry) prune() {
	cutoff := time.Now().Add(-r.retention)
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, j := range r.jobs {
		if done, at := j.terminal(); done && at.Before(cutoff) {
			delete(r.jobs, id)
		}
	}
}
