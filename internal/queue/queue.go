package queue

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/itstheanurag/gradebox/internal/metrics"
)

var ErrQueueFull = errors.New("grading queue is full")

// Job asks a worker to grade one stored submission.
type Job struct {
	ID           string
	SubmissionID string
	// Done, if set, receives the grading outcome once the job finishes.
	Done func(err error)
}

func NewJob(submissionID string, done func(error)) *Job {
	return &Job{ID: uuid.NewString(), SubmissionID: submissionID, Done: done}
}

func (j *Job) Finish(err error) {
	if j.Done != nil {
		j.Done(err)
	}
}

type Manager struct {
	jobQueue chan *Job
}

func NewManager(capacity int) *Manager {
	return &Manager{
		jobQueue: make(chan *Job, capacity),
	}
}

// Submit blocks until the job is queued or ctx is done.
func (m *Manager) Submit(ctx context.Context, job *Job) error {
	select {
	case m.jobQueue <- job:
		m.UpdateQueueMetric()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit queues the job without waiting.
func (m *Manager) TrySubmit(job *Job) error {
	select {
	case m.jobQueue <- job:
		m.UpdateQueueMetric()
		return nil
	default:
		return ErrQueueFull
	}
}

func (m *Manager) NextJob() <-chan *Job {
	return m.jobQueue
}

func (m *Manager) Len() int {
	return len(m.jobQueue)
}

func (m *Manager) UpdateQueueMetric() {
	metrics.QueueDepth.Set(float64(len(m.jobQueue)))
}
