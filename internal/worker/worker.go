package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/itstheanurag/gradebox/internal/metrics"
	"github.com/itstheanurag/gradebox/internal/queue"
	"github.com/rs/zerolog"
)

type Grader interface {
	Grade(ctx context.Context, submissionID string) error
}

type Worker struct {
	id      int
	grader  Grader
	manager *queue.Manager
	// drain bounds how long a job in progress may keep running after
	// shutdown starts.
	drain  time.Duration
	logger *zerolog.Logger
}

func NewWorker(id int, grader Grader, manager *queue.Manager, drain time.Duration, logger *zerolog.Logger) *Worker {
	return &Worker{
		id:      id,
		grader:  grader,
		manager: manager,
		drain:   drain,
		logger:  logger,
	}
}

// Start grades queued submissions one at a time until ctx is done.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info().Int("worker_id", w.id).Msg("worker started")
	for {
		select {
		case job := <-w.manager.NextJob():
			w.manager.UpdateQueueMetric()
			metrics.ActiveWorkers.Inc()
			w.processJob(ctx, job)
			metrics.ActiveWorkers.Dec()
		case <-ctx.Done():
			w.logger.Info().Int("worker_id", w.id).Msg("worker stopping")
			return
		}
	}
}

func (w *Worker) processJob(ctx context.Context, job *queue.Job) {
	log := w.logger.With().
		Int("worker_id", w.id).
		Str("job_id", job.ID).
		Str("submission_id", job.SubmissionID).
		Logger()
	log.Info().Msg("processing job")

	jobCtx, cancel := w.jobContext(ctx)
	defer cancel()

	start := time.Now()
	err := w.safeGrade(jobCtx, job.SubmissionID)
	if err != nil {
		log.Error().Err(err).Dur("took", time.Since(start)).Msg("job failed")
	} else {
		log.Info().Dur("took", time.Since(start)).Msg("job finished")
	}
	job.Finish(err)
}

// jobContext detaches the job from shutdown: cancelling ctx only starts the
// drain timer, after which the job is cancelled.
func (w *Worker) jobContext(ctx context.Context) (context.Context, context.CancelFunc) {
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, func() {
		timer := time.NewTimer(w.drain)
		defer timer.Stop()
		select {
		case <-timer.C:
			w.logger.Warn().Int("worker_id", w.id).Dur("drain", w.drain).Msg("drain timeout, cancelling job")
			cancel()
		case <-jobCtx.Done():
		}
	})
	return jobCtx, func() {
		stop()
		cancel()
	}
}

func (w *Worker) safeGrade(ctx context.Context, submissionID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while grading %s: %v", submissionID, r)
		}
	}()
	return w.grader.Grade(ctx, submissionID)
}
