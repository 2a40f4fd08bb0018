// Package grader drives the grading lifecycle of a submission: it prepares
// one workspace, runs every test case in order, persists each result as it
// is produced and records the worst verdict as the submission's status.
package grader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/itstheanurag/gradebox/internal/executor"
	"github.com/itstheanurag/gradebox/internal/languages"
	"github.com/itstheanurag/gradebox/internal/metrics"
	"github.com/itstheanurag/gradebox/internal/sandbox"
	"github.com/itstheanurag/gradebox/internal/verdict"
	"github.com/rs/zerolog"
)

var ErrWorkspaceUnavailable = errors.New("workspace unavailable")

// IsRetryable reports whether a failed grading attempt may be retried by
// the job system. A cancelled attempt was cut short by shutdown, not by the
// submission.
func IsRetryable(err error) bool {
	return errors.Is(err, sandbox.ErrSandboxUnavailable) ||
		errors.Is(err, ErrWorkspaceUnavailable) ||
		errors.Is(err, context.Canceled)
}

type Options struct {
	// DefaultTimeLimit applies to problems without their own limit.
	DefaultTimeLimit time.Duration
	RunTimeLimit     time.Duration
}

type Grader struct {
	store      Store
	registry   Registry
	workspaces Workspaces
	runner     Runner
	opts       Options
	logger     *zerolog.Logger
}

func New(store Store, registry Registry, workspaces Workspaces, runner Runner, opts Options, logger *zerolog.Logger) *Grader {
	if opts.DefaultTimeLimit <= 0 {
		opts.DefaultTimeLimit = time.Second
	}
	if opts.RunTimeLimit <= 0 {
		opts.RunTimeLimit = 10 * time.Second
	}
	return &Grader{
		store:      store,
		registry:   registry,
		workspaces: workspaces,
		runner:     runner,
		opts:       opts,
		logger:     logger,
	}
}

// Grade grades one submission and always leaves it in a terminal status
// once it has been loaded. Only retryable infrastructure failures are
// returned; everything else ends as SYSTEM_ERROR and is logged.
func (g *Grader) Grade(ctx context.Context, submissionID string) error {
	log := g.logger.With().Str("submission_id", submissionID).Logger()

	sub, err := g.store.Load(ctx, submissionID)
	if err != nil {
		return fmt.Errorf("failed to load submission %s: %w", submissionID, err)
	}
	log = log.With().Str("language", sub.Language).Logger()

	rt, err := g.registry.Lookup(ctx, sub.Language)
	if err != nil {
		log.Error().Err(err).Msg("no runtime for submission language")
		g.finish(ctx, &log, submissionID, verdict.SystemError)
		if errors.Is(err, languages.ErrRuntimeMissing) {
			return nil
		}
		return fmt.Errorf("failed to look up runtime: %w", err)
	}

	if err := g.store.BeginAttempt(ctx, submissionID); err != nil {
		return fmt.Errorf("failed to mark submission processing: %w", err)
	}
	log.Info().Int("test_cases", len(sub.TestCases)).Msg("grading started")

	status, err := g.grade(ctx, &log, sub, rt)
	if err != nil {
		log.Error().Err(err).Msg("grading failed")
		g.finish(ctx, &log, submissionID, verdict.SystemError)
		if IsRetryable(err) {
			return err
		}
		return nil
	}

	g.finish(ctx, &log, submissionID, status)
	return nil
}

func (g *Grader) grade(ctx context.Context, log *zerolog.Logger, sub *Submission, rt languages.RuntimeConfig) (status verdict.Status, err error) {
	ws, err := g.prepare(sub.Code, rt)
	if err != nil {
		return "", err
	}
	defer g.workspaces.Destroy(ws)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during grading: %v", r)
		}
	}()

	limit := g.timeLimit(sub.TimeLimitSeconds)
	worst := verdict.Accepted
	for _, tc := range sub.TestCases {
		expected := tc.ExpectedOutput
		res, err := g.runner.Execute(ctx, ws, executor.TestInput{Input: tc.Input, Expected: &expected}, limit)
		if err != nil {
			return "", fmt.Errorf("test case %s: %w", tc.ID, err)
		}
		if err := g.store.AppendTestResult(ctx, sub.ID, tc.ID, res); err != nil {
			return "", fmt.Errorf("failed to persist result of test case %s: %w", tc.ID, err)
		}
		log.Debug().Str("test_case_id", tc.ID).Str("verdict", string(res.Status)).Msg("test case graded")
		worst = verdict.Worse(worst, res.Status)
	}
	return worst, nil
}

// Run executes caller-supplied test cases without touching the store.
func (g *Grader) Run(ctx context.Context, code, language string, cases []RunCase) (*RunReport, error) {
	rt, err := g.registry.Lookup(ctx, language)
	if err != nil {
		return nil, err
	}

	ws, err := g.prepare(code, rt)
	if err != nil {
		return nil, err
	}
	defer g.workspaces.Destroy(ws)

	report := &RunReport{Results: make([]RunItem, 0, len(cases))}
	results := make([]verdict.ExecutionResult, 0, len(cases))
	for _, tc := range cases {
		res, err := g.runner.Execute(ctx, ws, executor.TestInput{Input: tc.Input, Expected: tc.ExpectedOutput}, g.opts.RunTimeLimit)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
		report.Results = append(report.Results, RunItem{
			ExecutionResult: res,
			Input:           tc.Input,
			ExpectedOutput:  tc.ExpectedOutput,
		})
	}
	report.OverallStatus = verdict.Worst(results)
	return report, nil
}

func (g *Grader) prepare(code string, rt languages.RuntimeConfig) (*sandbox.Workspace, error) {
	ws, err := g.workspaces.Prepare(code, rt)
	if err == nil {
		return ws, nil
	}
	if errors.Is(err, languages.ErrInvalidConfiguration) {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %v", ErrWorkspaceUnavailable, err)
}

func (g *Grader) timeLimit(seconds float64) time.Duration {
	if seconds <= 0 {
		return g.opts.DefaultTimeLimit
	}
	return time.Duration(seconds * float64(time.Second))
}

// finish records a terminal status even if ctx has been cancelled.
func (g *Grader) finish(ctx context.Context, log *zerolog.Logger, submissionID string, status verdict.Status) {
	if err := g.store.SetStatus(context.WithoutCancel(ctx), submissionID, status); err != nil {
		log.Error().Err(err).Str("status", string(status)).Msg("failed to record final status")
		return
	}
	metrics.SubmissionsGraded.WithLabelValues(string(status)).Inc()
	log.Info().Str("status", string(status)).Msg("grading finished")
}
