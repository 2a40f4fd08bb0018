package grader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/itstheanurag/gradebox/internal/executor"
	"github.com/itstheanurag/gradebox/internal/languages"
	"github.com/itstheanurag/gradebox/internal/sandbox"
	"github.com/itstheanurag/gradebox/internal/verdict"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type appended struct {
	testCaseID string
	result     verdict.ExecutionResult
}

type memStore struct {
	mu        sync.Mutex
	subs      map[string]*Submission
	statuses  []verdict.Status
	results   []appended
	appendErr error
}

func (s *memStore) Load(_ context.Context, id string) (*Submission, error) {
	sub, ok := s.subs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return sub, nil
}

func (s *memStore) BeginAttempt(_ context.Context, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, verdict.Processing)
	s.results = nil
	return nil
}

func (s *memStore) SetStatus(_ context.Context, _ string, status verdict.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *memStore) AppendTestResult(_ context.Context, _, testCaseID string, res verdict.ExecutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.results = append(s.results, appended{testCaseID: testCaseID, result: res})
	return nil
}

type countingWorkspaces struct {
	inner    *sandbox.Workspaces
	prepared int
	destroys int
	last     *sandbox.Workspace
}

func (w *countingWorkspaces) Prepare(code string, rt languages.RuntimeConfig) (*sandbox.Workspace, error) {
	w.prepared++
	ws, err := w.inner.Prepare(code, rt)
	w.last = ws
	return ws, err
}

func (w *countingWorkspaces) Destroy(ws *sandbox.Workspace) {
	w.destroys++
	w.inner.Destroy(ws)
}

// scriptedRunner maps a test input to a verdict; the input "panic" panics,
// err fails every call and failOn fails calls for one input.
type scriptedRunner struct {
	verdicts map[string]verdict.Status
	err      error
	failOn   map[string]error
	calls    int
	limits   []time.Duration
	expected []*string
}

func (r *scriptedRunner) Execute(_ context.Context, _ *sandbox.Workspace, tc executor.TestInput, limit time.Duration) (verdict.ExecutionResult, error) {
	r.calls++
	r.limits = append(r.limits, limit)
	r.expected = append(r.expected, tc.Expected)
	if r.err != nil {
		return verdict.ExecutionResult{}, r.err
	}
	if err := r.failOn[tc.Input]; err != nil {
		return verdict.ExecutionResult{}, err
	}
	if tc.Input == "panic" {
		panic("boom")
	}
	status, ok := r.verdicts[tc.Input]
	if !ok {
		status = verdict.Accepted
	}
	return verdict.ExecutionResult{Status: status, Stdout: tc.Input, ExecutionTimeMs: 5}, nil
}

type fixture struct {
	store      *memStore
	registry   *languages.Registry
	workspaces *countingWorkspaces
	runner     *scriptedRunner
	grader     *Grader
}

func newFixture(t *testing.T, sub *Submission) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	f := &fixture{
		store:      &memStore{subs: map[string]*Submission{sub.ID: sub}},
		registry:   languages.NewRegistry(),
		workspaces: &countingWorkspaces{inner: sandbox.NewWorkspaces(t.TempDir(), &logger)},
		runner:     &scriptedRunner{verdicts: map[string]verdict.Status{}},
	}
	f.grader = New(f.store, f.registry, f.workspaces, f.runner, Options{
		DefaultTimeLimit: time.Second,
		RunTimeLimit:     10 * time.Second,
	}, &logger)
	return f
}

func submission(inputs ...string) *Submission {
	sub := &Submission{ID: "sub-1", Code: "print(input())", Language: "python", TimeLimitSeconds: 2}
	for i, in := range inputs {
		sub.TestCases = append(sub.TestCases, TestCase{ID: fmt.Sprintf("tc-%d", i+1), Input: in, ExpectedOutput: in})
	}
	return sub
}

func TestGradeAllAccepted(t *testing.T) {
	f := newFixture(t, submission("a", "b", "c"))

	require.NoError(t, f.grader.Grade(context.Background(), "sub-1"))

	assert.Equal(t, []verdict.Status{verdict.Processing, verdict.Accepted}, f.store.statuses)
	require.Len(t, f.store.results, 3)
	assert.Equal(t, "tc-1", f.store.results[0].testCaseID)
	assert.Equal(t, "tc-3", f.store.results[2].testCaseID)

	assert.Equal(t, 1, f.workspaces.prepared)
	assert.Equal(t, 1, f.workspaces.destroys)
	_, err := os.Stat(f.workspaces.last.Dir)
	assert.ErrorIs(t, err, os.ErrNotExist)

	for _, l := range f.runner.limits {
		assert.Equal(t, 2*time.Second, l)
	}
	require.NotNil(t, f.runner.expected[0])
	assert.Equal(t, "a", *f.runner.expected[0])
}

func TestGradeReportsWorstVerdictAfterEveryTest(t *testing.T) {
	f := newFixture(t, submission("wa", "ok", "tle", "ok"))
	f.runner.verdicts["wa"] = verdict.WrongAnswer
	f.runner.verdicts["tle"] = verdict.TimeLimitExceeded

	require.NoError(t, f.grader.Grade(context.Background(), "sub-1"))

	assert.Equal(t, 4, f.runner.calls)
	assert.Len(t, f.store.results, 4)
	assert.Equal(t, []verdict.Status{verdict.Processing, verdict.TimeLimitExceeded}, f.store.statuses)
}

func TestGradeIsOrderIndependent(t *testing.T) {
	orders := [][]string{
		{"ce", "wa", "ok"},
		{"ok", "ce", "wa"},
		{"wa", "ok", "ce"},
	}
	for _, order := range orders {
		f := newFixture(t, submission(order...))
		f.runner.verdicts["ce"] = verdict.CompilationError
		f.runner.verdicts["wa"] = verdict.WrongAnswer

		require.NoError(t, f.grader.Grade(context.Background(), "sub-1"))
		assert.Equal(t, verdict.CompilationError, f.store.statuses[len(f.store.statuses)-1], order)
	}
}

func TestGradeUsesDefaultTimeLimit(t *testing.T) {
	sub := submission("a")
	sub.TimeLimitSeconds = 0
	f := newFixture(t, sub)

	require.NoError(t, f.grader.Grade(context.Background(), "sub-1"))
	assert.Equal(t, []time.Duration{time.Second}, f.runner.limits)
}

func TestGradeRuntimeMissing(t *testing.T) {
	sub := submission("a")
	sub.Language = "brainfuck"
	f := newFixture(t, sub)

	require.NoError(t, f.grader.Grade(context.Background(), "sub-1"))

	assert.Equal(t, []verdict.Status{verdict.SystemError}, f.store.statuses)
	assert.Zero(t, f.workspaces.prepared)
	assert.Zero(t, f.runner.calls)
}

func TestGradeInvalidConfiguration(t *testing.T) {
	f := newFixture(t, submission("a"))
	f.registry.Register(languages.RuntimeConfig{
		Language:      "python",
		Image:         "; rm -rf /",
		FileName:      "solution.py",
		RunCommand:    "python3 solution.py",
		MemoryLimitMB: 128,
		CPULimitCores: 0.5,
	})

	require.NoError(t, f.grader.Grade(context.Background(), "sub-1"))

	assert.Equal(t, []verdict.Status{verdict.Processing, verdict.SystemError}, f.store.statuses)
	assert.Nil(t, f.workspaces.last)
	assert.Zero(t, f.workspaces.destroys)
	assert.Zero(t, f.runner.calls)
}

func TestGradeRecoversFromPanic(t *testing.T) {
	f := newFixture(t, submission("a", "panic", "c"))

	require.NoError(t, f.grader.Grade(context.Background(), "sub-1"))

	assert.Equal(t, []verdict.Status{verdict.Processing, verdict.SystemError}, f.store.statuses)
	assert.Len(t, f.store.results, 1)
	assert.Equal(t, 1, f.workspaces.destroys)
}

func TestGradeSandboxUnavailableIsRetryable(t *testing.T) {
	f := newFixture(t, submission("a", "b"))
	f.runner.err = fmt.Errorf("sandbox execution failed: %w", sandbox.ErrSandboxUnavailable)

	err := f.grader.Grade(context.Background(), "sub-1")
	require.Error(t, err)
	assert.True(t, IsRetryable(err))

	assert.Equal(t, []verdict.Status{verdict.Processing, verdict.SystemError}, f.store.statuses)
	assert.Equal(t, 1, f.runner.calls)
	assert.Equal(t, 1, f.workspaces.destroys)
}

func TestGradeCancelledAttemptIsRetryable(t *testing.T) {
	f := newFixture(t, submission("a"))
	f.runner.err = fmt.Errorf("sandbox execution failed: %w", context.Canceled)

	err := f.grader.Grade(context.Background(), "sub-1")
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, []verdict.Status{verdict.Processing, verdict.SystemError}, f.store.statuses)
}

func TestGradeRetryReplacesEarlierResults(t *testing.T) {
	f := newFixture(t, submission("a", "b", "c"))
	f.runner.failOn = map[string]error{"c": sandbox.ErrSandboxUnavailable}

	err := f.grader.Grade(context.Background(), "sub-1")
	require.True(t, IsRetryable(err))
	require.Len(t, f.store.results, 2)

	f.runner.failOn = nil
	require.NoError(t, f.grader.Grade(context.Background(), "sub-1"))

	var ids []string
	for _, r := range f.store.results {
		ids = append(ids, r.testCaseID)
	}
	assert.Equal(t, []string{"tc-1", "tc-2", "tc-3"}, ids)
	assert.Equal(t, []verdict.Status{
		verdict.Processing, verdict.SystemError,
		verdict.Processing, verdict.Accepted,
	}, f.store.statuses)
}

func TestGradeStoreFailureEndsInSystemError(t *testing.T) {
	f := newFixture(t, submission("a"))
	f.store.appendErr = errors.New("connection reset")

	require.NoError(t, f.grader.Grade(context.Background(), "sub-1"))
	assert.Equal(t, []verdict.Status{verdict.Processing, verdict.SystemError}, f.store.statuses)
	assert.Equal(t, 1, f.workspaces.destroys)
}

func TestGradeUnknownSubmission(t *testing.T) {
	f := newFixture(t, submission("a"))

	err := f.grader.Grade(context.Background(), "nope")
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
	assert.Empty(t, f.store.statuses)
}

func TestRunDoesNotPersist(t *testing.T) {
	f := newFixture(t, submission())
	f.runner.verdicts["bad"] = verdict.RuntimeError
	bar := "bar"

	report, err := f.grader.Run(context.Background(), "print(input())", "python", []RunCase{
		{Input: "foo"},
		{Input: "bad", ExpectedOutput: &bar},
	})
	require.NoError(t, err)

	require.Len(t, report.Results, 2)
	assert.Equal(t, verdict.Accepted, report.Results[0].Status)
	assert.Nil(t, report.Results[0].ExpectedOutput)
	assert.Equal(t, "bar", *report.Results[1].ExpectedOutput)
	assert.Equal(t, verdict.RuntimeError, report.OverallStatus)

	assert.Empty(t, f.store.statuses)
	assert.Empty(t, f.store.results)
	assert.Equal(t, 1, f.workspaces.destroys)
	assert.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second}, f.runner.limits)
	assert.Nil(t, f.runner.expected[0])
}

func TestRunRuntimeMissing(t *testing.T) {
	f := newFixture(t, submission())

	_, err := f.grader.Run(context.Background(), "x", "cobol", []RunCase{{Input: "1"}})
	require.ErrorIs(t, err, languages.ErrRuntimeMissing)
	assert.Zero(t, f.workspaces.prepared)
}
