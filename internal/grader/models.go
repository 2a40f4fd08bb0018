package grader

import (
	"context"
	"time"

	"github.com/itstheanurag/gradebox/internal/executor"
	"github.com/itstheanurag/gradebox/internal/languages"
	"github.com/itstheanurag/gradebox/internal/sandbox"
	"github.com/itstheanurag/gradebox/internal/verdict"
)

type TestCase struct {
	ID             string
	Input          string
	ExpectedOutput string
	IsSample       bool
}

// Submission is everything grading needs from the submission store.
type Submission struct {
	ID       string
	Code     string
	Language string
	// TimeLimitSeconds is the problem's wall-clock limit per test case.
	TimeLimitSeconds float64
	TestCases        []TestCase
}

type Store interface {
	Load(ctx context.Context, submissionID string) (*Submission, error)
	// BeginAttempt marks the submission PROCESSING and drops the results of
	// any earlier attempt.
	BeginAttempt(ctx context.Context, submissionID string) error
	SetStatus(ctx context.Context, submissionID string, status verdict.Status) error
	// AppendTestResult records one result; a repeated test case replaces the
	// earlier row.
	AppendTestResult(ctx context.Context, submissionID, testCaseID string, res verdict.ExecutionResult) error
}

type Registry interface {
	Lookup(ctx context.Context, language string) (languages.RuntimeConfig, error)
}

type Workspaces interface {
	Prepare(sourceCode string, rt languages.RuntimeConfig) (*sandbox.Workspace, error)
	Destroy(ws *sandbox.Workspace)
}

type Runner interface {
	Execute(ctx context.Context, ws *sandbox.Workspace, tc executor.TestInput, timeLimit time.Duration) (verdict.ExecutionResult, error)
}

// RunCase is one caller-supplied test case in run mode.
type RunCase struct {
	Input          string  `json:"input"`
	ExpectedOutput *string `json:"expected_output,omitempty"`
}

type RunItem struct {
	verdict.ExecutionResult
	Input          string  `json:"input"`
	ExpectedOutput *string `json:"expected_output,omitempty"`
}

type RunReport struct {
	Results       []RunItem      `json:"results"`
	OverallStatus verdict.Status `json:"overall_status"`
}
