package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/itstheanurag/gradebox/internal/grader"
	"github.com/itstheanurag/gradebox/internal/verdict"
	"github.com/jackc/pgx/v5"
)

var ErrSubmissionNotFound = errors.New("submission not found")

const (
	loadSubmissionQuery = `
SELECT s.id, s.code, s.language, s.problem_id, COALESCE(p.time_limit, 0)
FROM submissions s
JOIN problems p ON p.id = s.problem_id
WHERE s.id = $1`

	loadTestCasesQuery = `
SELECT id, input, expected_output, is_sample
FROM test_cases
WHERE problem_id = $1
ORDER BY position, id`

	setStatusQuery = `
UPDATE submissions SET status = $2, updated_at = now() WHERE id = $1`

	clearResultsQuery = `
DELETE FROM submission_test_case_results WHERE submission_id = $1`

	appendResultQuery = `
INSERT INTO submission_test_case_results
    (submission_id, test_case_id, status, stdout, execution_time_ms, input, expected_output)
SELECT $1, tc.id, $3, $4, $5, tc.input, tc.expected_output
FROM test_cases tc
WHERE tc.id = $2
ON CONFLICT (submission_id, test_case_id) DO UPDATE SET
    status = EXCLUDED.status,
    stdout = EXCLUDED.stdout,
    execution_time_ms = EXCLUDED.execution_time_ms,
    input = EXCLUDED.input,
    expected_output = EXCLUDED.expected_output,
    created_at = now()`
)

// SubmissionStore persists submissions and their per-test results.
type SubmissionStore struct {
	db *Database
}

func NewSubmissionStore(db *Database) *SubmissionStore {
	return &SubmissionStore{db: db}
}

func (s *SubmissionStore) Load(ctx context.Context, submissionID string) (*grader.Submission, error) {
	var (
		sub       grader.Submission
		problemID string
	)
	err := s.db.Pool.QueryRow(ctx, loadSubmissionQuery, submissionID).
		Scan(&sub.ID, &sub.Code, &sub.Language, &problemID, &sub.TimeLimitSeconds)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSubmissionNotFound, submissionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load submission: %w", err)
	}

	rows, err := s.db.Pool.Query(ctx, loadTestCasesQuery, problemID)
	if err != nil {
		return nil, fmt.Errorf("failed to load test cases: %w", err)
	}
	sub.TestCases, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (grader.TestCase, error) {
		var tc grader.TestCase
		err := row.Scan(&tc.ID, &tc.Input, &tc.ExpectedOutput, &tc.IsSample)
		return tc, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan test cases: %w", err)
	}
	return &sub, nil
}

// BeginAttempt sets PROCESSING and deletes earlier results in one
// transaction, so a retried submission never shows a mix of attempts.
func (s *SubmissionStore) BeginAttempt(ctx context.Context, submissionID string) error {
	return pgx.BeginFunc(ctx, s.db.Pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, setStatusQuery, submissionID, string(verdict.Processing))
		if err != nil {
			return fmt.Errorf("failed to set status %s: %w", verdict.Processing, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", ErrSubmissionNotFound, submissionID)
		}
		if _, err := tx.Exec(ctx, clearResultsQuery, submissionID); err != nil {
			return fmt.Errorf("failed to clear earlier results: %w", err)
		}
		return nil
	})
}

func (s *SubmissionStore) SetStatus(ctx context.Context, submissionID string, status verdict.Status) error {
	tag, err := s.db.Pool.Exec(ctx, setStatusQuery, submissionID, string(status))
	if err != nil {
		return fmt.Errorf("failed to set status %s: %w", status, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrSubmissionNotFound, submissionID)
	}
	return nil
}

func (s *SubmissionStore) AppendTestResult(ctx context.Context, submissionID, testCaseID string, res verdict.ExecutionResult) error {
	tag, err := s.db.Pool.Exec(ctx, appendResultQuery,
		submissionID, testCaseID, string(res.Status), res.Stdout, res.ExecutionTimeMs)
	if err != nil {
		return fmt.Errorf("failed to insert result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("test case %s does not exist", testCaseID)
	}
	return nil
}
