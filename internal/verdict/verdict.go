// Package verdict defines graded outcomes and the severity order used to
// aggregate them.
package verdict

// Status is a submission or test case status. Per-test results only ever
// carry the five graded verdicts; submissions additionally move through
// Pending, Processing and SystemError.
type Status string

const (
	Pending           Status = "PENDING"
	Processing        Status = "PROCESSING"
	Accepted          Status = "ACCEPTED"
	WrongAnswer       Status = "WRONG_ANSWER"
	TimeLimitExceeded Status = "TIME_LIMIT_EXCEEDED"
	RuntimeError      Status = "RUNTIME_ERROR"
	CompilationError  Status = "COMPILATION_ERROR"
	SystemError       Status = "SYSTEM_ERROR"
)

// Severity ranks graded verdicts; higher is worse. Non-verdict statuses rank 0.
func (s Status) Severity() int {
	switch s {
	case Accepted:
		return 1
	case WrongAnswer:
		return 2
	case TimeLimitExceeded:
		return 3
	case RuntimeError:
		return 4
	case CompilationError:
		return 5
	}
	return 0
}

// Terminal reports whether a submission in this status is finished.
func (s Status) Terminal() bool {
	return s.Severity() > 0 || s == SystemError
}

// ExecutionResult is the classified outcome of one test case.
type ExecutionResult struct {
	Status          Status `json:"status"`
	Stdout          string `json:"stdout"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
}

// Worse returns the more severe of a and b.
func Worse(a, b Status) Status {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

// Worst returns the most severe verdict among results, or Accepted when
// there are none.
func Worst(results []ExecutionResult) Status {
	worst := Accepted
	for _, r := range results {
		worst = Worse(worst, r.Status)
	}
	return worst
}
