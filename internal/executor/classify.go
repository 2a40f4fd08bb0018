package executor

import (
	"strings"

	"github.com/itstheanurag/gradebox/internal/sandbox"
	"github.com/itstheanurag/gradebox/internal/verdict"
)

const noStderrMessage = "Process exited with error but no stderr output."

// compileMarkers are stderr substrings emitted by compilers and by
// interpreters rejecting a program before it runs.
var compileMarkers = []string{
	"error:",
	"SyntaxError",
	"IndentationError",
	"TabError",
	"javac",
	"gcc",
	"g++",
	"error TS",
}

// Classify turns a raw run into a verdict. expected may be nil, in which
// case any clean exit is accepted and the output is only reported.
func Classify(out *sandbox.Outcome, expected *string, timeLimitMs int64, outputCap int) verdict.ExecutionResult {
	if outputCap <= 0 {
		outputCap = sandbox.DefaultOutputCap
	}

	if out.TimedOut {
		return verdict.ExecutionResult{
			Status:          verdict.TimeLimitExceeded,
			ExecutionTimeMs: timeLimitMs,
		}
	}

	stdout := strings.TrimSpace(sandbox.Truncate(out.Stdout, outputCap))
	stderr := strings.TrimSpace(sandbox.Truncate(out.Stderr, outputCap))

	if out.ExitCode != nil && *out.ExitCode != 0 {
		status := verdict.RuntimeError
		if isCompilationError(stderr) {
			status = verdict.CompilationError
		}
		msg := stderr
		if msg == "" {
			msg = noStderrMessage
		}
		return verdict.ExecutionResult{
			Status:          status,
			Stdout:          msg,
			ExecutionTimeMs: out.ElapsedMs,
		}
	}

	status := verdict.Accepted
	if expected != nil && stdout != strings.TrimSpace(*expected) {
		status = verdict.WrongAnswer
	}
	return verdict.ExecutionResult{
		Status:          status,
		Stdout:          stdout,
		ExecutionTimeMs: out.ElapsedMs,
	}
}

func isCompilationError(stderr string) bool {
	for _, m := range compileMarkers {
		if strings.Contains(stderr, m) {
			return true
		}
	}
	return false
}
