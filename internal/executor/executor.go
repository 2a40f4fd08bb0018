package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/itstheanurag/gradebox/internal/metrics"
	"github.com/itstheanurag/gradebox/internal/sandbox"
	"github.com/itstheanurag/gradebox/internal/verdict"
	"github.com/rs/zerolog"
)

// TestInput is one test case as the executor sees it.
type TestInput struct {
	Input string
	// Expected is nil in run mode when the caller only wants the output.
	Expected *string
}

type Executor struct {
	sandbox   sandbox.Sandbox
	outputCap int
	logger    *zerolog.Logger
}

func NewExecutor(sb sandbox.Sandbox, outputCap int, logger *zerolog.Logger) *Executor {
	return &Executor{
		sandbox:   sb,
		outputCap: outputCap,
		logger:    logger,
	}
}

// Execute runs one test case in ws and classifies it. Errors are
// infrastructure failures; graded outcomes are always a result.
func (e *Executor) Execute(ctx context.Context, ws *sandbox.Workspace, tc TestInput, timeLimit time.Duration) (verdict.ExecutionResult, error) {
	if err := ws.WriteTestInput(tc.Input); err != nil {
		return verdict.ExecutionResult{}, fmt.Errorf("failed to write test input: %w", err)
	}

	out, err := e.sandbox.Run(ctx, ws, timeLimit)
	if err != nil {
		return verdict.ExecutionResult{}, fmt.Errorf("sandbox execution failed: %w", err)
	}

	res := Classify(out, tc.Expected, timeLimit.Milliseconds(), e.outputCap)

	language := ws.Runtime.Language
	metrics.ExecutionsTotal.WithLabelValues(language, string(res.Status)).Inc()
	metrics.ExecutionDuration.WithLabelValues(language).Observe(float64(res.ExecutionTimeMs))

	e.logger.Debug().
		Str("language", language).
		Str("verdict", string(res.Status)).
		Int64("time_ms", res.ExecutionTimeMs).
		Msg("test case executed")

	return res, nil
}
