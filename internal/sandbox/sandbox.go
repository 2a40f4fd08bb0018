package sandbox

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSandboxUnavailable means the container runtime could not be reached.
	ErrSandboxUnavailable = errors.New("sandbox unavailable")
	ErrImageMissing       = errors.New("runtime image missing")
)

// Outcome is the raw, unclassified result of one container run.
type Outcome struct {
	Stdout string
	Stderr string
	// ExitCode is nil when the run timed out.
	ExitCode  *int
	TimedOut  bool
	ElapsedMs int64
}

type RuntimeStatus string

const (
	StatusReady              RuntimeStatus = "READY"
	StatusImageMissing       RuntimeStatus = "IMAGE_MISSING"
	StatusRuntimeUnavailable RuntimeStatus = "RUNTIME_UNAVAILABLE"
)

type Sandbox interface {
	Run(ctx context.Context, ws *Workspace, timeLimit time.Duration) (*Outcome, error)
	Probe(ctx context.Context, image string) RuntimeStatus
	EnsureImage(ctx context.Context, image string) error
}
