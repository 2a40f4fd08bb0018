package server

import (
	"context"
	"fmt"
	"time"

	"github.com/itstheanurag/gradebox/internal/config"
	"github.com/itstheanurag/gradebox/internal/executor"
	"github.com/itstheanurag/gradebox/internal/grader"
	"github.com/itstheanurag/gradebox/internal/languages"
	"github.com/itstheanurag/gradebox/internal/sandbox"
	"github.com/rs/zerolog"
)

// Engine is the grading pipeline shared by the server and the CLI.
type Engine struct {
	Sandbox *sandbox.DockerSandbox
	Grader  *grader.Grader
}

func NewEngine(conf *config.Config, registry grader.Registry, store grader.Store, logger *zerolog.Logger) (*Engine, error) {
	sb, err := sandbox.NewDockerSandbox(logger, conf.Grader.OutputCapBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox: %w", err)
	}

	workspaces := sandbox.NewWorkspaces(conf.Grader.WorkspaceRoot, logger)
	exec := executor.NewExecutor(sb, conf.Grader.OutputCapBytes, logger)
	g := grader.New(store, registry, workspaces, exec, grader.Options{
		DefaultTimeLimit: seconds(conf.Grader.DefaultTimeLimitSeconds),
		RunTimeLimit:     seconds(conf.Grader.RunTimeLimitSeconds),
	}, logger)

	return &Engine{Sandbox: sb, Grader: g}, nil
}

func (e *Engine) Close() error {
	return e.Sandbox.Close()
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

type runtimeLister interface {
	List(ctx context.Context) ([]languages.RuntimeConfig, error)
}

type imageEnsurer interface {
	EnsureImage(ctx context.Context, image string) error
}

// EnsureImages pulls every distinct image referenced by the registry.
func EnsureImages(ctx context.Context, runtimes runtimeLister, sb imageEnsurer, logger *zerolog.Logger) error {
	rts, err := runtimes.List(ctx)
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	for _, rt := range rts {
		if seen[rt.Image] {
			continue
		}
		seen[rt.Image] = true
		logger.Info().Str("image", rt.Image).Msg("ensuring image")
		if err := sb.EnsureImage(ctx, rt.Image); err != nil {
			return fmt.Errorf("failed to ensure image %s: %w", rt.Image, err)
		}
	}
	return nil
}

type runtimeStore interface {
	runtimeLister
	Upsert(ctx context.Context, rt languages.RuntimeConfig) error
}

// SeedRuntimes fills an empty runtime table with the built-in runtimes.
func SeedRuntimes(ctx context.Context, store runtimeStore, logger *zerolog.Logger) error {
	existing, err := store.List(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	defaults, _ := languages.NewRegistry().List(ctx)
	for _, rt := range defaults {
		if err := store.Upsert(ctx, rt); err != nil {
			return err
		}
	}
	logger.Info().Int("runtimes", len(defaults)).Msg("seeded default runtimes")
	return nil
}
