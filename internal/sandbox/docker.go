package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/itstheanurag/gradebox/internal/languages"
	"github.com/itstheanurag/gradebox/internal/metrics"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog"
)

const (
	pidsLimit      = 64
	cleanupTimeout = 30 * time.Second
)

// dockerAPI is the subset of *client.Client the sandbox uses.
type dockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	Ping(ctx context.Context) (types.Ping, error)
	Close() error
}

type DockerSandbox struct {
	cli       dockerAPI
	logger    *zerolog.Logger
	outputCap int
}

func NewDockerSandbox(logger *zerolog.Logger, outputCap int) (*DockerSandbox, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSandboxUnavailable, err)
	}
	return newDockerSandbox(cli, logger, outputCap), nil
}

func newDockerSandbox(cli dockerAPI, logger *zerolog.Logger, outputCap int) *DockerSandbox {
	if outputCap <= 0 {
		outputCap = DefaultOutputCap
	}
	return &DockerSandbox{cli: cli, logger: logger, outputCap: outputCap}
}

// Run executes the workspace's run script once in a fresh container and
// races its completion against timeLimit. The container is removed before
// Run returns, whichever way it returns.
func (s *DockerSandbox) Run(ctx context.Context, ws *Workspace, timeLimit time.Duration) (*Outcome, error) {
	rt := ws.Runtime
	if err := rt.Validate(); err != nil {
		return nil, err
	}

	memory := rt.MemoryLimitMB * 1024 * 1024
	pids := int64(pidsLimit)
	createdAt := time.Now()

	resp, err := s.cli.ContainerCreate(ctx, &container.Config{
		Image:           rt.Image,
		Cmd:             []string{"sh", ContainerWorkDir + "/" + runScriptFile},
		Tty:             false,
		NetworkDisabled: true,
		WorkingDir:      ContainerWorkDir,
	}, &container.HostConfig{
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: ws.Dir,
			Target: ContainerWorkDir,
		}},
		Resources: container.Resources{
			Memory:     memory,
			MemorySwap: memory, // no swap
			NanoCPUs:   int64(rt.CPULimitCores * 1e9),
			PidsLimit:  &pids,
		},
		NetworkMode: "none",
		SecurityOpt: []string{"no-new-privileges"},
		CapDrop:     []string{"ALL"},
	}, nil, nil, "")
	if err != nil {
		return nil, translateDockerErr("create", rt.Image, err)
	}
	defer s.remove(resp.ID)

	log := s.logger.With().Str("container", resp.ID).Str("image", rt.Image).Logger()

	waitCtx, cancelWait := context.WithCancel(ctx)
	defer cancelWait()
	// registered before start so a fast exit is not missed
	statusCh, errCh := s.cli.ContainerWait(waitCtx, resp.ID, container.WaitConditionNextExit)

	if err := s.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, translateDockerErr("start", rt.Image, err)
	}
	startedAt := time.Now()
	metrics.ContainerStartupTime.Observe(float64(startedAt.Sub(createdAt).Milliseconds()))

	timer := time.NewTimer(timeLimit)
	defer timer.Stop()

	var elapsed int64
	select {
	case status := <-statusCh:
		elapsed = time.Since(startedAt).Milliseconds()
		if status.Error != nil {
			log.Warn().Str("error", status.Error.Message).Msg("container wait reported an error")
		}
	case err := <-errCh:
		return nil, translateDockerErr("wait", rt.Image, err)
	case <-timer.C:
		cancelWait()
		s.kill(resp.ID)
		log.Debug().Dur("limit", timeLimit).Msg("container timed out")
		return &Outcome{TimedOut: true, ElapsedMs: timeLimit.Milliseconds()}, nil
	case <-ctx.Done():
		s.kill(resp.ID)
		return nil, ctx.Err()
	}

	stdout, err := ReadCapped(ws.path(stdoutFile), s.outputCap)
	if err != nil {
		return nil, err
	}
	stderr, err := ReadCapped(ws.path(stderrFile), s.outputCap)
	if err != nil {
		return nil, err
	}
	exitCode, err := readExitCode(ws.path(exitCodeFile), stderr)
	if err != nil {
		return nil, err
	}

	log.Debug().Int("exit_code", exitCode).Int64("elapsed_ms", elapsed).Msg("container finished")
	return &Outcome{
		Stdout:    stdout,
		Stderr:    stderr,
		ExitCode:  &exitCode,
		ElapsedMs: elapsed,
	}, nil
}

// readExitCode reads the status written by the run script. Without one the
// process died before the script could record it: a non-empty stderr is
// taken as failure, otherwise as a clean exit with no output.
func readExitCode(path, stderr string) (int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if stderr != "" {
			return 1, nil
		}
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read exit code: %w", err)
	}
	code, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 1, nil
	}
	return code, nil
}

func (s *DockerSandbox) kill(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := s.cli.ContainerKill(ctx, id, "SIGKILL"); err != nil {
		s.logger.Debug().Err(err).Str("container", id).Msg("failed to kill container")
	}
}

func (s *DockerSandbox) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := s.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		metrics.CleanupFailures.WithLabelValues("container").Inc()
		s.logger.Warn().Err(err).Str("container", id).Msg("failed to remove container")
	}
}

// Probe reports whether image can be run right now.
func (s *DockerSandbox) Probe(ctx context.Context, img string) RuntimeStatus {
	if _, err := s.cli.Ping(ctx); err != nil {
		return StatusRuntimeUnavailable
	}
	if !languages.ValidImage(img) {
		return StatusImageMissing
	}
	if _, _, err := s.cli.ImageInspectWithRaw(ctx, img); err != nil {
		if isUnavailable(err) {
			return StatusRuntimeUnavailable
		}
		return StatusImageMissing
	}
	return StatusReady
}

func (s *DockerSandbox) EnsureImage(ctx context.Context, img string) error {
	if !languages.ValidImage(img) {
		return fmt.Errorf("%w: image %q", languages.ErrInvalidConfiguration, img)
	}

	_, _, err := s.cli.ImageInspectWithRaw(ctx, img)
	if err == nil {
		return nil
	}
	if isUnavailable(err) {
		return fmt.Errorf("%w: %v", ErrSandboxUnavailable, err)
	}

	s.logger.Info().Str("image", img).Msg("pulling docker image")
	reader, err := s.cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return translateDockerErr("pull", img, err)
	}
	defer reader.Close()

	// the pull only completes once the progress stream is drained
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", img, err)
	}

	s.logger.Info().Str("image", img).Msg("successfully pulled docker image")
	return nil
}

func (s *DockerSandbox) Close() error {
	return s.cli.Close()
}

func isUnavailable(err error) bool {
	return client.IsErrConnectionFailed(err) || errdefs.IsUnavailable(err)
}

func translateDockerErr(op, img string, err error) error {
	switch {
	case isUnavailable(err):
		return fmt.Errorf("%w: %s container: %v", ErrSandboxUnavailable, op, err)
	case errdefs.IsNotFound(err):
		return fmt.Errorf("%w: %s: %v", ErrImageMissing, img, err)
	}
	return fmt.Errorf("failed to %s container: %w", op, err)
}
