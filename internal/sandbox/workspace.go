package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/itstheanurag/gradebox/internal/languages"
	"github.com/itstheanurag/gradebox/internal/metrics"
	"github.com/rs/zerolog"
)

// ContainerWorkDir is where a workspace is bind-mounted inside the container.
const ContainerWorkDir = "/app"

const (
	inputFile     = "input.txt"
	stdoutFile    = "stdout.txt"
	stderrFile    = "stderr.txt"
	exitCodeFile  = "exit_code.txt"
	commandFile   = "cmd.sh"
	runScriptFile = "run.sh"
)

// runScript records the exit status of the user command in a file so it
// survives the container.
const runScript = `#!/bin/sh
sh ` + commandFile + ` < ` + inputFile + ` > ` + stdoutFile + ` 2> ` + stderrFile + `
echo $? > ` + exitCodeFile + `
`

// Workspace is the disposable directory owned by one grading attempt.
type Workspace struct {
	Dir     string
	Runtime languages.RuntimeConfig
	source  string
}

func (w *Workspace) path(name string) string {
	return filepath.Join(w.Dir, name)
}

// writeProgram writes the source file and wrapper scripts.
func (w *Workspace) writeProgram() error {
	files := []struct {
		name    string
		content string
		mode    os.FileMode
	}{
		{w.Runtime.FileName, w.source, 0o644},
		{commandFile, w.Runtime.RunCommand + "\n", 0o755},
		{runScriptFile, runScript, 0o755},
	}
	for _, f := range files {
		if err := replaceFile(w.path(f.name), f.content, f.mode); err != nil {
			return err
		}
	}
	return nil
}

// WriteTestInput restores the program files, replaces the stdin artifact
// and resets the output artifacts of the previous test case.
func (w *Workspace) WriteTestInput(input string) error {
	if err := w.writeProgram(); err != nil {
		return err
	}
	if err := replaceFile(w.path(inputFile), input, 0o644); err != nil {
		return err
	}
	if err := replaceFile(w.path(stdoutFile), "", 0o666); err != nil {
		return err
	}
	if err := replaceFile(w.path(stderrFile), "", 0o666); err != nil {
		return err
	}
	if err := os.Remove(w.path(exitCodeFile)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to reset exit code: %w", err)
	}
	return nil
}

type Workspaces struct {
	root   string
	logger *zerolog.Logger
}

func NewWorkspaces(root string, logger *zerolog.Logger) *Workspaces {
	if root == "" {
		root = os.TempDir()
	}
	return &Workspaces{root: root, logger: logger}
}

// Prepare validates rt, allocates a fresh directory and writes the source
// file and wrapper scripts into it.
func (m *Workspaces) Prepare(sourceCode string, rt languages.RuntimeConfig) (*Workspace, error) {
	if err := rt.Validate(); err != nil {
		return nil, err
	}

	dir := filepath.Join(m.root, "exec-"+uuid.NewString())
	if err := os.Mkdir(dir, 0o777); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	// umask strips the bits the container user needs
	if err := os.Chmod(dir, 0o777); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to chmod workspace: %w", err)
	}

	ws := &Workspace{Dir: dir, Runtime: rt, source: sourceCode}
	if err := ws.writeProgram(); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	m.logger.Debug().Str("workspace", dir).Str("language", rt.Language).Msg("workspace prepared")
	return ws, nil
}

// Destroy removes the workspace. Failures are logged, never returned.
func (m *Workspaces) Destroy(ws *Workspace) {
	if ws == nil {
		return
	}
	if err := os.RemoveAll(ws.Dir); err != nil {
		metrics.CleanupFailures.WithLabelValues("workspace").Inc()
		m.logger.Warn().Err(err).Str("workspace", ws.Dir).Msg("failed to remove workspace")
		return
	}
	m.logger.Debug().Str("workspace", ws.Dir).Msg("workspace removed")
}

// replaceFile unlinks path before writing it so a file left behind by the
// container user does not keep its owner or mode.
func replaceFile(path, content string, mode os.FileMode) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Chmod(path, mode); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", filepath.Base(path), err)
	}
	return nil
}
