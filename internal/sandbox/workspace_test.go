package sandbox

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/itstheanurag/gradebox/internal/languages"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func pythonRuntime() languages.RuntimeConfig {
	return languages.RuntimeConfig{
		Language:      "python",
		Image:         "python:3.9-slim",
		FileName:      "solution.py",
		RunCommand:    "python3 solution.py",
		MemoryLimitMB: 128,
		CPULimitCores: 0.5,
	}
}

func TestPrepareWritesSourceAndScripts(t *testing.T) {
	root := t.TempDir()
	ws, err := NewWorkspaces(root, nopLogger()).Prepare("print(input())", pythonRuntime())
	require.NoError(t, err)

	assert.Equal(t, root, filepath.Dir(ws.Dir))
	assert.True(t, strings.HasPrefix(filepath.Base(ws.Dir), "exec-"))

	info, err := os.Stat(ws.Dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o777), info.Mode().Perm())

	src, err := os.ReadFile(filepath.Join(ws.Dir, "solution.py"))
	require.NoError(t, err)
	assert.Equal(t, "print(input())", string(src))

	cmd, err := os.ReadFile(filepath.Join(ws.Dir, commandFile))
	require.NoError(t, err)
	assert.Equal(t, "python3 solution.py\n", string(cmd))

	script, err := os.ReadFile(filepath.Join(ws.Dir, runScriptFile))
	require.NoError(t, err)
	assert.Contains(t, string(script), "echo $? > exit_code.txt")
}

func TestPrepareUniqueDirectories(t *testing.T) {
	m := NewWorkspaces(t.TempDir(), nopLogger())
	a, err := m.Prepare("", pythonRuntime())
	require.NoError(t, err)
	b, err := m.Prepare("", pythonRuntime())
	require.NoError(t, err)
	assert.NotEqual(t, a.Dir, b.Dir)
}

func TestPrepareRejectsInvalidRuntime(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*languages.RuntimeConfig)
	}{
		{name: "image injection", mutate: func(rt *languages.RuntimeConfig) { rt.Image = "; rm -rf /" }},
		{name: "path traversal", mutate: func(rt *languages.RuntimeConfig) { rt.FileName = "../../etc/passwd" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			rt := pythonRuntime()
			tt.mutate(&rt)

			ws, err := NewWorkspaces(root, nopLogger()).Prepare("x", rt)
			require.ErrorIs(t, err, languages.ErrInvalidConfiguration)
			assert.Nil(t, ws)

			entries, err := os.ReadDir(root)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestWriteTestInputResetsArtifacts(t *testing.T) {
	ws, err := NewWorkspaces(t.TempDir(), nopLogger()).Prepare("", pythonRuntime())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(ws.path(stdoutFile), []byte("old"), 0o666))
	require.NoError(t, os.WriteFile(ws.path(exitCodeFile), []byte("3\n"), 0o666))

	require.NoError(t, ws.WriteTestInput("42\n"))

	in, err := os.ReadFile(ws.path(inputFile))
	require.NoError(t, err)
	assert.Equal(t, "42\n", string(in))

	out, err := os.ReadFile(ws.path(stdoutFile))
	require.NoError(t, err)
	assert.Empty(t, out)

	info, err := os.Stat(ws.path(stderrFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o666), info.Mode().Perm())

	_, err = os.Stat(ws.path(exitCodeFile))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWriteTestInputRestoresProgramFiles(t *testing.T) {
	ws, err := NewWorkspaces(t.TempDir(), nopLogger()).Prepare("print(input())", pythonRuntime())
	require.NoError(t, err)

	tests := []struct {
		name string
		file string
		want string
		mode os.FileMode
	}{
		{"command", commandFile, "python3 solution.py\n", 0o755},
		{"run script", runScriptFile, runScript, 0o755},
		{"source", "solution.py", "print(input())", 0o644},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, os.WriteFile(ws.path(tt.file), []byte("echo 0 > exit_code.txt\n"), 0o777))
			require.NoError(t, os.Chmod(ws.path(tt.file), 0o777))

			require.NoError(t, ws.WriteTestInput("1\n"))

			got, err := os.ReadFile(ws.path(tt.file))
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))

			info, err := os.Stat(ws.path(tt.file))
			require.NoError(t, err)
			assert.Equal(t, tt.mode, info.Mode().Perm())
		})
	}
}

func TestWriteTestInputReplacesDeletedScripts(t *testing.T) {
	ws, err := NewWorkspaces(t.TempDir(), nopLogger()).Prepare("", pythonRuntime())
	require.NoError(t, err)

	require.NoError(t, os.Remove(ws.path(runScriptFile)))
	require.NoError(t, os.Remove(ws.path(commandFile)))

	require.NoError(t, ws.WriteTestInput(""))

	got, err := os.ReadFile(ws.path(runScriptFile))
	require.NoError(t, err)
	assert.Equal(t, runScript, string(got))
	assert.FileExists(t, ws.path(commandFile))
}

func TestDestroyIsIdempotent(t *testing.T) {
	m := NewWorkspaces(t.TempDir(), nopLogger())
	ws, err := m.Prepare("", pythonRuntime())
	require.NoError(t, err)

	m.Destroy(ws)
	_, err = os.Stat(ws.Dir)
	assert.ErrorIs(t, err, os.ErrNotExist)

	m.Destroy(ws)
	m.Destroy(nil)
}
