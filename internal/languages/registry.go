package languages

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

var (
	ErrRuntimeMissing = errors.New("runtime not found")
)

// Registry is an in-memory runtime registry keyed by language.
type Registry struct {
	mu       sync.RWMutex
	runtimes map[string]RuntimeConfig
}

func NewRegistry() *Registry {
	r := &Registry{
		runtimes: make(map[string]RuntimeConfig),
	}
	r.registerDefaults()
	return r
}

type runtimesFile struct {
	Runtimes []RuntimeConfig `toml:"runtime"`
}

// LoadFile registers every [[runtime]] table of a TOML file, replacing
// defaults with the same language.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read runtimes file: %w", err)
	}

	var f runtimesFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse runtimes file: %w", err)
	}

	for _, rt := range f.Runtimes {
		if rt.Language == "" {
			return fmt.Errorf("%w: runtime without language in %s", ErrInvalidConfiguration, path)
		}
		r.Register(rt)
	}
	return nil
}

func (r *Registry) Register(rt RuntimeConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runtimes[rt.Language] = rt
}

func (r *Registry) Lookup(_ context.Context, language string) (RuntimeConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.runtimes[language]
	if !ok {
		return RuntimeConfig{}, fmt.Errorf("%w: %q", ErrRuntimeMissing, language)
	}
	return rt, nil
}

// List returns all runtimes sorted by language.
func (r *Registry) List(_ context.Context) ([]RuntimeConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rts := make([]RuntimeConfig, 0, len(r.runtimes))
	for _, rt := range r.runtimes {
		rts = append(rts, rt)
	}
	sort.Slice(rts, func(i, j int) bool { return rts[i].Language < rts[j].Language })
	return rts, nil
}

func (r *Registry) registerDefaults() {
	r.Register(RuntimeConfig{
		Language:      "javascript",
		Image:         "node:18-alpine",
		FileName:      "solution.js",
		RunCommand:    "node solution.js",
		MemoryLimitMB: 128,
		CPULimitCores: 0.5,
	})

	r.Register(RuntimeConfig{
		Language:      "python",
		Image:         "python:3.9-slim",
		FileName:      "solution.py",
		RunCommand:    "python3 solution.py",
		MemoryLimitMB: 128,
		CPULimitCores: 0.5,
	})

	r.Register(RuntimeConfig{
		Language:      "java",
		Image:         "eclipse-temurin:25-jdk-jammy",
		FileName:      "Solution.java",
		RunCommand:    "java Solution.java",
		MemoryLimitMB: 512,
		CPULimitCores: 1.0,
	})

	r.Register(RuntimeConfig{
		Language:      "typescript",
		Image:         "node:18-alpine",
		FileName:      "solution.ts",
		RunCommand:    "npx -y ts-node solution.ts",
		MemoryLimitMB: 128,
		CPULimitCores: 0.5,
	})

	r.Register(RuntimeConfig{
		Language:      "c",
		Image:         "gcc:12",
		FileName:      "solution.c",
		RunCommand:    "gcc solution.c -o solution && ./solution",
		MemoryLimitMB: 128,
		CPULimitCores: 0.5,
	})

	r.Register(RuntimeConfig{
		Language:      "cpp",
		Image:         "gcc:12",
		FileName:      "solution.cpp",
		RunCommand:    "g++ solution.cpp -o solution && ./solution",
		MemoryLimitMB: 128,
		CPULimitCores: 0.5,
	})
}
