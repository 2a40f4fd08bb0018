package languages

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrInvalidConfiguration = errors.New("invalid runtime configuration")

	imagePattern    = regexp.MustCompile(`^[a-zA-Z0-9.\-_:/@]+$`)
	fileNamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
)

// RuntimeConfig describes how submissions in one language are executed.
type RuntimeConfig struct {
	Language      string  `toml:"language" json:"language"`
	FileName      string  `toml:"file_name" json:"file_name"`
	Image         string  `toml:"image" json:"image"`
	RunCommand    string  `toml:"run_command" json:"run_command"`
	MemoryLimitMB int64   `toml:"memory_limit_mb" json:"memory_limit_mb"`
	CPULimitCores float64 `toml:"cpu_limit_cores" json:"cpu_limit_cores"`
}

// Validate rejects configurations that must never reach the container runtime.
func (c RuntimeConfig) Validate() error {
	if !ValidImage(c.Image) {
		return fmt.Errorf("%w: image %q", ErrInvalidConfiguration, c.Image)
	}
	if !fileNamePattern.MatchString(c.FileName) || c.FileName == "." || c.FileName == ".." {
		return fmt.Errorf("%w: file name %q", ErrInvalidConfiguration, c.FileName)
	}
	if c.RunCommand == "" {
		return fmt.Errorf("%w: empty run command", ErrInvalidConfiguration)
	}
	if c.MemoryLimitMB <= 0 {
		return fmt.Errorf("%w: memory limit %d", ErrInvalidConfiguration, c.MemoryLimitMB)
	}
	if c.CPULimitCores <= 0 {
		return fmt.Errorf("%w: cpu limit %v", ErrInvalidConfiguration, c.CPULimitCores)
	}
	return nil
}

// ValidImage reports whether ref is an acceptable image reference.
func ValidImage(ref string) bool {
	return imagePattern.MatchString(ref)
}
