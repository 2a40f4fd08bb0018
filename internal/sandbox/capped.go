package sandbox

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"unicode/utf8"
)

const (
	DefaultOutputCap = 2 << 20
	TruncationMarker = "\n...[Output Truncated]"
)

// Truncate caps s at maxBytes including the marker, cutting on a rune
// boundary.
func Truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	keep := maxBytes - len(TruncationMarker)
	if keep < 0 {
		keep = 0
	}
	for keep > 0 && !utf8.RuneStart(s[keep]) {
		keep--
	}
	return s[:keep] + TruncationMarker
}

// ReadCapped reads at most maxBytes+1 bytes of path. A missing file reads
// as empty.
func ReadCapped(path string, maxBytes int) (string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to open output: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, int64(maxBytes)+1))
	if err != nil {
		return "", fmt.Errorf("failed to read output: %w", err)
	}
	return Truncate(string(data), maxBytes), nil
}
