package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// entityReplacer encodes the five characters with HTML meaning. Everything
// else, including emoji and non-ASCII letters, passes through untouched.
var entityReplacer = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

// SanitizeName trims, entity-encodes and caps a display name. The cap is
// applied to the raw rune count before encoding so an encoded entity cannot
// be cut in half.
func SanitizeName(name string, maxLen int) string {
	name = strings.TrimSpace(name)
	runes := []rune(name)
	if len(runes) > maxLen {
		runes = runes[:maxLen]
	}
	return entityReplacer.Replace(string(runes))
}

// ValidName reports whether a raw display name fits the length cap.
func ValidName(name string, maxLen int) bool {
	return len([]rune(strings.TrimSpace(name))) <= maxLen
}

// ClampInt64 bounds v to [min, max].
func ClampInt64(v, min, max int64) int64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// ClampInt bounds v to [min, max].
func ClampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// EnsureDataDirExists creates the datadir and necessary subdirectories if they don't exist
func EnsureDataDirExists(datadir string) error {
	// Create main datadir
	if err := os.MkdirAll(datadir, 0700); err != nil {
		return fmt.Errorf("failed to create datadir %s: %v", datadir, err)
	}

	// Create logs subdirectory
	logsDir := filepath.Join(datadir, "logs")
	if err := os.MkdirAll(logsDir, 0700); err != nil {
		return fmt.Errorf("failed to create logs directory %s: %v", logsDir, err)
	}

	return nil
}
