package resource

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
)

// MemoryLimitEnv is the environment variable holding the memory budget for
// the in-memory sort shuffle. Plain byte counts and humanized sizes such as
// "512MiB" or "2GB" are accepted.
const MemoryLimitEnv = "IVF_MEMORY_LIMIT"

// ParseMemoryLimit parses a memory budget. An empty string means unbounded (0).
func ParseMemoryLimit(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("parse memory limit %q: %w", s, err)
	}
	if n > 1<<62 {
		return 0, fmt.Errorf("parse memory limit %q: value too large", s)
	}
	return int64(n), nil
}

// MemoryLimitFromEnv reads MemoryLimitEnv. Absent means unbounded; a malformed
// value is logged and also treated as unbounded.
func MemoryLimitFromEnv(logger *slog.Logger) int64 {
	raw, ok := os.LookupEnv(MemoryLimitEnv)
	if !ok {
		return 0
	}
	limit, err := ParseMemoryLimit(raw)
	if err != nil {
		if logger != nil {
			logger.Warn("failed to parse memory limit, using unbounded memory pool",
				"env", MemoryLimitEnv, "value", raw, "error", err)
		}
		return 0
	}
	return limit
}
