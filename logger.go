package ivfbuild

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/hupe1980/ivfbuild/model"
)

// Logger wraps slog.Logger with build-specific context.
// Field names are shared by every component of a build.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs at level.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// WithRange adds the partition range to the logger.
func (l *Logger) WithRange(r model.PartitionRange) *Logger {
	return &Logger{Logger: l.Logger.With("range", r.String())}
}

// WithStrategy adds the shuffle strategy to the logger.
func (l *Logger) WithStrategy(s Strategy) *Logger {
	return &Logger{Logger: l.Logger.With("strategy", s.String())}
}

// WithIndex adds the index name to the logger.
func (l *Logger) WithIndex(name string) *Logger {
	return &Logger{Logger: l.Logger.With("index", name)}
}

// LogPhase logs the outcome of one build phase.
func (l *Logger) LogPhase(ctx context.Context, phase string, elapsed time.Duration, rows int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "phase failed",
			"phase", phase,
			"elapsed", elapsed,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "phase completed",
		"phase", phase,
		"elapsed", elapsed,
		"rows", rows,
	)
}

// LogBuild logs the outcome of a partition build.
func (l *Logger) LogBuild(ctx context.Context, rows uint64, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "build failed",
			"elapsed", elapsed,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "build completed",
		"rows", rows,
		"elapsed", elapsed,
	)
}
