package ivfbuild

import (
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"github.com/hupe1980/ivfbuild/index"
	"github.com/hupe1980/ivfbuild/ledger"
	"github.com/hupe1980/ivfbuild/shuffle"
)

// Strategy selects how the partitioned stream is regrouped by partition id.
type Strategy int

const (
	// StrategyDisk is the staged external shuffle (stage, bucket, merge).
	StrategyDisk Strategy = iota
	// StrategySort sorts the whole stream in memory under the memory budget.
	StrategySort
)

func (s Strategy) String() string {
	switch s {
	case StrategyDisk:
		return "disk"
	case StrategySort:
		return "sort"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy parses "disk" or "sort".
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disk", "":
		return StrategyDisk, nil
	case "sort", "memory":
		return StrategySort, nil
	default:
		return 0, fmt.Errorf("%w: unknown strategy %q", ErrInvalidArgument, s)
	}
}

// Options configures BuildPartitions and ShuffleDataset.
type Options struct {
	// Strategy is the shuffle strategy. Defaults to StrategyDisk.
	Strategy Strategy

	// Parallelism bounds the in-flight transform tasks.
	// Defaults to runtime.GOMAXPROCS(0).
	Parallelism int

	// ChunkSize and FanOutFactor are the bucket phase parameters of the disk
	// shuffle.
	ChunkSize    int
	FanOutFactor int

	// TempDir is the parent of spill directories. Empty means os.TempDir().
	TempDir string

	// Compression is the spill block codec.
	Compression index.Compression

	// MemoryLimitBytes bounds the memory pool. 0 reads IVF_MEMORY_LIMIT from
	// the environment, a negative value means unbounded.
	MemoryLimitBytes int64

	// IOLimitBytesPerSec throttles spill IO. 0 means unlimited.
	IOLimitBytesPerSec int64

	Logger   *Logger
	Observer MetricsObserver

	// Ledger records completed partition ranges under IndexName.
	// A nil Ledger disables the check.
	Ledger    ledger.Ledger
	IndexName string
}

// Option configures a build.
type Option func(*Options)

// WithStrategy selects the shuffle strategy.
func WithStrategy(s Strategy) Option {
	return func(o *Options) {
		o.Strategy = s
	}
}

// WithParallelism bounds the number of concurrent transform tasks.
func WithParallelism(n int) Option {
	return func(o *Options) {
		o.Parallelism = n
	}
}

// WithDiskShuffle selects StrategyDisk with the given bucket phase parameters.
// Zero keeps the defaults.
func WithDiskShuffle(chunkSize, fanOutFactor int) Option {
	return func(o *Options) {
		o.Strategy = StrategyDisk
		if chunkSize != 0 {
			o.ChunkSize = chunkSize
		}
		if fanOutFactor != 0 {
			o.FanOutFactor = fanOutFactor
		}
	}
}

// WithTempDir sets the parent directory of spill files.
func WithTempDir(dir string) Option {
	return func(o *Options) {
		o.TempDir = dir
	}
}

// WithCompression sets the spill block codec.
func WithCompression(c index.Compression) Option {
	return func(o *Options) {
		o.Compression = c
	}
}

// WithMemoryLimit sets the memory budget in bytes. A negative limit disables
// the budget and ignores the environment.
func WithMemoryLimit(bytes int64) Option {
	return func(o *Options) {
		o.MemoryLimitBytes = bytes
	}
}

// WithIOLimit throttles spill IO to bytesPerSec.
func WithIOLimit(bytesPerSec int64) Option {
	return func(o *Options) {
		o.IOLimitBytesPerSec = bytesPerSec
	}
}

// WithLogger configures structured logging. Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := ivfbuild.NewJSONLogger(slog.LevelInfo)
//	err := ivfbuild.BuildPartitions(ctx, ..., ivfbuild.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
func WithLogLevel(level slog.Level) Option {
	return func(o *Options) {
		o.Logger = NewTextLogger(level)
	}
}

// WithMetricsObserver receives phase and build timings.
//
//	metrics := &ivfbuild.BasicMetricsObserver{}
//	err := ivfbuild.BuildPartitions(ctx, ..., ivfbuild.WithMetricsObserver(metrics))
//	fmt.Println(metrics.GetStats().Phases["merge"].AvgNanos())
func WithMetricsObserver(mo MetricsObserver) Option {
	return func(o *Options) {
		o.Observer = mo
	}
}

// WithLedger skips ranges already committed for indexName in l and commits
// the range after a successful build.
func WithLedger(l ledger.Ledger, indexName string) Option {
	return func(o *Options) {
		o.Ledger = l
		o.IndexName = indexName
	}
}

func applyOptions(optFns []Option) Options {
	o := Options{
		Strategy:     StrategyDisk,
		Parallelism:  runtime.GOMAXPROCS(0),
		ChunkSize:    shuffle.DefaultChunkSize,
		FanOutFactor: shuffle.DefaultFanOutFactor,
		Compression:  index.CompressionLZ4,
		Logger:       NoopLogger(),
		Observer:     NoopMetricsObserver{},
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.Logger == nil {
		o.Logger = NoopLogger()
	}
	if o.Observer == nil {
		o.Observer = NoopMetricsObserver{}
	}
	return o
}

func (o Options) validate() error {
	if o.Strategy != StrategyDisk && o.Strategy != StrategySort {
		return fmt.Errorf("%w: unknown strategy %s", ErrInvalidArgument, o.Strategy)
	}
	if o.Strategy == StrategyDisk && (o.ChunkSize < 1 || o.FanOutFactor < 1) {
		return fmt.Errorf("%w: chunk size %d and fan-out factor %d must be positive", ErrInvalidArgument, o.ChunkSize, o.FanOutFactor)
	}
	if o.Ledger != nil && o.IndexName == "" {
		return fmt.Errorf("%w: ledger requires an index name", ErrInvalidArgument)
	}
	return nil
}
