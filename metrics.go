package ivfbuild

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/ivfbuild/model"
	"github.com/hupe1980/ivfbuild/shuffle"
)

// MetricsObserver receives timings of a build.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Every MetricsObserver is also a shuffle.PhaseObserver and sees the
// shuffle phases (sort, stage, bucket, merge) as they finish.
type MetricsObserver interface {
	// ObservePhase is called after each timed phase of a build.
	// rows is the number of rows the phase processed, err is nil if successful.
	ObservePhase(phase string, elapsed time.Duration, rows int, err error)

	// ObserveBuild is called once a build over r has finished.
	ObserveBuild(r model.PartitionRange, elapsed time.Duration, err error)
}

var _ shuffle.PhaseObserver = MetricsObserver(nil)

// NoopMetricsObserver is a no-op implementation of MetricsObserver.
type NoopMetricsObserver struct{}

func (NoopMetricsObserver) ObservePhase(string, time.Duration, int, error)           {}
func (NoopMetricsObserver) ObserveBuild(model.PartitionRange, time.Duration, error) {}

// PhaseStats aggregates the observations of one phase.
type PhaseStats struct {
	Count      int64
	Errors     int64
	Rows       int64
	TotalNanos int64
}

// AvgNanos returns the mean phase duration in nanoseconds.
func (p PhaseStats) AvgNanos() int64 {
	if p.Count == 0 {
		return 0
	}
	return p.TotalNanos / p.Count
}

// BasicMetricsObserver provides simple in-memory metrics collection.
// Useful for debugging and tests.
type BasicMetricsObserver struct {
	BuildCount      atomic.Int64
	BuildErrors     atomic.Int64
	BuildTotalNanos atomic.Int64
	PartitionsBuilt atomic.Int64

	mu     sync.Mutex
	phases map[string]*PhaseStats
}

// ObservePhase implements MetricsObserver.
func (b *BasicMetricsObserver) ObservePhase(phase string, elapsed time.Duration, rows int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.phases == nil {
		b.phases = make(map[string]*PhaseStats)
	}
	s, ok := b.phases[phase]
	if !ok {
		s = &PhaseStats{}
		b.phases[phase] = s
	}
	s.Count++
	s.Rows += int64(rows)
	s.TotalNanos += elapsed.Nanoseconds()
	if err != nil {
		s.Errors++
	}
}

// ObserveBuild implements MetricsObserver.
func (b *BasicMetricsObserver) ObserveBuild(r model.PartitionRange, elapsed time.Duration, err error) {
	b.BuildCount.Add(1)
	b.BuildTotalNanos.Add(elapsed.Nanoseconds())
	if err != nil {
		b.BuildErrors.Add(1)
		return
	}
	b.PartitionsBuilt.Add(int64(r.Len()))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsObserver) GetStats() BasicMetricsStats {
	stats := BasicMetricsStats{
		BuildCount:      b.BuildCount.Load(),
		BuildErrors:     b.BuildErrors.Load(),
		BuildAvgNanos:   b.getAvgBuildNanos(),
		PartitionsBuilt: b.PartitionsBuilt.Load(),
		Phases:          make(map[string]PhaseStats),
	}
	b.mu.Lock()
	for name, s := range b.phases {
		stats.Phases[name] = *s
	}
	b.mu.Unlock()
	return stats
}

func (b *BasicMetricsObserver) getAvgBuildNanos() int64 {
	count := b.BuildCount.Load()
	if count == 0 {
		return 0
	}
	return b.BuildTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsObserver state.
type BasicMetricsStats struct {
	BuildCount      int64
	BuildErrors     int64
	BuildAvgNanos   int64
	PartitionsBuilt int64
	Phases          map[string]PhaseStats
}
