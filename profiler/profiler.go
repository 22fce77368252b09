// Package profiler - Rolling timing statistics for pipeline operations and runtime memory.
package profiler

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Operation summarizes the recent durations of one named operation.
type Operation struct {
	Name    string        `json:"name"`
	Count   int64         `json:"count"`
	Samples int           `json:"samples"`
	Avg     time.Duration `json:"avg"`
	Min     time.Duration `json:"min"`
	Max     time.Duration `json:"max"`
	Last    time.Duration `json:"last"`
}

// Stats is a snapshot of the profiler.
type Stats struct {
	Uptime      time.Duration `json:"uptime"`
	Goroutines  int           `json:"goroutines"`
	HeapAlloc   uint64        `json:"heap_alloc"`
	HeapObjects uint64        `json:"heap_objects"`
	GCCycles    uint32        `json:"gc_cycles"`
	Operations  []Operation   `json:"operations"`
}

// Options configures the profiler.
type Options struct {
	// ReportInterval specifies how often Run logs a status report (default: 1m).
	ReportInterval time.Duration
	// MaxSamples bounds the rolling window of each operation (default: 600).
	MaxSamples int
}

// timeTracker tracks the timing window of one operation.
type timeTracker struct {
	durations []time.Duration
	totalTime time.Duration
	count     int64
}

// Profiler records operation timings. It is safe for concurrent use.
type Profiler struct {
	reportInterval time.Duration
	maxSamples     int
	startTime      time.Time
	log            logrus.FieldLogger

	mu             sync.RWMutex
	operationTimes map[string]*timeTracker
}

// New creates a profiler.
//
// Arguments:
//   - opts: Configuration options for the profiler.
//   - log: Receives the periodic reports.
//
// Returns:
//   - *Profiler: A configured Profiler instance.
func New(opts Options, log logrus.FieldLogger) *Profiler {
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = time.Minute
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = 600
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Profiler{
		reportInterval: opts.ReportInterval,
		maxSamples:     opts.MaxSamples,
		startTime:      time.Now(),
		log:            log,
		operationTimes: make(map[string]*timeTracker),
	}
}

// StartOperation begins timing an operation.
//
// Arguments:
//   - name: The name of the operation to track.
//
// Returns:
//   - func(): Call when the operation completes.
func (p *Profiler) StartOperation(name string) func() {
	start := time.Now()
	return func() {
		p.Record(name, time.Since(start))
	}
}

// Record adds one duration sample for name.
func (p *Profiler) Record(name string, duration time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tracker, exists := p.operationTimes[name]
	if !exists {
		tracker = &timeTracker{durations: make([]time.Duration, 0, p.maxSamples)}
		p.operationTimes[name] = tracker
	}

	tracker.durations = append(tracker.durations, duration)
	tracker.totalTime += duration
	if len(tracker.durations) > p.maxSamples {
		// Remove oldest sample
		tracker.totalTime -= tracker.durations[0]
		tracker.durations = tracker.durations[1:]
	}
	tracker.count++
}

// Stats returns the current statistics, operations ordered by name.
func (p *Profiler) Stats() Stats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	stats := Stats{
		Uptime:      time.Since(p.startTime),
		Goroutines:  runtime.NumGoroutine(),
		HeapAlloc:   mem.HeapAlloc,
		HeapObjects: mem.HeapObjects,
		GCCycles:    mem.NumGC,
		Operations:  []Operation{},
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	for name, tracker := range p.operationTimes {
		n := len(tracker.durations)
		if n == 0 {
			continue
		}
		op := Operation{
			Name:    name,
			Count:   tracker.count,
			Samples: n,
			Avg:     tracker.totalTime / time.Duration(n),
			Min:     tracker.durations[0],
			Max:     tracker.durations[0],
			Last:    tracker.durations[n-1],
		}
		// Min and max cover the window only.
		for _, d := range tracker.durations {
			if d < op.Min {
				op.Min = d
			}
			if d > op.Max {
				op.Max = d
			}
		}
		stats.Operations = append(stats.Operations, op)
	}
	sort.Slice(stats.Operations, func(i, j int) bool { return stats.Operations[i].Name < stats.Operations[j].Name })

	return stats
}

// Run logs a status report every report interval until ctx is done.
func (p *Profiler) Run(ctx context.Context) {
	ticker := time.NewTicker(p.reportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.report()
		}
	}
}

func (p *Profiler) report() {
	stats := p.Stats()
	if len(stats.Operations) == 0 {
		return
	}

	p.log.WithFields(logrus.Fields{
		"uptime":       stats.Uptime.Truncate(time.Second),
		"goroutines":   stats.Goroutines,
		"heap_alloc":   stats.HeapAlloc,
		"heap_objects": stats.HeapObjects,
		"gc_cycles":    stats.GCCycles,
	}).Info("runtime status")

	for _, op := range stats.Operations {
		p.log.WithFields(logrus.Fields{
			"operation": op.Name,
			"avg":       op.Avg.Truncate(time.Microsecond),
			"min":       op.Min.Truncate(time.Microsecond),
			"max":       op.Max.Truncate(time.Microsecond),
			"count":     op.Count,
		}).Info("operation timings")
	}
}
