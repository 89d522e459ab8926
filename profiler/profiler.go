// Package profiler - per-stage timing for the decode pipeline.
package profiler

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Stage names recorded by the pipeline.
const (
	StageDecode      = "decode"
	StageNMS         = "nms"
	StageReconstruct = "reconstruct"
)

// DefaultMaxSamples bounds the rolling window kept per operation.
const DefaultMaxSamples = 256

// TimeTracker tracks operation timing statistics over a rolling window.
type TimeTracker struct {
	name      string
	durations []time.Duration
	totalTime time.Duration
	minTime   time.Duration
	maxTime   time.Duration
	count     int64
}

// Stats is a point-in-time summary of one operation.
type Stats struct {
	Name    string        `json:"name"`
	Count   int64         `json:"count"`
	Average time.Duration `json:"average"`
	Min     time.Duration `json:"min"`
	Max     time.Duration `json:"max"`
	Window  int           `json:"window"`
}

// Profiler collects operation durations. A nil *Profiler is valid and records nothing.
type Profiler struct {
	mu             sync.RWMutex
	maxSamples     int
	operationTimes map[string]*TimeTracker
}

// New creates a profiler keeping up to maxSamples durations per operation.
// Non-positive values use DefaultMaxSamples.
func New(maxSamples int) *Profiler {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	return &Profiler{
		maxSamples:     maxSamples,
		operationTimes: make(map[string]*TimeTracker),
	}
}

// StartOperation starts timing an operation and returns a function that records it.
//
// @example
// defer p.StartOperation(profiler.StageDecode)()
func (p *Profiler) StartOperation(name string) func() {
	if p == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		p.Record(name, time.Since(start))
	}
}

// Record adds one duration sample for name.
func (p *Profiler) Record(name string, duration time.Duration) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	tracker, exists := p.operationTimes[name]
	if !exists {
		tracker = &TimeTracker{
			name:      name,
			durations: make([]time.Duration, 0, p.maxSamples),
			minTime:   duration,
			maxTime:   duration,
		}
		p.operationTimes[name] = tracker
	}

	tracker.durations = append(tracker.durations, duration)
	tracker.totalTime += duration
	if len(tracker.durations) > p.maxSamples {
		tracker.totalTime -= tracker.durations[0]
		tracker.durations = tracker.durations[1:]
	}
	tracker.count++

	if duration < tracker.minTime {
		tracker.minTime = duration
	}
	if duration > tracker.maxTime {
		tracker.maxTime = duration
	}
}

// Snapshot returns stats for every operation, sorted by name.
func (p *Profiler) Snapshot() []Stats {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Stats, 0, len(p.operationTimes))
	for _, tracker := range p.operationTimes {
		s := Stats{
			Name:   tracker.name,
			Count:  tracker.count,
			Min:    tracker.minTime,
			Max:    tracker.maxTime,
			Window: len(tracker.durations),
		}
		if len(tracker.durations) > 0 {
			s.Average = tracker.totalTime / time.Duration(len(tracker.durations))
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Report logs one line per operation.
func (p *Profiler) Report(logger *zap.Logger) {
	for _, s := range p.Snapshot() {
		logger.Info("operation timing",
			zap.String("operation", s.Name),
			zap.Int64("count", s.Count),
			zap.Duration("avg", s.Average),
			zap.Duration("min", s.Min),
			zap.Duration("max", s.Max),
		)
	}
}
