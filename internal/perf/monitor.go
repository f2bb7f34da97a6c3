// Package perf records per-call pipeline stage timings and aggregates
// latency percentiles across calls. Per-call state is released on Finalize
// so a long-running process does not grow without bound.
package perf

import (
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pipeline stage names.
const (
	StageUpload     = "upload"
	StageTranscribe = "transcribe"
	StageEvaluate   = "evaluate"
)

type stageTiming struct {
	start      time.Time
	durationMs float64
	done       bool
}

type callTiming struct {
	customerID string
	startedAt  time.Time
	stages     map[string]*stageTiming
	externalMs []float64
	storageMs  []float64
}

// CallReport is the finalized timing summary for one call.
type CallReport struct {
	CallID          string             `json:"call_id"`
	CustomerID      string             `json:"customer_id"`
	TotalMs         float64            `json:"total_ms"`
	StageMs         map[string]float64 `json:"stage_ms"`
	ExternalCallMs  float64            `json:"external_call_ms"`
	StorageOpMs     float64            `json:"storage_op_ms"`
	ExternalCalls   int                `json:"external_calls"`
	StorageOps      int                `json:"storage_ops"`
	FinalizedAt     time.Time          `json:"finalized_at"`
}

// Filter restricts an aggregate query.
type Filter struct {
	CustomerID string
	From       time.Time
	To         time.Time
}

// Aggregate is the cross-call latency summary.
type Aggregate struct {
	Count         int                `json:"count"`
	P50Ms         float64            `json:"p50_ms"`
	P95Ms         float64            `json:"p95_ms"`
	P99Ms         float64            `json:"p99_ms"`
	StageAvgMs    map[string]float64 `json:"stage_avg_ms"`
}

// Config configures the monitor.
type Config struct {
	// MaxReports bounds the retained finalized reports (oldest dropped first).
	MaxReports int `yaml:"max_reports" json:"max_reports"`
}

// DefaultConfig returns the default monitor configuration.
func DefaultConfig() Config {
	return Config{MaxReports: 10000}
}

// Monitor tracks in-flight call timings and retains finalized reports for
// aggregate queries.
type Monitor struct {
	mu      sync.Mutex
	active  map[string]*callTiming
	reports []CallReport
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
}

// NewMonitor creates a performance monitor.
func NewMonitor(cfg Config, logger *zap.Logger) *Monitor {
	if cfg.MaxReports <= 0 {
		cfg.MaxReports = DefaultConfig().MaxReports
	}
	return &Monitor{
		active: make(map[string]*callTiming),
		cfg:    cfg,
		logger: logger.With(zap.String("component", "perf")),
		now:    time.Now,
	}
}

// Begin opens timing state for a call.
func (m *Monitor) Begin(callID, customerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.active[callID]; exists {
		return
	}
	m.active[callID] = &callTiming{
		customerID: customerID,
		startedAt:  m.now(),
		stages:     make(map[string]*stageTiming),
	}
}

// StartStage records the start of a pipeline stage for a call.
func (m *Monitor) StartStage(callID, stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ct, ok := m.active[callID]
	if !ok {
		return
	}
	ct.stages[stage] = &stageTiming{start: m.now()}
}

// EndStage closes a stage and returns its duration in milliseconds.
func (m *Monitor) EndStage(callID, stage string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ct, ok := m.active[callID]
	if !ok {
		return 0
	}
	st, ok := ct.stages[stage]
	if !ok || st.done {
		return 0
	}
	st.durationMs = float64(m.now().Sub(st.start)) / float64(time.Millisecond)
	st.done = true
	return st.durationMs
}

// RecordExternalCall records an external provider call duration.
func (m *Monitor) RecordExternalCall(callID string, durationMs float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ct, ok := m.active[callID]; ok {
		ct.externalMs = append(ct.externalMs, durationMs)
	}
}

// RecordStorageOp records a storage operation duration.
func (m *Monitor) RecordStorageOp(callID string, durationMs float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ct, ok := m.active[callID]; ok {
		ct.storageMs = append(ct.storageMs, durationMs)
	}
}

// Finalize computes the call's report, retains it for aggregation, and
// releases the per-call state. Returns nil for an unknown call.
func (m *Monitor) Finalize(callID string) *CallReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	ct, ok := m.active[callID]
	if !ok {
		return nil
	}
	delete(m.active, callID)

	report := CallReport{
		CallID:      callID,
		CustomerID:  ct.customerID,
		TotalMs:     float64(m.now().Sub(ct.startedAt)) / float64(time.Millisecond),
		StageMs:     make(map[string]float64, len(ct.stages)),
		FinalizedAt: m.now(),
	}
	for name, st := range ct.stages {
		if st.done {
			report.StageMs[name] = st.durationMs
		}
	}
	for _, ms := range ct.externalMs {
		report.ExternalCallMs += ms
	}
	report.ExternalCalls = len(ct.externalMs)
	for _, ms := range ct.storageMs {
		report.StorageOpMs += ms
	}
	report.StorageOps = len(ct.storageMs)

	m.reports = append(m.reports, report)
	if len(m.reports) > m.cfg.MaxReports {
		m.reports = m.reports[len(m.reports)-m.cfg.MaxReports:]
	}
	return &report
}

// ActiveCalls returns the number of calls with open timing state.
func (m *Monitor) ActiveCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Aggregate computes p50/p95/p99 total durations and per-stage averages over
// the retained reports matching the filter.
func (m *Monitor) Aggregate(f Filter) Aggregate {
	m.mu.Lock()
	defer m.mu.Unlock()

	var totals []float64
	stageSums := make(map[string]float64)
	stageCounts := make(map[string]int)

	for _, r := range m.reports {
		if f.CustomerID != "" && r.CustomerID != f.CustomerID {
			continue
		}
		if !f.From.IsZero() && r.FinalizedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && r.FinalizedAt.After(f.To) {
			continue
		}
		totals = append(totals, r.TotalMs)
		for stage, ms := range r.StageMs {
			stageSums[stage] += ms
			stageCounts[stage]++
		}
	}

	agg := Aggregate{
		Count:      len(totals),
		StageAvgMs: make(map[string]float64, len(stageSums)),
	}
	if len(totals) == 0 {
		return agg
	}

	sort.Float64s(totals)
	agg.P50Ms = percentile(totals, 50)
	agg.P95Ms = percentile(totals, 95)
	agg.P99Ms = percentile(totals, 99)
	for stage, sum := range stageSums {
		agg.StageAvgMs[stage] = sum / float64(stageCounts[stage])
	}
	return agg
}

// percentile returns the p-th percentile of a sorted ascending slice using
// the nearest-rank method.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
