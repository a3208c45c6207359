// Package metrics collects worker metrics. Every recording method is safe
// to call on a nil *Metrics, which records nothing.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects invocation and request metrics. It feeds Prometheus
// collectors and keeps in-process totals for the JSON snapshot.
type Metrics struct {
	prom *promCollectors

	TotalInvocations   atomic.Int64
	SuccessInvocations atomic.Int64
	FailedInvocations  atomic.Int64

	TotalLatencyMs atomic.Int64
	MinLatencyMs   atomic.Int64
	MaxLatencyMs   atomic.Int64

	funcMetrics sync.Map // function id -> *FunctionMetrics

	startTime time.Time
}

// FunctionMetrics tracks metrics for a single function.
type FunctionMetrics struct {
	Invocations atomic.Int64
	Successes   atomic.Int64
	Failures    atomic.Int64
	TotalMs     atomic.Int64
	MinMs       atomic.Int64
	MaxMs       atomic.Int64
}

// New creates a metrics set. buckets are histogram bounds in milliseconds;
// nil selects the defaults.
func New(namespace string, buckets []float64) *Metrics {
	m := &Metrics{
		prom:      newPromCollectors(namespace, buckets),
		startTime: time.Now(),
	}
	m.MinLatencyMs.Store(-1)
	return m
}

// RecordInvocation records one finished invocation.
func (m *Metrics) RecordInvocation(functionID string, async bool, d time.Duration, success bool) {
	if m == nil {
		return
	}
	mode := "sync"
	if async {
		mode = "async"
	}
	m.prom.recordInvocation(functionID, mode, d, success)

	ms := d.Milliseconds()
	m.TotalInvocations.Add(1)
	m.TotalLatencyMs.Add(ms)
	updateMin(&m.MinLatencyMs, ms)
	updateMax(&m.MaxLatencyMs, ms)
	if success {
		m.SuccessInvocations.Add(1)
	} else {
		m.FailedInvocations.Add(1)
	}

	fm := m.functionMetrics(functionID)
	fm.Invocations.Add(1)
	fm.TotalMs.Add(ms)
	updateMin(&fm.MinMs, ms)
	updateMax(&fm.MaxMs, ms)
	if success {
		fm.Successes.Add(1)
	} else {
		fm.Failures.Add(1)
	}
}

// RecordRequest counts a host request by kind.
func (m *Metrics) RecordRequest(kind string, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	m.prom.requestsTotal.WithLabelValues(kind, status).Inc()
}

// InvocationStarted and InvocationFinished track in-progress invocations.
func (m *Metrics) InvocationStarted() {
	if m != nil {
		m.prom.activeInvocations.Inc()
	}
}

func (m *Metrics) InvocationFinished() {
	if m != nil {
		m.prom.activeInvocations.Dec()
	}
}

// PoolQueued, PoolStarted and PoolFinished follow a job through the sync pool.
func (m *Metrics) PoolQueued() {
	if m != nil {
		m.prom.poolQueued.Inc()
	}
}

func (m *Metrics) PoolStarted() {
	if m != nil {
		m.prom.poolQueued.Dec()
		m.prom.poolInFlight.Inc()
	}
}

func (m *Metrics) PoolFinished() {
	if m != nil {
		m.prom.poolInFlight.Dec()
	}
}

// PoolDropped undoes PoolQueued for a job that never started.
func (m *Metrics) PoolDropped() {
	if m != nil {
		m.prom.poolQueued.Dec()
	}
}

// SetRegisteredFunctions reports the size of the function registry.
func (m *Metrics) SetRegisteredFunctions(n int) {
	if m != nil {
		m.prom.registeredFunctions.Set(float64(n))
	}
}

func (m *Metrics) functionMetrics(id string) *FunctionMetrics {
	if v, ok := m.funcMetrics.Load(id); ok {
		return v.(*FunctionMetrics)
	}
	fm := &FunctionMetrics{}
	fm.MinMs.Store(-1)
	actual, _ := m.funcMetrics.LoadOrStore(id, fm)
	return actual.(*FunctionMetrics)
}

// Snapshot returns the in-process totals.
func (m *Metrics) Snapshot() map[string]any {
	total := m.TotalInvocations.Load()
	avg := float64(0)
	if total > 0 {
		avg = float64(m.TotalLatencyMs.Load()) / float64(total)
	}
	return map[string]any{
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
		"invocations": map[string]any{
			"total":   total,
			"success": m.SuccessInvocations.Load(),
			"failed":  m.FailedInvocations.Load(),
		},
		"latency_ms": map[string]any{
			"avg": avg,
			"min": clampMin(m.MinLatencyMs.Load()),
			"max": m.MaxLatencyMs.Load(),
		},
	}
}

// FunctionStats returns per-function totals keyed by function id.
func (m *Metrics) FunctionStats() map[string]any {
	result := make(map[string]any)
	m.funcMetrics.Range(func(key, value any) bool {
		fm := value.(*FunctionMetrics)
		total := fm.Invocations.Load()
		avg := float64(0)
		if total > 0 {
			avg = float64(fm.TotalMs.Load()) / float64(total)
		}
		result[key.(string)] = map[string]any{
			"invocations": total,
			"successes":   fm.Successes.Load(),
			"failures":    fm.Failures.Load(),
			"avg_ms":      avg,
			"min_ms":      clampMin(fm.MinMs.Load()),
			"max_ms":      fm.MaxMs.Load(),
		}
		return true
	})
	return result
}

// JSONHandler returns an HTTP handler that exposes the snapshot as JSON.
func (m *Metrics) JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		result := m.Snapshot()
		result["functions"] = m.FunctionStats()
		json.NewEncoder(w).Encode(result)
	})
}

func updateMin(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if old >= 0 && value >= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}

func updateMax(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value <= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}

func clampMin(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
