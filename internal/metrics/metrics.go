package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Operation names recorded by the shipment service
const (
	OpLedgerSubmit  = "ledger.submit"
	OpLedgerFetch   = "ledger.fetch"
	OpMirrorAppend  = "mirror.append"
	OpMirrorFetch   = "mirror.fetch"
	OpEventsPublish = "events.publish"
	OpIndexNote     = "search.index"

	CounterValidationRejected = "validation.rejected"
	CounterStatusNotes        = "shipment.status_notes"
	CounterMirrorMissing      = "mirror.missing"
)

// TimerMetric captures timing information
type TimerMetric struct {
	Count         int64   `json:"count"`
	TotalTimeMs   int64   `json:"total_time_ms"`
	AverageTimeMs float64 `json:"average_time_ms"`
	MinTimeMs     int64   `json:"min_time_ms"`
	MaxTimeMs     int64   `json:"max_time_ms"`
}

// ErrorRateMetric captures error rates
type ErrorRateMetric struct {
	Total     int64   `json:"total"`
	Errors    int64   `json:"errors"`
	ErrorRate float64 `json:"error_rate"`
}

// Snapshot is a point-in-time copy of every metric
type Snapshot struct {
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Counters      map[string]int64           `json:"counters"`
	Gauges        map[string]int64           `json:"gauges"`
	Timers        map[string]TimerMetric     `json:"timers"`
	ErrorRates    map[string]ErrorRateMetric `json:"error_rates"`
	HealthChecks  map[string]bool            `json:"health_checks"`
}

type timer struct {
	count       int64
	totalTimeMs int64
	minTimeMs   int64
	maxTimeMs   int64
}

type errorRate struct {
	total  int64
	errors int64
}

// Metrics is the in-process metrics collector. All methods are safe for
// concurrent use and a nil *Metrics ignores every call.
type Metrics struct {
	mu           sync.RWMutex
	counters     map[string]*int64
	gauges       map[string]*int64
	timers       map[string]*timer
	errorRates   map[string]*errorRate
	healthChecks map[string]*int64
	startTime    time.Time
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	return &Metrics{
		counters:     make(map[string]*int64),
		gauges:       make(map[string]*int64),
		timers:       make(map[string]*timer),
		errorRates:   make(map[string]*errorRate),
		healthChecks: make(map[string]*int64),
		startTime:    time.Now(),
	}
}

// lookup returns the entry for name, creating it with newFn under the write
// lock on first use.
func lookup[T any](m *Metrics, entries map[string]*T, name string, newFn func() *T) *T {
	m.mu.RLock()
	entry, ok := entries[name]
	m.mu.RUnlock()
	if ok {
		return entry
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok = entries[name]; !ok {
		entry = newFn()
		entries[name] = entry
	}
	return entry
}

func newInt64() *int64 { return new(int64) }

// IncrementCounter increments a counter by 1
func (m *Metrics) IncrementCounter(name string) {
	m.IncrementCounterBy(name, 1)
}

// IncrementCounterBy increments a counter by the specified value
func (m *Metrics) IncrementCounterBy(name string, value int64) {
	if m == nil {
		return
	}
	atomic.AddInt64(lookup(m, m.counters, name, newInt64), value)
}

// SetGauge sets a gauge to a specific value
func (m *Metrics) SetGauge(name string, value int64) {
	if m == nil {
		return
	}
	atomic.StoreInt64(lookup(m, m.gauges, name, newInt64), value)
}

// RecordTimer records a timing measurement in milliseconds
func (m *Metrics) RecordTimer(name string, durationMs int64) {
	if m == nil {
		return
	}

	t := lookup(m, m.timers, name, func() *timer {
		return &timer{minTimeMs: math.MaxInt64}
	})

	atomic.AddInt64(&t.count, 1)
	atomic.AddInt64(&t.totalTimeMs, durationMs)

	for {
		cur := atomic.LoadInt64(&t.minTimeMs)
		if durationMs >= cur || atomic.CompareAndSwapInt64(&t.minTimeMs, cur, durationMs) {
			break
		}
	}
	for {
		cur := atomic.LoadInt64(&t.maxTimeMs)
		if durationMs <= cur || atomic.CompareAndSwapInt64(&t.maxTimeMs, cur, durationMs) {
			break
		}
	}
}

// ObserveOperation records the duration of an operation started at start
// and counts it as a success or failure.
func (m *Metrics) ObserveOperation(name string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.RecordTimer(name, time.Since(start).Milliseconds())
	if err != nil {
		m.RecordError(name)
		return
	}
	m.RecordSuccess(name)
}

// RecordSuccess records a successful operation for error rate tracking
func (m *Metrics) RecordSuccess(name string) {
	m.recordErrorRate(name, false)
}

// RecordError records an error for error rate tracking
func (m *Metrics) RecordError(name string) {
	m.recordErrorRate(name, true)
}

func (m *Metrics) recordErrorRate(name string, isError bool) {
	if m == nil {
		return
	}

	er := lookup(m, m.errorRates, name, func() *errorRate { return &errorRate{} })
	atomic.AddInt64(&er.total, 1)
	if isError {
		atomic.AddInt64(&er.errors, 1)
	}
}

// SetHealth sets the health status of a component
func (m *Metrics) SetHealth(component string, isHealthy bool) {
	if m == nil {
		return
	}

	var value int64
	if isHealthy {
		value = 1
	}
	atomic.StoreInt64(lookup(m, m.healthChecks, component, newInt64), value)
}

// Healthy reports whether every registered component is healthy
func (m *Metrics) Healthy() bool {
	for _, ok := range m.GetHealthChecks() {
		if !ok {
			return false
		}
	}
	return true
}

// GetCounters returns all counters
func (m *Metrics) GetCounters() map[string]int64 {
	return m.loadAll(func(m *Metrics) map[string]*int64 { return m.counters })
}

// GetGauges returns all gauges
func (m *Metrics) GetGauges() map[string]int64 {
	return m.loadAll(func(m *Metrics) map[string]*int64 { return m.gauges })
}

func (m *Metrics) loadAll(entries func(*Metrics) map[string]*int64) map[string]int64 {
	out := make(map[string]int64)
	if m == nil {
		return out
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, v := range entries(m) {
		out[name] = atomic.LoadInt64(v)
	}
	return out
}

// GetTimers returns all timers
func (m *Metrics) GetTimers() map[string]TimerMetric {
	timers := make(map[string]TimerMetric)
	if m == nil {
		return timers
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, t := range m.timers {
		count := atomic.LoadInt64(&t.count)
		total := atomic.LoadInt64(&t.totalTimeMs)

		var average float64
		if count > 0 {
			average = float64(total) / float64(count)
		}

		timers[name] = TimerMetric{
			Count:         count,
			TotalTimeMs:   total,
			AverageTimeMs: average,
			MinTimeMs:     atomic.LoadInt64(&t.minTimeMs),
			MaxTimeMs:     atomic.LoadInt64(&t.maxTimeMs),
		}
	}

	return timers
}

// GetErrorRates returns all error rates as percentages
func (m *Metrics) GetErrorRates() map[string]ErrorRateMetric {
	rates := make(map[string]ErrorRateMetric)
	if m == nil {
		return rates
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, er := range m.errorRates {
		total := atomic.LoadInt64(&er.total)
		errs := atomic.LoadInt64(&er.errors)

		var rate float64
		if total > 0 {
			rate = float64(errs) / float64(total) * 100.0
		}

		rates[name] = ErrorRateMetric{Total: total, Errors: errs, ErrorRate: rate}
	}

	return rates
}

// GetHealthChecks returns all health checks
func (m *Metrics) GetHealthChecks() map[string]bool {
	checks := make(map[string]bool)
	for name, v := range m.loadAll(func(m *Metrics) map[string]*int64 { return m.healthChecks }) {
		checks[name] = v > 0
	}
	return checks
}

// GetUptimeSeconds returns the service uptime in seconds
func (m *Metrics) GetUptimeSeconds() int64 {
	if m == nil {
		return 0
	}
	return int64(time.Since(m.startTime).Seconds())
}

// Snapshot returns all metrics
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		UptimeSeconds: m.GetUptimeSeconds(),
		Counters:      m.GetCounters(),
		Gauges:        m.GetGauges(),
		Timers:        m.GetTimers(),
		ErrorRates:    m.GetErrorRates(),
		HealthChecks:  m.GetHealthChecks(),
	}
}
