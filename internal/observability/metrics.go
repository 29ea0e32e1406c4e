package observability

import (
	"strconv"
	"sync"
	"time"
)

// Delivery outcomes recorded by the event worker.
const (
	OutcomeSucceeded    = "succeeded"
	OutcomeRetried      = "retried"
	OutcomeDeadLettered = "dead_lettered"
)

// Metrics provides basic in-memory counters.
type Metrics struct {
	mu           sync.Mutex
	requestCount map[string]int64
	errorCount   map[string]int64
	deliveries   map[string]int64
	steps        map[string]int64
	totalLatency time.Duration
	requests     int64
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Requests          map[string]int64 `json:"requests"`
	Errors            map[string]int64 `json:"errors"`
	Deliveries        map[string]int64 `json:"deliveries"`
	Steps             map[string]int64 `json:"steps"`
	AvgRequestLatency string           `json:"avg_request_latency"`
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount: make(map[string]int64),
		errorCount:   make(map[string]int64),
		deliveries:   make(map[string]int64),
		steps:        make(map[string]int64),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := pathKey(path, method, status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
	m.requests++
	m.totalLatency += duration
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + code
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// RecordDelivery counts how an event delivery attempt ended.
func (m *Metrics) RecordDelivery(eventType, outcome string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries[eventType+"|"+outcome]++
}

// RecordStep counts pipeline step results, e.g. ("triage", "fallback").
func (m *Metrics) RecordStep(step, result string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps[step+"|"+result]++
}

// Snapshot copies the counters.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := Snapshot{
		Requests:   copyCounts(m.requestCount),
		Errors:     copyCounts(m.errorCount),
		Deliveries: copyCounts(m.deliveries),
		Steps:      copyCounts(m.steps),
	}
	var avg time.Duration
	if m.requests > 0 {
		avg = m.totalLatency / time.Duration(m.requests)
	}
	snap.AvgRequestLatency = avg.String()
	return snap
}

func copyCounts(src map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func pathKey(path, method string, status int) string {
	return path + "|" + method + "|" + strconv.Itoa(status)
}
