package observability

import (
	"sort"
	"strconv"
	"sync"
	"time"
)

// Metrics provides basic in-memory counters.
type Metrics struct {
	mu                 sync.Mutex
	requestCount       map[string]int64
	requestLatency     map[string]time.Duration
	errorCount         map[string]int64
	assignments        map[string]int64
	escalations        map[string]int64
	noOperator         int64
	dependencyTimeouts map[string]int64
	reaped             int64
	reapSkipped        int64
	completions        map[string]int64
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount:       make(map[string]int64),
		requestLatency:     make(map[string]time.Duration),
		errorCount:         make(map[string]int64),
		assignments:        make(map[string]int64),
		escalations:        make(map[string]int64),
		dependencyTimeouts: make(map[string]int64),
		completions:        make(map[string]int64),
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
	m.requestLatency[key] += duration
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

// RecordAssignment counts a committed assignment by target kind and reason.
func (m *Metrics) RecordAssignment(targetKind, reason string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[targetKind]++
	if targetKind == "supervisor" {
		m.escalations[reason]++
	}
}

// RecordNoOperator counts assignment attempts that found nobody.
func (m *Metrics) RecordNoOperator() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.noOperator++
}

// RecordDependencyTimeout counts failed or slow collaborator calls.
func (m *Metrics) RecordDependencyTimeout(dependency string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dependencyTimeouts[dependency]++
}

// RecordReap adds the result of one reaper sweep.
func (m *Metrics) RecordReap(reaped, skipped int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reaped += int64(reaped)
	m.reapSkipped += int64(skipped)
}

// RecordCompletion counts terminal sessions by outcome.
func (m *Metrics) RecordCompletion(outcome string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completions[outcome]++
}

// RequestStat is one request counter line.
type RequestStat struct {
	Key          string  `json:"key"`
	Count        int64   `json:"count"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
}

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	Requests           []RequestStat    `json:"requests"`
	Errors             map[string]int64 `json:"errors"`
	Assignments        map[string]int64 `json:"assignments"`
	Escalations        map[string]int64 `json:"escalations"`
	NoOperator         int64            `json:"no_operator_available"`
	DependencyTimeouts map[string]int64 `json:"dependency_timeouts"`
	Reaped             int64            `json:"reaped"`
	ReapSkipped        int64            `json:"reap_skipped"`
	Completions        map[string]int64 `json:"completions"`
}

// Snapshot copies the counters for export.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	requests := make([]RequestStat, 0, len(m.requestCount))
	for key, count := range m.requestCount {
		stat := RequestStat{Key: key, Count: count}
		if count > 0 {
			stat.AvgLatencyMS = float64(m.requestLatency[key].Microseconds()) / 1000 / float64(count)
		}
		requests = append(requests, stat)
	}
	sort.Slice(requests, func(i, j int) bool { return requests[i].Key < requests[j].Key })

	return Snapshot{
		Requests:           requests,
		Errors:             copyCounts(m.errorCount),
		Assignments:        copyCounts(m.assignments),
		Escalations:        copyCounts(m.escalations),
		NoOperator:         m.noOperator,
		DependencyTimeouts: copyCounts(m.dependencyTimeouts),
		Reaped:             m.reaped,
		ReapSkipped:        m.reapSkipped,
		Completions:        copyCounts(m.completions),
	}
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
