package metrics

import (
	"sync"
	"time"
)

// Collector receives wallet core measurements. Implementations export them
// to a backend such as Prometheus.
type Collector interface {
	// Submissions
	RecordSubmission(kind, result string, duration time.Duration)

	// Ledger reads
	RecordBalanceSync(success bool)
	RecordSequencingAttempt(success bool)
}

// NoOpCollector is the default collector when metrics are not needed.
type NoOpCollector struct{}

func (NoOpCollector) RecordSubmission(string, string, time.Duration) {}
func (NoOpCollector) RecordBalanceSync(bool)                          {}
func (NoOpCollector) RecordSequencingAttempt(bool)                    {}

// MemoryCollector keeps counts in memory for tests.
type MemoryCollector struct {
	mu          sync.Mutex
	submissions map[string]int
	syncs       map[bool]int
	sequencing  map[bool]int
}

// NewMemoryCollector returns an empty MemoryCollector.
func NewMemoryCollector() *MemoryCollector {
	return &MemoryCollector{
		submissions: make(map[string]int),
		syncs:       make(map[bool]int),
		sequencing:  make(map[bool]int),
	}
}

func (m *MemoryCollector) RecordSubmission(kind, result string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submissions[kind+"/"+result]++
}

func (m *MemoryCollector) RecordBalanceSync(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncs[success]++
}

func (m *MemoryCollector) RecordSequencingAttempt(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequencing[success]++
}

// Submissions returns how many submissions of kind ended with result.
func (m *MemoryCollector) Submissions(kind, result string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submissions[kind+"/"+result]
}

// BalanceSyncs returns the number of successful or failed refreshes.
func (m *MemoryCollector) BalanceSyncs(success bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncs[success]
}

// SequencingAttempts returns the number of successful or failed sequencing reads.
func (m *MemoryCollector) SequencingAttempts(success bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sequencing[success]
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
