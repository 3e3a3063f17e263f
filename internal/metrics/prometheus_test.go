package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCollectorCounts(t *testing.T) {
	pc := NewPrometheusCollector("walletcore")
	reg := prometheus.NewRegistry()
	if err := pc.Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}

	pc.RecordSubmission("payment", "success", time.Second)
	pc.RecordSubmission("payment", "success", 2*time.Second)
	pc.RecordBalanceSync(false)
	pc.RecordSequencingAttempt(true)

	if got := testutil.ToFloat64(pc.submissions.WithLabelValues("payment", "success")); got != 2 {
		t.Fatalf("expected 2 submissions, got %v", got)
	}
	if got := testutil.ToFloat64(pc.balanceSyncs.WithLabelValues("error")); got != 1 {
		t.Fatalf("expected 1 failed sync, got %v", got)
	}
	if err := pc.Register(reg); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestMemoryCollector(t *testing.T) {
	m := NewMemoryCollector()
	m.RecordSubmission("trust_set", "missing_trust_line", 0)
	m.RecordSequencingAttempt(false)
	m.RecordSequencingAttempt(false)
	if m.Submissions("trust_set", "missing_trust_line") != 1 || m.SequencingAttempts(false) != 2 {
		t.Fatalf("unexpected memory counts")
	}
	var _ Collector = NoOpCollector{}
}
