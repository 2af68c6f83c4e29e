package observability

import (
	"testing"
	"time"
)

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.RecordRequest("/v1/sessions", "POST", 201, 4*time.Millisecond)
	m.RecordRequest("/v1/sessions", "POST", 201, 2*time.Millisecond)
	m.RecordAssignment("operator", "first_available")
	m.RecordAssignment("supervisor", "no_operator_online")
	m.RecordNoOperator()
	m.RecordReap(3, 1)

	snap := m.Snapshot()
	if len(snap.Requests) != 1 || snap.Requests[0].Count != 2 {
		t.Fatalf("unexpected requests: %+v", snap.Requests)
	}
	if snap.Requests[0].AvgLatencyMS != 3 {
		t.Fatalf("expected 3ms average, got %v", snap.Requests[0].AvgLatencyMS)
	}
	if snap.Assignments["operator"] != 1 || snap.Assignments["supervisor"] != 1 {
		t.Fatalf("unexpected assignments: %v", snap.Assignments)
	}
	if snap.Escalations["no_operator_online"] != 1 || snap.Escalations["first_available"] != 0 {
		t.Fatalf("unexpected escalations: %v", snap.Escalations)
	}
	if snap.NoOperator != 1 || snap.Reaped != 3 || snap.ReapSkipped != 1 {
		t.Fatalf("unexpected scalar counters: %+v", snap)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordRequest("/", "GET", 200, time.Millisecond)
	m.RecordAssignment("operator", "first_available")
	if snap := m.Snapshot(); snap.Reaped != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
}
