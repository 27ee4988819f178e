package health

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/testimonials-cache/testimonials-cache/internal/clock"
	"github.com/testimonials-cache/testimonials-cache/internal/snapshot"
	"github.com/testimonials-cache/testimonials-cache/internal/store"
)

const host = "t.example.com"

var now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*snapshot.Store, *Reporter, *store.MemoryStore) {
	t.Helper()
	kv := store.NewMemoryStore()
	st := snapshot.NewStore(kv)
	return st, NewReporter(st, snapshot.NewFreshnessPolicy(clock.Fake(now), 0)), kv
}

func records(n int) []json.RawMessage {
	out := make([]json.RawMessage, n)
	for i := range out {
		out[i] = json.RawMessage(`{"name":"x"}`)
	}
	return out
}

func TestReport_NoData(t *testing.T) {
	_, r, _ := setup(t)
	rep, err := r.Report(context.Background(), host)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if rep.Count != 0 || !rep.Stale || rep.Healthy() {
		t.Errorf("Report: got %+v healthy=%v, want count 0, stale, unhealthy", rep, rep.Healthy())
	}
}

func TestReport_Healthy(t *testing.T) {
	st, r, _ := setup(t)
	_ = st.Write(context.Background(), host, records(5), "h1", snapshot.FormatTimestamp(now.Add(-time.Hour)))

	rep, err := r.Report(context.Background(), host)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if rep.Count != 5 || rep.Stale || !rep.Healthy() || rep.ETag != "h1" {
		t.Errorf("Report: got %+v", rep)
	}
	if rep.Age != time.Hour {
		t.Errorf("Age: got %v, want 1h", rep.Age)
	}
}

func TestReport_StaleStillHealthy(t *testing.T) {
	st, r, _ := setup(t)
	_ = st.Write(context.Background(), host, records(2), "h1", snapshot.FormatTimestamp(now.Add(-3*time.Hour)))

	rep, _ := r.Report(context.Background(), host)
	if !rep.Stale {
		t.Error("Stale: got false for 3h old snapshot")
	}
	if !rep.Healthy() {
		t.Error("Healthy: staleness alone must not flip the verdict")
	}
}

func TestReport_ErrorKeepsCount(t *testing.T) {
	st, r, _ := setup(t)
	ctx := context.Background()
	_ = st.Write(ctx, host, records(5), "h1", snapshot.FormatTimestamp(now))
	_ = st.RecordError(ctx, host, "feed 500: oops")

	rep, _ := r.Report(ctx, host)
	if rep.Count != 5 {
		t.Errorf("Count: got %d, want 5", rep.Count)
	}
	if rep.LastError != "feed 500: oops" {
		t.Errorf("LastError: got %q", rep.LastError)
	}
	if rep.Healthy() {
		t.Error("Healthy: want false with outstanding error")
	}
}

func TestReport_EmptySnapshotUnhealthy(t *testing.T) {
	st, r, _ := setup(t)
	_ = st.Write(context.Background(), host, nil, "hb62", snapshot.FormatTimestamp(now))
	rep, _ := r.Report(context.Background(), host)
	if rep.Healthy() {
		t.Error("Healthy: want false for empty snapshot")
	}
}

func TestReport_CorruptData(t *testing.T) {
	_, r, kv := setup(t)
	_ = kv.Set(context.Background(), snapshot.KeysFor(host).Data, "{")
	if _, err := r.Report(context.Background(), host); !errors.Is(err, snapshot.ErrCorruptSnapshot) {
		t.Fatalf("Report: got %v, want ErrCorruptSnapshot", err)
	}
}
