// Package health derives a tenant's health verdict from its stored snapshot
// state, for uptime monitors and metrics.
package health

import (
	"context"
	"time"

	"github.com/testimonials-cache/testimonials-cache/internal/snapshot"
)

// StateReader reads a tenant's stored snapshot state.
type StateReader interface {
	Read(ctx context.Context, host string) (snapshot.State, error)
}

// Report is the health of one tenant.
type Report struct {
	Host      string
	UpdatedAt string
	ETag      string
	Count     int
	Stale     bool
	LastError string
	// Age is the time since UpdatedAt; zero when UpdatedAt is absent or
	// unparseable.
	Age time.Duration
}

// Healthy reports the overall verdict: unhealthy when there are no records
// or a refresh error is outstanding. Staleness does not affect it.
func (r Report) Healthy() bool {
	return r.Count > 0 && r.LastError == ""
}

// Reporter composes Reports.
type Reporter struct {
	store     StateReader
	freshness snapshot.FreshnessPolicy
}

// NewReporter returns a Reporter judging staleness with freshness.
func NewReporter(st StateReader, freshness snapshot.FreshnessPolicy) *Reporter {
	return &Reporter{store: st, freshness: freshness}
}

// Report reads host's state and composes its health. Store and decode
// failures are returned as errors.
func (r *Reporter) Report(ctx context.Context, host string) (Report, error) {
	st, err := r.store.Read(ctx, host)
	if err != nil {
		return Report{}, err
	}

	rep := Report{
		Host:      host,
		UpdatedAt: st.UpdatedAt,
		ETag:      st.Fingerprint,
		Count:     st.Count(),
		Stale:     r.freshness.IsStale(st.UpdatedAt),
		LastError: st.LastError,
	}
	if age, ok := r.freshness.Age(st.UpdatedAt); ok {
		rep.Age = age
	}
	return rep, nil
}
