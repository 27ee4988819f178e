// Package refresh implements the refresh protocol: fetch a tenant's feed,
// validate it, fingerprint it, and write it to the snapshot store only when it
// changed.
package refresh

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/testimonials-cache/testimonials-cache/internal/clock"
	"github.com/testimonials-cache/testimonials-cache/internal/feed"
	"github.com/testimonials-cache/testimonials-cache/internal/registry"
	"github.com/testimonials-cache/testimonials-cache/internal/snapshot"
)

var (
	refreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tsc_refresh_total",
		Help: "Refresh cycles by host and outcome status.",
	}, []string{"host", "status"})
	refreshDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tsc_refresh_duration_seconds",
		Help:    "Duration of refresh cycles.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"host"})
)

// Collectors returns the package's Prometheus collectors for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{refreshTotal, refreshDuration}
}

// SnapshotStore is the part of snapshot.Store the coordinator needs.
type SnapshotStore interface {
	Fingerprint(ctx context.Context, host string) (string, error)
	UpdatedAt(ctx context.Context, host string) (string, error)
	Write(ctx context.Context, host string, records []json.RawMessage, fingerprint, updatedAt string) error
	RecordError(ctx context.Context, host, msg string) error
}

// compile-time check
var _ SnapshotStore = (*snapshot.Store)(nil)

// Coordinator runs refresh cycles. It holds no per-tenant state and does not
// serialise concurrent cycles; two cycles for the same host that both see the
// old fingerprint both write, and the store decides which write is final.
type Coordinator struct {
	sites   registry.Lookup
	fetcher feed.Fetcher
	store   SnapshotStore
	clock   clock.Clock
	logger  *logrus.Entry
}

// NewCoordinator wires a Coordinator.
func NewCoordinator(sites registry.Lookup, fetcher feed.Fetcher, st SnapshotStore, c clock.Clock, logger *logrus.Entry) *Coordinator {
	return &Coordinator{
		sites:   sites,
		fetcher: fetcher,
		store:   st,
		clock:   c,
		logger:  logger.WithField("component", "refresh"),
	}
}

// Refresh runs one cycle for host. The caller is responsible for
// authorising the request before calling it.
func (c *Coordinator) Refresh(ctx context.Context, host string) Outcome {
	start := time.Now()
	out := c.run(ctx, host, uuid.NewString())
	out.Duration = time.Since(start)

	refreshTotal.WithLabelValues(host, string(out.Status)).Inc()
	refreshDuration.WithLabelValues(host).Observe(out.Duration.Seconds())

	log := c.logger.WithFields(logrus.Fields{
		"host":     host,
		"run_id":   out.RunID,
		"status":   out.Status,
		"stage":    out.Stage,
		"duration": out.Duration.Round(time.Millisecond),
	})
	if out.Failed() {
		log.WithError(out.Err).Warn("refresh failed")
	} else {
		log.WithFields(logrus.Fields{"count": out.Count, "etag": out.ETag}).Info("refresh completed")
	}
	return out
}

func (c *Coordinator) run(ctx context.Context, host, runID string) Outcome {
	out := Outcome{Host: host, RunID: runID, Stage: StageIdle}
	log := c.logger.WithFields(logrus.Fields{"host": host, "run_id": runID})

	// --- Resolve tenant ---
	out.Stage = StageResolving
	site, err := c.sites.Lookup(host)
	if err != nil {
		return c.fail(out, StatusConfigError, err.Error(), err)
	}

	// --- Fetch ---
	out.Stage = StageFetching
	log.WithField("stage", out.Stage).Trace("refresh stage")
	payload, err := c.fetcher.Fetch(ctx, site.FeedURL())
	if err != nil {
		var se *feed.StatusError
		if errors.As(err, &se) {
			c.recordError(ctx, host, se.Error())
			return c.fail(out, StatusFeedError, fmt.Sprintf("Feed error %d", se.StatusCode), err)
		}
		c.recordError(ctx, host, "fetch error: "+err.Error())
		return c.fail(out, StatusFetchError, "Fetch failed", err)
	}

	// --- Validate ---
	out.Stage = StageValidating
	log.WithField("stage", out.Stage).Trace("refresh stage")
	v, verr := validate(payload)
	if verr != nil {
		c.recordError(ctx, host, verr.diagnostic)
		return c.fail(out, StatusInvalidPayload, verr.message, verr)
	}

	// --- Fingerprint and compare ---
	out.Stage = StageComparing
	log.WithField("stage", out.Stage).Trace("refresh stage")
	out.Count = len(v.records)
	out.ETag = v.etag
	if out.ETag == "" {
		out.ETag = snapshot.Fingerprint(v.records)
	}

	stored, err := c.store.Fingerprint(ctx, host)
	if err != nil {
		c.recordError(ctx, host, "store error: "+err.Error())
		return c.fail(out, StatusStoreError, "Store error", err)
	}
	if stored != "" && stored == out.ETag {
		out.Stage = StageSkipping
		updatedAt, err := c.store.UpdatedAt(ctx, host)
		if err != nil {
			c.recordError(ctx, host, "store error: "+err.Error())
			return c.fail(out, StatusStoreError, "Store error", err)
		}
		out.UpdatedAt = updatedAt
		out.Status = StatusNoop
		out.Stage = StageDone
		return out
	}

	// --- Write ---
	out.Stage = StageWriting
	out.UpdatedAt = v.updatedAt
	if out.UpdatedAt == "" {
		out.UpdatedAt = snapshot.FormatTimestamp(c.clock.Now())
	}
	if err := c.store.Write(ctx, host, v.records, out.ETag, out.UpdatedAt); err != nil {
		c.recordError(ctx, host, "store error: "+err.Error())
		return c.fail(out, StatusStoreError, "Store error", err)
	}

	out.Status = StatusOK
	out.Stage = StageDone
	return out
}

func (c *Coordinator) fail(out Outcome, status Status, message string, err error) Outcome {
	out.Status = status
	out.Message = message
	out.Err = err
	return out
}

// recordError stores msg in the tenant's error slot. A failure to record is
// logged only; the cycle's outcome is already decided.
func (c *Coordinator) recordError(ctx context.Context, host, msg string) {
	if err := c.store.RecordError(ctx, host, msg); err != nil {
		c.logger.WithError(err).WithField("host", host).Error("failed to record refresh error")
	}
}

// RefreshAll runs a cycle for each host in turn and joins the failures.
func (c *Coordinator) RefreshAll(ctx context.Context, hosts []string) error {
	var errs []error
	for _, h := range hosts {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if out := c.Refresh(ctx, h); out.Failed() {
			errs = append(errs, fmt.Errorf("%s: %s: %w", h, out.Status, out.Err))
		}
	}
	return errors.Join(errs...)
}

// validated is a feed payload that passed shape validation.
type validated struct {
	records   []json.RawMessage
	etag      string
	updatedAt string
}

// validationError carries the caller-facing message and the diagnostic
// recorded in the error slot.
type validationError struct {
	message    string
	diagnostic string
}

func (e *validationError) Error() string { return e.diagnostic }

func validate(p *feed.Payload) (*validated, *validationError) {
	if p.Fields == nil || !truthy(p.Fields["ok"]) {
		return nil, &validationError{
			message:    "Upstream not ok",
			diagnostic: "upstream not ok: " + feed.Truncate(compact(p.Raw), feed.MaxErrorBody),
		}
	}

	var records []json.RawMessage
	rawList := bytes.TrimSpace(p.Fields["testimonials"])
	if len(rawList) == 0 || rawList[0] != '[' || json.Unmarshal(rawList, &records) != nil {
		return nil, &validationError{
			message:    "Invalid testimonials array",
			diagnostic: "invalid testimonials array",
		}
	}
	if records == nil {
		records = []json.RawMessage{}
	}

	etag, ok := optionalString(p.Fields["etag"])
	if !ok {
		return nil, &validationError{message: "Invalid etag", diagnostic: "invalid etag: " + feed.Truncate(string(p.Fields["etag"]), feed.MaxErrorBody)}
	}
	updatedAt, ok := optionalString(p.Fields["updated_at"])
	if !ok {
		return nil, &validationError{message: "Invalid updated_at", diagnostic: "invalid updated_at: " + feed.Truncate(string(p.Fields["updated_at"]), feed.MaxErrorBody)}
	}

	return &validated{records: records, etag: etag, updatedAt: updatedAt}, nil
}

// truthy applies JavaScript truthiness to a JSON value: false, null, 0 and
// "" are falsy, everything else (including empty objects and arrays) is
// truthy. A missing value is falsy.
func truthy(v json.RawMessage) bool {
	if len(v) == 0 {
		return false
	}
	var x any
	if err := json.Unmarshal(v, &x); err != nil {
		return false
	}
	switch t := x.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		return true
	}
}

// optionalString decodes an optional string member. Absent and null read as
// "", any other non-string value is rejected.
func optionalString(v json.RawMessage) (string, bool) {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || string(v) == "null" {
		return "", true
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", false
	}
	return s, true
}

func compact(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
