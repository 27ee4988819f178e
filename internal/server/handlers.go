package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/testimonials-cache/testimonials-cache/internal/refresh"
	"github.com/testimonials-cache/testimonials-cache/internal/render"
	"github.com/testimonials-cache/testimonials-cache/internal/snapshot"
)

// refreshWriteSlack is the time left to write a refresh response after the
// cycle itself has timed out.
const refreshWriteSlack = 5 * time.Second

// tenantHost identifies the tenant a request is for.
func tenantHost(r *http.Request) string {
	return strings.ToLower(r.Host)
}

// nullable renders an absent slot as JSON null.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type dataResponse struct {
	OK           bool              `json:"ok"`
	UpdatedAt    *string           `json:"updated_at"`
	ETag         *string           `json:"etag"`
	Count        int               `json:"count"`
	Testimonials []json.RawMessage `json:"testimonials"`
}

type healthResponse struct {
	OK        bool    `json:"ok"`
	Host      string  `json:"host"`
	UpdatedAt *string `json:"updated_at"`
	ETag      *string `json:"etag"`
	Count     int     `json:"count"`
	Stale     bool    `json:"stale"`
	LastError string  `json:"last_error,omitempty"`
}

type refreshResponse struct {
	Status     refresh.Status `json:"status"`
	Count      int            `json:"count"`
	ETag       string         `json:"etag"`
	UpdatedAt  *string        `json:"updated_at"`
	DurationMS *int64         `json:"duration_ms,omitempty"`
}

// handleData serves the cached snapshot.
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	host := tenantHost(r)
	cur, err := s.deps.Snapshots.Current(r.Context(), host)
	switch {
	case errors.Is(err, snapshot.ErrNoData):
		jsonErr(w, http.StatusServiceUnavailable, "no data yet")
		return
	case err != nil:
		s.storeFailure(w, host, err)
		return
	}

	jsonResp(w, http.StatusOK, dataResponse{
		OK:           true,
		UpdatedAt:    nullable(cur.UpdatedAt),
		ETag:         nullable(cur.Fingerprint),
		Count:        cur.Count,
		Testimonials: cur.Records,
	})
}

// handleHealth reports the tenant's health. Missing data or an outstanding
// refresh error answer 503 so uptime monitors trip; staleness alone does not.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	host := tenantHost(r)
	rep, err := s.deps.Health.Report(r.Context(), host)
	if err != nil {
		s.storeFailure(w, host, err)
		return
	}

	code := http.StatusOK
	if !rep.Healthy() {
		code = http.StatusServiceUnavailable
	}
	jsonResp(w, code, healthResponse{
		OK:        true,
		Host:      host,
		UpdatedAt: nullable(rep.UpdatedAt),
		ETag:      nullable(rep.ETag),
		Count:     rep.Count,
		Stale:     rep.Stale,
		LastError: rep.LastError,
	})
}

// handleRefresh runs one refresh cycle. The cycle is detached from the
// request so a disconnecting caller does not abort a write half way; it is
// bounded by the configured refresh timeout instead. The response write
// deadline is pushed past that bound so the caller always gets a status.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	host := tenantHost(r)
	timeout := s.config.Refresh.Timeout()

	deadline := time.Now().Add(timeout + refreshWriteSlack)
	if err := http.NewResponseController(w).SetWriteDeadline(deadline); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.logger.WithError(err).Debug("extending refresh write deadline")
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), timeout)
	defer cancel()

	out := s.deps.Refresher.Refresh(ctx, host)
	if out.Failed() {
		jsonErr(w, out.HTTPStatus(), out.Message)
		return
	}

	resp := refreshResponse{
		Status:    out.Status,
		Count:     out.Count,
		ETag:      out.ETag,
		UpdatedAt: nullable(out.UpdatedAt),
	}
	if out.Status == refresh.StatusOK {
		ms := out.Duration.Milliseconds()
		resp.DurationMS = &ms
	}
	jsonResp(w, http.StatusOK, resp)
}

// handlePage renders the tenant's testimonials page.
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	host := tenantHost(r)

	site, err := s.deps.Sites.Lookup(host)
	if err != nil {
		s.htmlMessage(w, http.StatusInternalServerError, "Config error", err.Error())
		return
	}

	cur, err := s.deps.Snapshots.Current(r.Context(), host)
	switch {
	case errors.Is(err, snapshot.ErrNoData):
		s.htmlMessage(w, http.StatusServiceUnavailable, "No data yet", "Try refreshing the site data.")
		return
	case err != nil:
		s.logger.WithError(err).WithField("host", host).Error("reading snapshot failed")
		s.htmlMessage(w, http.StatusInternalServerError, "Store error", "")
		return
	}

	var buf bytes.Buffer
	if err := s.deps.Renderer.Page(&buf, host, site, cur.Records); err != nil {
		s.logger.WithError(err).WithField("host", host).Error("rendering page failed")
		s.htmlMessage(w, http.StatusInternalServerError, "Render error", "")
		return
	}
	writeHTML(w, http.StatusOK, buf.Bytes())
}

func (s *Server) handleRobots(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write([]byte(render.Robots(tenantHost(r))))
}

func (s *Server) handleStylesheet(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(render.Stylesheet())
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not_ready"}`))
	}
}

// handleConfig returns the effective configuration with secrets masked.
func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	data, err := s.config.RedactedJSON()
	if err != nil {
		s.logger.WithError(err).Error("failed to encode config")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

// storeFailure answers a failed snapshot read. Corrupt snapshots are logged
// at error level; both cases answer 500.
func (s *Server) storeFailure(w http.ResponseWriter, host string, err error) {
	log := s.logger.WithError(err).WithField("host", host)
	if errors.Is(err, snapshot.ErrCorruptSnapshot) {
		log.Error("stored snapshot is corrupt")
	} else {
		log.Warn("reading snapshot failed")
	}
	jsonErr(w, http.StatusInternalServerError, "Store error")
}

func (s *Server) htmlMessage(w http.ResponseWriter, code int, heading, detail string) {
	var buf bytes.Buffer
	if err := s.deps.Renderer.Message(&buf, heading, detail); err != nil {
		s.logger.WithError(err).Error("rendering message page failed")
		http.Error(w, heading, code)
		return
	}
	writeHTML(w, code, buf.Bytes())
}

// --- helpers ---

func writeHTML(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func jsonResp(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		logrus.WithError(err).Debug("writing JSON response failed")
	}
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{OK: false, Error: msg})
}
