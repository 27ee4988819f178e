package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/testimonials-cache/testimonials-cache/internal/clock"
	"github.com/testimonials-cache/testimonials-cache/internal/config"
	"github.com/testimonials-cache/testimonials-cache/internal/feed"
	"github.com/testimonials-cache/testimonials-cache/internal/health"
	"github.com/testimonials-cache/testimonials-cache/internal/refresh"
	"github.com/testimonials-cache/testimonials-cache/internal/registry"
	"github.com/testimonials-cache/testimonials-cache/internal/render"
	"github.com/testimonials-cache/testimonials-cache/internal/snapshot"
	"github.com/testimonials-cache/testimonials-cache/internal/store/storetest"
)

const (
	host       = "t.example.com"
	refreshKey = "s3cret"
)

var now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type feedStub struct {
	mu     sync.Mutex
	status int
	body   string
	delay  time.Duration
}

func (f *feedStub) set(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status, f.body = status, body
}

func (f *feedStub) slow(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

func (f *feedStub) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	status, body, delay := f.status, f.body, f.delay
	f.mu.Unlock()

	time.Sleep(delay)
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

type env struct {
	feed    *feedStub
	kv      *storetest.Counting
	clock   *clock.FakeClock
	server  *Server
	handler http.Handler
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newEnv(t *testing.T, mutate ...func(*config.Config)) *env {
	t.Helper()

	fs := &feedStub{status: http.StatusOK}
	up := httptest.NewServer(fs)
	t.Cleanup(up.Close)

	cfg, err := config.Parse([]byte("refresh:\n  key: " + refreshKey + "\n"))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	for _, m := range mutate {
		m(cfg)
	}

	sites := registry.New(map[string]registry.Site{
		host: {
			Sheet:     registry.Sheet{URL: up.URL},
			PageTitle: "Kind Words",
		},
	})
	kv := storetest.NewCounting()
	st := snapshot.NewStore(kv)
	c := clock.Fake(now)
	fetcher := feed.New(feed.Options{Timeout: 5 * time.Second}, quietLogger())
	coord := refresh.NewCoordinator(sites, fetcher, st, c, quietLogger())
	reporter := health.NewReporter(st, snapshot.NewFreshnessPolicy(c, cfg.Refresh.StaleAfter()))
	renderer, err := render.New(render.Brand{}, c)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	gatherer := prometheus.NewRegistry()
	gatherer.MustRegister(refresh.Collectors()...)

	srv := NewServer(cfg, Deps{
		Sites:     sites,
		Snapshots: st,
		Health:    reporter,
		Refresher: coord,
		Renderer:  renderer,
		Gatherer:  gatherer,
	}, quietLogger())

	return &env{feed: fs, kv: kv, clock: c, server: srv, handler: srv.Handler()}
}

func (e *env) do(t *testing.T, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req.Host = host
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *env) refresh(t *testing.T) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, http.MethodPost, "/refresh", map[string]string{"X-Refresh-Key": refreshKey})
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return m
}

const payload = `{"ok":true,"testimonials":[
	{"name":"Ann","testimonial":"Great forum","date":"2025-11-02","Show/Hide":"Show"},
	{"name":"Bob","testimonial":"Hidden one","Show/Hide":"Hide"}
]}`

func TestRefresh_Unauthorized(t *testing.T) {
	e := newEnv(t)
	e.feed.set(200, payload)

	for name, headers := range map[string]map[string]string{
		"missing": nil,
		"wrong":   {"X-Refresh-Key": "nope"},
		"prefix":  {"X-Refresh-Key": refreshKey[:3]},
	} {
		t.Run(name, func(t *testing.T) {
			rec := e.do(t, http.MethodPost, "/refresh", headers)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status: got %d, want 401", rec.Code)
			}
			body := decode(t, rec)
			if body["ok"] != false || body["error"] != "Unauthorized" {
				t.Errorf("body: got %v", body)
			}
			if n := e.kv.Calls(); n != 0 {
				t.Errorf("store calls: got %d, want 0", n)
			}
		})
	}
}

func TestRefresh_EmptyKeyDisablesEndpoint(t *testing.T) {
	e := newEnv(t, func(c *config.Config) { c.Refresh.Key = "" })
	rec := e.do(t, http.MethodPost, "/refresh", map[string]string{"X-Refresh-Key": ""})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status: got %d, want 401", rec.Code)
	}
	if e.kv.Calls() != 0 {
		t.Errorf("store calls: got %d, want 0", e.kv.Calls())
	}
}

func TestRefresh_CustomHeader(t *testing.T) {
	e := newEnv(t, func(c *config.Config) { c.Refresh.Header = "X-Other-Key" })
	e.feed.set(200, payload)

	if rec := e.refresh(t); rec.Code != http.StatusUnauthorized {
		t.Errorf("default header: got %d, want 401", rec.Code)
	}
	rec := e.do(t, http.MethodPost, "/refresh", map[string]string{"X-Other-Key": refreshKey})
	if rec.Code != http.StatusOK {
		t.Errorf("custom header: got %d, want 200", rec.Code)
	}
}

func TestRefresh_GetNotAllowed(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/refresh", map[string]string{"X-Refresh-Key": refreshKey})
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", rec.Code)
	}
}

func TestNoDataYet(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/data.json", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("data status: got %d, want 503", rec.Code)
	}
	if body := decode(t, rec); body["ok"] != false || body["error"] != "no data yet" {
		t.Errorf("data body: got %v", body)
	}

	rec = e.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("health status: got %d, want 503", rec.Code)
	}
	body := decode(t, rec)
	if body["count"] != float64(0) || body["stale"] != true || body["host"] != host {
		t.Errorf("health body: got %v", body)
	}
	if v, ok := body["updated_at"]; !ok || v != nil {
		t.Errorf("updated_at: got %v, want null", v)
	}
	if _, ok := body["last_error"]; ok {
		t.Error("last_error present without a failure")
	}

	rec = e.do(t, http.MethodGet, "/", nil)
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "No data yet") {
		t.Errorf("page: got %d %q", rec.Code, rec.Body.String())
	}
}

func TestRefreshThenRead(t *testing.T) {
	e := newEnv(t)
	e.feed.set(200, payload)

	rec := e.refresh(t)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: got %d %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["status"] != "ok" || body["count"] != float64(2) {
		t.Errorf("refresh body: got %v", body)
	}
	if _, ok := body["duration_ms"]; !ok {
		t.Error("duration_ms missing from ok refresh")
	}
	etag := body["etag"]
	if body["updated_at"] != "2026-03-14T12:00:00.000Z" {
		t.Errorf("updated_at: got %v", body["updated_at"])
	}

	rec = e.do(t, http.MethodGet, "/data.json", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("data: got %d", rec.Code)
	}
	data := decode(t, rec)
	if data["ok"] != true || data["count"] != float64(2) || data["etag"] != etag {
		t.Errorf("data body: got %v", data)
	}
	if list, _ := data["testimonials"].([]any); len(list) != 2 {
		t.Errorf("testimonials: got %v", data["testimonials"])
	}

	rec = e.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health: got %d %s", rec.Code, rec.Body.String())
	}

	rec = e.do(t, http.MethodGet, "/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("page: got %d", rec.Code)
	}
	page := rec.Body.String()
	if !strings.Contains(page, "Great forum") || strings.Contains(page, "Hidden one") {
		t.Errorf("page content wrong: %s", page)
	}
	if !strings.Contains(page, "Kind Words") {
		t.Error("page title missing")
	}
}

func TestRefresh_NoopKeepsUpdatedAt(t *testing.T) {
	e := newEnv(t)
	e.feed.set(200, payload)

	first := decode(t, e.refresh(t))
	e.clock.Advance(time.Hour)

	rec := e.refresh(t)
	if rec.Code != http.StatusOK {
		t.Fatalf("second refresh: got %d", rec.Code)
	}
	second := decode(t, rec)
	if second["status"] != "noop" {
		t.Errorf("status: got %v, want noop", second["status"])
	}
	if second["updated_at"] != first["updated_at"] || second["etag"] != first["etag"] {
		t.Errorf("noop changed metadata: first %v, second %v", first, second)
	}
	if _, ok := second["duration_ms"]; ok {
		t.Error("duration_ms present on noop")
	}
}

func TestRefresh_FeedErrorKeepsSnapshot(t *testing.T) {
	e := newEnv(t)
	e.feed.set(200, payload)
	e.refresh(t)

	e.feed.set(500, "sheet exploded")
	rec := e.refresh(t)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status: got %d, want 502", rec.Code)
	}
	if body := decode(t, rec); body["error"] != "Feed error 500" || body["ok"] != false {
		t.Errorf("body: got %v", body)
	}

	rec = e.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("health: got %d, want 503", rec.Code)
	}
	h := decode(t, rec)
	if h["count"] != float64(2) {
		t.Errorf("count: got %v, want 2", h["count"])
	}
	if h["last_error"] != "feed 500: sheet exploded" {
		t.Errorf("last_error: got %v", h["last_error"])
	}

	rec = e.do(t, http.MethodGet, "/data.json", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("data after failed refresh: got %d, want 200", rec.Code)
	}

	// A later successful change clears the error.
	e.feed.set(200, `{"ok":true,"testimonials":[]}`)
	if rec := e.refresh(t); rec.Code != http.StatusOK {
		t.Fatalf("recovery refresh: got %d", rec.Code)
	}
	h = decode(t, e.do(t, http.MethodGet, "/health", nil))
	if _, ok := h["last_error"]; ok {
		t.Errorf("last_error not cleared: %v", h)
	}
}

func TestUnknownHost(t *testing.T) {
	e := newEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/refresh", nil)
	req.Host = "stranger.example"
	req.Header.Set("X-Refresh-Key", refreshKey)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("refresh: got %d, want 400", rec.Code)
	}
	if body := decode(t, rec); !strings.Contains(body["error"].(string), "stranger.example") {
		t.Errorf("error: got %v", body["error"])
	}
	if e.kv.Writes() != 0 {
		t.Errorf("store writes: got %d, want 0", e.kv.Writes())
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "stranger.example"
	rec = httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), "Config error") {
		t.Errorf("page: got %d %q", rec.Code, rec.Body.String())
	}
}

func TestHostIsCaseInsensitive(t *testing.T) {
	e := newEnv(t)
	e.feed.set(200, payload)
	e.refresh(t)

	req := httptest.NewRequest(http.MethodGet, "/data.json", nil)
	req.Host = strings.ToUpper(host)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200", rec.Code)
	}
}

func TestStoreFailure(t *testing.T) {
	e := newEnv(t)
	e.kv.FailKey(snapshot.KeysFor(host).Data)

	rec := e.do(t, http.MethodGet, "/data.json", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("data: got %d, want 500", rec.Code)
	}
	rec = e.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("health: got %d, want 500", rec.Code)
	}
}

func TestCorruptSnapshot(t *testing.T) {
	e := newEnv(t)
	if err := e.kv.Set(context.Background(), snapshot.KeysFor(host).Data, "{not json"); err != nil {
		t.Fatal(err)
	}
	rec := e.do(t, http.MethodGet, "/data.json", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status: got %d, want 500", rec.Code)
	}
	if body := decode(t, rec); body["error"] != "Store error" {
		t.Errorf("error: got %v", body["error"])
	}
}

func TestRobots(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/robots.txt", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	if got := rec.Header().Get("Cache-Control"); got != "public, max-age=86400" {
		t.Errorf("Cache-Control: got %q", got)
	}
	if !strings.Contains(rec.Body.String(), "Sitemap: https://"+host+"/sitemap.xml") {
		t.Errorf("body: got %q", rec.Body.String())
	}
}

func TestOperationalEndpoints(t *testing.T) {
	e := newEnv(t)

	if rec := e.do(t, http.MethodGet, "/ready", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ready before SetReady: got %d, want 503", rec.Code)
	}
	e.server.SetReady(true)
	if rec := e.do(t, http.MethodGet, "/ready", nil); rec.Code != http.StatusOK {
		t.Errorf("ready: got %d, want 200", rec.Code)
	}

	rec := e.do(t, http.MethodGet, "/config", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("config: got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), refreshKey) {
		t.Error("config exposes the refresh key")
	}

	e.feed.set(200, payload)
	e.refresh(t)
	rec = e.do(t, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `tsc_refresh_total{host="t.example.com",status="ok"}`) {
		t.Errorf("metrics missing refresh counter:\n%s", rec.Body.String())
	}

	if rec := e.do(t, http.MethodGet, "/debug/pprof/", nil); rec.Code != http.StatusNotFound {
		t.Errorf("pprof disabled: got %d, want 404", rec.Code)
	}
	if rec := e.do(t, http.MethodGet, "/styles.css", nil); rec.Code != http.StatusOK {
		t.Errorf("styles: got %d", rec.Code)
	}
}

func TestRefresh_OutlastsWriteTimeout(t *testing.T) {
	e := newEnv(t, func(cfg *config.Config) {
		cfg.Server.WriteTimeoutSeconds = 1
		cfg.Refresh.TimeoutSeconds = 5
	})
	e.feed.set(200, payload)
	e.feed.slow(1500 * time.Millisecond)

	ts := httptest.NewUnstartedServer(e.handler)
	ts.Config.WriteTimeout = e.server.httpServer.WriteTimeout
	ts.Start()
	t.Cleanup(ts.Close)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/refresh", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Host = host
	req.Header.Set("X-Refresh-Key", refreshKey)

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	var body refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != refresh.StatusOK || body.Count != 2 {
		t.Errorf("got %+v, want status ok with 2 records", body)
	}
}

func TestStart_CancelledContextKeepsServing(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	_ = l.Close()

	e := newEnv(t, func(cfg *config.Config) {
		cfg.Server.ListenAddress = addr
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.server.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	e.server.SetReady(true)

	resp, err := http.Get("http://" + addr + "/ready")
	if err != nil {
		t.Fatalf("ready: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("ready: got %d, want 200", resp.StatusCode)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := e.server.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := http.Get("http://" + addr + "/ready"); err == nil {
		t.Error("server still accepting connections after Stop")
	}
}
