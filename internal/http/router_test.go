package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/skyhook-dev/skyhook/internal/docker"
	"github.com/skyhook-dev/skyhook/internal/domain"
	"github.com/skyhook-dev/skyhook/internal/repository"
	"github.com/skyhook-dev/skyhook/internal/service/notify"
	"github.com/skyhook-dev/skyhook/internal/service/release"
	"github.com/skyhook-dev/skyhook/internal/service/routes"
	"github.com/skyhook-dev/skyhook/internal/service/secrets"
	"github.com/skyhook-dev/skyhook/internal/stream"
	"github.com/skyhook-dev/skyhook/pkg/config"
)

// stubStore panics on anything a test does not override.
type stubStore struct {
	repository.Store
	live []domain.Release
	byID map[string]*domain.Release
}

func (s *stubStore) ListLiveReleases(context.Context) ([]domain.Release, error) {
	return s.live, nil
}

func (s *stubStore) GetReleaseByID(_ context.Context, id string) (*domain.Release, error) {
	if rel, ok := s.byID[id]; ok {
		return rel, nil
	}
	return nil, repository.ErrNotFound
}

// stubRuntime serves the container listing and log endpoints.
type stubRuntime struct {
	release.Runtime
	containers map[string]bool
}

func (s *stubRuntime) ListByLabel(context.Context, string, string) ([]types.Container, error) {
	out := make([]types.Container, 0, len(s.containers))
	for name := range s.containers {
		out = append(out, types.Container{Names: []string{"/" + name}, Image: "node:20", State: "running"})
	}
	return out, nil
}

func (s *stubRuntime) Logs(_ context.Context, name string) (<-chan docker.LogEntry, <-chan error, error) {
	if !s.containers[name] {
		return nil, nil, docker.ErrContainerNotFound
	}
	entries := make(chan docker.LogEntry, 1)
	entries <- docker.LogEntry{Text: "booted"}
	close(entries)
	return entries, make(chan error), nil
}

func newTestRouter(t *testing.T, store repository.Store) *Router {
	t.Helper()
	return newTestRouterRuntime(t, store, &stubRuntime{})
}

func newTestRouterRuntime(t *testing.T, store repository.Store, runtime release.Runtime) *Router {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	cfg := config.Config{Environment: "development", BaseDomain: "skyhook.local", TraceDir: t.TempDir()}
	releaseSvc := release.New(store, runtime, secrets.New(store, logger), notify.New(logger), logger, cfg)
	hub := stream.NewHub(
		func(ctx context.Context, _ string, _ bool) (<-chan string, error) {
			out := make(chan string)
			go func() { <-ctx.Done(); close(out) }()
			return out, nil
		},
		cfg.TraceFile, logger)
	healthy := func(context.Context) error { return nil }
	return NewRouter(logger, releaseSvc, secrets.New(store, logger), hub,
		routes.Options{BaseDomain: cfg.BaseDomain, Development: true, ScaleToZeroAfter: 5 * time.Minute},
		healthy, healthy)
}

func TestHealthzReportsChecks(t *testing.T) {
	router := newTestRouter(t, &stubStore{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var checks map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&checks); err != nil {
		t.Fatal(err)
	}
	if checks["database"] != "ok" || checks["runtime"] != "ok" {
		t.Errorf("checks = %v", checks)
	}
}

func TestHealthzDegraded(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	store := &stubStore{}
	cfg := config.Config{Environment: "development", BaseDomain: "skyhook.local", TraceDir: t.TempDir()}
	releaseSvc := release.New(store, nil, secrets.New(store, logger), notify.New(logger), logger, cfg)
	hub := stream.NewHub(
		func(ctx context.Context, _ string, _ bool) (<-chan string, error) {
			out := make(chan string)
			go func() { <-ctx.Done(); close(out) }()
			return out, nil
		},
		cfg.TraceFile, logger)
	router := NewRouter(logger, releaseSvc, secrets.New(store, logger), hub, routes.Options{},
		func(context.Context) error { return errors.New("connection refused") },
		func(context.Context) error { return nil })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestRouteConfigServesDocument(t *testing.T) {
	store := &stubStore{live: []domain.Release{{
		ID: "r1", DomainPrefix: "acme-dev", Port: "3000",
		Status: domain.StatusCompleted, Conclusion: domain.ConclusionSuccess,
	}}}
	router := newTestRouter(t, store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/operations/config", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var doc routes.Document
	if err := json.NewDecoder(rec.Body).Decode(&doc); err != nil {
		t.Fatal(err)
	}
	if _, ok := doc.HTTP.Routers["acme-dev"]; !ok {
		t.Errorf("release router missing: %v", doc.HTTP.Routers)
	}
}

func TestReleaseStartRejectsBadInput(t *testing.T) {
	router := newTestRouter(t, &stubStore{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/releases/start", strings.NewReader(`{}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/releases/start", strings.NewReader(`not json`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestMethodGuards(t *testing.T) {
	router := newTestRouter(t, &stubStore{})
	cases := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/healthz"},
		{http.MethodGet, "/releases/start"},
		{http.MethodGet, "/releases/restart"},
		{http.MethodPost, "/releases"},
		{http.MethodPut, "/secrets"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: status = %d, want 405", tc.method, tc.path, rec.Code)
		}
	}
}

func TestTraceReadRequiresTraceID(t *testing.T) {
	router := newTestRouter(t, &stubStore{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/operations/read", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestReleaseStatusLooksUpByID(t *testing.T) {
	rel := &domain.Release{
		ID: "r1", Name: "api", Channel: domain.ChannelDev,
		Status: domain.StatusCompleted, Conclusion: domain.ConclusionSuccess,
		DomainPrefix: "acme-dev",
	}
	router := newTestRouter(t, &stubStore{byID: map[string]*domain.Release{"r1": rel}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/releases/status?id=r1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var got map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got["status"] != string(domain.StatusCompleted) || got["conclusion"] != string(domain.ConclusionSuccess) {
		t.Errorf("payload = %v", got)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/releases/status?id=missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown id: status = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/releases/status", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing id: status = %d, want 400", rec.Code)
	}
}

func TestWorkloadsEndpointListsContainers(t *testing.T) {
	runtime := &stubRuntime{containers: map[string]bool{"acme-dev-api": true}}
	router := newTestRouterRuntime(t, &stubStore{}, runtime)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/operations/workloads", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var got struct {
		Workloads []release.WorkloadInfo `json:"workloads"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got.Workloads) != 1 || got.Workloads[0].Name != "acme-dev-api" {
		t.Errorf("workloads = %+v", got.Workloads)
	}
}

func TestContainerLogsEndpoint(t *testing.T) {
	runtime := &stubRuntime{containers: map[string]bool{"acme-dev-api": true}}
	router := newTestRouterRuntime(t, &stubStore{}, runtime)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/operations/logs?container=acme-dev-api", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if body := rec.Body.String(); !strings.Contains(body, "booted") {
		t.Errorf("body = %q, want a log entry", body)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/operations/logs?container=ghost", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown container: status = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/operations/logs", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing container: status = %d, want 400", rec.Code)
	}
}
