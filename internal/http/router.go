package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skyhook-dev/skyhook/internal/docker"
	"github.com/skyhook-dev/skyhook/internal/service/release"
	"github.com/skyhook-dev/skyhook/internal/service/routes"
	"github.com/skyhook-dev/skyhook/internal/service/secrets"
	"github.com/skyhook-dev/skyhook/internal/stream"
)

const healthCheckTimeout = 2 * time.Second

// Router wires HTTP endpoints to services.
type Router struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	releases  release.Service
	secrets   secrets.Service
	hub       *stream.Hub
	routeOpts routes.Options
	upgrader  websocket.Upgrader
	dbHealth  func(context.Context) error
	runtime   func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, releaseSvc release.Service, secretSvc secrets.Service, hub *stream.Hub, routeOpts routes.Options, dbHealth, runtimePing func(context.Context) error) *Router {
	r := &Router{
		mux:       http.NewServeMux(),
		logger:    logger,
		releases:  releaseSvc,
		secrets:   secretSvc,
		hub:       hub,
		routeOpts: routeOpts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		dbHealth: dbHealth,
		runtime:  runtimePing,
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to the underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.HandleFunc("/metrics", promhttp.Handler().ServeHTTP)
	r.mux.HandleFunc("/operations/config", r.audit(r.handleRouteConfig))
	r.mux.HandleFunc("/operations/read", r.audit(r.handleTraceRead))
	r.mux.HandleFunc("/operations/logs", r.audit(r.handleContainerLogs))
	r.mux.HandleFunc("/operations/workloads", r.audit(r.handleWorkloads))
	r.mux.HandleFunc("/releases/start", r.audit(r.handleReleaseStart))
	r.mux.HandleFunc("/releases/status", r.audit(r.handleReleaseStatus))
	r.mux.HandleFunc("/releases/restart", r.audit(r.handleReleaseRestart))
	r.mux.HandleFunc("/releases/restore", r.audit(r.handleReleaseRestore))
	r.mux.HandleFunc("/releases", r.audit(r.handleReleaseDelete))
	r.mux.HandleFunc("/secrets", r.audit(r.handleSecrets))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
	defer cancel()
	checks := map[string]string{"database": "ok", "runtime": "ok"}
	status := http.StatusOK
	if err := r.dbHealth(ctx); err != nil {
		checks["database"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if err := r.runtime(ctx); err != nil {
		checks["runtime"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, checks)
}

// handleRouteConfig serves the proxy route document the edge proxy polls.
func (r *Router) handleRouteConfig(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	live, err := r.releases.RouteReleases(req.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, routes.Generate(live, r.routeOpts))
}

// handleTraceRead streams a deploy trace, replay first then live. Websocket
// when the client asks for an upgrade, SSE otherwise.
func (r *Router) handleTraceRead(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	traceID := strings.TrimSpace(req.URL.Query().Get("traceId"))
	if traceID == "" {
		writeError(w, http.StatusBadRequest, "traceId required")
		return
	}

	if websocket.IsWebSocketUpgrade(req) {
		conn, err := r.upgrader.Upgrade(w, req, nil)
		if err != nil {
			r.logger.Warn("websocket upgrade failed", "error", err)
			return
		}
		client := stream.NewWSClient(conn, r.logger)
		r.hub.Subscribe(traceID, client)
		defer r.hub.Unsubscribe(traceID, client)
		// Block on reads so we notice the peer going away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	client := stream.NewSSEClient(w, flusher, r.logger)
	r.hub.Subscribe(traceID, client)
	defer r.hub.Unsubscribe(traceID, client)
	// A terminal trace entry closes the client; the response must not stay
	// parked until the peer hangs up.
	select {
	case <-req.Context().Done():
	case <-client.Done():
	}
}

// handleContainerLogs streams a container's combined stdout/stderr as SSE,
// following across restarts to the latest container generation.
func (r *Router) handleContainerLogs(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	name := strings.TrimSpace(req.URL.Query().Get("container"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "container required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	entries, errs, err := r.releases.StreamLogs(req.Context(), name)
	if err != nil {
		if errors.Is(err, docker.ErrContainerNotFound) {
			writeError(w, http.StatusNotFound, "container not found")
			return
		}
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	for {
		select {
		case <-req.Context().Done():
			return
		case streamErr, ok := <-errs:
			if ok && streamErr != nil {
				r.logger.Warn("container log stream failed", "container", name, "error", streamErr)
			}
			return
		case entry, ok := <-entries:
			if !ok {
				return
			}
			payload, err := json.Marshal(entry)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleWorkloads lists the containers the orchestrator manages.
func (r *Router) handleWorkloads(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	workloads, err := r.releases.Workloads(req.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workloads": workloads})
}

// handleReleaseStatus reports one release's state machine position, letting
// callers poll the id returned by start.
func (r *Router) handleReleaseStatus(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	rel, err := r.releases.Get(req.Context(), req.URL.Query().Get("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":            rel.ID,
		"name":          rel.Name,
		"channel":       rel.Channel,
		"status":        rel.Status,
		"conclusion":    rel.Conclusion,
		"domainPrefix":  rel.DomainPrefix,
		"containerName": rel.ContainerName,
		"deleted":       rel.DeletedAt != nil,
	})
}

func (r *Router) handleReleaseStart(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var input release.StartInput
	if err := json.NewDecoder(req.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result, err := r.releases.StartRelease(req.Context(), input)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

func (r *Router) handleReleaseRestart(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		ProjectID   string `json:"projectId"`
		ReleaseName string `json:"releaseName"`
		Channel     string `json:"channel"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	results, err := r.releases.Restart(req.Context(), release.RestartTarget{
		ProjectID: payload.ProjectID,
		Name:      payload.ReleaseName,
		Channel:   payload.Channel,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"releases": results})
}

func (r *Router) handleReleaseRestore(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		ProjectID   string `json:"projectId"`
		ReleaseName string `json:"releaseName"`
		Channel     string `json:"channel"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	err := r.releases.Restore(req.Context(), release.RestoreInput{
		ProjectID: payload.ProjectID,
		Name:      payload.ReleaseName,
		Channel:   payload.Channel,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "restored"})
}

func (r *Router) handleReleaseDelete(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodDelete {
		r.methodNotAllowed(w)
		return
	}
	q := req.URL.Query()
	err := r.releases.Delete(req.Context(), release.DeleteInput{
		ProjectID:   q.Get("projectId"),
		Channel:     q.Get("channel"),
		Name:        q.Get("releaseName"),
		ServiceName: q.Get("serviceName"),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (r *Router) handleSecrets(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodPost:
		var payload struct {
			ProjectID string `json:"projectId"`
			Channel   string `json:"channel"`
			Label     string `json:"label"`
			Value     string `json:"value"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if payload.ProjectID == "" || payload.Label == "" {
			writeError(w, http.StatusBadRequest, "projectId and label required")
			return
		}
		if err := r.secrets.Set(req.Context(), payload.ProjectID, payload.Channel, payload.Label, payload.Value); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "stored"})
	case http.MethodDelete:
		q := req.URL.Query()
		if q.Get("projectId") == "" || q.Get("label") == "" {
			writeError(w, http.StatusBadRequest, "projectId and label required")
			return
		}
		if err := r.secrets.Delete(req.Context(), q.Get("projectId"), q.Get("label")); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// audit wraps handlers with request logging and metrics.
func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
		r.recordRequestMetrics(req.Method, req.URL.Path, status, duration)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack supports the websocket upgrade through the recorder.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}
