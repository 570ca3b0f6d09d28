package httpx

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Jackwwg83/coderunner2/internal/domain"
	"github.com/Jackwwg83/coderunner2/internal/limiter"
	"github.com/Jackwwg83/coderunner2/internal/orchestrator"
	"github.com/Jackwwg83/coderunner2/internal/repository"
	"github.com/Jackwwg83/coderunner2/internal/stream"
)

// Router wires HTTP endpoints to the orchestrator.
type Router struct {
	mux           *http.ServeMux
	logger        *slog.Logger
	orch          *orchestrator.Service
	hub           *stream.Hub
	upgrader      websocket.Upgrader
	limiter       RateLimiter
	jwtSecret     string
	providerToken string
	dbHealth      func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	outcomeTotal       *prometheus.CounterVec
}

const (
	rateWindowDefault         = time.Minute
	rateWindowRealtime        = 30 * time.Second
	rateLimitDeployWrite      = 30
	rateLimitDeployRead       = 120
	rateLimitStream           = 30
	rateLimitProviderCallback = 600
	healthCheckTimeout        = 2 * time.Second
	sseHeartbeatInterval      = 15 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, orch *orchestrator.Service, hub *stream.Hub, rateLimiter RateLimiter, jwtSecret, providerToken string, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		logger: logger,
		orch:   orch,
		hub:    hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:       rateLimiter,
		jwtSecret:     jwtSecret,
		providerToken: strings.TrimSpace(providerToken),
		dbHealth:      dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/deployments", r.audit("deployments", r.handlerAuthRate("deployments", rateLimitDeployWrite, rateWindowDefault, r.handleDeployments)))
	r.mux.HandleFunc("/deployments/", r.audit("deployment", r.handlerAuthRate("deployment", rateLimitDeployRead, rateWindowDefault, r.handleDeploymentSubroutes)))
	r.mux.HandleFunc("/ws/events", r.audit("ws_events", r.handlerAuthRate("ws_events", rateLimitStream, rateWindowRealtime, r.handleEventsWS)))
	r.mux.HandleFunc("/events/", r.audit("events_sse", r.handlerAuthRate("events_sse", rateLimitStream, rateWindowRealtime, r.handleEventsSSE)))
	r.mux.HandleFunc("/provider/callback", r.audit("provider_callback", r.withRateLimit("provider_callback", rateLimitProviderCallback, rateWindowDefault, rateLimitKeyIP, r.handleProviderCallback)))
}

type deployRequest struct {
	ProjectRef      string            `json:"project_ref"`
	EntryCommand    string            `json:"entry_command"`
	Port            int               `json:"port"`
	Env             map[string]string `json:"env"`
	FileCount       int               `json:"file_count"`
	DependencyCount int               `json:"dependency_count"`
	HasFramework    bool              `json:"has_framework"`
	TimeoutSeconds  int               `json:"timeout_seconds"`
}

func (r *Router) handleDeployments(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for deployments route", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	switch req.Method {
	case http.MethodPost:
		var payload deployRequest
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		spec := domain.RuntimeSpec{
			ProjectRef:      strings.TrimSpace(payload.ProjectRef),
			EntryCommand:    strings.TrimSpace(payload.EntryCommand),
			Port:            payload.Port,
			Env:             payload.Env,
			FileCount:       payload.FileCount,
			DependencyCount: payload.DependencyCount,
			HasFramework:    payload.HasFramework,
		}
		override := time.Duration(payload.TimeoutSeconds) * time.Second
		id, err := r.orch.RequestDeploy(req.Context(), info.UserID, spec, override)
		if err != nil {
			var quota *limiter.QuotaError
			if errors.As(err, &quota) {
				writeError(w, http.StatusTooManyRequests, quota.Error())
				return
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"deployment_id": id, "status": domain.StatusPending})
	case http.MethodGet:
		limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
		views, err := r.orch.List(req.Context(), info.UserID, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, views)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleDeploymentSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/deployments/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 1 || parts[0] == "" {
		r.notFound(w)
		return
	}
	deploymentID := parts[0]
	switch {
	case len(parts) == 1:
		r.handleDeploymentStatus(w, req, deploymentID)
	case len(parts) == 2 && parts[1] == "control":
		r.handleDeploymentControl(w, req, deploymentID)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleDeploymentStatus(w http.ResponseWriter, req *http.Request, deploymentID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	view, ok := r.authorizedView(w, req, deploymentID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (r *Router) handleDeploymentControl(w http.ResponseWriter, req *http.Request, deploymentID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if _, ok := r.authorizedView(w, req, deploymentID); !ok {
		return
	}
	var payload struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	switch strings.ToLower(strings.TrimSpace(payload.Action)) {
	case "stop":
		if err := r.orch.RequestStop(deploymentID); err != nil {
			r.writeOrchestratorError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
	case "restart":
		newID, err := r.orch.Restart(req.Context(), deploymentID)
		if err != nil {
			r.writeOrchestratorError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":        "restarting",
			"deployment_id": newID,
		})
	default:
		writeError(w, http.StatusBadRequest, "action must be stop or restart")
	}
}

// authorizedView loads the deployment and hides records owned by other users
// behind the same 404 as a missing deployment.
func (r *Router) authorizedView(w http.ResponseWriter, req *http.Request, deploymentID string) (*domain.DeploymentView, bool) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for deployment route", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return nil, false
	}
	view, err := r.orch.GetStatus(req.Context(), deploymentID)
	if err != nil {
		r.writeOrchestratorError(w, err)
		return nil, false
	}
	if view.OwnerID != info.UserID {
		r.notFound(w)
		return nil, false
	}
	return view, true
}

func (r *Router) handleEventsWS(w http.ResponseWriter, req *http.Request) {
	deploymentID := req.URL.Query().Get("deployment_id")
	if deploymentID == "" {
		writeError(w, http.StatusBadRequest, "deployment_id query parameter required")
		return
	}
	if _, ok := r.authorizedView(w, req, deploymentID); !ok {
		return
	}
	filter, fromSeq, err := subscriptionParams(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := stream.NewWSClient(conn, r.logger)
	sub := r.hub.Subscribe(deploymentID, client, filter, fromSeq)
	go func() {
		defer r.hub.Unsubscribe(sub)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleEventsSSE(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	trimmed := strings.TrimPrefix(req.URL.Path, "/events/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "stream" {
		r.notFound(w)
		return
	}
	deploymentID := parts[0]
	if _, ok := r.authorizedView(w, req, deploymentID); !ok {
		return
	}
	filter, fromSeq, err := subscriptionParams(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := stream.NewSSEClient(w, flusher, r.logger)
	sub := r.hub.Subscribe(deploymentID, client, filter, fromSeq)
	defer r.hub.Unsubscribe(sub)

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-heartbeat.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

// subscriptionParams parses from_seq plus the comma separated types and
// levels filters shared by the WS and SSE endpoints.
func subscriptionParams(req *http.Request) (stream.Filter, uint64, error) {
	query := req.URL.Query()
	var fromSeq uint64
	if raw := strings.TrimSpace(query.Get("from_seq")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return stream.Filter{}, 0, errors.New("from_seq must be a non-negative integer")
		}
		fromSeq = parsed
	}
	filter := stream.Filter{}
	if raw := strings.TrimSpace(query.Get("types")); raw != "" {
		filter.Types = make(map[string]struct{})
		for _, t := range strings.Split(raw, ",") {
			t = strings.ToUpper(strings.TrimSpace(t))
			if t == "" {
				continue
			}
			if t != domain.EventLog && t != domain.EventStatus && t != domain.EventMetric {
				return stream.Filter{}, 0, errors.New("types must be LOG, STATUS or METRIC")
			}
			filter.Types[t] = struct{}{}
		}
	}
	if raw := strings.TrimSpace(query.Get("levels")); raw != "" {
		filter.Levels = make(map[string]struct{})
		for _, l := range strings.Split(raw, ",") {
			l = strings.ToLower(strings.TrimSpace(l))
			if l != "" {
				filter.Levels[l] = struct{}{}
			}
		}
	}
	return filter, fromSeq, nil
}

type callbackPayload struct {
	DeploymentID string          `json:"deployment_id"`
	Kind         string          `json:"kind"`
	Level        string          `json:"level"`
	Message      string          `json:"message"`
	Metadata     json.RawMessage `json:"metadata"`
	Sample       json.RawMessage `json:"sample"`
}

func (r *Router) handleProviderCallback(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if !r.verifyProviderToken(w, req) {
		return
	}
	var payload callbackPayload
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(payload.DeploymentID) == "" {
		writeError(w, http.StatusBadRequest, "deployment_id is required")
		return
	}
	var err error
	switch strings.ToLower(strings.TrimSpace(payload.Kind)) {
	case "", "log":
		err = r.orch.IngestLog(req.Context(), payload.DeploymentID, payload.Level, payload.Message, payload.Metadata)
	case "metric":
		err = r.orch.IngestMetric(req.Context(), payload.DeploymentID, payload.Sample)
	default:
		writeError(w, http.StatusBadRequest, "kind must be log or metric")
		return
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown deployment")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "received"})
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	components["registry"] = map[string]any{
		"status":             "up",
		"active_deployments": r.orch.Registry().Len(),
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) writeOrchestratorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		r.notFound(w)
	default:
		var quota *limiter.QuotaError
		if errors.As(err, &quota) {
			writeError(w, http.StatusTooManyRequests, quota.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", info.UserID)
		} else if strings.HasPrefix(req.URL.Path, "/provider/") {
			actor = "provider"
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
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

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (sr *statusRecorder) Push(target string, opts *http.PushOptions) error {
	if p, ok := sr.ResponseWriter.(http.Pusher); ok {
		return p.Push(target, opts)
	}
	return http.ErrNotSupported
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

// verifyProviderToken ensures provider callbacks include the shared secret.
func (r *Router) verifyProviderToken(w http.ResponseWriter, req *http.Request) bool {
	expected := r.providerToken
	if expected == "" {
		r.logger.Error("provider token not configured", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "provider authentication misconfigured")
		return false
	}
	token := strings.TrimSpace(req.Header.Get("X-Provider-Token"))
	if token == "" {
		token = strings.TrimSpace(req.URL.Query().Get("provider_token"))
	}
	if len(token) != len(expected) || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		r.logger.Warn("provider token mismatch", "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "invalid provider token")
		return false
	}
	return true
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
