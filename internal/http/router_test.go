package httpx

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Jackwwg83/coderunner2/internal/domain"
	"github.com/Jackwwg83/coderunner2/internal/limiter"
	"github.com/Jackwwg83/coderunner2/internal/orchestrator"
	"github.com/Jackwwg83/coderunner2/internal/policy"
	"github.com/Jackwwg83/coderunner2/internal/provider"
	"github.com/Jackwwg83/coderunner2/internal/repository"
	"github.com/Jackwwg83/coderunner2/internal/stream"
	"github.com/Jackwwg83/coderunner2/pkg/config"
	"github.com/Jackwwg83/coderunner2/pkg/jwt"
)

const (
	testJWTSecret     = "router-test-secret"
	testProviderToken = "provider-shared-token"
)

type memRepo struct {
	mu    sync.Mutex
	store map[string]domain.Deployment
}

func (r *memRepo) CreateDeployment(_ context.Context, d *domain.Deployment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store[d.ID] = *d
	return nil
}

func (r *memRepo) UpdateDeploymentStatus(_ context.Context, update domain.DeploymentStatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.store[update.DeploymentID]
	if !ok {
		return repository.ErrNotFound
	}
	d.Status = update.Status
	if update.ProviderHandle != "" {
		d.ProviderHandle = update.ProviderHandle
	}
	if update.PublicURL != "" {
		d.PublicURL = update.PublicURL
	}
	r.store[update.DeploymentID] = d
	return nil
}

func (r *memRepo) GetDeploymentByID(_ context.Context, id string) (*domain.Deployment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.store[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &d, nil
}

func (r *memRepo) ListDeploymentsByOwner(_ context.Context, ownerID string, _ int) ([]domain.Deployment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Deployment
	for _, d := range r.store {
		if d.OwnerID == ownerID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *memRepo) ListActiveDeployments(_ context.Context) ([]domain.Deployment, error) {
	return nil, nil
}

func (r *memRepo) CountActiveByOwner(_ context.Context) (map[string]int, error) {
	return map[string]int{}, nil
}

type okProvider struct{}

func (okProvider) Create(context.Context, domain.RuntimeSpec, domain.SandboxLimits) (provider.Sandbox, error) {
	return provider.Sandbox{Handle: "sb-1", URL: "https://sb-1.sandbox.test"}, nil
}

func (okProvider) Destroy(context.Context, string) error { return nil }

func (okProvider) Probe(context.Context, string, string) (provider.ProbeResult, error) {
	return provider.ProbeHealthy, nil
}

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	cfg := config.OrchestratorConfig{
		Simple: config.ClassTimeouts{
			Initial: 30 * time.Minute, Extension: 15 * time.Minute, Maximum: 2 * time.Hour,
			HealthCheck: time.Hour, GracePeriod: time.Hour,
		},
		Complex: config.ClassTimeouts{
			Initial: time.Hour, Extension: 30 * time.Minute, Maximum: 4 * time.Hour,
			HealthCheck: time.Hour, GracePeriod: time.Hour,
		},
		Enterprise: config.ClassTimeouts{
			Initial: 2 * time.Hour, Extension: time.Hour, Maximum: 8 * time.Hour,
			HealthCheck: time.Hour, GracePeriod: time.Hour,
		},
		MaxConcurrentPerUser: 3,
		MaxConcurrentGlobal:  50,
		MaxRetries:           3,
		RetryBaseBackoff:     time.Millisecond,
		RetryMaxBackoff:      5 * time.Millisecond,
		FailureThreshold:     3,
		CircuitCooldown:      30 * time.Second,
		ProviderTimeout:      time.Second,
		EventBufferSize:      100,
		SubscriberBuffer:     16,
	}
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	repo := &memRepo{store: make(map[string]domain.Deployment)}
	hub := stream.NewHub(cfg.EventBufferSize, cfg.SubscriberBuffer, log)
	lim := limiter.New(cfg.MaxConcurrentPerUser, cfg.MaxConcurrentGlobal)
	orch := orchestrator.New(repo, okProvider{}, lim, policy.NewTable(cfg), hub, log, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := orch.Start(ctx); err != nil {
		t.Fatalf("orchestrator start failed: %v", err)
	}

	router := NewRouter(log, orch, hub, NewMemoryRateLimiter(), testJWTSecret, testProviderToken, nil)
	t.Cleanup(router.Close)
	return router
}

func bearer(t *testing.T, userID string) string {
	t.Helper()
	token, err := jwt.GenerateToken(userID, "pro", testJWTSecret, time.Hour)
	if err != nil {
		t.Fatalf("token generation failed: %v", err)
	}
	return "Bearer " + token
}

func deployBody() string {
	return `{"project_ref":"proj-1","entry_command":"node server.js","port":3000,"file_count":3}`
}

func TestDeploymentsRequireAuth(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/deployments", strings.NewReader(deployBody()))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestDeployAndFetchStatus(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/deployments", strings.NewReader(deployBody()))
	req.Header.Set("Authorization", bearer(t, "user-1"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var created map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	id := created["deployment_id"]
	if id == "" {
		t.Fatal("expected deployment_id in response")
	}

	req = httptest.NewRequest(http.MethodGet, "/deployments/"+id, nil)
	req.Header.Set("Authorization", bearer(t, "user-1"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var view domain.DeploymentView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("invalid status body: %v", err)
	}
	if view.ID != id || view.OwnerID != "user-1" {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestStatusHiddenFromOtherUsers(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/deployments", strings.NewReader(deployBody()))
	req.Header.Set("Authorization", bearer(t, "user-1"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var created map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &created)

	req = httptest.NewRequest(http.MethodGet, "/deployments/"+created["deployment_id"], nil)
	req.Header.Set("Authorization", bearer(t, "user-2"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign deployment, got %d", rec.Code)
	}
}

func TestControlStopAccepted(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/deployments", strings.NewReader(deployBody()))
	req.Header.Set("Authorization", bearer(t, "user-1"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var created map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &created)

	req = httptest.NewRequest(http.MethodPost, "/deployments/"+created["deployment_id"]+"/control", strings.NewReader(`{"action":"stop"}`))
	req.Header.Set("Authorization", bearer(t, "user-1"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestControlRejectsUnknownAction(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/deployments", strings.NewReader(deployBody()))
	req.Header.Set("Authorization", bearer(t, "user-1"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var created map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &created)

	req = httptest.NewRequest(http.MethodPost, "/deployments/"+created["deployment_id"]+"/control", strings.NewReader(`{"action":"reboot"}`))
	req.Header.Set("Authorization", bearer(t, "user-1"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestProviderCallbackRejectsBadToken(t *testing.T) {
	router := newTestRouter(t)

	body := `{"deployment_id":"dep-1","kind":"log","message":"hello"}`
	req := httptest.NewRequest(http.MethodPost, "/provider/callback", strings.NewReader(body))
	req.Header.Set("X-Provider-Token", "wrong")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestProviderCallbackIngestsLog(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/deployments", strings.NewReader(deployBody()))
	req.Header.Set("Authorization", bearer(t, "user-1"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var created map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &created)

	body := `{"deployment_id":"` + created["deployment_id"] + `","kind":"log","level":"info","message":"server listening"}`
	req = httptest.NewRequest(http.MethodPost, "/provider/callback", strings.NewReader(body))
	req.Header.Set("X-Provider-Token", testProviderToken)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestProviderCallbackUnknownDeployment(t *testing.T) {
	router := newTestRouter(t)

	body := `{"deployment_id":"nope","kind":"log","message":"hello"}`
	req := httptest.NewRequest(http.MethodPost, "/provider/callback", strings.NewReader(body))
	req.Header.Set("X-Provider-Token", testProviderToken)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHealthzReportsRegistry(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload struct {
		Status     string                    `json:"status"`
		Components map[string]map[string]any `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid healthz body: %v", err)
	}
	if payload.Status != "ok" {
		t.Fatalf("expected ok status, got %s", payload.Status)
	}
	if _, ok := payload.Components["registry"]; !ok {
		t.Fatal("expected registry component in healthz")
	}
}
