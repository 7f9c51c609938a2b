package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentilytics/greenlight/internal/clock"
	"github.com/sentilytics/greenlight/internal/config"
	"github.com/sentilytics/greenlight/internal/gate"
	"github.com/sentilytics/greenlight/internal/release"
)

type noopDeployer struct{}

func (noopDeployer) Deploy(ctx context.Context, trig release.Trigger) (*release.Run, error) {
	return &release.Run{Commit: trig.Commit, State: release.StateCompleted}, nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *release.MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := release.NewMemoryStore(16)
	manifest := &config.Manifest{Executable: "/bin/app", BluePort: 8001, GreenPort: 8002}
	controller := release.NewController(nil, nil, nil, store, clock.NewFake(time.Now()), manifest)
	g := gate.New("main", noopDeployer{}, gate.NewMemoryLock(), clock.NewFake(time.Now()))

	engine := gin.New()
	_, err := NewApi(g, controller, engine)
	require.NoError(t, err)
	return engine, store
}

func TestSubmitPipelineEventValidation(t *testing.T) {
	engine, _ := newTestRouter(t)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"malformed json", "{", http.StatusBadRequest},
		{"missing commit", `{"branch":"main","test_outcome":"pass"}`, http.StatusBadRequest},
		{"missing branch", `{"commit_id":"abc","test_outcome":"pass"}`, http.StatusBadRequest},
		{"valid", `{"commit_id":"abc","branch":"main","test_outcome":"pass"}`, http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/v1/pipeline/events", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			engine.ServeHTTP(w, req)
			assert.Equal(t, tt.code, w.Code)
		})
	}
}

func TestSubmitPipelineEventDisposition(t *testing.T) {
	engine, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/pipeline/events",
		strings.NewReader(`{"commit_id":"abc","branch":"feature/x","test_outcome":"pass"}`))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), string(gate.DispositionRejectedBranch))
}

func TestGetCurrentDeploymentIdle(t *testing.T) {
	engine, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/deployments/current", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAbortWithoutRun(t *testing.T) {
	engine, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/deployments/current/abort", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListDeployments(t *testing.T) {
	engine, store := newTestRouter(t)
	require.NoError(t, store.Append(context.Background(), &release.Run{ID: "r1", State: release.StateCompleted}))

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/deployments?limit=10", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"r1"`)

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/deployments?limit=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetServingInstanceIdle(t *testing.T) {
	engine, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/instance", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
