package release

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPRouterSetActiveUpstream(t *testing.T) {
	var gotPort int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/v1/upstream", r.URL.Path)
		var body map[string]int
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotPort = body["port"]
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	router := NewHTTPRouter(srv.URL, 5*time.Second)
	require.NoError(t, router.SetActiveUpstream(context.Background(), 8002))
	assert.Equal(t, 8002, gotPort)
}

func TestHTTPRouterErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nginx reload failed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	router := NewHTTPRouter(srv.URL, 5*time.Second)
	err := router.SetActiveUpstream(context.Background(), 8002)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestHTTPRouterUnreachable(t *testing.T) {
	router := NewHTTPRouter("http://127.0.0.1:1", 500*time.Millisecond)
	assert.Error(t, router.SetActiveUpstream(context.Background(), 8002))
}

func TestFileRouterWritesUpstreamAtomically(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "upstream.conf")

	// empty pid file path skips the nginx reload
	router := NewFileRouter(file, "")
	require.NoError(t, router.SetActiveUpstream(context.Background(), 8001))

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "server 127.0.0.1:8001;")

	// switching is a full replace, never an append
	require.NoError(t, router.SetActiveUpstream(context.Background(), 8002))
	data, err = os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "server 127.0.0.1:8002;")
	assert.NotContains(t, string(data), "8001")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}
