package release

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// TrafficRouter points new requests at a port. The operation is atomic from
// the caller's perspective and idempotent: setting the already-active port is
// a success.
type TrafficRouter interface {
	SetActiveUpstream(ctx context.Context, port int) error
}

// HTTPRouter drives a routerd admin endpoint.
type HTTPRouter struct {
	baseURL string
	client  *http.Client
}

func NewHTTPRouter(baseURL string, timeout time.Duration) *HTTPRouter {
	return &HTTPRouter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (r *HTTPRouter) SetActiveUpstream(ctx context.Context, port int) error {
	payload, _ := json.Marshal(map[string]int{"port": port})
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, r.baseURL+"/v1/upstream", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call router admin: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("router admin returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// FileRouter rewrites the nginx upstream include on this host and signals
// nginx to reload. The include is replaced with a temp-file rename, so nginx
// never reads a half-written config: the routing table is either the old port
// or the new one.
type FileRouter struct {
	UpstreamFile string
	NginxPidFile string
	ServerName   string
}

func NewFileRouter(upstreamFile, nginxPidFile string) *FileRouter {
	return &FileRouter{UpstreamFile: upstreamFile, NginxPidFile: nginxPidFile, ServerName: "app_backend"}
}

func (r *FileRouter) SetActiveUpstream(ctx context.Context, port int) error {
	content := fmt.Sprintf("upstream %s {\n    server 127.0.0.1:%d;\n}\n", r.ServerName, port)

	dir := filepath.Dir(r.UpstreamFile)
	tmp, err := os.CreateTemp(dir, filepath.Base(r.UpstreamFile)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create temp upstream file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write upstream file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync upstream file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close upstream file: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.UpstreamFile); err != nil {
		return fmt.Errorf("failed to replace upstream file: %w", err)
	}

	if err := r.reloadNginx(); err != nil {
		return err
	}

	log.Info().Int("port", port).Str("file", r.UpstreamFile).Msg("active upstream switched")
	return nil
}

func (r *FileRouter) reloadNginx() error {
	if r.NginxPidFile == "" {
		return nil
	}
	data, err := os.ReadFile(r.NginxPidFile)
	if err != nil {
		return fmt.Errorf("failed to read nginx pid file %s: %w", r.NginxPidFile, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("invalid nginx pid file %s: %w", r.NginxPidFile, err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find nginx master %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return fmt.Errorf("failed to reload nginx: %w", err)
	}
	return nil
}
