// Package routerd is the router-admin daemon: it owns the nginx upstream
// include and exposes "set active upstream port" as a single idempotent HTTP
// operation for the orchestrator.
package routerd

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/fox-gonic/fox"
	"github.com/rs/zerolog/log"
)

type Server struct {
	upstreamFile string
	nginxPidFile string
	serverName   string

	mu         sync.Mutex
	activePort int
}

func NewServer(upstreamFile, nginxPidFile string) *Server {
	return &Server{
		upstreamFile: upstreamFile,
		nginxPidFile: nginxPidFile,
		serverName:   "app_backend",
	}
}

// UseApi binds the admin routes.
func (s *Server) UseApi(router *fox.Engine) error {
	router.GET("/v1/upstream", s.GetUpstream)
	router.PUT("/v1/upstream", s.SetUpstream)
	router.GET("/healthz", s.Healthz)
	return nil
}

type upstreamRequest struct {
	Port int `json:"port"`
}

// SetUpstream handles PUT /v1/upstream. The include file is replaced with a
// temp-file rename and nginx is reloaded, so the routing table moves in one
// step. Setting the already-active port short-circuits.
func (s *Server) SetUpstream(c *fox.Context) {
	var req upstreamRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Port <= 0 {
		c.JSON(http.StatusBadRequest, map[string]string{"error": "port is required"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Port == s.activePort {
		c.JSON(http.StatusOK, map[string]any{"port": req.Port, "changed": false})
		return
	}

	if err := s.writeUpstream(req.Port); err != nil {
		log.Error().Err(err).Int("port", req.Port).Msg("failed to write upstream include")
		c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if err := s.reloadNginx(); err != nil {
		log.Error().Err(err).Msg("failed to reload nginx")
		c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	s.activePort = req.Port
	log.Info().Int("port", req.Port).Msg("active upstream switched")
	c.JSON(http.StatusOK, map[string]any{"port": req.Port, "changed": true})
}

// GetUpstream handles GET /v1/upstream.
func (s *Server) GetUpstream(c *fox.Context) {
	s.mu.Lock()
	port := s.activePort
	s.mu.Unlock()
	if port == 0 {
		c.JSON(http.StatusNotFound, map[string]string{"error": "no active upstream"})
		return
	}
	c.JSON(http.StatusOK, map[string]int{"port": port})
}

func (s *Server) Healthz(c *fox.Context) {
	c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// RecoverActivePort parses the existing include so restarts of routerd keep
// reporting the correct upstream.
func (s *Server) RecoverActivePort() {
	data, err := os.ReadFile(s.upstreamFile)
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "server ") {
			continue
		}
		addr := strings.TrimSuffix(strings.TrimPrefix(line, "server "), ";")
		if i := strings.LastIndex(addr, ":"); i >= 0 {
			if port, err := strconv.Atoi(addr[i+1:]); err == nil {
				s.mu.Lock()
				s.activePort = port
				s.mu.Unlock()
				log.Info().Int("port", port).Msg("recovered active upstream from include")
				return
			}
		}
	}
}

func (s *Server) writeUpstream(port int) error {
	content := fmt.Sprintf("upstream %s {\n    server 127.0.0.1:%d;\n}\n", s.serverName, port)

	dir := filepath.Dir(s.upstreamFile)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.upstreamFile)+".tmp*")
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
	if err := os.Rename(tmp.Name(), s.upstreamFile); err != nil {
		return fmt.Errorf("failed to replace upstream file: %w", err)
	}
	return nil
}

func (s *Server) reloadNginx() error {
	if s.nginxPidFile == "" {
		return nil
	}
	data, err := os.ReadFile(s.nginxPidFile)
	if err != nil {
		return fmt.Errorf("failed to read nginx pid file %s: %w", s.nginxPidFile, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("invalid nginx pid file %s: %w", s.nginxPidFile, err)
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
