package config

import (
	"fmt"
	"os"
	"time"

	promModel "github.com/prometheus/common/model"
	"gopkg.in/yaml.v3"
)

// Manifest describes the one service this host deploys: how to launch it,
// which two ports it alternates between, and how a candidate is validated.
type Manifest struct {
	Service     string
	Executable  string
	Args        []string
	WorkDir     string
	Env         []string
	BluePort    int
	GreenPort   int
	PidFile     string
	Health      HealthManifest
	GracePeriod time.Duration
	DrainWindow time.Duration
	RunTimeout  time.Duration
}

type HealthManifest struct {
	Path              string
	ExpectStatus      int
	MaxAttempts       int
	Interval          time.Duration
	PerAttemptTimeout time.Duration
}

// rawManifest is the YAML shape; durations are Prometheus-style strings
// ("500ms", "30s", "5m") so operators can write them by hand.
type rawManifest struct {
	Service    string   `yaml:"service"`
	Executable string   `yaml:"executable"`
	Args       []string `yaml:"args"`
	WorkDir    string   `yaml:"workDir"`
	Env        []string `yaml:"env"`
	BluePort   int      `yaml:"bluePort"`
	GreenPort  int      `yaml:"greenPort"`
	PidFile    string   `yaml:"pidFile"`
	Health     struct {
		Path              string `yaml:"path"`
		ExpectStatus      int    `yaml:"expectStatus"`
		MaxAttempts       int    `yaml:"maxAttempts"`
		Interval          string `yaml:"interval"`
		PerAttemptTimeout string `yaml:"perAttemptTimeout"`
	} `yaml:"health"`
	GracePeriod string `yaml:"gracePeriod"`
	DrainWindow string `yaml:"drainWindow"`
	RunTimeout  string `yaml:"runTimeout"`
}

// LoadManifest reads and validates the deploy manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	return ParseManifest(data)
}

// ParseManifest parses manifest YAML, applying defaults for omitted fields.
func ParseManifest(data []byte) (*Manifest, error) {
	var raw rawManifest
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	if raw.Executable == "" {
		return nil, fmt.Errorf("manifest: executable is required")
	}
	if raw.BluePort == 0 || raw.GreenPort == 0 {
		return nil, fmt.Errorf("manifest: bluePort and greenPort are required")
	}
	if raw.BluePort == raw.GreenPort {
		return nil, fmt.Errorf("manifest: bluePort and greenPort must differ")
	}

	m := &Manifest{
		Service:    raw.Service,
		Executable: raw.Executable,
		Args:       raw.Args,
		WorkDir:    raw.WorkDir,
		Env:        raw.Env,
		BluePort:   raw.BluePort,
		GreenPort:  raw.GreenPort,
		PidFile:    raw.PidFile,
	}
	if m.Service == "" {
		m.Service = "service"
	}
	if m.PidFile == "" {
		m.PidFile = "/var/run/" + m.Service + ".pid"
	}

	m.Health.Path = raw.Health.Path
	if m.Health.Path == "" {
		m.Health.Path = "/health"
	}
	m.Health.ExpectStatus = raw.Health.ExpectStatus
	if m.Health.ExpectStatus == 0 {
		m.Health.ExpectStatus = 200
	}
	m.Health.MaxAttempts = raw.Health.MaxAttempts
	if m.Health.MaxAttempts <= 0 {
		m.Health.MaxAttempts = 10
	}

	var err error
	if m.Health.Interval, err = parseManifestDuration(raw.Health.Interval, 2*time.Second); err != nil {
		return nil, fmt.Errorf("manifest: health.interval: %w", err)
	}
	if m.Health.PerAttemptTimeout, err = parseManifestDuration(raw.Health.PerAttemptTimeout, time.Second); err != nil {
		return nil, fmt.Errorf("manifest: health.perAttemptTimeout: %w", err)
	}
	if m.GracePeriod, err = parseManifestDuration(raw.GracePeriod, 10*time.Second); err != nil {
		return nil, fmt.Errorf("manifest: gracePeriod: %w", err)
	}
	if m.DrainWindow, err = parseManifestDuration(raw.DrainWindow, 15*time.Second); err != nil {
		return nil, fmt.Errorf("manifest: drainWindow: %w", err)
	}
	if m.RunTimeout, err = parseManifestDuration(raw.RunTimeout, 5*time.Minute); err != nil {
		return nil, fmt.Errorf("manifest: runTimeout: %w", err)
	}

	return m, nil
}

// PortFor returns the blue/green port not occupied by current, so a candidate
// never binds the port still serving traffic.
func (m *Manifest) PortFor(currentPort int) int {
	if currentPort == m.BluePort {
		return m.GreenPort
	}
	return m.BluePort
}

func parseManifestDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := promModel.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	return time.Duration(d), nil
}
