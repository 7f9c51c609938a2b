package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
)

type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Logging  LoggingConfig  `json:"logging"`
	Redis    RedisConfig    `json:"redis"`
	Pipeline PipelineConfig `json:"pipeline"`
	Router   RouterConfig   `json:"router"`
	Manifest ManifestConfig `json:"manifest"`
}

type ServerConfig struct {
	BindAddr string `json:"bindAddr"`
}

type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type LoggingConfig struct {
	Level string `json:"level"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type PipelineConfig struct {
	DeployBranch string `json:"deployBranch"`
}

// RouterConfig selects how traffic swaps reach the reverse proxy. Mode "http"
// calls a routerd admin endpoint; mode "file" rewrites the nginx upstream
// include directly on this host.
type RouterConfig struct {
	Mode         string `json:"mode"`
	AdminURL     string `json:"adminURL"`
	AdminTimeout string `json:"adminTimeout"` // e.g. "5s"
	UpstreamFile string `json:"upstreamFile"`
	NginxPidFile string `json:"nginxPidFile"`
}

type ManifestConfig struct {
	File string `json:"file"`
}

func Load() (*Config, error) {
	configFile := flag.String("f", "", "Path to configuration file")
	flag.Parse()

	cfg := &Config{
		Server: ServerConfig{
			BindAddr: getEnv("SERVER_BIND_ADDR", "0.0.0.0:8090"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "admin"),
			Password: getEnv("DB_PASSWORD", "password"),
			DBName:   getEnv("DB_NAME", "greenlight"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "debug"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Pipeline: PipelineConfig{
			DeployBranch: getEnv("DEPLOY_BRANCH", "main"),
		},
		Router: RouterConfig{
			Mode:         getEnv("ROUTER_MODE", "http"),
			AdminURL:     getEnv("ROUTER_ADMIN_URL", "http://localhost:9901"),
			AdminTimeout: getEnv("ROUTER_ADMIN_TIMEOUT", "5s"),
			UpstreamFile: getEnv("ROUTER_UPSTREAM_FILE", "/etc/nginx/conf.d/upstream.conf"),
			NginxPidFile: getEnv("ROUTER_NGINX_PID_FILE", "/run/nginx.pid"),
		},
		Manifest: ManifestConfig{
			File: getEnv("DEPLOY_MANIFEST", "deploy.yaml"),
		},
	}

	if *configFile != "" {
		if err := loadFromFile(cfg, *configFile); err != nil {
			log.Err(err)
			return nil, err
		}
	}

	// fill reasonable defaults when fields omitted in file
	if cfg.Server.BindAddr == "" {
		cfg.Server.BindAddr = "0.0.0.0:8090"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}
	if cfg.Pipeline.DeployBranch == "" {
		cfg.Pipeline.DeployBranch = "main"
	}
	if cfg.Router.Mode == "" {
		cfg.Router.Mode = "http"
	}
	if cfg.Router.AdminTimeout == "" {
		cfg.Router.AdminTimeout = "5s"
	}
	if cfg.Manifest.File == "" {
		cfg.Manifest.File = "deploy.yaml"
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filePath, err)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
