package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sentilytics/greenlight/internal/api"
	"github.com/sentilytics/greenlight/internal/clock"
	"github.com/sentilytics/greenlight/internal/config"
	"github.com/sentilytics/greenlight/internal/gate"
	"github.com/sentilytics/greenlight/internal/middleware"
	"github.com/sentilytics/greenlight/internal/prober"
	"github.com/sentilytics/greenlight/internal/release"
	releasedb "github.com/sentilytics/greenlight/internal/release/database"
	"github.com/sentilytics/greenlight/internal/supervisor"
)

func main() {
	// load config first
	log.Info().Msg("Starting greenlight deployment orchestrator")
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// configure log level from config
	switch strings.ToLower(cfg.Logging.Level) {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	manifest, err := config.LoadManifest(cfg.Manifest.File)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load deploy manifest")
	}

	clk := clock.Real{}
	sup := supervisor.New(supervisor.NewRecordStore(manifest.PidFile), clk)
	hp := prober.New(&http.Client{}, clk)

	var router release.TrafficRouter
	switch cfg.Router.Mode {
	case "file":
		router = release.NewFileRouter(cfg.Router.UpstreamFile, cfg.Router.NginxPidFile)
	default:
		router = release.NewHTTPRouter(cfg.Router.AdminURL, parseDuration(cfg.Router.AdminTimeout, 5*time.Second))
	}

	// optional Postgres audit store; without it the run log lives in memory
	var store release.RunStore = release.NewMemoryStore(256)
	if db, derr := releasedb.New(cfg.Database.DSN()); derr == nil {
		defer db.Close()
		store = releasedb.NewRunRepo(db)
	} else {
		log.Error().Err(derr).Msg("audit DB init failed; deployment runs will be kept in memory only")
	}

	controller := release.NewController(sup, hp, router, store, clk, manifest)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// recover serving state before admitting any run, so a restart never
	// double-starts the service
	if err := controller.RecoverServing(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to recover serving state from pid record")
	}

	var lock gate.RunLock = gate.NewMemoryLock()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		lock = gate.NewRedisLock(rdb, "greenlight:run_lock:"+manifest.Service, manifest.RunTimeout+time.Minute)
	}

	g := gate.New(cfg.Pipeline.DeployBranch, controller, lock, clk)
	g.Start(ctx)

	engine := gin.New()
	engine.Use(gin.Logger())
	engine.Use(gin.Recovery())
	engine.Use(middleware.Authentication)
	if _, err := api.NewApi(g, controller, engine); err != nil {
		log.Fatal().Err(err).Msg("bind operator api failed.")
	}
	log.Info().Msgf("Starting server on %s", cfg.Server.BindAddr)
	if err := engine.Run(cfg.Server.BindAddr); err != nil {
		log.Fatal().Err(err).Msg("start greenlight api server failed.")
	}
	log.Info().Msg("greenlight api server exit...")
}

func parseDuration(s string, d time.Duration) time.Duration {
	if s == "" {
		return d
	}
	if v, err := time.ParseDuration(s); err == nil {
		return v
	}
	return d
}
