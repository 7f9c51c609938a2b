package main

import (
	"os"

	"github.com/fox-gonic/fox"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sentilytics/greenlight/internal/routerd"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	log.Info().Msg("Starting routerd admin server")

	bindAddr := ":9901"
	if port := os.Getenv("ROUTERD_PORT"); port != "" {
		bindAddr = ":" + port
	}
	upstreamFile := os.Getenv("ROUTERD_UPSTREAM_FILE")
	if upstreamFile == "" {
		upstreamFile = "/etc/nginx/conf.d/upstream.conf"
	}
	nginxPidFile := os.Getenv("ROUTERD_NGINX_PID_FILE")
	if nginxPidFile == "" {
		nginxPidFile = "/run/nginx.pid"
	}

	srv := routerd.NewServer(upstreamFile, nginxPidFile)
	srv.RecoverActivePort()

	router := fox.New()
	if err := srv.UseApi(router); err != nil {
		log.Fatal().Err(err).Msg("Failed to setup API routes")
	}

	log.Info().Msgf("Starting routerd on %s", bindAddr)
	if err := router.Run(bindAddr); err != nil {
		log.Fatal().Err(err).Msg("Failed to start server")
	}
}
