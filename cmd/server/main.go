package main

import (
	"github.com/rs/zerolog/log"

	"campaign-autopilot/internal/app/server"
	"campaign-autopilot/internal/config"
)

func main() {
	cfg := config.Load()
	config.SetupLogging(cfg.Server.LogLevel, cfg.Server.LogFormat)
	log.Info().Str("addr", cfg.Server.Addr).Str("period", cfg.Automation.DefaultPeriod).Msg("starting campaign autopilot")

	server.Run(cfg)
}
