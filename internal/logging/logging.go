// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/dkeye/Consult/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Bootstrap sets a console logger at info level so config loading can log.
func Bootstrap() {
	Setup(config.LogConfig{Level: "info", Pretty: true})
}

// Setup applies cfg to the global logger. An unknown level falls back to
// info and is reported once the logger is ready.
func Setup(cfg config.LogConfig) {
	SetupWriter(cfg, os.Stderr)
}

func SetupWriter(cfg config.LogConfig, out io.Writer) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if err != nil {
		log.Warn().Err(err).Str("module", "logging").Str("level", cfg.Level).Msg("unknown log level, using info")
	}
}
