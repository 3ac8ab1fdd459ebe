package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/auto-dns/docker-logwatch/internal/config"
	"github.com/rs/zerolog"
)

// SetupLogger writes diagnostics to stderr; stdout carries container output.
func SetupLogger(cfg *config.LoggingConfig) zerolog.Logger {
	return newLogger(os.Stderr, cfg)
}

func newLogger(out io.Writer, cfg *config.LoggingConfig) zerolog.Logger {
	consoleWriter := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "2006-01-02 15:04:05",
	}

	levelStr := strings.ToLower(cfg.Level)
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil || levelStr == "" {
		level = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}

	return zerolog.New(consoleWriter).
		Level(level).
		With().
		Timestamp().
		Caller().
		Str("service", "docker_logwatch").
		Str("host", hostname).
		Logger()
}
