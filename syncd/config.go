package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/animus-labs/refresh-go/internal/platform/env"
)

const serviceName = "syncd"

type config struct {
	Addr            string
	ShutdownTimeout time.Duration
	LogLevel        slog.Level
	LogFormat       string
	LogDir          string
	JobConfigPath   string
	PollInterval    time.Duration
	MirrorInterval  time.Duration
}

func configFromEnv() (config, error) {
	shutdownTimeout, err := env.Duration("SYNCD_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return config{}, err
	}
	level, err := env.Level("SYNCD_LOG_LEVEL", slog.LevelInfo)
	if err != nil {
		return config{}, err
	}
	pollInterval, err := env.Duration("SYNCD_POLL_INTERVAL", 2*time.Second)
	if err != nil {
		return config{}, err
	}
	mirrorInterval, err := env.Duration("SYNCD_MIRROR_INTERVAL", 5*time.Second)
	if err != nil {
		return config{}, err
	}

	cfg := config{
		Addr:            env.String("SYNCD_HTTP_ADDR", ":8090"),
		ShutdownTimeout: shutdownTimeout,
		LogLevel:        level,
		LogFormat:       strings.ToLower(env.String("SYNCD_LOG_FORMAT", "json")),
		LogDir:          env.String("SYNCD_LOG_DIR", os.TempDir()),
		JobConfigPath:   env.String("SYNCD_JOB_CONFIG", ""),
		PollInterval:    pollInterval,
		MirrorInterval:  mirrorInterval,
	}
	if err := cfg.Validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("SYNCD_HTTP_ADDR is required")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("SYNCD_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.PollInterval <= 0 {
		return errors.New("SYNCD_POLL_INTERVAL must be positive")
	}
	if c.MirrorInterval <= 0 {
		return errors.New("SYNCD_MIRROR_INTERVAL must be positive")
	}
	if strings.TrimSpace(c.LogDir) == "" {
		return errors.New("SYNCD_LOG_DIR is required")
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("SYNCD_LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	return nil
}

func newLogger(w io.Writer, cfg config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
