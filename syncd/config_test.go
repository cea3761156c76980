package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := configFromEnv()
	if err != nil {
		t.Fatalf("configFromEnv() err=%v", err)
	}
	if cfg.Addr != ":8090" || cfg.PollInterval != 2*time.Second || cfg.LogFormat != "json" {
		t.Fatalf("configFromEnv()=%+v", cfg)
	}
	if cfg.LogDir == "" {
		t.Fatalf("LogDir empty, want temp dir")
	}
}

func TestConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("SYNCD_HTTP_ADDR", "127.0.0.1:9999")
	t.Setenv("SYNCD_LOG_LEVEL", "debug")
	t.Setenv("SYNCD_LOG_FORMAT", "TEXT")
	t.Setenv("SYNCD_POLL_INTERVAL", "500ms")
	t.Setenv("SYNCD_LOG_DIR", "/var/lib/syncd")

	cfg, err := configFromEnv()
	if err != nil {
		t.Fatalf("configFromEnv() err=%v", err)
	}
	if cfg.Addr != "127.0.0.1:9999" || cfg.LogLevel != slog.LevelDebug || cfg.LogFormat != "text" {
		t.Fatalf("configFromEnv()=%+v", cfg)
	}
	if cfg.PollInterval != 500*time.Millisecond || cfg.LogDir != "/var/lib/syncd" {
		t.Fatalf("configFromEnv()=%+v", cfg)
	}
}

func TestConfigFromEnv_Invalid(t *testing.T) {
	cases := map[string]string{
		"SYNCD_POLL_INTERVAL":    "0s",
		"SYNCD_SHUTDOWN_TIMEOUT": "soon",
		"SYNCD_LOG_LEVEL":        "chatty",
		"SYNCD_LOG_FORMAT":       "xml",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := configFromEnv(); err == nil {
				t.Fatalf("configFromEnv() expected error for %s=%s", key, value)
			}
		})
	}
}

func TestNewLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, config{LogFormat: "json", LogLevel: slog.LevelInfo}).Info("hello", "seq", 1)
	if !strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("json logger wrote %q", buf.String())
	}
	buf.Reset()
	newLogger(&buf, config{LogFormat: "text", LogLevel: slog.LevelWarn}).Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info written at warn level: %q", buf.String())
	}
}
