package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/refresh-go/internal/platform/env"
)

// Config for the log snapshot bucket. An empty Endpoint disables snapshots.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
	Prefix    string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("SYNCD_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:  strings.TrimSpace(env.String("SYNCD_MINIO_ENDPOINT", "")),
		AccessKey: env.String("SYNCD_MINIO_ACCESS_KEY", ""),
		SecretKey: env.String("SYNCD_MINIO_SECRET_KEY", ""),
		Region:    env.String("SYNCD_MINIO_REGION", "us-east-1"),
		UseSSL:    useSSL,
		Bucket:    env.String("SYNCD_MINIO_BUCKET", "sync-logs"),
		Prefix:    strings.Trim(env.String("SYNCD_MINIO_PREFIX", "syncd"), "/"),
	}
	if !cfg.Enabled() {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	return nil
}
