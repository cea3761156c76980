package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultServer       = "http://localhost:8090"
	defaultTimeout      = 10 * time.Second
	defaultPollInterval = 2 * time.Second
)

// fileConfig is the on-disk config.toml.
//
//	server = "http://syncd.internal:8090"
//	timeout = "5s"
//	poll_interval = "2s"
type fileConfig struct {
	Server       string `toml:"server"`
	Timeout      string `toml:"timeout"`
	PollInterval string `toml:"poll_interval"`
}

type settings struct {
	Server       string
	Timeout      time.Duration
	PollInterval time.Duration
}

func defaultConfigPath() string {
	if p := strings.TrimSpace(os.Getenv("SYNCCTL_CONFIG")); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "syncctl", "config.toml")
}

func loadSettings(o *globalOptions) (settings, error) {
	s := settings{
		Server:       defaultServer,
		Timeout:      defaultTimeout,
		PollInterval: defaultPollInterval,
	}

	path := o.configPath
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
	}
	if path != "" {
		var fc fileConfig
		_, err := toml.DecodeFile(path, &fc)
		switch {
		case err == nil:
			if err := s.apply(fc); err != nil {
				return settings{}, fmt.Errorf("parsing %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist) && !explicit:
		default:
			return settings{}, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if v := strings.TrimSpace(os.Getenv("SYNCCTL_SERVER")); v != "" {
		s.Server = v
	}
	if o.server != "" {
		s.Server = o.server
	}
	if o.timeout > 0 {
		s.Timeout = o.timeout
	}

	s.Server = strings.TrimRight(strings.TrimSpace(s.Server), "/")
	u, err := url.Parse(s.Server)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return settings{}, fmt.Errorf("invalid server URL %q", s.Server)
	}
	return s, nil
}

func (s *settings) apply(fc fileConfig) error {
	if fc.Server != "" {
		s.Server = fc.Server
	}
	if fc.Timeout != "" {
		d, err := time.ParseDuration(fc.Timeout)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid timeout %q", fc.Timeout)
		}
		s.Timeout = d
	}
	if fc.PollInterval != "" {
		d, err := time.ParseDuration(fc.PollInterval)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid poll_interval %q", fc.PollInterval)
		}
		s.PollInterval = d
	}
	return nil
}
