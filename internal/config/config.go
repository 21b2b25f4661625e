package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Repository string          `yaml:"repository"`
	Server     ServerConfig    `yaml:"server"`
	Git        GitConfig       `yaml:"git"`
	Cache      CacheConfig     `yaml:"cache"`
	Watch      WatchConfig     `yaml:"watch"`
	Highlight  HighlightConfig `yaml:"highlight"`
	Log        LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type GitConfig struct {
	RemoteTimeout time.Duration `yaml:"remote_timeout"`
}

type CacheConfig struct {
	Enabled bool `yaml:"enabled"`
	Size    int  `yaml:"size"`
}

type WatchConfig struct {
	Enabled bool          `yaml:"enabled"`
	Delay   time.Duration `yaml:"delay"`
}

type HighlightConfig struct {
	Enabled bool   `yaml:"enabled"`
	Style   string `yaml:"style"`
}

type LogConfig struct {
	Verbose bool `yaml:"verbose"`
}

func Default() *Config {
	return &Config{
		Repository: ".",
		Server: ServerConfig{
			Addr: "127.0.0.1:8080",
		},
		Git: GitConfig{
			RemoteTimeout: 10 * time.Second,
		},
		Cache: CacheConfig{
			Enabled: true,
			Size:    512,
		},
		Watch: WatchConfig{
			Enabled: true,
			Delay:   350 * time.Millisecond,
		},
		Highlight: HighlightConfig{
			Enabled: true,
			Style:   "github",
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// GITK_WEB_* environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is required")
	}
	if strings.TrimSpace(c.Repository) == "" {
		return errors.New("repository path must be configured")
	}
	if c.Server.Addr == "" {
		return errors.New("server.addr must be configured")
	}
	if c.Git.RemoteTimeout <= 0 {
		return fmt.Errorf("git.remote_timeout must be positive (current: %s)", c.Git.RemoteTimeout)
	}
	if c.Cache.Enabled && c.Cache.Size <= 0 {
		return fmt.Errorf("cache.size must be positive (current: %d)", c.Cache.Size)
	}
	if c.Watch.Enabled && c.Watch.Delay <= 0 {
		return fmt.Errorf("watch.delay must be positive (current: %s)", c.Watch.Delay)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var errs []error
	if v := os.Getenv("GITK_WEB_REPOSITORY"); v != "" {
		cfg.Repository = v
	}
	if v := os.Getenv("GITK_WEB_ADDR"); v != "" {
		cfg.Server.Addr = strings.TrimSpace(v)
	}
	if v := os.Getenv("GITK_WEB_REMOTE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Git.RemoteTimeout = d
		} else {
			errs = append(errs, fmt.Errorf("GITK_WEB_REMOTE_TIMEOUT: %w", err))
		}
	}
	if v := os.Getenv("GITK_WEB_CACHE"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Cache.Enabled = enabled
		} else {
			errs = append(errs, fmt.Errorf("GITK_WEB_CACHE: %w", err))
		}
	}
	if v := os.Getenv("GITK_WEB_CACHE_SIZE"); v != "" {
		if size, err := strconv.Atoi(v); err == nil {
			cfg.Cache.Size = size
		} else {
			errs = append(errs, fmt.Errorf("GITK_WEB_CACHE_SIZE: %w", err))
		}
	}
	if v := os.Getenv("GITK_WEB_WATCH"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Watch.Enabled = enabled
		} else {
			errs = append(errs, fmt.Errorf("GITK_WEB_WATCH: %w", err))
		}
	}
	if v := os.Getenv("GITK_WEB_SYNTAX"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Highlight.Enabled = enabled
		} else {
			errs = append(errs, fmt.Errorf("GITK_WEB_SYNTAX: %w", err))
		}
	}
	if v := os.Getenv("GITK_WEB_STYLE"); v != "" {
		cfg.Highlight.Style = strings.TrimSpace(v)
	}
	if v := os.Getenv("GITK_WEB_VERBOSE"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Log.Verbose = enabled
		} else {
			errs = append(errs, fmt.Errorf("GITK_WEB_VERBOSE: %w", err))
		}
	}
	return errors.Join(errs...)
}
