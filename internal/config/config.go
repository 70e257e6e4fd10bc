// Package config loads settings from a TOML file with environment overrides.
// Precedence, highest first: command-line flags (applied by the caller),
// DEEZER_TAGGER_* environment variables, the config file, built-in defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultPath = "config.toml"
	envPrefix   = "DEEZER_TAGGER_"
)

type Config struct {
	Log     Log     `toml:"log"`
	Server  Server  `toml:"server"`
	Deezer  Deezer  `toml:"deezer"`
	Search  Search  `toml:"search"`
	Tagging Tagging `toml:"tagging"`
	Update  Update  `toml:"update"`
}

type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type Server struct {
	Host        string   `toml:"host"`
	Port        string   `toml:"port"`
	MaxUploadMB int      `toml:"max_upload_mb"`
	UploadTTL   Duration `toml:"upload_ttl"`
}

type Deezer struct {
	BaseURL   string   `toml:"base_url"`
	Proxy     string   `toml:"proxy"`
	Timeout   Duration `toml:"timeout"`
	RateLimit float64  `toml:"rate_limit"`
}

type Search struct {
	Limit int `toml:"limit"`
}

type Tagging struct {
	TempDir      string `toml:"temp_dir"`
	FallbackYear string `toml:"fallback_year"`
	Concurrency  int    `toml:"concurrency"`
}

type Update struct {
	Repository string `toml:"repository"`
}

// Duration is a time.Duration that reads and writes as "30s", "5m", ...
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: Log{Level: "info", Format: "pretty"},
		Server: Server{
			Host:        "127.0.0.1",
			Port:        "8080",
			MaxUploadMB: 64,
			UploadTTL:   Duration{30 * time.Minute},
		},
		Deezer: Deezer{
			BaseURL:   "https://api.deezer.com/",
			Timeout:   Duration{15 * time.Second},
			RateLimit: 10,
		},
		Search:  Search{Limit: 5},
		Tagging: Tagging{Concurrency: 3},
	}
}

// Load reads the file at path over the defaults. A missing file is not an error.
// An empty path means DefaultPath.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ErrExists is returned by Init when the file is already there.
var ErrExists = errors.New("config file already exists")

// Init writes the defaults to path. An existing file is replaced only with force.
func Init(path string, force bool) error {
	if path == "" {
		path = DefaultPath
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
	}
	return Save(path, Default())
}

// Save writes cfg to path as TOML.
func Save(path string, cfg *Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		v, ok := lookup(envPrefix + key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = n
		return nil
	}
	number := func(key string, dst *float64) error {
		v, ok := lookup(envPrefix + key)
		if !ok || v == "" {
			return nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = f
		return nil
	}
	duration := func(key string, dst *Duration) error {
		v, ok := lookup(envPrefix + key)
		if !ok || v == "" {
			return nil
		}
		return dst.UnmarshalText([]byte(v))
	}

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("HOST", &c.Server.Host)
	str("PORT", &c.Server.Port)
	str("DEEZER_BASE_URL", &c.Deezer.BaseURL)
	str("PROXY", &c.Deezer.Proxy)
	str("TEMP_DIR", &c.Tagging.TempDir)
	str("FALLBACK_YEAR", &c.Tagging.FallbackYear)
	str("UPDATE_REPOSITORY", &c.Update.Repository)

	var errs []error
	errs = append(errs,
		integer("MAX_UPLOAD_MB", &c.Server.MaxUploadMB),
		integer("SEARCH_LIMIT", &c.Search.Limit),
		integer("CONCURRENCY", &c.Tagging.Concurrency),
		number("RATE_LIMIT", &c.Deezer.RateLimit),
		duration("UPLOAD_TTL", &c.Server.UploadTTL),
		duration("DEEZER_TIMEOUT", &c.Deezer.Timeout),
	)
	return errors.Join(errs...)
}

// Validate checks value ranges that would otherwise fail at runtime.
func (c *Config) Validate() error {
	var errs []error
	if c.Search.Limit < 1 || c.Search.Limit > 100 {
		errs = append(errs, fmt.Errorf("search.limit must be between 1 and 100, got %d", c.Search.Limit))
	}
	if c.Server.MaxUploadMB < 1 {
		errs = append(errs, fmt.Errorf("server.max_upload_mb must be positive, got %d", c.Server.MaxUploadMB))
	}
	if c.Server.UploadTTL.Duration <= 0 {
		errs = append(errs, errors.New("server.upload_ttl must be positive"))
	}
	if c.Deezer.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("deezer.rate_limit must not be negative, got %g", c.Deezer.RateLimit))
	}
	if y := c.Tagging.FallbackYear; y != "" {
		if _, err := strconv.Atoi(y); err != nil || len(y) != 4 {
			errs = append(errs, fmt.Errorf("tagging.fallback_year must be a four digit year, got %q", y))
		}
	}
	if f := strings.ToLower(c.Log.Format); f != "pretty" && f != "json" {
		errs = append(errs, fmt.Errorf("log.format must be pretty or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Addr returns the listen address for the web server.
func (s Server) Addr() string {
	return s.Host + ":" + s.Port
}
