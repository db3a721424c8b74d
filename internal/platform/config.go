package platform

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aretw0/devbundle/pkg/core"
)

// Config is the on-disk configuration read by the CLI.
type Config struct {
	Server      string        `yaml:"server"`
	Entry       string        `yaml:"entry"`
	Platform    string        `yaml:"platform"`
	Dev         bool          `yaml:"dev"`
	Minify      bool          `yaml:"minify"`
	Mode        string        `yaml:"mode"`
	CacheDir    string        `yaml:"cache_dir"`
	Destination string        `yaml:"destination"`
	Timeout     time.Duration `yaml:"timeout"`
	FanoutLimit int           `yaml:"fanout_limit"`
	MetricsAddr string        `yaml:"metrics_addr"`
	Watch       WatchConfig   `yaml:"watch"`
}

// WatchConfig selects the source files that trigger a refetch.
type WatchConfig struct {
	Root     string        `yaml:"root"`
	Patterns []string      `yaml:"patterns"`
	Ignore   []string      `yaml:"ignore"`
	Debounce time.Duration `yaml:"debounce"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		Server:      "http://localhost:8081",
		Entry:       "index",
		Platform:    "android",
		Dev:         true,
		Mode:        "auto",
		CacheDir:    DefaultCacheDir,
		Destination: filepath.Join(DefaultCacheDir, "index.bundle"),
		Timeout:     60 * time.Second,
		Watch: WatchConfig{
			Root:     ".",
			Patterns: []string{"**/*.js", "**/*.jsx", "**/*.ts", "**/*.tsx"},
			Ignore:   []string{"**/node_modules/**"},
			Debounce: 100 * time.Millisecond,
		},
	}
}

// LoadConfig reads path over the defaults. Relative paths in the file are
// resolved against the file's directory.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	base, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return cfg, err
	}
	cfg.CacheDir = resolvePath(base, cfg.CacheDir)
	cfg.Destination = resolvePath(base, cfg.Destination)
	cfg.Watch.Root = resolvePath(base, cfg.Watch.Root)

	return cfg, cfg.Validate()
}

func resolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	u, err := url.Parse(c.Server)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid server %q", c.Server)
	}
	if strings.TrimSpace(c.Entry) == "" {
		return errors.New("entry is required")
	}
	if _, ok := core.ParseMode(c.Mode, ""); !ok {
		return fmt.Errorf("invalid mode %q (want plain, delta or auto)", c.Mode)
	}
	if c.Destination == "" {
		return errors.New("destination is required")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("invalid timeout %s", c.Timeout)
	}
	return nil
}

// BundleURL builds the entry point URL. An explicit delta mode requests the
// delta endpoint.
func (c Config) BundleURL() string {
	ext := ".bundle"
	if strings.EqualFold(c.Mode, string(core.ModeDelta)) {
		ext = ".delta"
	}
	q := url.Values{}
	q.Set("platform", c.Platform)
	q.Set("dev", strconv.FormatBool(c.Dev))
	q.Set("minify", strconv.FormatBool(c.Minify))
	return strings.TrimRight(c.Server, "/") + "/" + strings.TrimPrefix(c.Entry, "/") + ext + "?" + q.Encode()
}

// ResolveMode turns the configured mode into a core.Mode for rawURL.
func (c Config) ResolveMode(rawURL string) core.Mode {
	m, ok := core.ParseMode(c.Mode, rawURL)
	if !ok {
		return core.ModePlain
	}
	return m
}
