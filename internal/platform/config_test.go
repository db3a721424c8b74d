package platform

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/devbundle/pkg/core"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "devbundle.yaml")
	content := `
server: http://10.0.2.2:8081/
entry: src/main
platform: ios
minify: true
mode: delta
cache_dir: build/cache
destination: /abs/main.jsbundle
timeout: 5s
watch:
  patterns: ["src/**/*.ts"]
  debounce: 250ms
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	t.Run("Overrides", func(t *testing.T) {
		if cfg.Platform != "ios" || !cfg.Minify || cfg.Timeout != 5*time.Second {
			t.Errorf("unexpected config: %+v", cfg)
		}
		if cfg.Watch.Debounce != 250*time.Millisecond {
			t.Errorf("debounce = %s", cfg.Watch.Debounce)
		}
		if len(cfg.Watch.Patterns) != 1 || cfg.Watch.Patterns[0] != "src/**/*.ts" {
			t.Errorf("patterns = %v", cfg.Watch.Patterns)
		}
	})

	t.Run("Defaults Kept", func(t *testing.T) {
		if !cfg.Dev {
			t.Error("dev should default to true")
		}
		if len(cfg.Watch.Ignore) == 0 {
			t.Error("ignore defaults lost")
		}
	})

	t.Run("Paths Resolved", func(t *testing.T) {
		if want := filepath.Join(dir, "build", "cache"); cfg.CacheDir != want {
			t.Errorf("cache_dir = %q, want %q", cfg.CacheDir, want)
		}
		if cfg.Destination != "/abs/main.jsbundle" {
			t.Errorf("absolute destination rewritten: %q", cfg.Destination)
		}
		if cfg.Watch.Root != dir {
			t.Errorf("watch root = %q, want %q", cfg.Watch.Root, dir)
		}
	})

	t.Run("Bundle URL", func(t *testing.T) {
		want := "http://10.0.2.2:8081/src/main.delta?dev=true&minify=true&platform=ios"
		if got := cfg.BundleURL(); got != want {
			t.Errorf("BundleURL() = %q, want %q", got, want)
		}
		if m := cfg.ResolveMode(cfg.BundleURL()); m != core.ModeDelta {
			t.Errorf("ResolveMode() = %q", m)
		}
	})
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"Bad YAML", "server: [unterminated"},
		{"Bad Server", "server: not-a-url"},
		{"Bad Mode", "mode: sometimes"},
		{"Empty Entry", "entry: ''"},
		{"Negative Timeout", "timeout: -1s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "devbundle.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadConfig(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestConfig_AutoMode(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	u := cfg.BundleURL()
	if got := cfg.ResolveMode(u); got != core.ModePlain {
		t.Errorf("ResolveMode(%q) = %q, want plain", u, got)
	}
	if got := cfg.ResolveMode("http://localhost:8081/index.delta"); got != core.ModeDelta {
		t.Errorf("auto mode should detect delta URLs, got %q", got)
	}
}
