package devbundle

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/devbundle/internal/platform"
	"github.com/aretw0/devbundle/pkg/core"
	"github.com/aretw0/devbundle/pkg/delta"
	"github.com/aretw0/devbundle/pkg/fetch"
)

// --- Types ---

// Orchestrator fetches bundles and commits them to disk.
type Orchestrator = fetch.Orchestrator

// Request describes one bundle fetch.
type Request = fetch.Request

// Listener receives progress for the primary artifact of a Fetch.
type Listener = fetch.Listener

// Callbacks are the completion handlers for Orchestrator.Start.
type Callbacks = fetch.Callbacks

// Metadata describes a committed artifact.
type Metadata = core.Metadata

// Progress is a build or download status update.
type Progress = core.Progress

// Config is the CLI configuration file format.
type Config = platform.Config

// --- Configuration ---

// Option defines a functional option for configuring the orchestrator.
type Option = platform.Option

// WithLogger sets the logger for the transport and the orchestrator.
func WithLogger(logger *slog.Logger) Option {
	return platform.WithLogger(logger)
}

// WithTransport injects a custom transport.
func WithTransport(t core.Transport) Option {
	return platform.WithTransport(t)
}

// WithHTTPClient sets the client used by the default transport.
func WithHTTPClient(c *http.Client) Option {
	return platform.WithHTTPClient(c)
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return platform.WithTimeout(d)
}

// WithHeader adds a header to every request.
func WithHeader(name, value string) Option {
	return platform.WithHeader(name, value)
}

// WithCacheDir sets where the artifact index and additional bundles live.
func WithCacheDir(dir string) Option {
	return platform.WithCacheDir(dir)
}

// WithSplitDir overrides the directory for additional bundles.
func WithSplitDir(dir string) Option {
	return platform.WithSplitDir(dir)
}

// WithDeltaStore shares a delta store between orchestrators.
func WithDeltaStore(s *delta.Store) Option {
	return platform.WithDeltaStore(s)
}

// WithMetrics registers fetch metrics on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return platform.WithMetrics(reg)
}

// WithFanoutLimit bounds concurrent additional bundle fetches.
func WithFanoutLimit(n int) Option {
	return platform.WithFanoutLimit(n)
}

// WithEvents registers a channel for commit and failure notifications.
func WithEvents(ch chan<- core.Event) Option {
	return platform.WithEvents(ch)
}

// --- Factory ---

// New creates an Orchestrator.
func New(opts ...Option) (*Orchestrator, error) {
	return platform.New(opts...)
}

// LoadConfig reads a devbundle.yaml file.
func LoadConfig(path string) (Config, error) {
	return platform.LoadConfig(path)
}

// FindConfig looks upwards from dir for a devbundle.yaml file.
func FindConfig(dir string) (string, error) {
	return platform.FindConfig(dir)
}
