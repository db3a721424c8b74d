package platform

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/devbundle/pkg/core"
	"github.com/aretw0/devbundle/pkg/delta"
)

// options holds the internal configuration for the orchestrator.
type options struct {
	logger           *slog.Logger
	transport        core.Transport
	httpClient       *http.Client
	timeout          time.Duration
	headers          http.Header
	cacheDir         string
	splitDir         string
	store            *delta.Store
	registerer       prometheus.Registerer
	fanoutLimit      int
	progressInterval time.Duration
	filePerm         os.FileMode
	events           chan<- core.Event
}

// Option defines a functional option for configuring the orchestrator.
type Option func(*options)

func defaultOptions() *options {
	return &options{
		cacheDir: DefaultCacheDir,
		headers:  http.Header{},
	}
}

// WithLogger sets the logger shared by the transport and the orchestrator.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithTransport injects a custom transport (e.g. a fake in tests).
// When set, WithHTTPClient, WithTimeout and WithHeader are ignored.
func WithTransport(t core.Transport) Option {
	return func(o *options) {
		o.transport = t
	}
}

// WithHTTPClient sets the client used by the default HTTP transport.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithTimeout bounds a whole request, including reading the body.
// Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithHeader adds a header to every request.
func WithHeader(name, value string) Option {
	return func(o *options) {
		o.headers.Add(name, value)
	}
}

// WithCacheDir sets where the artifact index and additional bundles live.
// Defaults to ".devbundle".
func WithCacheDir(dir string) Option {
	return func(o *options) {
		o.cacheDir = dir
	}
}

// WithSplitDir overrides the directory for additional bundles.
func WithSplitDir(dir string) Option {
	return func(o *options) {
		o.splitDir = dir
	}
}

// WithDeltaStore shares a delta store between orchestrators.
func WithDeltaStore(s *delta.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithMetrics registers fetch metrics on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithFanoutLimit bounds how many additional bundles are fetched at once.
// Zero means unbounded.
func WithFanoutLimit(n int) Option {
	return func(o *options) {
		o.fanoutLimit = n
	}
}

// WithProgressInterval sets the minimum time between download progress reports.
func WithProgressInterval(d time.Duration) Option {
	return func(o *options) {
		o.progressInterval = d
	}
}

// WithFilePerm sets the permissions of committed artifacts.
func WithFilePerm(perm os.FileMode) Option {
	return func(o *options) {
		o.filePerm = perm
	}
}

// WithEvents registers a channel for COMMITTED/FAILED notifications.
// Sends never block; a full channel drops events.
func WithEvents(ch chan<- core.Event) Option {
	return func(o *options) {
		o.events = ch
	}
}
