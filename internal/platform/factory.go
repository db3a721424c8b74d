package platform

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/aretw0/devbundle/pkg/adapters/httpx"
	"github.com/aretw0/devbundle/pkg/fetch"
	"github.com/aretw0/devbundle/pkg/metrics"
)

// DefaultCacheDir is used when no cache directory is configured.
const DefaultCacheDir = ".devbundle"

// New wires an orchestrator from options.
//
//	o, err := platform.New(platform.WithCacheDir(".devbundle"), platform.WithLogger(logger))
func New(opts ...Option) (*fetch.Orchestrator, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	transport := o.transport
	if transport == nil {
		client := o.httpClient
		if client == nil {
			client = &http.Client{}
		}
		if o.timeout > 0 {
			c := *client
			c.Timeout = o.timeout
			client = &c
		}
		topts := []httpx.Option{httpx.WithLogger(logger)}
		for name, values := range o.headers {
			for _, v := range values {
				topts = append(topts, httpx.WithHeader(name, v))
			}
		}
		transport = httpx.New(client, topts...)
	}

	var m *metrics.Metrics
	if o.registerer != nil {
		m = metrics.New(o.registerer)
	}

	return fetch.New(fetch.Config{
		Transport:        transport,
		Store:            o.store,
		CacheDir:         o.cacheDir,
		SplitDir:         o.splitDir,
		FanoutLimit:      o.fanoutLimit,
		FilePerm:         o.filePerm,
		ProgressInterval: o.progressInterval,
		Logger:           logger,
		Metrics:          m,
		Events:           o.events,
	})
}
