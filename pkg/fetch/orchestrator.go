// Package fetch downloads development bundles, applies delta patches and
// commits the result to disk atomically.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aretw0/lifecycle"

	"github.com/aretw0/devbundle/pkg/adapters/fs"
	"github.com/aretw0/devbundle/pkg/core"
	"github.com/aretw0/devbundle/pkg/delta"
	"github.com/aretw0/devbundle/pkg/metrics"
)

const (
	// HeaderStatus overrides the outer HTTP status from inside the final part.
	HeaderStatus = "X-Http-Status"
	// HeaderFilesChanged carries the number of modules changed by the build.
	HeaderFilesChanged = "X-Metro-Files-Changed-Count"
	// HeaderAdditional lists additional bundles to fetch alongside the primary.
	HeaderAdditional = "X-Metro-Additional-Bundles"

	// DefaultSplitDir is the directory (under the cache dir) for additional bundles.
	DefaultSplitDir = "split"
	// DefaultFilePerm is applied to committed artifacts.
	DefaultFilePerm os.FileMode = 0o644
)

// Listener receives progress updates for the primary artifact.
type Listener func(p core.Progress)

// Request describes one bundle to fetch.
type Request struct {
	URL         string
	Destination string
	Mode        core.Mode
	// Name overrides the index key derived from URL.
	Name string
}

// Callbacks are the completion handlers for Start. Any of them may be nil.
type Callbacks struct {
	OnProgress func(core.Progress)
	OnSuccess  func(core.Metadata)
	OnFailure  func(error)
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Transport core.Transport
	// Store holds the delta state. A fresh store is used when nil.
	Store *delta.Store
	// Index records committed artifacts. Defaults to CacheDir/artifacts.json.
	Index *fs.Index
	// CacheDir is the base for the index and additional bundles.
	CacheDir string
	// SplitDir receives additional bundles. Defaults to CacheDir/split.
	SplitDir string
	// FanoutLimit bounds concurrent additional fetches. Zero means unbounded.
	FanoutLimit int
	FilePerm    os.FileMode
	// ProgressInterval throttles multipart progress reporting.
	ProgressInterval time.Duration
	Logger           *slog.Logger
	Metrics          *metrics.Metrics
	// Events, when set, receives COMMITTED and FAILED notifications.
	// Sends never block.
	Events chan<- core.Event
}

// Orchestrator runs fetch sessions against a development server.
type Orchestrator struct {
	config    Config
	transport core.Transport
	logger    *slog.Logger
	metrics   *metrics.Metrics

	storeMu sync.Mutex
	store   *delta.Store

	indexMu sync.Mutex
	index   *fs.Index

	mu          sync.Mutex
	inflight    *Handle
	lastSession string
	lastState   State
	lastError   string
}

// New validates cfg and returns an Orchestrator. The index is loaded from
// disk if it already exists.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Transport == nil {
		return nil, errors.New("fetch: transport is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Store == nil {
		cfg.Store = delta.New()
	}
	if cfg.FilePerm == 0 {
		cfg.FilePerm = DefaultFilePerm
	}
	if cfg.CacheDir == "" && (cfg.Index == nil || cfg.SplitDir == "") {
		return nil, errors.New("fetch: cache dir is required")
	}
	if cfg.SplitDir == "" {
		cfg.SplitDir = filepath.Join(cfg.CacheDir, DefaultSplitDir)
	}
	if cfg.Index == nil {
		cfg.Index = fs.NewIndexInDir(cfg.CacheDir)
		if err := cfg.Index.Load(); err != nil {
			return nil, fmt.Errorf("%w: load index: %v", core.ErrFileSystem, err)
		}
	}

	return &Orchestrator{
		config:    cfg,
		transport: cfg.Transport,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		store:     cfg.Store,
		index:     cfg.Index,
	}, nil
}

// Index returns the artifact index. Callers must not mutate it while
// fetches are running.
func (o *Orchestrator) Index() *fs.Index {
	return o.index
}

// Lookup resolves an artifact by name under the index lock.
func (o *Orchestrator) Lookup(name string) (core.IndexEntry, bool) {
	o.indexMu.Lock()
	defer o.indexMu.Unlock()
	return o.index.Get(name)
}

// Fetch runs one session to completion, including any additional bundles the
// server announces. Listeners receive progress for the primary artifact.
func (o *Orchestrator) Fetch(ctx context.Context, req Request, listeners ...Listener) (core.Metadata, error) {
	if req.Mode == "" {
		req.Mode = core.DetectMode(req.URL)
	}
	start := time.Now()
	s := o.newSession(req, true, listeners)

	md, err := s.run(ctx)
	if err == nil {
		md.Additional, err = o.fanout(ctx, s, req.URL)
	}
	if err == nil {
		err = o.saveIndex()
	}

	outcome := metrics.OutcomeSuccess
	switch {
	case err != nil && (errors.Is(err, core.ErrCanceled) || ctx.Err() != nil):
		outcome = metrics.OutcomeCanceled
	case err != nil:
		outcome = metrics.OutcomeFailure
	case !md.Written:
		outcome = metrics.OutcomeNoop
	}
	o.metrics.ObserveFetch(string(req.Mode), outcome, time.Since(start))

	if err != nil {
		s.fail(err)
		o.emit(core.Event{Type: core.EventFailed, ID: s.name, Detail: err.Error()})
		return core.Metadata{}, err
	}
	s.transition(StateDone)
	o.emit(core.Event{Type: core.EventCommitted, ID: md.Name, Detail: md.Path})
	return md, nil
}

// Start runs Fetch asynchronously and reports through cb. A previous in-flight
// session started through Start is cancelled and its callbacks never fire.
func (o *Orchestrator) Start(ctx context.Context, req Request, cb Callbacks) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}

	o.mu.Lock()
	if o.inflight != nil {
		o.inflight.cancel()
	}
	o.inflight = h
	o.mu.Unlock()

	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer close(h.done)
		defer o.release(h)

		onProgress := func(p core.Progress) {
			if ctx.Err() == nil && cb.OnProgress != nil {
				cb.OnProgress(p)
			}
		}
		md, err := o.Fetch(ctx, req, onProgress)
		h.md, h.err = md, err
		if !o.current(ctx, h) {
			// A commit that beat the cancel stays on disk and in h.md.
			h.err = fmt.Errorf("%w: %v", core.ErrCanceled, context.Canceled)
			return nil
		}
		if err != nil {
			if cb.OnFailure != nil {
				cb.OnFailure(err)
			}
			return nil
		}
		if cb.OnSuccess != nil {
			cb.OnSuccess(md)
		}
		return nil
	}, lifecycle.WithErrorHandler(func(err error) {
		o.logger.Error("fetch session panicked", "url", req.URL, "error", err)
	}))

	return h
}

// Cancel aborts the in-flight session started through Start, if any.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inflight != nil {
		o.inflight.cancel()
		o.inflight = nil
	}
}

// current reports whether h is still the session Start callbacks belong to.
func (o *Orchestrator) current(ctx context.Context, h *Handle) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return ctx.Err() == nil && o.inflight == h
}

func (o *Orchestrator) release(h *Handle) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inflight == h {
		o.inflight = nil
	}
	h.cancel()
}

func (o *Orchestrator) saveIndex() error {
	o.indexMu.Lock()
	defer o.indexMu.Unlock()
	if err := o.index.Save(); err != nil {
		return fmt.Errorf("%w: save index: %v", core.ErrFileSystem, err)
	}
	return nil
}

func (o *Orchestrator) emit(e core.Event) {
	if o.config.Events == nil {
		return
	}
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().Unix()
	}
	select {
	case o.config.Events <- e:
	default:
		o.logger.Debug("event dropped", "type", e.Type, "id", e.ID)
	}
}

// Handle tracks a session started with Start.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	md     core.Metadata
	err    error
}

// Cancel aborts this session only.
func (h *Handle) Cancel() { h.cancel() }

// Done is closed once the session has finished.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the session finishes. A cancelled session reports
// core.ErrCanceled.
func (h *Handle) Wait() (core.Metadata, error) {
	<-h.done
	return h.md, h.err
}
