package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"

	"github.com/aretw0/devbundle/pkg/adapters/fs"
	"github.com/aretw0/devbundle/pkg/core"
	"github.com/aretw0/devbundle/pkg/delta"
)

// session is a single request/commit cycle for one artifact.
type session struct {
	id        string
	o         *Orchestrator
	req       Request
	name      string
	primary   bool
	listeners []Listener
	logger    *slog.Logger
	state     State

	// additional lists the bundles announced by the server.
	additional []string
}

func (o *Orchestrator) newSession(req Request, primary bool, listeners []Listener) *session {
	id := uuid.NewString()
	name := req.Name
	if name == "" {
		name = ArtifactName(req.URL)
	}
	return &session{
		id:        id,
		o:         o,
		req:       req,
		name:      name,
		primary:   primary,
		listeners: listeners,
		logger:    o.logger.With("session", id, "artifact", name),
		state:     StateIdle,
	}
}

func (s *session) transition(st State) {
	s.logger.Debug("session state", "from", s.state, "to", st)
	s.state = st
	if s.primary {
		s.o.record(s.id, st, nil)
	}
}

func (s *session) fail(err error) {
	s.logger.Warn("fetch failed", "state", s.state, "error", err)
	s.state = StateFailed
	if s.primary {
		s.o.record(s.id, StateFailed, err)
	}
}

func (s *session) progress(p core.Progress) {
	for _, l := range s.listeners {
		if l != nil {
			l(p)
		}
	}
}

// run performs request, decoding, validation and commit. Fan-out is the
// caller's concern.
func (s *session) run(ctx context.Context) (core.Metadata, error) {
	url := s.req.URL
	if s.req.Mode == core.ModeDelta {
		s.o.storeMu.Lock()
		url = s.o.store.Annotate(url, core.ModeDelta)
		s.o.storeMu.Unlock()
	}

	s.transition(StateRequestSent)
	s.logger.Info("fetching bundle", "url", url, "mode", s.req.Mode)
	resp, err := s.o.transport.Do(ctx, &core.Request{
		Method: http.MethodGet,
		URL:    url,
		Header: http.Header{"Accept": {"multipart/mixed"}},
	})
	if err != nil {
		return core.Metadata{}, transportError(ctx, err)
	}
	defer resp.Body.Close()

	p, err := s.receive(ctx, resp)
	if err != nil {
		return core.Metadata{}, err
	}

	s.transition(StateValidating)
	if p.status < 200 || p.status > 299 {
		return core.Metadata{}, serverError(url, p.status, p.body)
	}

	md := core.Metadata{
		Name:         s.name,
		URL:          url,
		Path:         s.req.Destination,
		FilesChanged: filesChanged(p.header),
	}
	if s.req.Mode == core.ModeDelta {
		md.DeltaClient = delta.ClientKind
	}

	s.transition(StateCommitting)
	if err := s.commit(ctx, p, &md); err != nil {
		return core.Metadata{}, err
	}
	if md.Written || exists(s.req.Destination) {
		s.index(&md)
	}
	s.additional = splitList(p.header.Get(HeaderAdditional))

	s.logger.Info("bundle ready", "path", md.Path, "bytes", md.Bytes, "written", md.Written,
		"files_changed", md.FilesChanged)
	return md, nil
}

// filesChanged reads the changed-module count, FilesChangedUnknown when absent or invalid.
func filesChanged(h http.Header) int {
	v := h.Get(HeaderFilesChanged)
	if v == "" {
		return core.FilesChangedUnknown
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return core.FilesChangedUnknown
	}
	return n
}

func transportError(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil && !errors.Is(err, core.ErrCanceled):
		return fmt.Errorf("%w: %v", core.ErrCanceled, err)
	case errors.Is(err, core.ErrCanceled), errors.Is(err, core.ErrNetwork), errors.Is(err, core.ErrProtocol):
		return err
	default:
		return fmt.Errorf("%w: %v", core.ErrNetwork, err)
	}
}

// commit publishes the payload at the destination. Only a successful rename
// makes the artifact visible.
func (s *session) commit(ctx context.Context, p *payload, md *core.Metadata) error {
	dest := s.req.Destination
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("%w: %v", core.ErrFileSystem, err)
	}

	if s.req.Mode != core.ModeDelta {
		if s.primary {
			s.o.storeMu.Lock()
			s.o.store.Reset()
			s.o.storeMu.Unlock()
		}
		return s.write(ctx, p.body, md)
	}

	data, err := io.ReadAll(p.body)
	if err != nil {
		return readError(ctx, err)
	}
	msg, err := delta.Decode(p.header, data)
	if err != nil {
		return err
	}

	s.o.storeMu.Lock()
	if ctx.Err() != nil {
		s.o.storeMu.Unlock()
		return fmt.Errorf("%w: %v", core.ErrCanceled, ctx.Err())
	}
	changed := s.o.store.Apply(msg)
	var flat []byte
	if changed > 0 || !exists(dest) {
		flat = s.o.store.Flatten()
	}
	s.o.storeMu.Unlock()
	s.o.metrics.AddPatchModules(changed)
	s.logger.Debug("patch applied", "revision", msg.RevisionID, "reset", msg.Reset, "changed", changed)

	if len(flat) == 0 {
		if changed > 0 {
			s.logger.Debug("patch left store empty, keeping existing artifact", "path", dest, "changed", changed)
		}
		return nil
	}
	if err := s.write(ctx, bytes.NewReader(flat), md); err != nil {
		// The store is ahead of the file on disk; force a full resync next time.
		s.o.storeMu.Lock()
		s.o.store.Reset()
		s.o.storeMu.Unlock()
		return err
	}
	return nil
}

// write streams r into a temp file next to the destination and renames it
// into place. Empty payloads are discarded.
func (s *session) write(ctx context.Context, r io.Reader, md *core.Metadata) error {
	f, err := fs.CreateAtomic(s.req.Destination, s.o.config.FilePerm)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrFileSystem, err)
	}
	defer f.Discard()

	src := &trackingReader{r: r}
	n, err := f.ReadFrom(src)
	if err != nil {
		if src.err != nil {
			return readError(ctx, src.err)
		}
		return fmt.Errorf("%w: %v", core.ErrFileSystem, err)
	}
	if n == 0 {
		s.logger.Warn("empty payload discarded", "path", s.req.Destination)
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", core.ErrCanceled, ctx.Err())
	}
	if err := f.Commit(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrFileSystem, err)
	}

	md.Bytes = n
	md.Digest = f.Digest()
	md.Written = true
	s.o.metrics.AddCommitted(n)
	return nil
}

// index records the artifact. A no-op commit keeps the previous digest.
func (s *session) index(md *core.Metadata) {
	s.o.indexMu.Lock()
	defer s.o.indexMu.Unlock()
	if !md.Written {
		if prev, ok := s.o.index.Get(s.name); ok {
			md.Digest = prev.Digest
		}
	}
	s.o.index.PutEntry(core.IndexEntry{
		Name:      s.name,
		SourceURL: s.req.URL,
		LocalPath: s.req.Destination,
		Digest:    md.Digest,
	})
}

func readError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", core.ErrCanceled, ctx.Err())
	}
	if errors.Is(err, core.ErrProtocol) || errors.Is(err, core.ErrNetwork) {
		return err
	}
	return fmt.Errorf("%w: read body: %v", core.ErrNetwork, err)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// trackingReader remembers read errors so they can be told apart from
// write errors after io.Copy.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		t.err = err
	}
	return n, err
}
