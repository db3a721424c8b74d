// Package httpx implements core.Transport over net/http.
package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/aretw0/devbundle/pkg/core"
)

// AcceptEncoding is advertised on every request.
const AcceptEncoding = "zstd, gzip"

// Transport issues requests with an http.Client and decodes compressed bodies.
type Transport struct {
	client *http.Client
	logger *slog.Logger
	header http.Header
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithHeader adds a header sent with every request.
func WithHeader(name, value string) Option {
	return func(t *Transport) {
		t.header.Add(name, value)
	}
}

// New creates a Transport. A nil client means http.DefaultClient.
func New(client *http.Client, opts ...Option) *Transport {
	if client == nil {
		client = http.DefaultClient
	}
	t := &Transport{
		client: client,
		header: http.Header{},
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return t
}

// Do implements core.Transport. Failures before a response arrives are
// wrapped in core.ErrNetwork; cancellation surfaces as core.ErrCanceled.
func (t *Transport) Do(ctx context.Context, req *core.Request) (*core.Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	hreq, err := http.NewRequestWithContext(ctx, method, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", core.ErrNetwork, err)
	}
	for k, vs := range t.header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}
	for k, vs := range req.Header {
		hreq.Header[k] = append([]string(nil), vs...)
	}
	hreq.Header.Set("Accept-Encoding", AcceptEncoding)

	t.logger.Debug("http request", "method", method, "url", req.URL)

	resp, err := t.client.Do(hreq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrCanceled, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w", core.ErrNetwork, err)
	}

	body, err := decodeBody(resp)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %w", core.ErrProtocol, err)
	}

	t.logger.Debug("http response",
		"url", req.URL,
		"status", resp.StatusCode,
		"content_type", resp.Header.Get("Content-Type"),
		"content_encoding", resp.Header.Get("Content-Encoding"),
	)

	return &core.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// decodeBody wraps the response body according to Content-Encoding. The
// header is removed once the body has been decoded.
func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "", "identity":
		return resp.Body, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Empty gzip body.
				resp.Header.Del("Content-Encoding")
				return resp.Body, nil
			}
			return nil, fmt.Errorf("gzip body: %w", err)
		}
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
		return &decodedBody{Reader: zr, closeFn: func() error {
			zr.Close()
			return resp.Body.Close()
		}}, nil
	case "zstd":
		zr, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("zstd body: %w", err)
		}
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
		return &decodedBody{Reader: zr, closeFn: func() error {
			zr.Close()
			return resp.Body.Close()
		}}, nil
	}
	return nil, fmt.Errorf("unsupported content encoding %q", encoding)
}

type decodedBody struct {
	io.Reader
	closeFn func() error
}

func (b *decodedBody) Close() error { return b.closeFn() }
