package core

import (
	"context"
	"io"
	"net/http"
)

// Request is a single HTTP exchange the orchestrator needs.
type Request struct {
	Method string
	URL    string
	Header http.Header
}

// Response is what a Transport hands back. The caller owns Body and must close it.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Transport is the HTTP request capability. Cancellation goes through ctx;
// implementations must return promptly once ctx is done.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req *Request) (*Response, error)

// Do implements Transport.
func (f TransportFunc) Do(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
