package core

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for programmatic handling. Callers use errors.Is to tell
// the failure classes apart; the concrete cause stays wrapped beneath.
var (
	// ErrNetwork is a connect or I/O failure before a response was obtained.
	ErrNetwork = errors.New("network error")
	// ErrProtocol covers malformed framing, truncated streams and malformed patches.
	ErrProtocol = errors.New("protocol error")
	// ErrServer is a non-2xx response.
	ErrServer = errors.New("server reported error")
	// ErrFileSystem is a temp-file write or rename failure.
	ErrFileSystem = errors.New("file system error")
	// ErrCanceled is returned when a session was superseded or cancelled.
	ErrCanceled = errors.New("fetch canceled")
)

// ServerError carries what the development server told us about a failed build.
type ServerError struct {
	URL        string
	StatusCode int
	// Structured fields, present when the body decoded as an error object.
	Description string
	Filename    string
	LineNumber  int
	Column      int
	// Excerpt is the leading part of an unstructured body.
	Excerpt string
}

// Structured reports whether the server sent a decodable error object.
func (e *ServerError) Structured() bool {
	return e.Description != ""
}

func (e *ServerError) Error() string {
	var b strings.Builder
	if e.Structured() {
		b.WriteString(e.Description)
		if e.Filename != "" {
			fmt.Fprintf(&b, "\n\n%s (%d:%d)", e.Filename, e.LineNumber, e.Column)
		}
		return b.String()
	}
	fmt.Fprintf(&b, "the development server returned response error code: %d\n\nURL: %s", e.StatusCode, e.URL)
	if e.Excerpt != "" {
		fmt.Fprintf(&b, "\n\nBody:\n%s", e.Excerpt)
	}
	return b.String()
}

func (e *ServerError) Unwrap() error { return ErrServer }
