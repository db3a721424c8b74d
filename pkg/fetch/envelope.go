package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/aretw0/devbundle/pkg/core"
	"github.com/aretw0/devbundle/pkg/multipart"
)

const (
	// excerptLimit bounds the body text carried by an unstructured ServerError.
	excerptLimit = 4 * 1024
	// errorBodyLimit bounds how much of an error body is read for decoding.
	errorBodyLimit = 64 * 1024

	statusDownloading = "Downloading"
	statusBundling    = "Bundling"
)

// payload is the final body of a response with its effective status and headers.
type payload struct {
	status int
	header http.Header
	body   io.Reader
}

// receive picks the envelope format from the response Content-Type.
func (s *session) receive(ctx context.Context, resp *core.Response) (*payload, error) {
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err == nil && mediaType == "multipart/mixed" && params["boundary"] != "" {
		s.transition(StateMultipartDecoding)
		return s.receiveMultipart(ctx, resp, params["boundary"])
	}
	s.transition(StatePlainBody)
	return &payload{status: resp.StatusCode, header: resp.Header, body: resp.Body}, nil
}

func (s *session) receiveMultipart(ctx context.Context, resp *core.Response, boundary string) (*payload, error) {
	var opts []multipart.Option
	if s.o.config.ProgressInterval != 0 {
		opts = append(opts, multipart.WithProgressInterval(s.o.config.ProgressInterval))
	}
	r := multipart.NewReader(resp.Body, boundary, opts...)

	var final *multipart.Part
	completed, err := r.ReadAllParts(func(part multipart.Part) error {
		if part.Final {
			final = &part
			return nil
		}
		if strings.HasPrefix(part.Header.Get("Content-Type"), "application/json") {
			s.buildProgress(part.Body)
		}
		return nil
	}, s.downloadProgress)
	if err != nil {
		return nil, readError(ctx, err)
	}
	if !completed {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrCanceled, ctx.Err())
		}
		return nil, fmt.Errorf("%w: multipart stream truncated", core.ErrProtocol)
	}
	if final == nil {
		return nil, fmt.Errorf("%w: multipart stream has no final part", core.ErrProtocol)
	}

	header := resp.Header.Clone()
	for k, v := range final.Header {
		header.Set(k, v)
	}
	status := resp.StatusCode
	if v := final.Header.Get(HeaderStatus); v != "" {
		if code, err := strconv.Atoi(v); err == nil {
			status = code
		} else {
			s.logger.Debug("ignoring invalid status override", "value", v)
		}
	}
	return &payload{status: status, header: header, body: bytes.NewReader(final.Body)}, nil
}

type wireProgress struct {
	Status *string `json:"status"`
	Done   *int    `json:"done"`
	Total  *int    `json:"total"`
}

// buildProgress forwards a server-side build progress part. Malformed parts
// are skipped.
func (s *session) buildProgress(body []byte) {
	var w wireProgress
	if err := json.Unmarshal(body, &w); err != nil {
		s.logger.Debug("skipping malformed progress part", "error", err)
		return
	}
	p := core.Progress{Status: statusBundling, Done: w.Done, Total: w.Total}
	if w.Status != nil {
		p.Status = *w.Status
	}
	s.progress(p)
}

// downloadProgress reports the byte progress of the bundle part in KiB.
func (s *session) downloadProgress(h multipart.Header, loaded, total int64) {
	if !strings.HasPrefix(h.Get("Content-Type"), "application/javascript") {
		return
	}
	done := int(loaded / 1024)
	p := core.Progress{Status: statusDownloading, Done: &done}
	if total >= 0 {
		t := int(total / 1024)
		p.Total = &t
	}
	s.progress(p)
}

type wireServerError struct {
	Description string `json:"description"`
	Filename    string `json:"filename"`
	LineNumber  int    `json:"lineNumber"`
	Column      int    `json:"column"`
}

// serverError turns a non-2xx body into a *core.ServerError, structured when
// the body decodes as an error object.
func serverError(url string, status int, body io.Reader) error {
	data, _ := io.ReadAll(io.LimitReader(body, errorBodyLimit))
	se := &core.ServerError{URL: url, StatusCode: status}

	var w wireServerError
	if err := json.Unmarshal(data, &w); err == nil && w.Description != "" {
		se.Description = w.Description
		se.Filename = w.Filename
		se.LineNumber = w.LineNumber
		se.Column = w.Column
		return se
	}

	if len(data) > excerptLimit {
		data = data[:excerptLimit]
	}
	se.Excerpt = string(data)
	return se
}
