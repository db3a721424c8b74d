// Package multipart reads a multipart/mixed response body incrementally.
//
// The development server streams build progress as a sequence of parts and
// finishes with the bundle itself. Parts are framed by
//
//	\r\n--<boundary>\r\n      (delimiter)
//	\r\n--<boundary>--\r\n    (closing delimiter)
//
// and each part carries an optional header block terminated by a blank line.
// Bytes arrive in arbitrarily small increments, so a delimiter may straddle two
// reads; the reader keeps a growing buffer and re-searches only the tail that
// could still contain one.
package multipart

import (
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBufferSize is the number of bytes requested per read.
const DefaultBufferSize = 4 * 1024

// DefaultProgressInterval bounds how often in-flight progress is reported.
const DefaultProgressInterval = 16 * time.Millisecond

var (
	crlf            = []byte("\r\n")
	headerSeparator = []byte("\r\n\r\n")
)

// Header is the parsed header block of a part. A nil Header means the part
// had no header block at all.
type Header map[string]string

// Get returns the value of a header, matching the name case-insensitively.
func (h Header) Get(name string) string {
	if h == nil {
		return ""
	}
	if v, ok := h[name]; ok {
		return v
	}
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// ContentLength returns the declared Content-Length, or -1.
func (h Header) ContentLength() int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(h.Get("Content-Length")), 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// Part is one delimited section of the stream.
type Part struct {
	Header Header
	Body   []byte
	// Final is set on the part preceding the closing delimiter.
	Final bool
}

// PartFunc receives every completed part in stream order. A non-nil error
// stops reading and is returned from ReadAllParts unchanged.
type PartFunc func(p Part) error

// ProgressFunc receives body progress of the part currently being read.
// loaded excludes the header block; total is the declared Content-Length or -1.
type ProgressFunc func(h Header, loaded, total int64)

// Reader splits a byte stream into parts. It is not safe for concurrent use
// and assumes exclusive ownership of its source.
type Reader struct {
	src        io.Reader
	boundary   string
	bufferSize int
	interval   time.Duration
}

// Option configures a Reader.
type Option func(*Reader)

// WithBufferSize sets how many bytes are requested per read.
func WithBufferSize(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.bufferSize = n
		}
	}
}

// WithProgressInterval sets the minimum wall time between progress reports.
// Zero or less reports on every read.
func WithProgressInterval(d time.Duration) Option {
	return func(r *Reader) {
		r.interval = d
	}
}

// NewReader creates a reader for src framed by boundary.
func NewReader(src io.Reader, boundary string, opts ...Option) *Reader {
	r := &Reader{
		src:        src,
		boundary:   boundary,
		bufferSize: DefaultBufferSize,
		interval:   DefaultProgressInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReadAllParts consumes the source until the closing delimiter is found, in
// which case it returns true. If the source ends first the stream was
// truncated and it returns false with a nil error; the part that was being
// read is not delivered. Read errors other than io.EOF are returned as-is.
//
// onProgress may be nil.
func (r *Reader) ReadAllParts(onPart PartFunc, onProgress ProgressFunc) (bool, error) {
	delimiter := []byte("\r\n--" + r.boundary + "\r\n")
	closeDelimiter := []byte("\r\n--" + r.boundary + "--\r\n")

	throttle := &rate.Sometimes{Interval: r.interval}
	progress := func(h Header, loaded int64, done bool) {
		if onProgress == nil || h == nil {
			return
		}
		total := h.ContentLength()
		if total >= 0 && loaded > total {
			loaded = total
		}
		if done || r.interval <= 0 {
			onProgress(h, loaded, total)
			return
		}
		throttle.Do(func() { onProgress(h, loaded, total) })
	}

	var (
		content    []byte
		chunkStart int // 0 until the first delimiter; afterwards len(delimiter)
		bytesSeen  int
		headers    Header
		headersLen int
	)
	buf := make([]byte, r.bufferSize)

	for {
		searchStart := max(bytesSeen-len(closeDelimiter), chunkStart)

		isClose := false
		idx := indexFrom(content, delimiter, searchStart)
		if idx == -1 {
			isClose = true
			idx = indexFrom(content, closeDelimiter, searchStart)
		}

		if idx == -1 {
			bytesSeen = len(content)
			if chunkStart > 0 {
				if headers == nil {
					if sep := indexFrom(content, headerSeparator, chunkStart); sep >= 0 {
						headers = parseHeaders(content[chunkStart:sep])
						headersLen = sep + len(headerSeparator) - chunkStart
					}
				} else {
					// The tail may still be the start of a delimiter.
					loaded := len(content) - chunkStart - headersLen - (len(closeDelimiter) - 1)
					progress(headers, int64(max(loaded, 0)), false)
				}
			}

			n, err := r.src.Read(buf)
			if n > 0 {
				content = append(content, buf[:n]...)
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					if n > 0 {
						continue
					}
					return false, nil
				}
				return false, err
			}
			continue
		}

		if chunkStart > 0 {
			part := splitPart(content[chunkStart:idx])
			part.Final = isClose
			if part.Header != nil {
				progress(part.Header, int64(len(part.Body)), true)
			}
			if err := onPart(part); err != nil {
				return false, err
			}
		}
		// else: preamble before the first delimiter, dropped.

		if isClose {
			return true, nil
		}

		// Keep the delimiter at the head so chunkStart stays constant.
		content = append(content[:0:0], content[idx:]...)
		chunkStart = len(delimiter)
		bytesSeen = chunkStart
		headers = nil
		headersLen = 0
	}
}

func indexFrom(b, sep []byte, from int) int {
	if from < 0 {
		from = 0
	}
	if from >= len(b) {
		return -1
	}
	i := bytes.Index(b[from:], sep)
	if i < 0 {
		return -1
	}
	return from + i
}

// splitPart separates the header block from the body. Without a separator
// the whole chunk is body and the header is absent.
func splitPart(chunk []byte) Part {
	sep := bytes.Index(chunk, headerSeparator)
	if sep < 0 {
		return Part{Body: bytes.Clone(chunk)}
	}
	return Part{
		Header: parseHeaders(chunk[:sep]),
		Body:   bytes.Clone(chunk[sep+len(headerSeparator):]),
	}
}

// parseHeaders reads "name: value" lines. Lines without a colon are skipped.
func parseHeaders(block []byte) Header {
	h := Header{}
	for _, line := range bytes.Split(block, crlf) {
		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			continue
		}
		name := strings.TrimSpace(string(line[:colon]))
		if name == "" {
			continue
		}
		h[name] = strings.TrimSpace(string(line[colon+1:]))
	}
	return h
}
