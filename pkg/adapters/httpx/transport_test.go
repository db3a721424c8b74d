package httpx

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/devbundle/pkg/core"
)

const payload = "__d(function(){console.log('hello')},0,[]);\n"

func encoded(t *testing.T, encoding string) []byte {
	t.Helper()
	var b bytes.Buffer
	switch encoding {
	case "gzip":
		zw := gzip.NewWriter(&b)
		_, err := zw.Write([]byte(payload))
		require.NoError(t, err)
		require.NoError(t, zw.Close())
	case "zstd":
		zw, err := zstd.NewWriter(&b)
		require.NoError(t, err)
		_, err = zw.Write([]byte(payload))
		require.NoError(t, err)
		require.NoError(t, zw.Close())
	default:
		b.WriteString(payload)
	}
	return b.Bytes()
}

func TestTransport_DecodesBodies(t *testing.T) {
	for _, encoding := range []string{"", "gzip", "zstd"} {
		t.Run("encoding="+encoding, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, AcceptEncoding, r.Header.Get("Accept-Encoding"))
				assert.Equal(t, "multipart/mixed", r.Header.Get("Accept"))
				assert.Equal(t, "devbundle", r.Header.Get("User-Agent"))
				if encoding != "" {
					w.Header().Set("Content-Encoding", encoding)
				}
				_, _ = w.Write(encoded(t, encoding))
			}))
			defer srv.Close()

			tr := New(srv.Client(), WithHeader("User-Agent", "devbundle"))
			resp, err := tr.Do(context.Background(), &core.Request{
				URL:    srv.URL + "/index.bundle",
				Header: http.Header{"Accept": {"multipart/mixed"}},
			})
			require.NoError(t, err)
			defer resp.Body.Close()

			got, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, payload, string(got))
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Empty(t, resp.Header.Get("Content-Encoding"))
		})
	}
}

func TestTransport_UnsupportedEncoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "br")
		_, _ = w.Write([]byte("???"))
	}))
	defer srv.Close()

	_, err := New(srv.Client()).Do(context.Background(), &core.Request{URL: srv.URL})
	assert.ErrorIs(t, err, core.ErrProtocol)
}

func TestTransport_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(nil).Do(context.Background(), &core.Request{URL: url})
	assert.ErrorIs(t, err, core.ErrNetwork)
}

func TestTransport_Canceled(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(srv.Client()).Do(ctx, &core.Request{URL: srv.URL})
	assert.ErrorIs(t, err, core.ErrCanceled)
}
