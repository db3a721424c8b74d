package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/aretw0/devbundle/pkg/core"
	"github.com/aretw0/devbundle/pkg/fetch"
)

func TestNew_Wiring(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Client") != "devbundle-test" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, "bundle")
	}))
	defer srv.Close()

	dir := t.TempDir()
	reg := prometheus.NewRegistry()
	events := make(chan core.Event, 1)

	o, err := New(
		WithCacheDir(filepath.Join(dir, "cache")),
		WithHTTPClient(srv.Client()),
		WithHeader("X-Client", "devbundle-test"),
		WithMetrics(reg),
		WithEvents(events),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	md, err := o.Fetch(context.Background(), fetch.Request{URL: srv.URL + "/index.bundle", Destination: filepath.Join(dir, "index.jsbundle")})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !md.Written {
		t.Error("expected artifact to be written")
	}
	n, err := testutil.GatherAndCount(reg, "devbundle_fetch_total")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("fetch_total series = %d, want 1", n)
	}
	if e := <-events; e.Type != core.EventCommitted {
		t.Errorf("event = %v", e)
	}
}

func TestNew_InjectedTransport(t *testing.T) {
	called := false
	o, err := New(
		WithCacheDir(t.TempDir()),
		WithTransport(core.TransportFunc(func(ctx context.Context, req *core.Request) (*core.Response, error) {
			called = true
			return nil, fmt.Errorf("offline")
		})),
	)
	if err != nil {
		t.Fatal(err)
	}
	_, err = o.Fetch(context.Background(), fetch.Request{URL: "http://localhost:8081/index.bundle", Destination: filepath.Join(t.TempDir(), "a.js")})
	if err == nil || !called {
		t.Errorf("expected injected transport to be used, err = %v", err)
	}
}
