package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/devbundle/internal/platform"
	"github.com/aretw0/devbundle/pkg/core"
)

func TestBuildRequest(t *testing.T) {
	t.Cleanup(func() { fetchMode, fetchDest = "", "" })
	cfg := platform.DefaultConfig()

	req, err := buildRequest(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, cfg.BundleURL(), req.URL)
	assert.Equal(t, core.ModePlain, req.Mode)
	assert.Equal(t, cfg.Destination, req.Destination)

	req, err = buildRequest(cfg, []string{"http://localhost:8081/app.delta"})
	require.NoError(t, err)
	assert.Equal(t, core.ModeDelta, req.Mode)

	fetchMode, fetchDest = "plain", "/tmp/out.js"
	req, err = buildRequest(cfg, []string{"http://localhost:8081/app.delta"})
	require.NoError(t, err)
	assert.Equal(t, core.ModePlain, req.Mode)
	assert.Equal(t, "/tmp/out.js", req.Destination)

	fetchMode = "never"
	_, err = buildRequest(cfg, nil)
	assert.Error(t, err)
}

func TestFetchAndIndexCommands(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "bundle body")
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "devbundle.yaml")
	content := fmt.Sprintf("server: %s\nentry: index\ncache_dir: cache\ndestination: out/index.jsbundle\n", srv.URL)
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))

	run := func(args ...string) string {
		t.Helper()
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetErr(&out)
		rootCmd.SetArgs(append([]string{"--config", cfgPath}, args...))
		require.NoError(t, rootCmd.Execute())
		return out.String()
	}

	out := run("fetch")
	assert.Contains(t, out, "index -> ")

	data, err := os.ReadFile(filepath.Join(dir, "out", "index.jsbundle"))
	require.NoError(t, err)
	assert.Equal(t, "bundle body", string(data))

	out = run("index", "list")
	assert.True(t, strings.HasPrefix(out, "NAME"))
	assert.Contains(t, out, filepath.Join(dir, "out", "index.jsbundle"))

	out = run("index", "lookup", filepath.Join(dir, "out", "index.jsbundle"))
	assert.Contains(t, out, "name:       index")
}
