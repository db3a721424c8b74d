package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/devbundle/pkg/core"
)

func startWatcher(t *testing.T, cfg WatcherConfig) *Watcher {
	t.Helper()
	w := NewWatcher(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		_ = w.Stop(stopCtx)
		cancel()
	})
	waitActive(t, w)
	return w
}

func waitActive(t *testing.T, w *Watcher) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !w.Active() {
		select {
		case <-deadline:
			t.Fatal("timeout waiting for watcher to become active")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func nextEvent(t *testing.T, w *Watcher, timeout time.Duration) (core.Event, bool) {
	t.Helper()
	select {
	case e, ok := <-w.Events():
		return e, ok
	case <-time.After(timeout):
		return core.Event{}, false
	}
}

func TestWatcher_ReportsMatchingFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0755))

	w := startWatcher(t, WatcherConfig{
		Root:     root,
		Patterns: []string{"**/*.js"},
		Debounce: 20 * time.Millisecond,
	})

	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "app.js"), []byte("x"), 0644))

	e, ok := nextEvent(t, w, 2*time.Second)
	require.True(t, ok, "expected an event for app.js")
	assert.Equal(t, "src/app.js", e.ID)
	assert.Contains(t, []core.EventType{core.EventCreate, core.EventModify}, e.Type)

	_, ok = nextEvent(t, w, 150*time.Millisecond)
	assert.False(t, ok, "notes.txt must be filtered out")
	assert.NotNil(t, w.Status().LastEvent)
}

func TestWatcher_IgnoresTempFilesAndHiddenDirs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".devbundle"), 0755))

	w := startWatcher(t, WatcherConfig{Root: root, Debounce: 20 * time.Millisecond})

	require.NoError(t, os.WriteFile(filepath.Join(root, TempFilePrefix+"123"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".devbundle", "index.bundle"), []byte("x"), 0644))

	_, ok := nextEvent(t, w, 200*time.Millisecond)
	assert.False(t, ok)
}

func TestWatcher_CoalescesBursts(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, WatcherConfig{
		Root:     root,
		Debounce: 150 * time.Millisecond,
		Coalesce: true,
	})

	for _, name := range []string{"a.js", "b.js", "c.js"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(name), 0644))
	}

	_, ok := nextEvent(t, w, 2*time.Second)
	require.True(t, ok)
	_, ok = nextEvent(t, w, 300*time.Millisecond)
	assert.False(t, ok, "a burst collapses into a single event")
}

func TestWatcher_StopClosesEvents(t *testing.T) {
	w := NewWatcher(WatcherConfig{Root: t.TempDir()})
	require.NoError(t, w.Start(context.Background()))
	waitActive(t, w)

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, w.Stop(stopCtx))

	select {
	case _, ok := <-w.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed after Stop")
	}
	assert.False(t, w.Active())
}

func TestDebouncer_LastEventWins(t *testing.T) {
	d := newDebouncer(30 * time.Millisecond)
	got := make(chan core.Event, 4)
	fire := func(e core.Event) { got <- e }

	d.add("k", core.Event{ID: "first"}, fire)
	d.add("k", core.Event{ID: "second"}, fire)
	d.add("other", core.Event{ID: "third"}, fire)

	seen := map[string]bool{}
	for range 2 {
		select {
		case e := <-got:
			seen[e.ID] = true
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for debounced event")
		}
	}
	assert.Equal(t, map[string]bool{"second": true, "third": true}, seen)
	assert.True(t, d.stopAndWait(time.Second))

	d.add("k", core.Event{ID: "late"}, fire)
	select {
	case e := <-got:
		t.Fatalf("stopped debouncer fired %v", e)
	case <-time.After(80 * time.Millisecond):
	}
}
