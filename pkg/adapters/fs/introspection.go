package fs

import (
	"time"

	"github.com/aretw0/introspection"
)

// IndexState exposes the artifact index for observability.
type IndexState struct {
	Path    string `json:"path"`
	Entries int    `json:"entries"`
	Dirty   bool   `json:"dirty"`
}

// State implements introspection.Introspectable.
func (x *Index) State() any {
	return IndexState{
		Path:    x.Path,
		Entries: x.entries.Len(),
		Dirty:   x.dirty,
	}
}

// ComponentType implements introspection.Component.
func (x *Index) ComponentType() string {
	return "artifact-index"
}

var _ introspection.Introspectable = (*Index)(nil)
var _ introspection.Component = (*Index)(nil)

// WatcherStatus is a point-in-time view of a Watcher.
type WatcherStatus struct {
	Root      string     `json:"root"`
	Patterns  []string   `json:"patterns,omitempty"`
	Active    bool       `json:"active"`
	LastEvent *time.Time `json:"last_event,omitempty"`
}

// Status reports the watcher configuration and activity.
func (w *Watcher) Status() WatcherStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WatcherStatus{
		Root:      w.config.Root,
		Patterns:  w.config.Patterns,
		Active:    w.active,
		LastEvent: w.lastEvent,
	}
}
