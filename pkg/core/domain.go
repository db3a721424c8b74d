// Package core holds the bundle delivery domain: transport modes, patch messages,
// artifact metadata and the ports the orchestrator talks to.
package core

import (
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Mode selects how a bundle URL is fetched and committed.
type Mode string

const (
	// ModePlain fetches the full artifact and streams it to disk.
	ModePlain Mode = "plain"
	// ModeDelta fetches a patch message against the cached revision and
	// rebuilds the artifact from the in-memory sections.
	ModeDelta Mode = "delta"
)

// DeltaPattern matches URL paths served by the delta endpoint.
const DeltaPattern = "**/*.delta"

// DetectMode infers the transport mode from the URL path shape.
// Only used where the caller asked for automatic detection.
func DetectMode(rawURL string) Mode {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ModePlain
	}
	path := strings.TrimPrefix(u.Path, "/")
	if ok, _ := doublestar.Match(DeltaPattern, path); ok {
		return ModeDelta
	}
	return ModePlain
}

// ParseMode accepts "plain", "delta" or "auto" (resolved against rawURL).
func ParseMode(s, rawURL string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return DetectMode(rawURL), true
	case string(ModePlain):
		return ModePlain, true
	case string(ModeDelta):
		return ModeDelta, true
	}
	return "", false
}

// PatchEntry is one (id, content|tombstone) pair of a patch section.
type PatchEntry struct {
	ID        int
	Content   []byte
	Tombstone bool
}

// PatchMessage describes added, updated and removed modules relative to a
// previously known revision.
type PatchMessage struct {
	RevisionID string
	// Reset clears every section before the entries are applied.
	Reset bool
	Pre   []PatchEntry
	Delta []PatchEntry
	Post  []PatchEntry
}

// Len returns the number of entries across all sections.
func (m PatchMessage) Len() int {
	return len(m.Pre) + len(m.Delta) + len(m.Post)
}

// FilesChangedUnknown is reported when the server did not send a parsable
// files-changed counter.
const FilesChangedUnknown = -1

// Metadata describes one committed artifact.
type Metadata struct {
	Name         string     `json:"name"`
	URL          string     `json:"url"`
	Path         string     `json:"path"`
	DeltaClient  string     `json:"delta_client,omitempty"`
	FilesChanged int        `json:"files_changed"`
	Bytes        int64      `json:"bytes"`
	Digest       string     `json:"digest,omitempty"`
	Written      bool       `json:"written"`
	Additional   []Metadata `json:"additional,omitempty"`
}

// Progress is a status update reported while a bundle is being built or
// downloaded. Done and Total are optional.
type Progress struct {
	Status string
	Done   *int
	Total  *int
}

// IndexEntry is a persisted name → (source URL, local path) association.
type IndexEntry struct {
	Name      string `json:"name"`
	SourceURL string `json:"source_url"`
	LocalPath string `json:"local_path"`
	Digest    string `json:"digest,omitempty"`
	UpdatedAt int64  `json:"updated_at,omitempty"` // Unix seconds
}

// EventType represents the type of pipeline or source change.
type EventType string

const (
	EventCreate    EventType = "CREATE"
	EventModify    EventType = "MODIFY"
	EventDelete    EventType = "DELETE"
	EventProgress  EventType = "PROGRESS"
	EventCommitted EventType = "COMMITTED"
	EventFailed    EventType = "FAILED"
)

// Event is emitted by the source watcher and by fetch sessions.
type Event struct {
	Type      EventType
	ID        string // source path or artifact name
	Detail    string
	Timestamp int64 // Unix timestamp
}

// String implements lifecycle.Event.
func (e Event) String() string {
	if e.Detail == "" {
		return string(e.Type) + " " + e.ID
	}
	return string(e.Type) + " " + e.ID + ": " + e.Detail
}
