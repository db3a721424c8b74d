package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/aretw0/devbundle/pkg/core"
)

// IndexFileName is the name of the persisted artifact index inside the cache dir.
const IndexFileName = "artifacts.json"

const indexVersion = 1

// indexFile is the on-disk form. Entries are stored as a list so that
// insertion order survives a round trip.
type indexFile struct {
	Version int               `json:"version"`
	Entries []core.IndexEntry `json:"entries"`
}

// Index maps artifact names to the URL they were fetched from and the path
// they were committed to. Reverse lookups scan in insertion order and return
// the first match.
//
// Index does no locking; callers serialize access.
type Index struct {
	Path    string // Path to artifacts.json
	entries *orderedmap.OrderedMap[string, core.IndexEntry]
	dirty   bool
	now     func() time.Time
}

// NewIndex creates an empty index persisted at path.
func NewIndex(path string) *Index {
	return &Index{
		Path:    path,
		entries: orderedmap.New[string, core.IndexEntry](),
		now:     time.Now,
	}
}

// NewIndexInDir creates an index at {dir}/artifacts.json.
func NewIndexInDir(dir string) *Index {
	return NewIndex(filepath.Join(dir, IndexFileName))
}

// Put records where an artifact came from and where it lives now.
func (x *Index) Put(name, sourceURL, localPath string) {
	x.PutEntry(core.IndexEntry{Name: name, SourceURL: sourceURL, LocalPath: localPath})
}

// PutEntry creates or overwrites the entry for e.Name. An existing entry
// keeps its position.
func (x *Index) PutEntry(e core.IndexEntry) {
	if e.UpdatedAt == 0 {
		e.UpdatedAt = x.now().Unix()
	}
	x.entries.Set(e.Name, e)
	x.dirty = true
}

// Get returns the entry for name.
func (x *Index) Get(name string) (core.IndexEntry, bool) {
	return x.entries.Get(name)
}

// SourceURLOf returns the URL the named artifact was fetched from.
func (x *Index) SourceURLOf(name string) (string, bool) {
	e, ok := x.entries.Get(name)
	return e.SourceURL, ok
}

// LocalPathOf returns where the named artifact was committed.
func (x *Index) LocalPathOf(name string) (string, bool) {
	e, ok := x.entries.Get(name)
	return e.LocalPath, ok
}

// NameOfSourceURL returns the first artifact fetched from url.
func (x *Index) NameOfSourceURL(url string) (string, bool) {
	e, ok := x.find(func(e core.IndexEntry) bool { return e.SourceURL == url })
	return e.Name, ok
}

// NameOfLocalPath returns the first artifact committed to path.
func (x *Index) NameOfLocalPath(path string) (string, bool) {
	e, ok := x.find(func(e core.IndexEntry) bool { return e.LocalPath == path })
	return e.Name, ok
}

// LocalPathOfSourceURL returns where the first artifact fetched from url lives.
func (x *Index) LocalPathOfSourceURL(url string) (string, bool) {
	e, ok := x.find(func(e core.IndexEntry) bool { return e.SourceURL == url })
	return e.LocalPath, ok
}

func (x *Index) find(match func(core.IndexEntry) bool) (core.IndexEntry, bool) {
	for p := x.entries.Oldest(); p != nil; p = p.Next() {
		if match(p.Value) {
			return p.Value, true
		}
	}
	return core.IndexEntry{}, false
}

// Entries returns a copy of all entries in insertion order.
func (x *Index) Entries() []core.IndexEntry {
	out := make([]core.IndexEntry, 0, x.entries.Len())
	for p := x.entries.Oldest(); p != nil; p = p.Next() {
		out = append(out, p.Value)
	}
	return out
}

// Len returns the number of entries.
func (x *Index) Len() int {
	return x.entries.Len()
}

// Delete removes a single entry.
func (x *Index) Delete(name string) {
	if _, ok := x.entries.Delete(name); ok {
		x.dirty = true
	}
}

// Prune removes entries for which keep returns false and reports how many went.
func (x *Index) Prune(keep func(core.IndexEntry) bool) int {
	var drop []string
	for p := x.entries.Oldest(); p != nil; p = p.Next() {
		if !keep(p.Value) {
			drop = append(drop, p.Key)
		}
	}
	for _, name := range drop {
		x.entries.Delete(name)
	}
	if len(drop) > 0 {
		x.dirty = true
	}
	return len(drop)
}

// Marshal serializes the index.
func (x *Index) Marshal() ([]byte, error) {
	return json.MarshalIndent(indexFile{Version: indexVersion, Entries: x.Entries()}, "", "  ")
}

// Unmarshal replaces the contents with a serialized index.
func (x *Index) Unmarshal(data []byte) error {
	var f indexFile
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	if f.Version != indexVersion {
		return fmt.Errorf("unsupported index version %d", f.Version)
	}
	entries := orderedmap.New[string, core.IndexEntry]()
	for _, e := range f.Entries {
		if e.Name == "" {
			return fmt.Errorf("index entry without name")
		}
		entries.Set(e.Name, e)
	}
	x.entries = entries
	x.dirty = false
	return nil
}

// Load reads the index from disk. A missing file is an empty index; a corrupt
// one is discarded so the next Save heals it.
func (x *Index) Load() error {
	data, err := os.ReadFile(x.Path)
	if os.IsNotExist(err) {
		return nil // Start fresh
	}
	if err != nil {
		return fmt.Errorf("failed to read artifact index: %w", err)
	}

	if err := x.Unmarshal(data); err != nil {
		x.entries = orderedmap.New[string, core.IndexEntry]()
		x.dirty = true
		return nil
	}
	return nil
}

// Save persists the index if it changed since the last Load or Save.
func (x *Index) Save() error {
	if !x.dirty {
		return nil
	}

	data, err := x.Marshal()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(x.Path), 0755); err != nil {
		return err
	}

	if err := WriteFileAtomic(x.Path, data, 0644); err != nil {
		return err
	}

	x.dirty = false
	return nil
}
