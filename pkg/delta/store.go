// Package delta keeps the module sections of a bundle in memory and applies
// the patch messages the development server sends against them.
//
// The three sections are the authoritative cache: the server only sends what
// changed since the revision we announce, and the full artifact is rebuilt
// from the sections on every commit.
package delta

import (
	"bytes"
	"net/url"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/aretw0/devbundle/pkg/core"
)

// ClientKind is reported in core.Metadata.DeltaClient for delta commits.
const ClientKind = "ordered-sections"

// RevisionParam is the query parameter carrying the known revision id.
const RevisionParam = "revisionId"

type section = orderedmap.OrderedMap[int, []byte]

// Store holds the pre, delta and post sections and the revision they
// correspond to. It is not safe for concurrent use; the owner serializes access.
type Store struct {
	pre        *section
	delta      *section
	post       *section
	revisionID string
}

// New returns an empty store.
func New() *Store {
	return &Store{
		pre:   orderedmap.New[int, []byte](),
		delta: orderedmap.New[int, []byte](),
		post:  orderedmap.New[int, []byte](),
	}
}

// Apply patches the sections and returns the number of entries processed.
// Zero means the flattened artifact is unchanged.
func (s *Store) Apply(msg core.PatchMessage) int {
	changed := 0
	if msg.Reset {
		changed += s.Len()
		s.clearSections()
	}

	changed += s.patch(s.pre, msg.Pre)
	changed += s.patch(s.delta, msg.Delta)
	changed += s.patch(s.post, msg.Post)

	if msg.RevisionID != "" {
		s.revisionID = msg.RevisionID
	}
	return changed
}

func (s *Store) patch(target *section, entries []core.PatchEntry) int {
	for _, e := range entries {
		if e.Tombstone {
			target.Delete(e.ID)
			continue
		}
		// An id lives in exactly one section.
		for _, other := range [...]*section{s.pre, s.delta, s.post} {
			if other != target {
				other.Delete(e.ID)
			}
		}
		target.Set(e.ID, e.Content)
	}
	return len(entries)
}

// Flatten rebuilds the full artifact: every pre module, then delta, then
// post, each followed by a newline.
func (s *Store) Flatten() []byte {
	var b bytes.Buffer
	for _, sec := range [...]*section{s.pre, s.delta, s.post} {
		for p := sec.Oldest(); p != nil; p = p.Next() {
			b.Write(p.Value)
			b.WriteByte('\n')
		}
	}
	return b.Bytes()
}

// Reset drops every module and the revision id.
func (s *Store) Reset() {
	s.clearSections()
	s.revisionID = ""
}

func (s *Store) clearSections() {
	s.pre = orderedmap.New[int, []byte]()
	s.delta = orderedmap.New[int, []byte]()
	s.post = orderedmap.New[int, []byte]()
}

// RevisionID returns the revision the sections correspond to, if any.
func (s *Store) RevisionID() (string, bool) {
	return s.revisionID, s.revisionID != ""
}

// Len returns the number of modules across all sections.
func (s *Store) Len() int {
	return s.pre.Len() + s.delta.Len() + s.post.Len()
}

// Annotate adds the known revision id to a delta request URL. Plain
// requests, unknown revisions and unparsable URLs are returned unchanged.
func (s *Store) Annotate(rawURL string, mode core.Mode) string {
	if mode != core.ModeDelta || s.revisionID == "" {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	if q.Has(RevisionParam) {
		q.Set(RevisionParam, s.revisionID)
		u.RawQuery = q.Encode()
		return u.String()
	}
	pair := RevisionParam + "=" + url.QueryEscape(s.revisionID)
	if u.RawQuery == "" {
		u.RawQuery = pair
	} else {
		u.RawQuery += "&" + pair
	}
	return u.String()
}
