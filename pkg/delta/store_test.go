package delta

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/devbundle/pkg/core"
)

func entry(id int, content string) core.PatchEntry {
	return core.PatchEntry{ID: id, Content: []byte(content)}
}

func tombstone(id int) core.PatchEntry {
	return core.PatchEntry{ID: id, Tombstone: true}
}

func TestStore_Apply(t *testing.T) {
	s := New()

	n := s.Apply(core.PatchMessage{
		Pre:   []core.PatchEntry{entry(1, "a")},
		Delta: []core.PatchEntry{entry(2, "b")},
		Post:  []core.PatchEntry{entry(3, "c")},
	})
	assert.Equal(t, 3, n)
	assert.Equal(t, "a\nb\nc\n", string(s.Flatten()), "sections flatten in order")

	t.Run("Update Preserves Position", func(t *testing.T) {
		s.Apply(core.PatchMessage{Delta: []core.PatchEntry{entry(2, "b2")}})
		assert.Equal(t, "a\nb2\nc\n", string(s.Flatten()))
	})

	t.Run("Tombstone Removes", func(t *testing.T) {
		n := s.Apply(core.PatchMessage{Delta: []core.PatchEntry{tombstone(2)}})
		assert.Equal(t, 1, n)
		assert.Equal(t, "a\nc\n", string(s.Flatten()))
	})

	t.Run("Tombstone Of Missing Id Is Harmless", func(t *testing.T) {
		s.Apply(core.PatchMessage{Post: []core.PatchEntry{tombstone(99)}})
		assert.Equal(t, "a\nc\n", string(s.Flatten()))
	})

	t.Run("Empty Message Is A No-op", func(t *testing.T) {
		assert.Equal(t, 0, s.Apply(core.PatchMessage{}))
		assert.Equal(t, "a\nc\n", string(s.Flatten()))
	})
}

func TestStore_InsertAppends(t *testing.T) {
	s := New()
	s.Apply(core.PatchMessage{Delta: []core.PatchEntry{entry(5, "five"), entry(1, "one")}})
	s.Apply(core.PatchMessage{Delta: []core.PatchEntry{entry(3, "three"), entry(5, "FIVE")}})
	assert.Equal(t, "FIVE\none\nthree\n", string(s.Flatten()))
}

func TestStore_IdLivesInOneSection(t *testing.T) {
	s := New()
	s.Apply(core.PatchMessage{Pre: []core.PatchEntry{entry(1, "a")}, Post: []core.PatchEntry{entry(2, "z")}})
	s.Apply(core.PatchMessage{Delta: []core.PatchEntry{entry(1, "moved")}})

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, "moved\nz\n", string(s.Flatten()))
}

func TestStore_ResetMessage(t *testing.T) {
	s := New()
	s.Apply(core.PatchMessage{RevisionID: "r1", Delta: []core.PatchEntry{entry(1, "old"), entry(2, "gone")}})

	n := s.Apply(core.PatchMessage{RevisionID: "r2", Reset: true, Delta: []core.PatchEntry{entry(1, "new")}})
	assert.Equal(t, 3, n, "cleared modules count as changes")
	assert.Equal(t, "new\n", string(s.Flatten()))

	rev, ok := s.RevisionID()
	assert.True(t, ok)
	assert.Equal(t, "r2", rev)
}

func TestStore_Reset(t *testing.T) {
	s := New()
	s.Apply(core.PatchMessage{RevisionID: "abc", Pre: []core.PatchEntry{entry(1, "a")}})
	s.Reset()

	_, ok := s.RevisionID()
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.Flatten())
}

func TestStore_Annotate(t *testing.T) {
	s := New()
	const u = "http://localhost:8081/index.delta?platform=android"

	assert.Equal(t, u, s.Annotate(u, core.ModeDelta), "no revision known yet")

	s.Apply(core.PatchMessage{RevisionID: "rev 1"})
	assert.Equal(t, u, s.Annotate(u, core.ModePlain), "plain requests are never annotated")
	assert.Equal(t, u+"&revisionId=rev+1", s.Annotate(u, core.ModeDelta))
	assert.Equal(t, "http://h/index.delta?revisionId=rev+1", s.Annotate("http://h/index.delta", core.ModeDelta))
	assert.Equal(t, "http://h/index.delta?revisionId=rev+1", s.Annotate("http://h/index.delta?revisionId=old", core.ModeDelta))
}

func TestDecode(t *testing.T) {
	t.Run("Full Message", func(t *testing.T) {
		msg, err := Decode(nil, []byte(`{"id":"r7","pre":[[1,"a"]],"delta":[[2,null],[3,"c"]],"post":[],"unknown":{"x":1}}`))
		require.NoError(t, err)
		assert.Equal(t, "r7", msg.RevisionID)
		assert.Equal(t, []core.PatchEntry{entry(1, "a")}, msg.Pre)
		assert.Equal(t, []core.PatchEntry{tombstone(2), entry(3, "c")}, msg.Delta)
		assert.Empty(t, msg.Post)
		assert.Equal(t, 3, msg.Len())
	})

	t.Run("Revision From Alias And Header", func(t *testing.T) {
		msg, err := Decode(nil, []byte(`{"revisionId":"alias"}`))
		require.NoError(t, err)
		assert.Equal(t, "alias", msg.RevisionID)

		h := http.Header{}
		h.Set(HeaderRevision, "from-header")
		msg, err = Decode(h, []byte(`{}`))
		require.NoError(t, err)
		assert.Equal(t, "from-header", msg.RevisionID)
		assert.Equal(t, 0, msg.Len())
	})

	malformed := map[string]string{
		"empty":          ``,
		"not json":       `<html>`,
		"array root":     `[]`,
		"short entry":    `{"pre":[[1]]}`,
		"string id":      `{"delta":[["1","a"]]}`,
		"numeric code":   `{"post":[[1,2]]}`,
		"section object": `{"pre":{"1":"a"}}`,
	}
	for name, body := range malformed {
		t.Run("Malformed "+name, func(t *testing.T) {
			_, err := Decode(nil, []byte(body))
			assert.ErrorIs(t, err, core.ErrProtocol)
		})
	}
}

func TestDecode_FailureLeavesStoreIntact(t *testing.T) {
	s := New()
	s.Apply(core.PatchMessage{RevisionID: "r1", Pre: []core.PatchEntry{entry(1, "a")}})
	before := string(s.Flatten())

	// Second entry is malformed; the first must not have been applied.
	msg, err := Decode(nil, []byte(`{"id":"r2","pre":[[1,"changed"],[2]]}`))
	require.Error(t, err)
	if err == nil {
		s.Apply(msg)
	}

	assert.Equal(t, before, string(s.Flatten()))
	rev, _ := s.RevisionID()
	assert.Equal(t, "r1", rev)
}
