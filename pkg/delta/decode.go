package delta

import (
	"bytes"
	"fmt"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/aretw0/devbundle/pkg/core"
)

// HeaderRevision carries the revision id when the body does not.
const HeaderRevision = "X-Metro-Delta-ID"

type wireMessage struct {
	ID         string      `json:"id"`
	RevisionID string      `json:"revisionId"`
	Reset      bool        `json:"reset"`
	Pre        []wireEntry `json:"pre"`
	Delta      []wireEntry `json:"delta"`
	Post       []wireEntry `json:"post"`
}

// wireEntry is a two element array: [id, "code"] or [id, null].
type wireEntry core.PatchEntry

func (e *wireEntry) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("entry is not an array: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("entry has %d elements, want 2", len(pair))
	}
	if err := json.Unmarshal(pair[0], &e.ID); err != nil {
		return fmt.Errorf("entry id: %w", err)
	}
	if bytes.Equal(bytes.TrimSpace(pair[1]), []byte("null")) {
		e.Tombstone = true
		return nil
	}
	var content string
	if err := json.Unmarshal(pair[1], &content); err != nil {
		return fmt.Errorf("entry %d content: %w", e.ID, err)
	}
	e.Content = []byte(content)
	return nil
}

// Decode parses a patch message. The whole message is validated before it is
// returned, so a failed decode never reaches Apply.
func Decode(header http.Header, body []byte) (core.PatchMessage, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return core.PatchMessage{}, fmt.Errorf("%w: empty patch message", core.ErrProtocol)
	}

	var w wireMessage
	if err := json.Unmarshal(body, &w); err != nil {
		return core.PatchMessage{}, fmt.Errorf("%w: malformed patch message: %w", core.ErrProtocol, err)
	}

	msg := core.PatchMessage{
		RevisionID: w.ID,
		Reset:      w.Reset,
		Pre:        entries(w.Pre),
		Delta:      entries(w.Delta),
		Post:       entries(w.Post),
	}
	if msg.RevisionID == "" {
		msg.RevisionID = w.RevisionID
	}
	if msg.RevisionID == "" && header != nil {
		msg.RevisionID = header.Get(HeaderRevision)
	}
	return msg, nil
}

func entries(w []wireEntry) []core.PatchEntry {
	if len(w) == 0 {
		return nil
	}
	out := make([]core.PatchEntry, len(w))
	for i := range w {
		out[i] = core.PatchEntry(w[i])
	}
	return out
}
