package keys

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/gnostr-org/signerd/internal/types"
)

// Event is the subset of a nostr event the signer needs. Content and tags
// are carried verbatim so the canonical serialization matches what the
// client will publish.
type Event struct {
	ID        string          `json:"id,omitempty"`
	Pubkey    types.PublicKey `json:"pubkey"`
	CreatedAt int64           `json:"created_at"`
	Kind      int             `json:"kind"`
	Tags      [][]string      `json:"tags"`
	Content   string          `json:"content"`
	Sig       string          `json:"sig,omitempty"`
}

// ParseEvent decodes an event from its JSON form.
func ParseEvent(eventJSON string) (*Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(eventJSON), &ev); err != nil {
		return nil, fmt.Errorf("fail to parse event: %w", err)
	}
	if ev.Tags == nil {
		ev.Tags = [][]string{}
	}
	return &ev, nil
}

// EventKind extracts the kind field, -1 when the payload is unreadable.
func EventKind(eventJSON string) int {
	ev, err := ParseEvent(eventJSON)
	if err != nil {
		return -1
	}
	return ev.Kind
}

// Hash computes the canonical event id preimage digest:
// sha256 of [0, pubkey, created_at, kind, tags, content] serialized as a
// JSON array with no extra whitespace.
func (e *Event) Hash() ([32]byte, error) {
	canonical := []interface{}{
		0,
		string(e.Pubkey),
		e.CreatedAt,
		e.Kind,
		e.Tags,
		e.Content,
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false) // canonical form keeps <, >, & literal
	if err := enc.Encode(canonical); err != nil {
		return [32]byte{}, fmt.Errorf("fail to serialize event: %w", err)
	}
	return sha256.Sum256(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
