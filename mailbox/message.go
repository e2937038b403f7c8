package mailbox

import (
	"encoding/hex"

	"lukechampine.com/blake3"
)

// Message is a single mail message held by the Store. The content is an
// opaque byte blob; the server never parses it. The label is display-only
// metadata (typically the originating filename) with no protocol meaning.
type Message struct {
	content []byte
	label   string
	uid     string
	deleted bool // pending deletion, staged until Sync
}

// NewMessage creates a message from content and an optional display label.
// The UID is the hex-encoded content hash, computed once. Two messages with
// identical content share a UID; this mirrors the original tool and is a
// documented limitation, not a bug to fix.
func NewMessage(content []byte, label string) *Message {
	sum := blake3.Sum256(content)
	return &Message{
		content: append([]byte(nil), content...),
		label:   label,
		uid:     hex.EncodeToString(sum[:]),
	}
}

// Content returns the message body. Callers must not modify the returned slice.
func (m *Message) Content() []byte {
	return m.content
}

// Size returns the content length in octets.
func (m *Message) Size() int {
	return len(m.content)
}

// Label returns the display label, which may be empty.
func (m *Message) Label() string {
	return m.label
}

// UID returns the content-derived unique identifier.
func (m *Message) UID() string {
	return m.uid
}
