// Package mailbox implements the in-memory message store behind the POP3
// server. One Store holds one mailbox: an ordered sequence of messages in
// arrival order, which is the basis for 1-based message numbering.
//
// Deletions are staged: Delete only flags a message, RSET (UndeleteAll)
// clears the flags, and Sync removes flagged messages permanently. Until
// Sync runs, message numbers are stable; listings skip deleted messages
// without compacting the numbering, per RFC 1939.
//
// Two locking levels coexist and serve different purposes. A sync.RWMutex
// guards the data against concurrent access from session goroutines and the
// admin API. On top of that, an application-level lock admits at most one
// authenticated session at a time; acquisition fails immediately instead of
// queuing, so a busy mailbox is reported to the next client.
package mailbox

import (
	"fmt"
	"sync"

	"github.com/rantala/tiny-pop3-server/consts"
)

// Entry is one row of a scan listing: 1-based message number and size in octets.
type Entry struct {
	Seq  int
	Size int
}

// Snapshot describes one stored message for inspection by the admin API and
// tests, including messages staged for deletion.
type Snapshot struct {
	Seq     int
	Size    int
	Label   string
	UID     string
	Deleted bool
}

// Observer receives mailbox-changed notifications. Observers are called
// after the mutation completes, outside the store lock, in subscription
// order on the mutating goroutine.
type Observer func()

// Store is a single in-memory mailbox.
type Store struct {
	mu        sync.RWMutex
	messages  []*Message
	lockedBy  string // session id of the exclusive holder, empty when free
	observers []Observer
}

// New creates an empty mailbox store.
func New() *Store {
	return &Store{}
}

// Subscribe registers a mailbox-changed observer. Not safe to call
// concurrently with mutations; wire observers up before the server starts.
func (s *Store) Subscribe(fn Observer) {
	s.observers = append(s.observers, fn)
}

func (s *Store) notify() {
	for _, fn := range s.observers {
		fn()
	}
}

// Add appends a message to the end of the mailbox. This is the path used by
// the admin API, not by the protocol engine.
func (s *Store) Add(msg *Message) {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	s.notify()
}

// Count returns the total number of stored messages, including those staged
// for deletion.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Stat returns the count and total size of messages not staged for deletion.
func (s *Store) Stat() (count int, size int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, msg := range s.messages {
		if !msg.deleted {
			count++
			size += int64(msg.Size())
		}
	}
	return count, size
}

// List returns the scan listing for all messages not staged for deletion.
// Message numbers are preserved; deleted messages leave gaps.
func (s *Store) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var entries []Entry
	for i, msg := range s.messages {
		if !msg.deleted {
			entries = append(entries, Entry{Seq: i + 1, Size: msg.Size()})
		}
	}
	return entries
}

// ListOne returns the scan listing for one message.
func (s *Store) ListOne(seq int) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, err := s.lookup(seq)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Seq: seq, Size: msg.Size()}, nil
}

// Get returns a copy of the message content.
func (s *Store) Get(seq int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, err := s.lookup(seq)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), msg.Content()...), nil
}

// UID returns the content-derived unique identifier of one message.
func (s *Store) UID(seq int) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, err := s.lookup(seq)
	if err != nil {
		return "", err
	}
	return msg.UID(), nil
}

// UIDs returns number/UID pairs for all messages not staged for deletion.
func (s *Store) UIDs() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Snapshot
	for i, msg := range s.messages {
		if !msg.deleted {
			out = append(out, Snapshot{Seq: i + 1, UID: msg.UID()})
		}
	}
	return out
}

// lookup resolves a 1-based message number. Callers hold s.mu.
func (s *Store) lookup(seq int) (*Message, error) {
	if seq < 1 || seq > len(s.messages) {
		return nil, fmt.Errorf("message %d: %w", seq, consts.ErrNoSuchMessage)
	}
	msg := s.messages[seq-1]
	if msg.deleted {
		return nil, fmt.Errorf("message %d: %w", seq, consts.ErrMessageDeleted)
	}
	return msg, nil
}

// Delete stages a message for deletion. The message stays in storage and
// keeps its number until Sync.
func (s *Store) Delete(seq int) error {
	s.mu.Lock()
	msg, err := s.lookup(seq)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	msg.deleted = true
	s.mu.Unlock()
	s.notify()
	return nil
}

// UndeleteAll clears the staged-deletion flag on every message (RSET).
func (s *Store) UndeleteAll() {
	s.mu.Lock()
	for _, msg := range s.messages {
		msg.deleted = false
	}
	s.mu.Unlock()
	s.notify()
}

// Sync permanently removes every message staged for deletion, renumbers the
// remaining messages starting at 1, and releases the session lock.
func (s *Store) Sync() {
	s.mu.Lock()
	keep := s.messages[:0]
	for _, msg := range s.messages {
		if !msg.deleted {
			keep = append(keep, msg)
		}
	}
	// Drop trailing references so removed messages can be collected.
	for i := len(keep); i < len(s.messages); i++ {
		s.messages[i] = nil
	}
	s.messages = keep
	s.lockedBy = ""
	s.mu.Unlock()
	s.notify()
}

// AcquireLock takes the exclusive session lock. It fails immediately with
// ErrMailboxLocked when another session holds it. Taking the lock starts a
// fresh session, so any leftover staged deletions are discarded.
func (s *Store) AcquireLock(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockedBy != "" && s.lockedBy != sessionID {
		return consts.ErrMailboxLocked
	}
	s.lockedBy = sessionID
	for _, msg := range s.messages {
		msg.deleted = false
	}
	return nil
}

// ReleaseLock releases the exclusive session lock if sessionID holds it.
func (s *Store) ReleaseLock(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockedBy == sessionID {
		s.lockedBy = ""
	}
}

// LockedBy returns the session id of the current lock holder, or empty.
func (s *Store) LockedBy() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lockedBy
}

// Raw returns a copy of the message content, whether or not the message is
// staged for deletion. The admin API uses it for inspection.
func (s *Store) Raw(seq int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if seq < 1 || seq > len(s.messages) {
		return nil, fmt.Errorf("message %d: %w", seq, consts.ErrNoSuchMessage)
	}
	msg := s.messages[seq-1]
	return append([]byte(nil), msg.Content()...), nil
}

// Snapshots returns a description of every stored message, including those
// staged for deletion, for the admin API.
func (s *Store) Snapshots() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Snapshot, 0, len(s.messages))
	for i, msg := range s.messages {
		out = append(out, Snapshot{
			Seq:     i + 1,
			Size:    msg.Size(),
			Label:   msg.Label(),
			UID:     msg.UID(),
			Deleted: msg.deleted,
		})
	}
	return out
}
