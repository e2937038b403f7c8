package server

import (
	"strings"
	"sync"
)

// TraceDirection tags a traced protocol line with the side that produced it.
type TraceDirection string

const (
	TraceClient TraceDirection = "C" // received from the client
	TraceServer TraceDirection = "S" // sent by the server
)

// SessionTrace receives every protocol line exchanged with clients, in wire
// order: inbound lines before any mutation they cause, outbound lines before
// transmission. Implementations must be safe for concurrent use; sessions on
// different connections share one trace.
type SessionTrace interface {
	Record(dir TraceDirection, line string)
}

// NopTrace is a SessionTrace that discards everything.
type NopTrace struct{}

func (NopTrace) Record(TraceDirection, string) {}

// TraceLog is an in-memory SessionTrace holding the most recent lines in
// arrival order. Lines are stored with their trailing CR/LF stripped and a
// "C: " or "S: " prefix, the way the original tool's log pane shows them.
type TraceLog struct {
	mu    sync.Mutex
	lines []string
	max   int
	subs  []func()
}

// NewTraceLog creates a TraceLog retaining at most max lines; max <= 0 means
// unbounded.
func NewTraceLog(max int) *TraceLog {
	return &TraceLog{max: max}
}

// Record appends one traced line.
func (t *TraceLog) Record(dir TraceDirection, line string) {
	entry := string(dir) + ": " + strings.TrimRight(line, "\r\n")

	t.mu.Lock()
	t.lines = append(t.lines, entry)
	if t.max > 0 && len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
	subs := t.subs
	t.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
}

// Lines returns a copy of the retained trace lines in order.
func (t *TraceLog) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.lines...)
}

// Subscribe registers a callback invoked after every recorded line. Wire
// subscribers up before the server starts.
func (t *TraceLog) Subscribe(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs = append(t.subs, fn)
}
