package server

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTraceLogRecordFormat(t *testing.T) {
	trace := NewTraceLog(0)
	trace.Record(TraceServer, "+OK POP3 server ready\r\n")
	trace.Record(TraceClient, "USER user\r\n")
	trace.Record(TraceClient, "NOOP") // no line ending

	assert.Equal(t, []string{
		"S: +OK POP3 server ready",
		"C: USER user",
		"C: NOOP",
	}, trace.Lines())
}

func TestTraceLogBoundedRetention(t *testing.T) {
	trace := NewTraceLog(3)
	for i := 1; i <= 5; i++ {
		trace.Record(TraceClient, fmt.Sprintf("NOOP %d\r\n", i))
	}

	assert.Equal(t, []string{"C: NOOP 3", "C: NOOP 4", "C: NOOP 5"}, trace.Lines())
}

func TestTraceLogSubscribers(t *testing.T) {
	trace := NewTraceLog(0)
	var calls int
	trace.Subscribe(func() { calls++ })

	trace.Record(TraceClient, "STAT\r\n")
	trace.Record(TraceServer, "+OK 0 0\r\n")
	assert.Equal(t, 2, calls)
}

func TestLinesReturnsCopy(t *testing.T) {
	trace := NewTraceLog(0)
	trace.Record(TraceClient, "QUIT\r\n")

	lines := trace.Lines()
	lines[0] = "mutated"
	assert.Equal(t, []string{"C: QUIT"}, trace.Lines())
}
