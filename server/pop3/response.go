package pop3

import (
	"fmt"
	"strings"

	"github.com/rantala/tiny-pop3-server/mailbox"
)

// Reply is the engine's answer to one command line.
type Reply struct {
	Status    string   // full status line: "+OK ..." or "-ERR ..."
	Lines     []string // payload lines for LIST/UIDL style multi-line replies
	Body      []byte   // raw message payload for RETR/TOP, framed by the writer
	Multiline bool     // payload follows, terminated by a lone "."
	Close     bool     // tear the connection down after sending
}

func ok(format string, args ...any) Reply {
	msg := fmt.Sprintf(format, args...)
	if msg == "" {
		return Reply{Status: "+OK"}
	}
	return Reply{Status: "+OK " + msg}
}

func errReply(format string, args ...any) Reply {
	return Reply{Status: "-ERR " + fmt.Sprintf(format, args...)}
}

// stuffLine byte-stuffs one payload line: a line beginning with the
// termination octet gets it doubled (RFC 1939 section 3).
func stuffLine(line string) string {
	if strings.HasPrefix(line, ".") {
		return "." + line
	}
	return line
}

// bodyLines splits raw message content into wire lines. Bare LF line
// endings are accepted and normalized; the writer adds CRLF back.
func bodyLines(content []byte) []string {
	s := string(content)
	s = strings.TrimSuffix(s, "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

// topLines returns the header section of a message plus at most n lines of
// the body. The header section runs through the first empty line; a message
// without one is all headers.
func topLines(content []byte, n int) []string {
	lines := bodyLines(content)
	sep := -1
	for i, line := range lines {
		if line == "" {
			sep = i
			break
		}
	}
	if sep == -1 {
		return lines
	}
	body := lines[sep+1:]
	if n < len(body) {
		body = body[:n]
	}
	return append(lines[:sep+1], body...)
}

// buildListLines builds the multi-line scan listing for LIST. Message
// numbers must remain stable throughout a session: deleted messages are
// skipped but remaining messages keep their original numbers.
func buildListLines(entries []mailbox.Entry) []string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%d %d", e.Seq, e.Size))
	}
	return lines
}

// buildUIDLLines builds the multi-line unique-id listing for UIDL, with the
// same numbering rules as buildListLines.
func buildUIDLLines(snaps []mailbox.Snapshot) []string {
	lines := make([]string, 0, len(snaps))
	for _, s := range snaps {
		lines = append(lines, fmt.Sprintf("%d %s", s.Seq, s.UID))
	}
	return lines
}
