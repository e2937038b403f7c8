package server

import (
	"fmt"
	"strings"
)

// MaxLineLength is the longest command line accepted, CRLF included
// (RFC 1939 section 3).
const MaxLineLength = 512

// ParseLine splits one command line into an upper-cased verb and its
// space-separated arguments. POP3 has no quoting; arguments are atoms.
// An over-long or empty line is rejected.
func ParseLine(line string) (command string, args []string, err error) {
	if len(line) > MaxLineLength {
		return "", nil, fmt.Errorf("line exceeds %d octets", MaxLineLength)
	}

	line = strings.TrimRight(line, "\r\n")
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("empty command")
	}

	return strings.ToUpper(fields[0]), fields[1:], nil
}
