// Package pop3 implements the POP3 (Post Office Protocol version 3) server.
//
// The server speaks the RFC 1939 core protocol against a single in-memory
// mailbox and exists to exercise client software during development: every
// line exchanged with a client is mirrored to a trace sink, and the mailbox
// can be manipulated between sessions through the admin API.
//
// # Server States
//
//	AUTHORIZATION → TRANSACTION → UPDATE → closed
//
// Command handling is an explicit state machine (Engine). A command is
// validated against the current state before anything else; commands that
// reference a message number are then validated against the mailbox.
//
// # Supported Commands
//
// Authorization:
//   - USER: Specify username
//   - PASS: Provide password, acquire the mailbox lock
//   - QUIT: End session
//
// Transaction:
//   - STAT: Get mailbox statistics
//   - LIST: List message sizes
//   - RETR: Retrieve a message
//   - DELE: Mark message for deletion
//   - NOOP: No operation (keepalive)
//   - RSET: Unmark deleted messages
//   - TOP:  Get message headers + n body lines
//   - UIDL: Get unique message IDs
//
// # Message Deletion
//
// Messages marked with DELE are only removed when the session ends normally
// with QUIT. If the connection is closed abnormally, deletions are not
// applied and the mailbox lock is released.
package pop3
