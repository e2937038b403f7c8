package pop3

import (
	"errors"
	"strconv"
	"strings"

	"github.com/rantala/tiny-pop3-server/auth"
	"github.com/rantala/tiny-pop3-server/consts"
	"github.com/rantala/tiny-pop3-server/mailbox"
	"github.com/rantala/tiny-pop3-server/pkg/metrics"
	serverPkg "github.com/rantala/tiny-pop3-server/server"
)

// Session state machine, RFC 1939 section 3. UPDATE is transient: it exists
// only so that sync is guaranteed to run before the session closes.
type state int

const (
	stateAuthorization state = iota
	stateTransaction
	stateUpdate
	stateClosed
)

// transactionCommands are the verbs only valid after authentication.
var transactionCommands = map[string]bool{
	"STAT": true, "LIST": true, "RETR": true, "DELE": true,
	"NOOP": true, "RSET": true, "UIDL": true, "TOP": true,
}

// Engine is the per-connection protocol state machine. It parses command
// lines, validates them against the session state, drives the mailbox store
// and produces replies. It is not safe for concurrent use; each connection's
// goroutine feeds it one command at a time.
type Engine struct {
	store     *mailbox.Store
	checker   *auth.Checker
	sessionID string

	state       state
	pendingUser string // staged by USER, consumed by the PASS that follows
	username    string // set once authenticated
}

// NewEngine creates an engine in the AUTHORIZATION state.
func NewEngine(store *mailbox.Store, checker *auth.Checker, sessionID string) *Engine {
	return &Engine{store: store, checker: checker, sessionID: sessionID}
}

// Username returns the authenticated username, or empty.
func (e *Engine) Username() string {
	return e.username
}

// Authenticated reports whether the session reached TRANSACTION state.
func (e *Engine) Authenticated() bool {
	return e.username != ""
}

// Closed reports whether the session is terminal.
func (e *Engine) Closed() bool {
	return e.state == stateClosed
}

// Command handles one command line and returns the reply to send.
func (e *Engine) Command(line string) Reply {
	cmd, args, err := serverPkg.ParseLine(line)
	if err != nil {
		metrics.CommandsTotal.WithLabelValues("invalid", "err").Inc()
		return errReply("Invalid command line")
	}

	var reply Reply
	switch e.state {
	case stateAuthorization:
		reply = e.authorization(cmd, args)
	case stateTransaction:
		reply = e.transaction(cmd, args)
	default:
		reply = errReply("Session closed")
	}

	result := "ok"
	if strings.HasPrefix(reply.Status, "-ERR") {
		result = "err"
	}
	metrics.CommandsTotal.WithLabelValues(cmd, result).Inc()
	return reply
}

// Abort handles an abrupt disconnect: no sync, staged deletions discarded,
// mailbox lock released. Equivalent to an implicit RSET.
func (e *Engine) Abort() {
	if e.state == stateTransaction {
		e.store.UndeleteAll()
		e.store.ReleaseLock(e.sessionID)
	}
	e.state = stateClosed
}

func (e *Engine) authorization(cmd string, args []string) Reply {
	// PASS is valid only immediately after USER; any other command in
	// between clears the staged username.
	staged := e.pendingUser
	e.pendingUser = ""

	switch cmd {
	case "USER":
		if len(args) != 1 {
			return errReply("Missing username")
		}
		e.pendingUser = args[0]
		return ok("User accepted")

	case "PASS":
		if staged == "" {
			return errReply("Must provide USER first")
		}
		if len(args) == 0 {
			return errReply("Missing password")
		}
		// The password may contain spaces; the parser already collapsed
		// runs of them, which matches what the original tool accepted.
		password := strings.Join(args, " ")

		if !e.checker.Verify(staged, password) {
			metrics.AuthenticationAttempts.WithLabelValues("failure").Inc()
			return errReply("Authentication failed")
		}

		if err := e.store.AcquireLock(e.sessionID); err != nil {
			metrics.AuthenticationAttempts.WithLabelValues("locked").Inc()
			return errReply("[IN-USE] Mailbox already locked")
		}

		metrics.AuthenticationAttempts.WithLabelValues("success").Inc()
		e.username = staged
		e.state = stateTransaction
		return ok("Password accepted")

	case "QUIT":
		e.state = stateClosed
		return Reply{Status: "+OK Goodbye", Close: true}

	default:
		if transactionCommands[cmd] {
			return errReply("Not authenticated")
		}
		return errReply("Unknown command: %s", cmd)
	}
}

func (e *Engine) transaction(cmd string, args []string) Reply {
	switch cmd {
	case "STAT":
		count, size := e.store.Stat()
		return ok("%d %d", count, size)

	case "LIST":
		if len(args) > 0 {
			seq, ok2 := parseSeq(args[0])
			if !ok2 {
				return errReply("Invalid message number")
			}
			entry, err := e.store.ListOne(seq)
			if err != nil {
				return storeErrReply(seq, err)
			}
			return ok("%d %d", entry.Seq, entry.Size)
		}
		entries := e.store.List()
		status := ok("scan listing follows")
		if len(entries) == 0 {
			status = ok("0 messages")
		}
		status.Lines = buildListLines(entries)
		status.Multiline = true
		return status

	case "UIDL":
		if len(args) > 0 {
			seq, ok2 := parseSeq(args[0])
			if !ok2 {
				return errReply("Invalid message number")
			}
			uid, err := e.store.UID(seq)
			if err != nil {
				return storeErrReply(seq, err)
			}
			return ok("%d %s", seq, uid)
		}
		snaps := e.store.UIDs()
		status := ok("unique-id listing follows")
		if len(snaps) == 0 {
			status = ok("0 messages")
		}
		status.Lines = buildUIDLLines(snaps)
		status.Multiline = true
		return status

	case "RETR":
		if len(args) == 0 {
			return errReply("Missing message number")
		}
		seq, ok2 := parseSeq(args[0])
		if !ok2 {
			return errReply("Invalid message number")
		}
		content, err := e.store.Get(seq)
		if err != nil {
			return storeErrReply(seq, err)
		}
		status := ok("%d octets", len(content))
		status.Body = content
		status.Multiline = true
		return status

	case "TOP":
		if len(args) < 2 {
			return errReply("Missing argument")
		}
		seq, ok2 := parseSeq(args[0])
		if !ok2 {
			return errReply("Invalid message number")
		}
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 0 {
			return errReply("Invalid line count")
		}
		content, err := e.store.Get(seq)
		if err != nil {
			return storeErrReply(seq, err)
		}
		status := ok("top of message follows")
		status.Body = nil
		status.Lines = topLines(content, n)
		status.Multiline = true
		return status

	case "DELE":
		if len(args) == 0 {
			return errReply("Missing message number")
		}
		seq, ok2 := parseSeq(args[0])
		if !ok2 {
			return errReply("Invalid message number")
		}
		if err := e.store.Delete(seq); err != nil {
			return storeErrReply(seq, err)
		}
		return ok("Message deleted")

	case "NOOP":
		return ok("")

	case "RSET":
		e.store.UndeleteAll()
		return ok("")

	case "QUIT":
		// UPDATE state: sync is guaranteed to run before the session
		// closes, and succeeds even when nothing was staged.
		e.state = stateUpdate
		e.store.Sync()
		metrics.MailboxSyncsTotal.Inc()
		e.state = stateClosed
		return Reply{Status: "+OK Goodbye", Close: true}

	case "USER", "PASS":
		return errReply("Already authenticated")

	default:
		return errReply("Unknown command: %s", cmd)
	}
}

// parseSeq parses a 1-based message number argument.
func parseSeq(arg string) (int, bool) {
	seq, err := strconv.Atoi(arg)
	if err != nil || seq < 1 {
		return 0, false
	}
	return seq, true
}

func storeErrReply(seq int, err error) Reply {
	switch {
	case errors.Is(err, consts.ErrMessageDeleted):
		return errReply("Message %d already deleted", seq)
	case errors.Is(err, consts.ErrNoSuchMessage):
		return errReply("No such message")
	default:
		return errReply("Internal server error")
	}
}
