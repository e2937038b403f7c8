package pop3

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"time"

	serverPkg "github.com/rantala/tiny-pop3-server/server"
)

// POP3Session drives one client connection. Commands are handled strictly
// sequentially: one line is read, traced, dispatched to the engine and fully
// answered before the next line is read.
type POP3Session struct {
	serverPkg.Session
	server *POP3Server
	conn   net.Conn
	engine *Engine
	trace  serverPkg.SessionTrace
	writer *bufio.Writer
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

func (s *POP3Session) handleConnection() {
	defer s.cancel()
	defer s.Close()

	reader := bufio.NewReader(s.conn)
	s.writer = bufio.NewWriter(s.conn)

	s.sendLine("+OK " + s.server.banner)
	s.writer.Flush()
	s.Log("connected")

	for {
		s.conn.SetReadDeadline(time.Now().Add(s.server.idleTimeout))

		line, err := reader.ReadString('\n')
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				s.sendLine("-ERR [IN-USE] Idle timeout, please reconnect")
				s.writer.Flush()
				s.Log("timed out")
			} else if err == io.EOF {
				// Client closed the connection without QUIT: implicit
				// RSET, handled by the engine abort in Close.
				s.Log("client dropped connection")
			} else if s.ctx.Err() != nil {
				s.Log("session cancelled")
			} else {
				s.Log("read error: %v", err)
			}
			return
		}

		// The trace must see the line before any mutation it causes.
		s.trace.Record(serverPkg.TraceClient, line)

		wasAuthenticated := s.engine.Authenticated()
		reply := s.engine.Command(line)
		if !wasAuthenticated && s.engine.Authenticated() {
			s.Username = s.engine.Username()
			authCount := s.server.authenticatedConnections.Add(1)
			s.server.onAuthenticated()
			s.Log("authenticated (connections: total=%d, authenticated=%d)",
				s.server.totalConnections.Load(), authCount)
		}

		s.writeReply(reply)
		s.writer.Flush()

		if reply.Close {
			return
		}
	}
}

// writeReply sends a reply, framing multi-line payloads with byte-stuffing
// and the lone-dot terminator.
func (s *POP3Session) writeReply(r Reply) {
	s.sendLine(r.Status)
	if !r.Multiline {
		return
	}
	for _, line := range r.Lines {
		s.sendLine(stuffLine(line))
	}
	if r.Body != nil {
		for _, line := range bodyLines(r.Body) {
			s.sendLine(stuffLine(line))
		}
	}
	s.sendLine(".")
}

// sendLine traces and buffers one outbound line. The trace sees the line
// before transmission.
func (s *POP3Session) sendLine(line string) {
	s.trace.Record(serverPkg.TraceServer, line)
	s.writer.WriteString(line)
	s.writer.WriteString("\r\n")
}

// Close tears the session down. Safe to call more than once; on an abrupt
// disconnect the engine abort discards staged deletions and releases the
// mailbox lock.
func (s *POP3Session) Close() error {
	s.closeOnce.Do(func() {
		s.conn.Close()

		wasAuthenticated := s.engine.Authenticated()
		s.engine.Abort()

		s.server.removeSession(s)
		totalCount := s.server.totalConnections.Add(-1)
		authCount := s.server.authenticatedConnections.Load()
		if wasAuthenticated {
			authCount = s.server.authenticatedConnections.Add(-1)
			s.server.onAuthClosed()
		}
		s.server.onClosed()

		s.Log("closed (connections: total=%d, authenticated=%d)", totalCount, authCount)
		if s.cancel != nil {
			s.cancel()
		}
	})
	return nil
}
