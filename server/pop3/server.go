package pop3

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rantala/tiny-pop3-server/auth"
	"github.com/rantala/tiny-pop3-server/config"
	"github.com/rantala/tiny-pop3-server/logger"
	"github.com/rantala/tiny-pop3-server/mailbox"
	"github.com/rantala/tiny-pop3-server/pkg/metrics"
	serverPkg "github.com/rantala/tiny-pop3-server/server"
	"github.com/rantala/tiny-pop3-server/server/idgen"
)

// POP3Server accepts connections on one address and runs a POP3Session per
// connection, all against a single shared mailbox.
type POP3Server struct {
	addr        string
	banner      string
	idleTimeout time.Duration

	store   *mailbox.Store
	checker *auth.Checker
	trace   serverPkg.SessionTrace

	appCtx   context.Context
	cancel   context.CancelFunc
	listener net.Listener

	totalConnections         atomic.Int64
	authenticatedConnections atomic.Int64

	// Active session tracking for graceful shutdown
	activeSessionsMutex sync.Mutex
	activeSessions      map[*POP3Session]struct{}
	sessionsWg          sync.WaitGroup
}

// New creates a POP3 server bound to the mailbox store, credential checker
// and trace sink. Pass a server.NopTrace when no trace consumer exists.
func New(appCtx context.Context, cfg *config.POP3Config, store *mailbox.Store, checker *auth.Checker, trace serverPkg.SessionTrace) (*POP3Server, error) {
	idleTimeout, err := cfg.GetIdleTimeout()
	if err != nil {
		return nil, err
	}

	serverCtx, serverCancel := context.WithCancel(appCtx)
	if trace == nil {
		trace = serverPkg.NopTrace{}
	}

	return &POP3Server{
		addr:           cfg.Addr,
		banner:         cfg.Banner,
		idleTimeout:    idleTimeout,
		store:          store,
		checker:        checker,
		trace:          trace,
		appCtx:         serverCtx,
		cancel:         serverCancel,
		activeSessions: make(map[*POP3Session]struct{}),
	}, nil
}

// Start listens and serves until the context is cancelled. A fatal listener
// error is delivered on errChan.
func (s *POP3Server) Start(errChan chan error) {
	if _, err := s.Listen(); err != nil {
		s.cancel()
		errChan <- err
		return
	}
	s.Serve(errChan)
}

// Listen binds the configured address and returns the bound address, which
// differs from the configured one when port 0 was requested.
func (s *POP3Server) Listen() (net.Addr, error) {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, err
	}
	s.listener = listener
	logger.Info("POP3 server listening", "addr", listener.Addr().String())
	return listener.Addr(), nil
}

// Serve accepts connections on the bound listener until the context is
// cancelled.
func (s *POP3Server) Serve(errChan chan error) {
	listener := s.listener
	defer listener.Close()

	go func() {
		<-s.appCtx.Done()
		logger.Debug("POP3: stopping")
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.appCtx.Done():
				logger.Info("POP3 server stopped")
				return
			default:
				errChan <- err
				return
			}
		}

		s.startSession(conn)
	}
}

func (s *POP3Server) startSession(conn net.Conn) {
	sessionCtx, sessionCancel := context.WithCancel(s.appCtx)

	totalCount := s.totalConnections.Add(1)
	metrics.ConnectionsTotal.Inc()
	metrics.ConnectionsCurrent.Inc()

	sessionID := idgen.New()
	session := &POP3Session{
		server: s,
		conn:   conn,
		engine: NewEngine(s.store, s.checker, sessionID),
		trace:  s.trace,
		ctx:    sessionCtx,
		cancel: sessionCancel,
	}
	session.Id = sessionID
	session.Protocol = "POP3"
	session.RemoteIP = remoteIP(conn)
	session.Stats = s

	logger.Debug("POP3: new connection", "remote", session.RemoteIP, "total_connections", totalCount)

	s.addSession(session)
	s.sessionsWg.Add(1)
	go func() {
		defer s.sessionsWg.Done()
		session.handleConnection()
	}()
}

// Close shuts the server down: signal sessions to finish, then wait for
// them to drain with a timeout.
func (s *POP3Server) Close() {
	s.cancel()

	// Close connections to unblock sessions waiting on reads.
	s.activeSessionsMutex.Lock()
	sessions := make([]*POP3Session, 0, len(s.activeSessions))
	for session := range s.activeSessions {
		sessions = append(sessions, session)
	}
	s.activeSessionsMutex.Unlock()
	for _, session := range sessions {
		session.conn.Close()
	}

	done := make(chan struct{})
	go func() {
		s.sessionsWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Debug("POP3: all sessions drained")
	case <-time.After(5 * time.Second):
		logger.Warn("POP3: session drain timeout, forcing shutdown")
	}
}

// GetTotalConnections returns the current total connection count.
func (s *POP3Server) GetTotalConnections() int64 {
	return s.totalConnections.Load()
}

// GetAuthenticatedConnections returns the current authenticated connection count.
func (s *POP3Server) GetAuthenticatedConnections() int64 {
	return s.authenticatedConnections.Load()
}

func (s *POP3Server) addSession(session *POP3Session) {
	s.activeSessionsMutex.Lock()
	defer s.activeSessionsMutex.Unlock()
	s.activeSessions[session] = struct{}{}
}

func (s *POP3Server) removeSession(session *POP3Session) {
	s.activeSessionsMutex.Lock()
	defer s.activeSessionsMutex.Unlock()
	delete(s.activeSessions, session)
}

func (s *POP3Server) onAuthenticated() {
	metrics.AuthenticatedConnectionsCurrent.Inc()
}

func (s *POP3Server) onAuthClosed() {
	metrics.AuthenticatedConnectionsCurrent.Dec()
}

func (s *POP3Server) onClosed() {
	metrics.ConnectionsCurrent.Dec()
}

func remoteIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}
