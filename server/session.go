package server

import (
	"fmt"

	"github.com/rantala/tiny-pop3-server/logger"
)

// ConnectionStatsProvider exposes connection counters for session logging.
type ConnectionStatsProvider interface {
	GetTotalConnections() int64
	GetAuthenticatedConnections() int64
}

// Session carries the identity of one client connection for logging.
type Session struct {
	Id       string
	RemoteIP string
	Protocol string
	Username string // set once authenticated, empty before
	Stats    ConnectionStatsProvider
}

// Log logs a session-scoped message at info level.
func (s *Session) Log(format string, args ...any) {
	s.log(logger.Info, format, args...)
}

// DebugLog logs a session-scoped message at debug level.
func (s *Session) DebugLog(format string, args ...any) {
	s.log(logger.Debug, format, args...)
}

// WarnLog logs a session-scoped message at warn level.
func (s *Session) WarnLog(format string, args ...any) {
	s.log(logger.Warn, format, args...)
}

func (s *Session) log(fn func(string, ...any), format string, args ...any) {
	user := "none"
	if s.Username != "" {
		user = s.Username
	}
	if s.Stats != nil {
		fn("Session",
			"protocol", s.Protocol,
			"remote", s.RemoteIP,
			"user", user,
			"session", s.Id,
			"conn_total", s.Stats.GetTotalConnections(),
			"conn_auth", s.Stats.GetAuthenticatedConnections(),
			"msg", fmt.Sprintf(format, args...))
	} else {
		fn("Session",
			"protocol", s.Protocol,
			"remote", s.RemoteIP,
			"user", user,
			"session", s.Id,
			"msg", fmt.Sprintf(format, args...))
	}
}
