// Package adminapi exposes the mailbox editor and protocol log over HTTP.
// It is the headless replacement for the desktop window the original tool
// shipped: messages can be listed, inspected, generated, and imported while
// POP3 sessions run, and the full client/server trace can be read back.
package adminapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/emersion/go-message"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rantala/tiny-pop3-server/config"
	"github.com/rantala/tiny-pop3-server/consts"
	"github.com/rantala/tiny-pop3-server/logger"
	"github.com/rantala/tiny-pop3-server/mailbox"
	serverPkg "github.com/rantala/tiny-pop3-server/server"
)

// maxImportSize bounds PUT /mailbox/messages request bodies.
const maxImportSize = 10 << 20

// Server is the admin HTTP API server.
type Server struct {
	addr    string
	apiKey  string
	store   *mailbox.Store
	trace   *serverPkg.TraceLog
	server  *http.Server
	counter atomic.Int64 // generated test message counter
}

// New creates the admin API server. trace may be nil when tracing is not
// retained in memory; GET /trace then returns an empty listing.
func New(cfg *config.AdminConfig, store *mailbox.Store, trace *serverPkg.TraceLog) *Server {
	return &Server{
		addr:   cfg.Addr,
		apiKey: cfg.APIKey,
		store:  store,
		trace:  trace,
	}
}

// Start runs the admin API server until ctx is cancelled. Serve errors other
// than a clean shutdown are reported on errChan.
func (s *Server) Start(ctx context.Context, errChan chan error) {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.setupRoutes(),
	}

	go func() {
		<-ctx.Done()
		logger.Info("Admin API: Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Admin API: Error shutting down server", "error", err)
		}
	}()

	logger.Info("Admin API: Starting server", "addr", s.addr, "auth", s.apiKey != "")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed && ctx.Err() == nil {
		errChan <- fmt.Errorf("admin API server failed: %w", err)
	}
}

// setupRoutes configures all HTTP routes and middleware.
func (s *Server) setupRoutes() http.Handler {
	router := mux.NewRouter()

	router.Use(s.loggingMiddleware)
	router.Use(s.authMiddleware)

	router.HandleFunc("/mailbox/messages", s.handleListMessages).Methods("GET")
	router.HandleFunc("/mailbox/messages", s.handleAddTestMessage).Methods("POST")
	router.HandleFunc("/mailbox/messages", s.handleImportMessage).Methods("PUT")
	router.HandleFunc("/mailbox/messages/{seq:[0-9]+}", s.handleGetMessage).Methods("GET")
	router.HandleFunc("/trace", s.handleTrace).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/healthz", s.handleHealthz).Methods("GET")

	return router
}

// Middleware functions

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger.Debug("Admin API: Request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
		next.ServeHTTP(w, r)
		logger.Debug("Admin API: Request completed", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// authMiddleware requires a Bearer API key when one is configured. The
// development default runs without a key.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header must be 'Bearer <token>'")
			return
		}

		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(s.apiKey)) != 1 {
			s.writeError(w, http.StatusForbidden, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Handlers

// MessageInfo describes one stored message in listings.
type MessageInfo struct {
	Number  int    `json:"number"`
	Size    int    `json:"size"`
	Label   string `json:"label"`
	UID     string `json:"uid"`
	Deleted bool   `json:"deleted"`
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	snapshots := s.store.Snapshots()
	messages := make([]MessageInfo, 0, len(snapshots))
	for _, snap := range snapshots {
		label := snap.Label
		if snap.Deleted {
			label += " (deleted)"
		}
		messages = append(messages, MessageInfo{
			Number:  snap.Seq,
			Size:    snap.Size,
			Label:   label,
			UID:     snap.UID,
			Deleted: snap.Deleted,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(messages),
		"messages": messages,
	})
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	seq, err := strconv.Atoi(mux.Vars(r)["seq"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid message number")
		return
	}

	content, err := s.store.Raw(seq)
	if err != nil {
		if errors.Is(err, consts.ErrNoSuchMessage) {
			s.writeError(w, http.StatusNotFound, "No such message")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "message/rfc822")
	w.WriteHeader(http.StatusOK)
	w.Write(content)
}

func (s *Server) handleAddTestMessage(w http.ResponseWriter, r *http.Request) {
	n := s.counter.Add(1)
	label := fmt.Sprintf("Test Message %d", n)
	content := fmt.Sprintf("Hi there!\nGenerated message number %d goes here.\n", n)

	msg := mailbox.NewMessage([]byte(content), label)
	s.store.Add(msg)
	logger.Info("Admin API: Added test message", "number", s.store.Count(), "label", label)

	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"number": s.store.Count(),
		"size":   msg.Size(),
		"label":  label,
		"uid":    msg.UID(),
	})
}

func (s *Server) handleImportMessage(w http.ResponseWriter, r *http.Request) {
	content, err := io.ReadAll(io.LimitReader(r.Body, maxImportSize+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	if len(content) == 0 {
		s.writeError(w, http.StatusBadRequest, "Message body is empty")
		return
	}
	if len(content) > maxImportSize {
		s.writeError(w, http.StatusRequestEntityTooLarge, "Message too large")
		return
	}

	label := importLabel(r, content)
	msg := mailbox.NewMessage(content, label)
	s.store.Add(msg)
	logger.Info("Admin API: Imported message", "number", s.store.Count(), "size", msg.Size(), "label", label)

	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"number": s.store.Count(),
		"size":   msg.Size(),
		"label":  label,
		"uid":    msg.UID(),
	})
}

// importLabel picks a display label for an imported message: the X-Label
// header, then the filename query parameter, then the message's Subject.
func importLabel(r *http.Request, content []byte) string {
	if label := r.Header.Get("X-Label"); label != "" {
		return label
	}
	if filename := r.URL.Query().Get("filename"); filename != "" {
		return filename
	}
	entity, err := message.Read(strings.NewReader(string(content)))
	if err != nil {
		return ""
	}
	subject, err := entity.Header.Text("Subject")
	if err != nil {
		return entity.Header.Get("Subject")
	}
	return subject
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	var lines []string
	if s.trace != nil {
		lines = s.trace.Lines()
	}
	if lines == nil {
		lines = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(lines),
		"lines": lines,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Utility functions

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Admin API: Error encoding JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
