package adminapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rantala/tiny-pop3-server/config"
	"github.com/rantala/tiny-pop3-server/mailbox"
	serverPkg "github.com/rantala/tiny-pop3-server/server"
)

func newTestServer(apiKey string) (*Server, *mailbox.Store, *serverPkg.TraceLog) {
	store := mailbox.New()
	trace := serverPkg.NewTraceLog(0)
	cfg := &config.AdminConfig{Addr: "127.0.0.1:0", APIKey: apiKey}
	return New(cfg, store, trace), store, trace
}

func doRequest(t *testing.T, handler http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestListMessagesEmpty(t *testing.T) {
	srv, _, _ := newTestServer("")
	rec := doRequest(t, srv.setupRoutes(), "GET", "/mailbox/messages", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	assert.Equal(t, float64(0), body["count"])
}

func TestListMessagesDeletedLabelSuffix(t *testing.T) {
	srv, store, _ := newTestServer("")
	store.Add(mailbox.NewMessage([]byte("one\r\n"), "first"))
	store.Add(mailbox.NewMessage([]byte("two\r\n"), "second"))
	require.NoError(t, store.AcquireLock("sess"))
	require.NoError(t, store.Delete(2))

	rec := doRequest(t, srv.setupRoutes(), "GET", "/mailbox/messages", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeJSON(t, rec)
	assert.Equal(t, float64(2), body["count"])
	messages := body["messages"].([]interface{})
	first := messages[0].(map[string]interface{})
	second := messages[1].(map[string]interface{})
	assert.Equal(t, "first", first["label"])
	assert.Equal(t, false, first["deleted"])
	assert.Equal(t, "second (deleted)", second["label"])
	assert.Equal(t, true, second["deleted"])
	assert.Len(t, second["uid"], 64)
}

func TestGetMessageRaw(t *testing.T) {
	srv, store, _ := newTestServer("")
	content := "Subject: hi\r\n\r\nbody\r\n"
	store.Add(mailbox.NewMessage([]byte(content), ""))

	rec := doRequest(t, srv.setupRoutes(), "GET", "/mailbox/messages/1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "message/rfc822", rec.Header().Get("Content-Type"))
	assert.Equal(t, content, rec.Body.String())
}

func TestGetMessageStagedForDeletionStillReadable(t *testing.T) {
	srv, store, _ := newTestServer("")
	store.Add(mailbox.NewMessage([]byte("pending\r\n"), ""))
	require.NoError(t, store.AcquireLock("sess"))
	require.NoError(t, store.Delete(1))

	rec := doRequest(t, srv.setupRoutes(), "GET", "/mailbox/messages/1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pending\r\n", rec.Body.String())
}

func TestGetMessageNotFound(t *testing.T) {
	srv, _, _ := newTestServer("")
	rec := doRequest(t, srv.setupRoutes(), "GET", "/mailbox/messages/7", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddTestMessageCountsUp(t *testing.T) {
	srv, store, _ := newTestServer("")
	handler := srv.setupRoutes()

	rec := doRequest(t, handler, "POST", "/mailbox/messages", "", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeJSON(t, rec)
	assert.Equal(t, float64(1), body["number"])
	assert.Equal(t, "Test Message 1", body["label"])

	rec = doRequest(t, handler, "POST", "/mailbox/messages", "", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	body = decodeJSON(t, rec)
	assert.Equal(t, "Test Message 2", body["label"])

	content, err := store.Get(2)
	require.NoError(t, err)
	assert.Equal(t, "Hi there!\nGenerated message number 2 goes here.\n", string(content))
}

func TestImportMessageLabelSources(t *testing.T) {
	raw := "Subject: From The Header\r\n\r\nbody\r\n"

	tests := []struct {
		name    string
		path    string
		headers map[string]string
		want    string
	}{
		{"X-Label header wins", "/mailbox/messages", map[string]string{"X-Label": "explicit"}, "explicit"},
		{"filename parameter", "/mailbox/messages?filename=saved.eml", nil, "saved.eml"},
		{"Subject fallback", "/mailbox/messages", nil, "From The Header"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, store, _ := newTestServer("")
			rec := doRequest(t, srv.setupRoutes(), "PUT", tt.path, raw, tt.headers)
			require.Equal(t, http.StatusCreated, rec.Code)

			body := decodeJSON(t, rec)
			assert.Equal(t, tt.want, body["label"])
			assert.Equal(t, 1, store.Count())
			content, err := store.Get(1)
			require.NoError(t, err)
			assert.Equal(t, raw, string(content))
		})
	}
}

func TestImportMessageEmptyBodyRejected(t *testing.T) {
	srv, store, _ := newTestServer("")
	rec := doRequest(t, srv.setupRoutes(), "PUT", "/mailbox/messages", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, store.Count())
}

func TestTraceEndpoint(t *testing.T) {
	srv, _, trace := newTestServer("")
	trace.Record(serverPkg.TraceServer, "+OK POP3 server ready\r\n")
	trace.Record(serverPkg.TraceClient, "USER user\r\n")

	rec := doRequest(t, srv.setupRoutes(), "GET", "/trace", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeJSON(t, rec)
	assert.Equal(t, float64(2), body["count"])
	lines := body["lines"].([]interface{})
	assert.Equal(t, "S: +OK POP3 server ready", lines[0])
	assert.Equal(t, "C: USER user", lines[1])
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer("")
	rec := doRequest(t, srv.setupRoutes(), "GET", "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeJSON(t, rec)["status"])
}

func TestAuthMiddleware(t *testing.T) {
	srv, _, _ := newTestServer("secret")
	handler := srv.setupRoutes()

	rec := doRequest(t, handler, "GET", "/healthz", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, handler, "GET", "/healthz", "", map[string]string{"Authorization": "Basic abc"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, handler, "GET", "/healthz", "", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, handler, "GET", "/healthz", "", map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNoAuthWhenKeyEmpty(t *testing.T) {
	srv, _, _ := newTestServer("")
	rec := doRequest(t, srv.setupRoutes(), "GET", "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
