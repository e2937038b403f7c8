package pop3

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rantala/tiny-pop3-server/auth"
	"github.com/rantala/tiny-pop3-server/config"
	"github.com/rantala/tiny-pop3-server/mailbox"
	serverPkg "github.com/rantala/tiny-pop3-server/server"
)

// testClient is a minimal POP3 client for exercising a live listener.
type testClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

func dialTestServer(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	c := &testClient{conn: conn, reader: bufio.NewReader(conn)}
	greeting := c.readLine(t)
	require.True(t, strings.HasPrefix(greeting, "+OK"), "unexpected greeting: %s", greeting)
	return c
}

func (c *testClient) readLine(t *testing.T) string {
	t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := c.reader.ReadString('\n')
	require.NoError(t, err)
	return strings.TrimRight(line, "\r\n")
}

// cmd sends one command and returns the status line.
func (c *testClient) cmd(t *testing.T, line string) string {
	t.Helper()
	_, err := fmt.Fprintf(c.conn, "%s\r\n", line)
	require.NoError(t, err)
	return c.readLine(t)
}

// multiline reads payload lines up to the lone-dot terminator, reversing
// byte-stuffing.
func (c *testClient) multiline(t *testing.T) []string {
	t.Helper()
	var lines []string
	for {
		line := c.readLine(t)
		if line == "." {
			return lines
		}
		if strings.HasPrefix(line, "..") {
			line = line[1:]
		}
		lines = append(lines, line)
	}
}

func startTestServer(t *testing.T, store *mailbox.Store, trace serverPkg.SessionTrace) string {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.POP3.Addr = "127.0.0.1:0"

	srv, err := New(context.Background(), &cfg.POP3, store, auth.NewChecker("user", "pass"), trace)
	require.NoError(t, err)

	addr, err := srv.Listen()
	require.NoError(t, err)

	errChan := make(chan error, 1)
	go srv.Serve(errChan)
	t.Cleanup(func() {
		srv.Close()
		select {
		case err := <-errChan:
			t.Errorf("server error: %v", err)
		default:
		}
	})
	return addr.String()
}

// Full walk through a development session: authenticate on an empty
// mailbox, watch a message appear, stage and reset a deletion, quit.
func TestEndToEndResetLeavesMailboxIntact(t *testing.T) {
	store := mailbox.New()
	addr := startTestServer(t, store, nil)
	c := dialTestServer(t, addr)

	assert.Equal(t, "+OK User accepted", c.cmd(t, "USER user"))
	assert.Equal(t, "+OK Password accepted", c.cmd(t, "PASS pass"))
	assert.Equal(t, "+OK 0 0", c.cmd(t, "STAT"))

	// The admin path adds a 42-byte message mid-session.
	content := strings.Repeat("x", 40) + "\r\n"
	require.Len(t, content, 42)
	store.Add(mailbox.NewMessage([]byte(content), ""))

	assert.Equal(t, "+OK scan listing follows", c.cmd(t, "LIST"))
	assert.Equal(t, []string{"1 42"}, c.multiline(t))

	assert.Equal(t, "+OK Message deleted", c.cmd(t, "DELE 1"))
	assert.Equal(t, "+OK 0 messages", c.cmd(t, "LIST"))
	assert.Empty(t, c.multiline(t))
	assert.Equal(t, "+OK 0 0", c.cmd(t, "STAT"))

	assert.Equal(t, "+OK", c.cmd(t, "RSET"))
	assert.Equal(t, "+OK scan listing follows", c.cmd(t, "LIST"))
	assert.Equal(t, []string{"1 42"}, c.multiline(t))

	assert.Equal(t, "+OK Goodbye", c.cmd(t, "QUIT"))

	// RSET cleared the staged deletion, so QUIT committed nothing.
	assert.Equal(t, 1, store.Count())
	assert.Empty(t, store.LockedBy())
}

func TestEndToEndQuitCommitsDeletion(t *testing.T) {
	store := mailbox.New()
	store.Add(mailbox.NewMessage([]byte("delete me\r\n"), ""))
	addr := startTestServer(t, store, nil)

	c := dialTestServer(t, addr)
	c.cmd(t, "USER user")
	c.cmd(t, "PASS pass")
	assert.Equal(t, "+OK Message deleted", c.cmd(t, "DELE 1"))
	assert.Equal(t, "+OK Goodbye", c.cmd(t, "QUIT"))

	// A fresh session sees an empty mailbox.
	c2 := dialTestServer(t, addr)
	c2.cmd(t, "USER user")
	require.Equal(t, "+OK Password accepted", c2.cmd(t, "PASS pass"))
	assert.Equal(t, "+OK 0 0", c2.cmd(t, "STAT"))
}

func TestEndToEndRetrByteStuffing(t *testing.T) {
	content := "Subject: dots\r\n\r\n.leading dot\r\n.\r\nplain\r\n"
	store := mailbox.New()
	store.Add(mailbox.NewMessage([]byte(content), ""))
	addr := startTestServer(t, store, nil)

	c := dialTestServer(t, addr)
	c.cmd(t, "USER user")
	c.cmd(t, "PASS pass")

	status := c.cmd(t, "RETR 1")
	require.Equal(t, fmt.Sprintf("+OK %d octets", len(content)), status)
	lines := c.multiline(t)
	assert.Equal(t, []string{"Subject: dots", "", ".leading dot", ".", "plain"}, lines)
}

func TestEndToEndSecondClientLockedOut(t *testing.T) {
	store := mailbox.New()
	addr := startTestServer(t, store, nil)

	first := dialTestServer(t, addr)
	first.cmd(t, "USER user")
	require.Equal(t, "+OK Password accepted", first.cmd(t, "PASS pass"))

	second := dialTestServer(t, addr)
	second.cmd(t, "USER user")
	assert.Equal(t, "-ERR [IN-USE] Mailbox already locked", second.cmd(t, "PASS pass"))

	// The first session keeps working.
	assert.Equal(t, "+OK 0 0", first.cmd(t, "STAT"))
}

func TestEndToEndAbruptDisconnectReleasesLock(t *testing.T) {
	store := mailbox.New()
	store.Add(mailbox.NewMessage([]byte("survivor\r\n"), ""))
	addr := startTestServer(t, store, nil)

	c := dialTestServer(t, addr)
	c.cmd(t, "USER user")
	require.Equal(t, "+OK Password accepted", c.cmd(t, "PASS pass"))
	c.cmd(t, "DELE 1")

	// Drop the connection without QUIT.
	c.conn.Close()

	// The lock is released and the staged deletion was discarded.
	require.Eventually(t, func() bool {
		return store.LockedBy() == ""
	}, 5*time.Second, 10*time.Millisecond, "lock not released after disconnect")
	assert.Equal(t, 1, store.Count())
	assert.Len(t, store.List(), 1)

	c2 := dialTestServer(t, addr)
	c2.cmd(t, "USER user")
	assert.Equal(t, "+OK Password accepted", c2.cmd(t, "PASS pass"))
}

func TestEndToEndTraceMirrorsWire(t *testing.T) {
	store := mailbox.New()
	traceLog := serverPkg.NewTraceLog(0)
	addr := startTestServer(t, store, traceLog)

	c := dialTestServer(t, addr)
	c.cmd(t, "USER user")
	c.cmd(t, "PASS pass")
	c.cmd(t, "QUIT")

	require.Eventually(t, func() bool {
		lines := traceLog.Lines()
		return len(lines) >= 7 && lines[len(lines)-1] == "S: +OK Goodbye"
	}, 5*time.Second, 10*time.Millisecond)

	lines := traceLog.Lines()
	assert.Equal(t, "S: +OK POP3 server ready", lines[0])
	assert.Equal(t, []string{
		"C: USER user",
		"S: +OK User accepted",
		"C: PASS pass",
		"S: +OK Password accepted",
		"C: QUIT",
		"S: +OK Goodbye",
	}, lines[1:7])
}
