package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/supportdesk/internal/chat"
	"github.com/Tyrowin/supportdesk/internal/registry"
	"github.com/Tyrowin/supportdesk/internal/router"
	"github.com/Tyrowin/supportdesk/internal/transcript"
)

const (
	testOriginURL = "http://localhost:8080"
	frameTimeout  = 2 * time.Second
	quietPeriod   = 200 * time.Millisecond
)

type testEnv struct {
	srv      *Server
	http     *httptest.Server
	store    *transcript.Store
	registry *registry.Registry
}

// newTestEnv runs a Server over an in-memory transcript store behind
// httptest. mutate may adjust the config before the server is built.
func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	cfg := NewConfig()
	cfg.AllowedOrigins = []string{testOriginURL}
	cfg.RateLimit.Burst = 100
	cfg.Store.Driver = transcript.DriverMemory
	if mutate != nil {
		mutate(cfg)
	}

	logger := zerolog.Nop()
	store, err := transcript.NewStore(context.Background(), nil, logger)
	require.NoError(t, err)

	reg := registry.New()
	srv := New(cfg, Deps{
		Registry:    reg,
		Transcripts: store,
		Router:      router.New(store, reg, logger),
		Logger:      logger,
	})
	srv.runHub()

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = srv.hub.Shutdown(5 * time.Second)
		ts.Close()
	})

	return &testEnv{srv: srv, http: ts, store: store, registry: reg}
}

func (e *testEnv) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(e.http.URL, "http") + path
}

// dial opens a WebSocket to path with the allowed test origin.
func (e *testEnv) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()

	conn, resp, err := dialWebSocket(e.wsURL(path), testOriginURL)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func dialWebSocket(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return dialer.Dial(url, header)
}

// connectUser dials as userID and consumes the history frame, which marks
// the connection as registered.
func (e *testEnv) connectUser(t *testing.T, userID string) (*websocket.Conn, []chat.Message) {
	t.Helper()

	conn := e.dial(t, "/ws?userId="+userID)
	return conn, readHistory(t, conn)
}

// connectAdmin dials without a userId and waits until the registry counts
// one more admin.
func (e *testEnv) connectAdmin(t *testing.T) *websocket.Conn {
	t.Helper()

	_, before := e.registry.Counts()
	conn := e.dial(t, "/ws")
	require.Eventually(t, func() bool {
		_, admins := e.registry.Counts()
		return admins == before+1
	}, frameTimeout, 10*time.Millisecond)
	return conn
}

func readHistory(t *testing.T, conn *websocket.Conn) []chat.Message {
	t.Helper()

	var frame struct {
		Type     string         `json:"type"`
		Messages []chat.Message `json:"messages"`
	}
	raw := readRaw(t, conn)
	require.NoError(t, json.Unmarshal(raw, &frame))
	require.Equal(t, "history", frame.Type)
	return frame.Messages
}

func readMessage(t *testing.T, conn *websocket.Conn) chat.Message {
	t.Helper()

	var msg chat.Message
	require.NoError(t, json.Unmarshal(readRaw(t, conn), &msg))
	return msg
}

func readRaw(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(frameTimeout)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	return raw
}

// expectSilence fails if a frame arrives within quietPeriod. The connection
// is unusable for reads afterwards since gorilla treats a read timeout as
// fatal.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(quietPeriod)))
	_, raw, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame: %s", raw)
}

func sendJSON(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()

	resp, err := http.Get(e.http.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func (e *testEnv) post(t *testing.T, path, body string) (*http.Response, []byte) {
	t.Helper()

	resp, err := http.Post(e.http.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}
