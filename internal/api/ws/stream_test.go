package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/logging"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/types"
)

type fakeSessions struct {
	mu        sync.Mutex
	created   map[string]types.SessionConfig
	destroyed []string
	events    []types.SessionEvent
	subs      map[string]chan []types.Target
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		created: make(map[string]types.SessionConfig),
		subs:    make(map[string]chan []types.Target),
	}
}

func (f *fakeSessions) OnCreateSession(ctx context.Context, cfg types.SessionConfig, sessionID string) error {
	f.mu.Lock()
	f.created[sessionID] = cfg
	ch := f.subs[sessionID]
	f.mu.Unlock()
	ch <- []types.Target{{ID: "first"}}
	return nil
}

func (f *fakeSessions) OnDestroySession(ctx context.Context, sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = append(f.destroyed, sessionID)
}

func (f *fakeSessions) NotifyEvent(ctx context.Context, sessionID string, event types.SessionEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeSessions) RequestUpdate(ctx context.Context, sessionID string) error {
	return nil
}

func (f *fakeSessions) Subscribe(sessionID string) (<-chan []types.Target, func()) {
	ch := make(chan []types.Target, 1)
	f.mu.Lock()
	f.subs[sessionID] = ch
	f.mu.Unlock()
	return ch, func() {}
}

func (f *fakeSessions) snapshot() (map[string]types.SessionConfig, []string, []types.SessionEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	created := make(map[string]types.SessionConfig, len(f.created))
	for k, v := range f.created {
		created[k] = v
	}
	return created, append([]string(nil), f.destroyed...), append([]types.SessionEvent(nil), f.events...)
}

func newServer(t *testing.T, sessions Sessions) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/stream/:surface", NewHandler(sessions, logging.NewNop()).HandleStream)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestStreamCreatesSessionAndDeliversTargets(t *testing.T) {
	sessions := newFakeSessions()
	srv := newServer(t, sessions)
	conn := dial(t, srv, "/stream/lock?count=3")

	var hello map[string]any
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "session", hello["type"])
	sessionID, _ := hello["session_id"].(string)
	assert.True(t, strings.HasPrefix(sessionID, "ws-"))

	var update struct {
		Type    string         `json:"type"`
		Targets []types.Target `json:"targets"`
	}
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, "targets", update.Type)
	require.Len(t, update.Targets, 1)
	assert.Equal(t, "first", update.Targets[0].ID)

	created, _, _ := sessions.snapshot()
	require.Contains(t, created, sessionID)
	assert.Equal(t, types.SurfaceLockscreen, created[sessionID].Surface)
	assert.Equal(t, 3, created[sessionID].TargetCount)
	assert.Equal(t, DefaultPackage, created[sessionID].PackageName)
}

func TestStreamForwardsEventsAndDestroysOnClose(t *testing.T) {
	sessions := newFakeSessions()
	srv := newServer(t, sessions)
	conn := dial(t, srv, "/stream/home")

	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg)) // session
	require.NoError(t, conn.ReadJSON(&msg)) // targets

	require.NoError(t, conn.WriteJSON(Message{Type: "event", Event: &types.SessionEvent{Type: types.EventSurfaceShown}}))
	require.NoError(t, conn.WriteJSON(Message{Type: "ping"}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "pong", msg["type"])

	_, _, events := sessions.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, types.EventSurfaceShown, events[0].Type)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	assert.Eventually(t, func() bool {
		_, destroyed, _ := sessions.snapshot()
		return len(destroyed) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStreamRejectsOtherSurfaces(t *testing.T) {
	srv := newServer(t, newFakeSessions())
	for _, surface := range []string{"media", "hub", "nope"} {
		resp, err := http.Get(srv.URL + "/stream/" + surface)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, surface)
	}
}

// failingWriter accepts the first ok writes and fails every later one
type failingWriter struct {
	mu     sync.Mutex
	ok     int
	writes int
}

func (w *failingWriter) SetWriteDeadline(time.Time) error { return nil }

func (w *failingWriter) WriteJSON(any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes++
	if w.writes > w.ok {
		return websocket.ErrCloseSent
	}
	return nil
}

func (w *failingWriter) WriteControl(int, []byte, time.Time) error { return nil }

func (w *failingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writes
}

func serveUntilDone(t *testing.T, w *failingWriter, updates chan []types.Target) {
	t.Helper()
	h := NewHandler(newFakeSessions(), logging.NewNop())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.serve(context.Background(), &conn{ws: w}, gin.H{"type": "session"}, updates, logging.NewNop())
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream kept running after a failed write")
	}
}

func TestStreamStopsWhenSessionFrameFails(t *testing.T) {
	w := &failingWriter{}
	updates := make(chan []types.Target, 1)
	updates <- []types.Target{{ID: "first"}}

	serveUntilDone(t, w, updates)
	assert.Equal(t, 1, w.count(), "no targets are written after the session frame fails")
}

func TestStreamStopsWhenTargetsFrameFails(t *testing.T) {
	w := &failingWriter{ok: 1}
	updates := make(chan []types.Target, 1)
	updates <- []types.Target{{ID: "first"}}

	serveUntilDone(t, w, updates)
	assert.Equal(t, 2, w.count())
}

func TestHandleReportsFailedReplies(t *testing.T) {
	h := NewHandler(newFakeSessions(), logging.NewNop())
	c := &conn{ws: &failingWriter{}}
	ctx := context.Background()

	assert.Error(t, h.handle(ctx, c, "s", Message{Type: "ping"}))
	assert.Error(t, h.handle(ctx, c, "s", Message{Type: "nope"}))
	assert.Error(t, h.handle(ctx, c, "s", Message{Type: "event"}))
	assert.NoError(t, h.handle(ctx, c, "s", Message{Type: "update"}), "nothing to reply")
}
