package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"postsync/internal/draft"
	"postsync/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rawFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func listen(t *testing.T, env *testEnv) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	app := env.server.App()
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })
	return ln.Addr().String()
}

func dialFeed(t *testing.T, addr, user string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set(UserIDHeader, user)
	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws/feed", header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntil reads frames until match accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(rawFrame) bool) rawFrame {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var f rawFrame
		require.NoError(t, conn.ReadJSON(&f))
		if match(f) {
			return f
		}
	}
}

func feedFrame(cond func(feedView) bool) func(rawFrame) bool {
	return func(f rawFrame) bool {
		if f.Type != FrameFeed {
			return false
		}
		var v feedView
		if err := json.Unmarshal(f.Payload, &v); err != nil {
			return false
		}
		return cond(v)
	}
}

func TestFeedSocket_StreamsSnapshots(t *testing.T) {
	env := newTestEnv(t, 0)
	addr := listen(t, env)
	conn := dialFeed(t, addr, "u1")

	readUntil(t, conn, feedFrame(func(v feedView) bool { return v.State == "ready" && v.Live }))
	readUntil(t, conn, func(f rawFrame) bool { return f.Type == FrameDraft })

	sess, ok := env.sessions.Get("u1")
	require.True(t, ok)
	require.NoError(t, sess.Draft().SetText("typing"))

	f := readUntil(t, conn, func(f rawFrame) bool {
		if f.Type != FrameDraft {
			return false
		}
		var st draft.State
		return json.Unmarshal(f.Payload, &st) == nil && st.Text == "typing"
	})
	assert.Equal(t, FrameDraft, f.Type)

	// A write from elsewhere reaches the socket through the change feed.
	_, err := env.remote.Insert(context.Background(), models.NewPost{UserID: "u1", Content: "pushed"})
	require.NoError(t, err)
	f = readUntil(t, conn, feedFrame(func(v feedView) bool { return v.Count == 1 && !v.Loading }))

	var v feedView
	require.NoError(t, json.Unmarshal(f.Payload, &v))
	assert.Equal(t, "pushed", v.Posts[0].Content)
}

func TestFeedSocket_ClosedOnSignOut(t *testing.T) {
	env := newTestEnv(t, 0)
	addr := listen(t, env)
	conn := dialFeed(t, addr, "u1")

	readUntil(t, conn, feedFrame(func(v feedView) bool { return v.State == "ready" }))
	require.True(t, env.sessions.Release("u1"))

	// The server hangs up once the session is gone.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var netErr net.Error
			assert.False(t, errors.As(err, &netErr) && netErr.Timeout(), "connection should close, not time out")
			return
		}
	}
}
