package server

import (
	"context"
	"time"

	"postsync/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

const writeWait = 10 * time.Second

// Frame types sent on /ws/feed.
const (
	FrameFeed  = "feed"
	FrameDraft = "draft"
)

// Frame is one message on the feed socket.
type Frame struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// FeedSocketHandler streams the caller's feed and draft snapshots. The
// current state of both is sent on connect, then every change after that.
// Slow clients skip intermediate snapshots and always see the latest one.
func (s *Server) FeedSocketHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		uid, _ := conn.Locals(userIDLocal).(string)
		ctx := observability.WithUserID(context.Background(), uid)
		log := observability.Logger.With("user_id", uid)

		sess, err := s.sessions.Acquire(ctx, uid)
		if err != nil {
			log.Warn("websocket session unavailable", "error", err)
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, err.Error()))
			return
		}

		observability.WebSocketClients.Inc()
		defer observability.WebSocketClients.Dec()
		log.Info("websocket connected")
		defer log.Info("websocket disconnected")

		feedCh, stopFeed := sess.Feed().Watch()
		defer stopFeed()
		draftCh, stopDraft := sess.Draft().Watch()
		defer stopDraft()

		// The reader only exists to notice the client going away.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		send := func(frame Frame) bool {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(frame); err != nil {
				log.Debug("websocket write failed", "error", err)
				return false
			}
			return true
		}

		for {
			select {
			case <-gone:
				return
			case snap, ok := <-feedCh:
				if !ok || !send(Frame{Type: FrameFeed, Payload: snap}) {
					return
				}
			case st, ok := <-draftCh:
				if !ok || !send(Frame{Type: FrameDraft, Payload: st}) {
					return
				}
			}
		}
	})
}
