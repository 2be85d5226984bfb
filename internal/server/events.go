package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexjbarnes/wikisync/internal/auth"
	"github.com/alexjbarnes/wikisync/internal/docsync"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const eventWriteTimeout = 10 * time.Second

// EventsHandler upgrades the request to a WebSocket and streams every
// broadcast event to it as JSON. The feed is one way; client messages are
// discarded. A client too slow to keep up misses events.
func EventsHandler(b *docsync.Broadcaster, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			logger.Debug("event feed upgrade failed", slog.String("error", err.Error()))
			return
		}
		defer conn.CloseNow()

		events, unsubscribe := b.Subscribe()
		defer unsubscribe()

		ctx := conn.CloseRead(r.Context())
		user := auth.RequestUserID(r.Context())

		logger.Info("event feed subscribed", slog.String("user", user), slog.String("remote_ip", auth.RequestRemoteIP(r.Context())))

		for {
			select {
			case <-ctx.Done():
				logger.Info("event feed closed", slog.String("user", user))
				conn.Close(websocket.StatusNormalClosure, "")

				return
			case e, ok := <-events:
				if !ok {
					conn.Close(websocket.StatusGoingAway, "shutting down")
					return
				}

				if err := writeEvent(ctx, conn, e); err != nil {
					logger.Debug("event feed write failed", slog.String("user", user), slog.String("error", err.Error()))
					return
				}
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, e docsync.Event) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()

	return wsjson.Write(ctx, conn, e)
}
