package events

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxControlSize = 4096
)

// Control message types accepted from dashboards.
const (
	ControlStart = "start_system"
	ControlStop  = "stop_system"
)

// Controller starts and stops the recognition pipeline.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type controlMessage struct {
	Type string `json:"type"`
}

// ServeWS streams hub events to a dashboard as JSON and applies its start/stop control messages.
// Authentication happens before this handler.
func ServeWS(hub *Hub, ctrl Controller, logger zerolog.Logger) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	log := logger.With().Str("component", "ws").Logger()

	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Debug().Err(err).Msg("websocket upgrade failed")
			return
		}
		defer conn.Close()

		stream, unsubscribe := hub.Subscribe()
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			writeLoop(conn, stream)
		}()

		readLoop(c.Request.Context(), conn, ctrl, log)
		unsubscribe()
		<-writerDone
	}
}

func writeLoop(conn *websocket.Conn, stream <-chan Event) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-stream:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				// unblocks the reader
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func readLoop(ctx context.Context, conn *websocket.Conn, ctrl Controller, log zerolog.Logger) {
	conn.SetReadLimit(maxControlSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg controlMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("websocket closed")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if ctrl == nil {
			continue
		}

		var err error
		switch msg.Type {
		case ControlStart:
			err = ctrl.Start(ctx)
		case ControlStop:
			err = ctrl.Stop(ctx)
		default:
			log.Debug().Str("type", msg.Type).Msg("ignoring control message")
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("type", msg.Type).Msg("control message failed")
		}
	}
}
