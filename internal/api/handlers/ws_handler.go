package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/dawos/agent/internal/monitor"
	"github.com/dawos/agent/internal/services"
	"github.com/dawos/agent/internal/utils"
	"github.com/dawos/agent/internal/workers"
)

const (
	wsReadWait  = 60 * time.Second
	wsWriteWait = 10 * time.Second
)

type WSHandler struct {
	sessions services.SessionService
	queue    FrameEnqueuer
	redis    *redis.Client
	log      *logrus.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(sessions services.SessionService, queue FrameEnqueuer, rdb *redis.Client, log *logrus.Logger) *WSHandler {
	if log == nil {
		log = logrus.New()
	}
	return &WSHandler{
		sessions: sessions,
		queue:    queue,
		redis:    rdb,
		log:      log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // TODO: restrict origin once the web client host is fixed
		},
	}
}

type wsClientMsg struct {
	Type    string          `json:"type"`
	Frame   json.RawMessage `json:"frame"`
	Emotion string          `json:"emotion"`
}

type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) writeText(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.c.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.c.WriteMessage(websocket.TextMessage, b)
}

func (w *wsConn) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.writeText(b)
}

func (w *wsConn) writeError(err error) error {
	return w.writeJSON(gin.H{
		"type":    "error",
		"code":    utils.CodeOf(err),
		"message": errorMessage(err),
	})
}

func errorMessage(err error) string {
	var ae *utils.AppError
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	return "internal error"
}

// framePayload returns the raw frame a client message carries: either a JSON
// object under "frame" or a bare label under "emotion".
func (m wsClientMsg) framePayload() string {
	if len(m.Frame) > 0 && string(m.Frame) != "null" {
		var label string
		if err := json.Unmarshal(m.Frame, &label); err == nil {
			return strings.TrimSpace(label)
		}
		return string(m.Frame)
	}
	return strings.TrimSpace(m.Emotion)
}

// Monitor streams frames in and analysis events out for the caller.
func (h *WSHandler) Monitor(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	wc := &wsConn{c: conn}
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	pubsub := h.redis.Subscribe(ctx, workers.AnalysisChannel(userID))
	defer pubsub.Close()

	entry := h.log.WithField("user_id", userID)
	entry.Info("monitor socket opened")
	defer entry.Info("monitor socket closed")

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		defer cancel()
		_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))
			return nil
		})

		for {
			_, data, rerr := conn.ReadMessage()
			if rerr != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))

			var msg wsClientMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				_ = wc.writeError(utils.E(utils.CodeInvalidArgument, "WSHandler.Monitor", "invalid json", err))
				continue
			}

			if !h.handleClientMsg(ctx, wc, userID, msg) {
				return
			}
		}
	}()

	for {
		m, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			<-readDone
			return
		}
		if werr := wc.writeText([]byte(m.Payload)); werr != nil {
			cancel()
			<-readDone
			return
		}
	}
}

// handleClientMsg reports whether the socket should stay open.
func (h *WSHandler) handleClientMsg(ctx context.Context, wc *wsConn, userID string, msg wsClientMsg) bool {
	const op = "WSHandler.Monitor"

	switch msg.Type {
	case "emotion_frame":
		payload := msg.framePayload()
		if _, err := monitor.ParseFrame(payload, time.Now()); err != nil {
			_ = wc.writeError(utils.E(utils.CodeInvalidArgument, op, err.Error(), err))
			return true
		}
		if _, err := h.queue.Enqueue(ctx, userID, payload); err != nil {
			_ = wc.writeError(err)
		}
		return true

	case "start_session":
		rec, err := h.sessions.Start(ctx, userID)
		if err != nil {
			_ = wc.writeError(err)
			return true
		}
		_ = wc.writeJSON(gin.H{"type": "session_started", "session": rec})
		return true

	case "end_session":
		res, err := h.sessions.End(ctx, userID)
		if err != nil {
			_ = wc.writeError(err)
			return true
		}
		_ = wc.writeJSON(gin.H{"type": "session_ended", "result": res})
		return false

	case "ping":
		_ = wc.writeJSON(gin.H{"type": "pong"})
		return true

	default:
		_ = wc.writeError(utils.E(utils.CodeInvalidArgument, op, "unknown message type", nil))
		return true
	}
}
