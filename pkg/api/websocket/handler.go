package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/agentivo/overlap/pkg/relay"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // peers connect from any page
	},
}

// Relay is the part of the relay the transport drives
type Relay interface {
	Attach(remote string) (*relay.Peer, error)
	Detach(p *relay.Peer)
	Receive(ctx context.Context, from *relay.Peer, frame []byte) error
}

// Handler handles relay WebSocket connections
type Handler struct {
	relay           Relay
	maxMessageBytes int64
	logger          *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(r Relay, maxMessageBytes int64, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		relay:           r,
		maxMessageBytes: maxMessageBytes,
		logger:          logger,
	}
}

// HandleRelay upgrades the request and attaches the connection as a relay peer
func (h *Handler) HandleRelay(c *gin.Context) {
	if !websocket.IsWebSocketUpgrade(c.Request) {
		c.Header("Upgrade", "websocket")
		c.String(http.StatusUpgradeRequired, "websocket upgrade required")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}

	peer, err := h.relay.Attach(c.ClientIP())
	if err != nil {
		h.logger.Warn("rejecting relay peer", zap.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay closed"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	h.logger.Info("WebSocket connection established",
		zap.String("peer_id", peer.ID()),
		zap.String("client", c.ClientIP()))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	written := make(chan struct{})
	go func() {
		defer close(written)
		h.writePump(ctx, conn, peer)
	}()

	h.readPump(ctx, conn, peer)

	h.relay.Detach(peer)
	cancel()
	<-written

	h.logger.Info("WebSocket connection closed", zap.String("peer_id", peer.ID()))
}

// readPump feeds frames from the socket into the relay until the socket fails
func (h *Handler) readPump(ctx context.Context, conn *websocket.Conn, peer *relay.Peer) {
	if h.maxMessageBytes > 0 {
		conn.SetReadLimit(h.maxMessageBytes)
	}
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.logger.Debug("relay peer read failed",
					zap.String("peer_id", peer.ID()),
					zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		if err := h.relay.Receive(ctx, peer, data); err != nil {
			h.logger.Debug("relay rejected frame",
				zap.String("peer_id", peer.ID()),
				zap.Error(err))
		}
	}
}

// writePump drains the peer's outbound queue onto the socket and keeps the
// connection alive with pings. It closes the socket on exit, which also
// stops readPump.
func (h *Handler) writePump(ctx context.Context, conn *websocket.Conn, peer *relay.Peer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case frame := <-peer.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.logger.Debug("relay peer write failed",
					zap.String("peer_id", peer.ID()),
					zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}

		case <-peer.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay closed"),
				time.Now().Add(writeWait))
			return

		case <-ctx.Done():
			return
		}
	}
}
