package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mossy-p/call-relay/internal/metrics"
	"github.com/mossy-p/call-relay/internal/relay"
)

// SignalingHandler admits WebSocket connections into the relay.
type SignalingHandler struct {
	service  *relay.Service
	metrics  *metrics.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewSignalingHandler(service *relay.Service, m *metrics.Metrics, logger *slog.Logger) *SignalingHandler {
	return &SignalingHandler{
		service: service,
		metrics: m,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    relay.Subprotocols,
			CheckOrigin: func(r *http.Request) bool {
				// Origin checking is handled by middleware
				return true
			},
		},
	}
}

// Handle reads the callerId handshake parameter, registers the connection
// under it and starts the connection's pumps. A missing identity or a
// refused duplicate is answered before the upgrade.
func (h *SignalingHandler) Handle(c *gin.Context) {
	identity, err := relay.IdentityFromQuery(c.Request.URL.Query())
	if err != nil {
		h.metrics.Inc(metrics.ConnectionsRejected)
		h.logger.Info("handshake rejected", "remote_addr", c.ClientIP(), "err", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hub, err := h.service.Hub()
	if err != nil {
		h.logger.Error("signaling request before relay is ready", "err", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "relay not ready"})
		return
	}

	client := relay.NewClient(hub, identity)
	if err := hub.Register(c.Request.Context(), client); err != nil {
		if errors.Is(err, relay.ErrDuplicateIdentity) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("failed to register connection", "identity", identity, "err", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "relay not ready"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade connection", "identity", identity, "err", err)
		hub.Unregister(client)
		return
	}

	client.Attach(conn)
	client.Start()
}
