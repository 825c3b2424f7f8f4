package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/call-relay/internal/models"
	"github.com/mossy-p/call-relay/internal/relay"
)

// API serves the read-only ops endpoints.
type API struct {
	service    *relay.Service
	presence   relay.PresenceStore
	iceServers []webrtc.ICEServer
	logger     *slog.Logger
}

func NewAPI(service *relay.Service, presence relay.PresenceStore, iceServers []webrtc.ICEServer, logger *slog.Logger) *API {
	if iceServers == nil {
		iceServers = []webrtc.ICEServer{}
	}
	return &API{
		service:    service,
		presence:   presence,
		iceServers: iceServers,
		logger:     logger,
	}
}

func (a *API) hub(c *gin.Context) (*relay.Hub, bool) {
	hub, err := a.service.Hub()
	if err != nil {
		a.logger.Error("api request before relay is ready", "path", c.FullPath(), "err", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "relay not ready"})
		return nil, false
	}
	return hub, true
}

// Stats returns connection and call counts.
func (a *API) Stats(c *gin.Context) {
	hub, ok := a.hub(c)
	if !ok {
		return
	}
	stats, err := hub.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "relay not ready"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Presence reports whether an identity is connected. The Redis mirror is
// used when configured.
func (a *API) Presence(c *gin.Context) {
	identity := c.Param("identity")

	if a.presence != nil {
		online, err := a.presence.IsOnline(c.Request.Context(), identity)
		if err == nil {
			c.JSON(http.StatusOK, models.PresenceResponse{Identity: identity, Online: online})
			return
		}
		a.logger.Warn("presence lookup failed, falling back to hub", "identity", identity, "err", err)
	}

	hub, ok := a.hub(c)
	if !ok {
		return
	}
	online, err := hub.IsOnline(c.Request.Context(), identity)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "relay not ready"})
		return
	}
	c.JSON(http.StatusOK, models.PresenceResponse{Identity: identity, Online: online})
}

// ActiveCalls lists tracked calls (requires an operator token).
func (a *API) ActiveCalls(c *gin.Context) {
	hub, ok := a.hub(c)
	if !ok {
		return
	}
	calls, err := hub.ActiveCalls(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "relay not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": calls})
}

// ICEServers returns the STUN/TURN servers clients should use.
func (a *API) ICEServers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"iceServers": a.iceServers})
}
