package handlers

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/call-relay/config"
	"github.com/mossy-p/call-relay/internal/metrics"
	"github.com/mossy-p/call-relay/internal/middleware"
	"github.com/mossy-p/call-relay/internal/relay"
)

// RouterDeps are the collaborators wired into the HTTP router.
type RouterDeps struct {
	Config     *config.Config
	Service    *relay.Service
	Presence   relay.PresenceStore
	Metrics    *metrics.Metrics
	ICEServers []webrtc.ICEServer
	Logger     *slog.Logger
}

// NewRouter builds the gin engine serving signaling, the ops API and the
// static client.
func NewRouter(deps RouterDeps) *gin.Engine {
	cfg := deps.Config

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(deps.Logger))

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(cfg.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.PrometheusHandler(deps.Metrics)))

	api := NewAPI(deps.Service, deps.Presence, deps.ICEServers, deps.Logger)
	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/auth/login", Login(cfg.JWTSecret, cfg.AdminPassword))
		apiGroup.GET("/stats", api.Stats)
		apiGroup.GET("/presence/:identity", api.Presence)
		apiGroup.GET("/ice-servers", api.ICEServers)
		apiGroup.GET("/calls", middleware.JWTAuth(cfg.JWTSecret), api.ActiveCalls)
	}

	signaling := NewSignalingHandler(deps.Service, deps.Metrics, deps.Logger)
	router.GET("/ws", signaling.Handle)

	if cfg.StaticDir != "" {
		if info, err := os.Stat(cfg.StaticDir); err == nil && info.IsDir() {
			router.NoRoute(gin.WrapH(http.FileServer(http.Dir(cfg.StaticDir))))
		} else {
			deps.Logger.Warn("static directory not found, client files will not be served", "dir", cfg.StaticDir)
		}
	}

	return router
}
