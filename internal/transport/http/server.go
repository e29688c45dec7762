package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/dmchat/internal/auth"
	"github.com/vovakirdan/dmchat/internal/config"
	"github.com/vovakirdan/dmchat/internal/core"
	"github.com/vovakirdan/dmchat/internal/metrics"
)

// Deps are the collaborators the HTTP layer routes to.
type Deps struct {
	Router   *core.Router
	Auth     *auth.Service
	Messages core.MessageGateway
	Metrics  *metrics.Metrics
	// MediaDir is served under cfg.Media.BaseURL when set.
	MediaDir string
}

// NewServer builds an HTTP server with all routes.
func NewServer(deps Deps, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))
	if deps.Metrics != nil {
		router.Use(MetricsMiddleware(deps.Metrics))
	}

	router.GET("/health", healthHandler)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Metrics.Registry(), promhttp.HandlerOpts{})))
	}

	ws := NewWSHandler(deps.Router, deps.Auth.Identify, WSOptions{
		MaxMessageBytes:    cfg.MaxMessageBytes,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Session: core.SessionOptions{
			QueueSize: cfg.OutboundQueueSize,
			Overflow:  core.OverflowPolicy(cfg.OverflowPolicy),
		},
	}, logger)
	router.GET("/ws", gin.WrapH(ws))
	router.GET("/ws/chat", gin.WrapH(ws))
	router.GET("/ws/chat/", gin.WrapH(ws))

	accounts := NewAccountHandlers(deps.Auth, int(cfg.JWTTTL.Seconds()), logger)
	userHandlers := NewUserHandlers(deps.Router.Presence(), deps.Messages, logger)

	api := router.Group("/api")
	{
		api.POST("/register", accounts.Register)
		api.POST("/login", accounts.Login)

		authed := api.Group("")
		authed.Use(AuthMiddleware(deps.Auth, logger))
		{
			authed.GET("/users", userHandlers.ListUsers)
			authed.GET("/users/", userHandlers.ListUsers)
			authed.GET("/messages", userHandlers.History)
			authed.GET("/messages/", userHandlers.History)
		}
	}

	if deps.MediaDir != "" {
		router.Static(cfg.Media.BaseURL, deps.MediaDir)
	}

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
