package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"kana-backend/internal/gateway"
	"kana-backend/internal/shared/config"
	"kana-backend/internal/shared/metrics"
	"kana-backend/internal/shared/server/middleware"
	"kana-backend/internal/shared/server/respond"
)

// RouterDeps collects handler dependencies for NewRouter.
type RouterDeps struct {
	Config  config.Config
	Gateway *gateway.Handler
	// Ready reports whether shared dependencies are reachable; nil means always.
	Ready func() error
}

// Rate limit groups.
const (
	groupDefault  = "DEFAULT"
	groupSessions = "SESSIONS"
	groupCommands = "COMMANDS"
)

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Config.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.RateLimit(middleware.RateLimitConfig{
			DefaultGroup: groupDefault,
			GroupFor:     rateLimitGroup,
			Rules: map[string]middleware.RateLimitRule{
				groupDefault:  {Rate: 5, Burst: 20},
				groupSessions: {Rate: 0.5, Burst: 5},
				groupCommands: {Rate: 20, Burst: 60},
			},
		}),
	)

	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		if deps.Ready != nil {
			if err := deps.Ready(); err != nil {
				respond.Error(c, http.StatusServiceUnavailable, "unavailable", err.Error(), nil)
				return
			}
		}
		respond.JSON(c, http.StatusOK, gin.H{"ok": true})
	})
	if deps.Gateway != nil {
		deps.Gateway.RegisterRoutes(api)
	}

	return r
}

func rateLimitGroup(c *gin.Context) string {
	path := c.FullPath()
	switch {
	case strings.HasSuffix(path, "/commands"):
		return groupCommands
	case path == "/api/v1/sessions" || path == "/api/v1/sessions/:id":
		return groupSessions
	default:
		return groupDefault
	}
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
