package controlplane

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"
)

func init() {
	gin.SetMode(gin.ReleaseMode)
}

var corsConfig = cors.Config{
	AllowAllOrigins: true,
	AllowMethods:    []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD"},
	AllowHeaders: []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Authorization",
	},
	AllowCredentials: true,
	MaxAge:           12 * time.Hour,
}

func (s *Server) buildRouter() http.Handler {
	r := gin.New()

	httpLogger := slog.Default().WithGroup("http")
	r.Use(sloggin.NewWithConfig(httpLogger, sloggin.Config{
		DefaultLevel:     slog.LevelDebug,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
	}))
	r.Use(gin.Recovery())
	r.Use(cors.New(corsConfig))

	r.GET("/healthz", s.handleHealth)

	v1 := r.Group("/v1")
	v1.Use(tokenAuth(s.config.Token))
	{
		v1.GET("/status", s.handleStatus)
		v1.POST("/sync/force", s.handleForceSync)
		v1.POST("/sync/full/:table", s.handleFullSync)
		v1.GET("/snapshot/:table", s.handleSnapshot)
		v1.POST("/ops", s.handleEnqueue)
		v1.POST("/session/signin", s.handleSignin)
		v1.POST("/session/signout", s.handleSignout)
		v1.GET("/events", s.handleEvents)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return r.Handler()
}

// tokenAuth accepts the token from a query parameter or a bearer header.
// An empty configured token disables the check.
func tokenAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}

		got := c.Query("token")
		if got == "" {
			got = c.GetHeader("Authorization")
			if strings.HasPrefix(strings.ToLower(got), "bearer ") {
				got = got[7:]
			}
		}

		if got != token {
			slog.Debug("invalid control plane token", "ip", c.ClientIP(), "path", c.FullPath())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
