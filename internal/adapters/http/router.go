package http

import (
	"context"
	"net/http"

	"github.com/dkeye/LiveView/internal/adapters/shell"
	"github.com/dkeye/LiveView/internal/app/orch"
	"github.com/dkeye/LiveView/internal/config"
	"github.com/dkeye/LiveView/internal/core"
	"github.com/dkeye/LiveView/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

const cookieMaxAge = 3600 * 24 * 7

func ClientTokenMiddleware(secure bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie("ct", token, cookieMaxAge, "/", "", secure, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// NewSessionStore is the cookie store behind the shell session. Set secure
// only when served over TLS.
func NewSessionStore(secret []byte, secure bool) cookie.Store {
	store := cookie.NewStore(secret)
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   cookieMaxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	return store
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, ctrl *shell.ShellWSController) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.Use(sessions.Sessions("LiveViewSessions", NewSessionStore([]byte(cfg.Secret), cfg.SecureCookies)))
	r.Use(ClientTokenMiddleware(cfg.SecureCookies))

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	api.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "viewers": o.Registry.Len()})
	})

	api.GET("/viewers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"viewers": o.Registry.Snapshot()})
	})

	api.DELETE("/viewers/:id", func(c *gin.Context) {
		id := core.SessionID(c.Param("id"))
		if !o.Kick(id) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown viewer"})
			return
		}
		log.Info().Str("module", "adapters.http").Str("sid", string(id)).Msg("viewer kicked")
		c.Status(http.StatusNoContent)
	})

	api.GET("/session", func(c *gin.Context) {
		var last int64
		if v, ok := sessions.Default(c).Get(shell.SessionLastBroadcast).(int64); ok {
			last = v
		}
		c.JSON(http.StatusOK, gin.H{
			"clientToken":   c.GetString("client_token"),
			"lastBroadcast": last,
		})
	})

	api.PUT("/session", func(c *gin.Context) {
		var req struct {
			LastBroadcast int64 `json:"lastBroadcast"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || domain.BroadcastID(req.LastBroadcast).Validate() != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid lastBroadcast"})
			return
		}
		s := sessions.Default(c)
		s.Set(shell.SessionLastBroadcast, req.LastBroadcast)
		if err := s.Save(); err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("save session")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "session"})
			return
		}
		c.Status(http.StatusNoContent)
	})

	api.GET("/ws/viewer", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("token", c.GetString("client_token")).Msg("ws viewer endpoint hit")
		ctrl.HandleShell(ctx, c)
	})

	return r
}
