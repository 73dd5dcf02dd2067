package http

import (
	"context"

	"github.com/dkeye/Consult/internal/adapters/signal"
	"github.com/dkeye/Consult/internal/app/orch"
	"github.com/dkeye/Consult/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const sessionTokenKey = "ct"

// ClientTokenMiddleware remembers the caller's auth token in the cookie
// session so a browser can reconnect without repeating it.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		token := signal.BearerToken(c)
		if token != "" {
			if stored, _ := sess.Get(sessionTokenKey).(string); stored != token {
				sess.Set(sessionTokenKey, token)
				if err := sess.Save(); err != nil {
					log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
				}
			}
		} else {
			token, _ = sess.Get(sessionTokenKey).(string)
		}
		c.Set(signal.ClientTokenKey, token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, reg *prometheus.Registry) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24, HttpOnly: true})
	r.Use(sessions.Sessions("ConsultSessions", store))

	r.GET("/healthz", func(c *gin.Context) { c.String(200, "ok") })
	if reg != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	ctrl := signal.NewSignalWSController(o, signal.Options{
		ReadLimit:    cfg.ReadLimit,
		PingPeriod:   cfg.PingPeriod,
		SendBuffer:   cfg.Relay.SendBuffer,
		JoinLimit:    cfg.Relay.JoinLimit,
		JoinInterval: cfg.Relay.JoinInterval,
	})
	rooms := &roomHandlers{orch: o}

	api := r.Group("/api")
	api.Use(ClientTokenMiddleware())
	api.GET("/ws/signal", func(c *gin.Context) {
		ctrl.HandleSignal(ctx, c)
	})
	api.GET("/rooms", rooms.list)
	api.DELETE("/rooms/:id", rooms.evict)

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
