package http

import (
	"context"
	"net/http"

	"github.com/Marrwan/choice-talent-frontend-sub002/internal/adapters/relay"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/config"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	sessionName    = "CallRelay"
	participantKey = "participant"
)

// ParticipantMiddleware resolves who is connecting: the participant query
// parameter wins, otherwise the id remembered in the cookie session is
// reused so a reconnect keeps its identity.
func ParticipantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		id := c.Query(participantKey)
		if id == "" {
			if v, ok := sess.Get(participantKey).(string); ok {
				id = v
			}
		}
		if err := domain.ParticipantID(id).Validate(); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if sess.Get(participantKey) != id {
			sess.Set(participantKey, id)
			if err := sess.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
			}
		}
		c.Set(participantKey, id)
		c.Next()
	}
}

func newEngine(mode string) *gin.Engine {
	if mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	if mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	return r
}

// SetupRelayRouter serves the signaling relay.
func SetupRelayRouter(ctx context.Context, cfg *config.Config, hub *relay.Hub, gatherer prometheus.Gatherer) *gin.Engine {
	r := newEngine(cfg.Mode)

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions(sessionName, store))

	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	api.GET("/ws/signal", ParticipantMiddleware(), func(c *gin.Context) {
		id := domain.ParticipantID(c.GetString(participantKey))
		log.Info().Str("module", "adapters.http").Str("participant", string(id)).Msg("ws signal endpoint hit")
		hub.HandleSignal(ctx, c, id)
	})
	api.GET("/participants", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"participants": hub.Participants()})
	})

	log.Info().Str("module", "adapters.http").Msg("relay router setup")
	return r
}

// SetupControlRouter serves the local call control API of one call core.
func SetupControlRouter(cfg *config.Config, ctl CallControl, gatherer prometheus.Gatherer) *gin.Engine {
	r := newEngine(cfg.Mode)

	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	h := &controlHandler{ctl: ctl}
	api := r.Group("/api/call")
	api.POST("/start", h.start)
	api.POST("/accept", h.intent(func(*gin.Context) error { return ctl.AcceptIncoming() }))
	api.POST("/decline", h.intent(func(*gin.Context) error { return ctl.DeclineIncoming() }))
	api.POST("/end", h.intent(func(*gin.Context) error { return ctl.EndCall() }))
	api.POST("/toggle-mute", h.intent(func(c *gin.Context) error { return ctl.ToggleMute(c.Request.Context()) }))
	api.POST("/toggle-camera", h.intent(func(c *gin.Context) error { return ctl.ToggleCamera(c.Request.Context()) }))
	api.POST("/toggle-screen-share", h.intent(func(c *gin.Context) error { return ctl.ToggleScreenShare(c.Request.Context()) }))
	api.GET("/state", h.state)
	api.GET("/events", h.events)

	log.Info().Str("module", "adapters.http").Msg("control router setup")
	return r
}
