package http

import (
	"context"
	"net/http"
	"path/filepath"
	"slices"
	"time"

	"github.com/dkeye/voicestream/internal/adapters/signal"
	"github.com/dkeye/voicestream/internal/app"
	"github.com/dkeye/voicestream/internal/config"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

// ClientTokenMiddleware keeps a stable per-browser token in the cookie
// session so reconnecting widgets can be correlated in the logs.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		token, _ := session.Get("ct").(string)
		if token == "" {
			token = genClientToken()
			session.Set("ct", token)
			if err := session.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save client token")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cfg
}

type healthResponse struct {
	Status  string  `json:"status"`
	Streams int     `json:"streams"`
	Clients int     `json:"clients"`
	Uptime  float64 `json:"uptime"`
}

type streamView struct {
	app.StreamInfo
	Subscribers int `json:"subscribers"`
}

func SetupRouter(ctx context.Context, cfg *config.ServerConfig, ctl *signal.SignalWSController) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	started := time.Now()
	o := ctl.Orch

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	if ctl.Metrics != nil {
		r.Use(ctl.Metrics.RequestMiddleware())
	}
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("VoiceSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)

	ws := func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("client", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctl.HandleSignal(ctx, c)
	}
	r.GET("/ws", ws)
	r.GET("/", func(c *gin.Context) {
		if websocket.IsWebSocketUpgrade(c.Request) {
			ws(c)
			return
		}
		c.File(filepath.Join(cfg.StaticPath, "index.html"))
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, healthResponse{
			Status:  "ok",
			Streams: o.Streams.Len(),
			Clients: o.Registry.Count(),
			Uptime:  time.Since(started).Seconds(),
		})
	})

	if ctl.Metrics != nil {
		r.GET("/metrics", gin.WrapH(ctl.Metrics.Handler()))
	}

	api := r.Group("/api")
	api.GET("/streams", func(c *gin.Context) {
		list := o.Streams.List()
		out := make([]streamView, 0, len(list))
		for _, info := range list {
			out = append(out, streamView{StreamInfo: info, Subscribers: o.Relays.Subscribers(info.ID)})
		}
		c.JSON(http.StatusOK, gin.H{"streams": out})
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")
	return r
}
