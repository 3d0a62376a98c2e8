package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/teamroom/internal/adapters/signal"
	"github.com/dkeye/teamroom/internal/app"
	"github.com/dkeye/teamroom/internal/config"
	"github.com/dkeye/teamroom/internal/domain"
)

const userKey = "user"

// Backend groups what the mock API handlers need.
type Backend struct {
	Registry *app.Registry
	Rooms    *app.RoomManager
	Hub      *signal.Hub
}

// NewBackend wires the lobby to the push hub so ended rooms drop their sockets.
func NewBackend(cfg *config.Server) *Backend {
	b := &Backend{Registry: app.NewRegistry()}
	b.Rooms = app.NewRoomManager(cfg.MinMatch, cfg.MaxRoom, func(id domain.RoomID) {
		b.Hub.CloseRoom(id)
	})
	b.Hub = signal.NewHub(b.Rooms, signal.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		ChatLimit:  cfg.ChatLimit,
		ChatWindow: cfg.ChatWindow,
	})
	return b
}

// AuthMiddleware resolves the bearer token, or the token query parameter
// used by websocket clients, to a user.
func AuthMiddleware(reg *app.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			token = c.Query("token")
		}
		u, ok := reg.Authenticate(token)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Unauthorized"})
			return
		}
		c.Set(userKey, u)
		c.Next()
	}
}

func currentUser(c *gin.Context) *domain.User {
	return c.MustGet(userKey).(*domain.User)
}

func SetupRouter(cfg *config.Server, b *Backend) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.POST("/auth/login", b.login)

	authed := r.Group("/", AuthMiddleware(b.Registry))
	authed.GET("/profile/me", b.profile)

	mm := authed.Group("/matchmaking")
	mm.POST("/join", b.join)
	mm.GET("/status", b.status)
	mm.POST("/leave", b.leaveQueue)
	mm.POST("/end-room", b.endRoom)

	rooms := authed.Group("/rooms")
	rooms.GET("/", b.listRooms)
	rooms.GET("/my", b.myRoom)
	rooms.GET("/history", b.history)
	rooms.GET("/:id", b.getRoom)
	rooms.POST("/:id/leave", b.leaveRoom)

	authed.GET("/ws/rooms/:id", func(c *gin.Context) {
		b.Hub.Serve(c, currentUser(c), domain.RoomID(c.Param("id")))
	})

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
