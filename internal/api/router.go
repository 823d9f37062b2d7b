package api

import (
	"net/http"
	"time"

	"github.com/evetabi/invest/internal/api/handler"
	"github.com/evetabi/invest/internal/api/middleware"
	"github.com/evetabi/invest/internal/config"
	"github.com/evetabi/invest/internal/metrics"
	"github.com/evetabi/invest/internal/service"
	"github.com/evetabi/invest/internal/ws"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

// roomsCacheTTL bounds how long the catalog response is served from memory.
const roomsCacheTTL = 5 * time.Minute

// RouterDeps bundles every dependency needed to build the router.
// Populated once in main() and passed to SetupRouter.
type RouterDeps struct {
	Manager *service.PositionManager
	Hub     *ws.Hub
	Cfg     *config.Config
}

// SetupRouter creates and configures the main Gin engine with all routes,
// middleware, CORS, and rate limiting rules.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())

	// ── CORS ─────────────────────────────────────────────────────────────────
	r.Use(corsMiddleware(deps.Cfg))

	// ── Health / metrics ─────────────────────────────────────────────────────
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// ── Handlers ─────────────────────────────────────────────────────────────
	investH := handler.NewInvestHandler(deps.Manager)
	roomH := handler.NewRoomHandler(deps.Manager)
	walletH := handler.NewWalletHandler(deps.Manager)

	// ── Rate limiter / cache ─────────────────────────────────────────────────
	openRL := middleware.RateLimitMiddleware(deps.Cfg.RateLimit.OpenPerSecond, deps.Cfg.RateLimit.OpenBurst)
	roomsCache := middleware.Cache(cache.New(roomsCacheTTL, 2*roomsCacheTTL), roomsCacheTTL)

	api := r.Group("/api")
	{
		api.GET("/rooms", roomsCache, roomH.ListRooms)

		invest := api.Group("/invest")
		{
			invest.GET("/state", investH.GetState)
			invest.GET("/active", investH.GetActive)
			invest.GET("/history", investH.GetHistory)
			invest.POST("/positions", openRL, investH.OpenPosition)
		}

		wallet := api.Group("/wallet")
		{
			wallet.GET("/balance", walletH.GetBalance)
		}
	}

	// ── WebSocket ─────────────────────────────────────────────────────────────
	if deps.Hub != nil {
		r.GET("/ws", func(c *gin.Context) {
			deps.Hub.ServeWs(c.Writer, c.Request)
		})
	}

	return r
}

// ── CORS helper ───────────────────────────────────────────────────────────────

// corsMiddleware sets CORS headers. With no configured origins every origin
// is allowed; otherwise only listed origins are echoed back.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	origins := cfg.Origins()
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		switch {
		case len(allowed) == 0 || allowed["*"]:
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
