package ginserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"rentalcore/internal/infra/config"
	"rentalcore/internal/infra/obs"
)

type BookingHTTP interface {
	Submit(c *gin.Context)
	Get(c *gin.Context)
	Decide(c *gin.Context)
	Cancel(c *gin.Context)
	Release(c *gin.Context)
	ListMine(c *gin.Context)
	ListOwned(c *gin.Context)
}

type PropertyHTTP interface {
	Occupancy(c *gin.Context)
	Reconcile(c *gin.Context)
}

type Handlers struct {
	Booking  BookingHTTP
	Property PropertyHTTP
}

func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	mode := configureGinMode(cfg.Env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           NewRouter(obsMW, health, h),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func NewRouter(obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Idempotency-Key", userIDHeader, userRolesHeader},
		ExposeHeaders: []string{
			"Content-Length",
			"Content-Type",
			"Retry-After",
			obs.RequestIDHeader,
		},
		MaxAge: 12 * time.Hour,
	}))
	router.Use(Principal())

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)

	api := router.Group("/api/v1")
	if h.Booking != nil {
		api.POST("/bookings", h.Booking.Submit)
		api.GET("/bookings/:id", h.Booking.Get)
		api.POST("/bookings/:id/decision", h.Booking.Decide)
		api.POST("/bookings/:id/cancel", h.Booking.Cancel)
		api.POST("/bookings/:id/release", h.Booking.Release)
		api.GET("/me/bookings", h.Booking.ListMine)
		api.GET("/owner/bookings", h.Booking.ListOwned)
	}
	if h.Property != nil {
		api.GET("/properties/:id/occupancy", h.Property.Occupancy)
		api.POST("/properties/:id/reconcile", h.Property.Reconcile)
	}
	return router
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug", "dev", "local":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}
