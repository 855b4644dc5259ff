package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/timmy/eventgallery/internal/api/handler"
	"github.com/timmy/eventgallery/internal/api/middleware"
	"github.com/timmy/eventgallery/internal/logger"
	"github.com/timmy/eventgallery/internal/metrics"
)

// RouterConfig holds router-level settings.
type RouterConfig struct {
	Mode   string
	CORS   middleware.CORSConfig
	Logger *logger.Logger
	// FilesDir is served under /files when images are stored on local disk.
	FilesDir string
	// MaxUploadBytes bounds multipart memory use.
	MaxUploadBytes int64
}

// Handlers groups the HTTP handlers. Events may be nil.
type Handlers struct {
	Health *handler.HealthHandler
	Images *handler.ImageHandler
	Search *handler.SearchHandler
	Events *handler.EventHandler
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(cfg RouterConfig, h Handlers) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	if cfg.MaxUploadBytes > 0 {
		r.MaxMultipartMemory = cfg.MaxUploadBytes
	}

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(cfg.Logger))
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(metrics.Middleware())

	r.GET("/health", h.Health.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if cfg.FilesDir != "" {
		r.Static("/files", cfg.FilesDir)
	}

	api := r.Group("/api")
	{
		api.GET("/images", h.Images.ListImages)
		api.POST("/images", h.Images.UploadImage)
		api.GET("/images/:id", h.Images.GetImage)
		api.DELETE("/images/:id", h.Images.DeleteImage)

		api.POST("/search", h.Search.Search)

		if h.Events != nil {
			api.GET("/events", h.Events.ListEvents)
			api.POST("/events", h.Events.CreateEvent)
			api.GET("/events/:id", h.Events.GetEvent)
			api.PUT("/events/:id", h.Events.UpdateEvent)
			api.DELETE("/events/:id", h.Events.DeleteEvent)
			api.GET("/events/:id/rsvps", h.Events.ListRSVPs)
			api.POST("/events/:id/rsvps", h.Events.CreateRSVP)
			api.GET("/events/:id/rsvps/summary", h.Events.RSVPSummary)
			api.POST("/rsvps", h.Events.CreateRSVP)
		}
	}

	return r
}
