package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/eventpix/internal/api/handlers"
	"github.com/your-org/eventpix/internal/api/ws"
	"github.com/your-org/eventpix/internal/auth"
	"github.com/your-org/eventpix/internal/ingest"
	"github.com/your-org/eventpix/internal/queue"
	"github.com/your-org/eventpix/internal/storage"
)

type RouterConfig struct {
	APIKey      string
	DB          *storage.PostgresStore
	MinIO       *storage.MinIOStore
	Producer    *queue.Producer
	Coordinator *ingest.Coordinator
	Hub         *ws.Hub
	// EmbedFn extracts an embedding from a probe photo (vision pipeline).
	// Nil when the API runs without models; image search returns 503 then.
	EmbedFn func(imageData []byte) ([]float32, error)
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.MinIO, cfg.Producer)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Events
	eventH := handlers.NewEventHandler(cfg.DB, cfg.MinIO)
	v1.POST("/events", eventH.Create)
	v1.GET("/events", eventH.List)
	v1.GET("/events/:code", eventH.Get)
	v1.PUT("/events/:code", eventH.Update)
	v1.DELETE("/events/:code", eventH.Delete)

	// Photos
	imageH := handlers.NewImageHandler(cfg.Coordinator, cfg.DB, cfg.MinIO)
	v1.POST("/pics", imageH.Upload)
	v1.GET("/pics", imageH.List)
	v1.GET("/pics/:uuid", imageH.Get)
	v1.DELETE("/pics/:uuid", imageH.Delete)

	// Similarity search
	searchH := handlers.NewSearchHandler(cfg.DB)
	searchH.EmbedFn = cfg.EmbedFn
	v1.POST("/search", searchH.Search)

	// Clusters
	clusterH := handlers.NewClusterHandler(cfg.DB)
	v1.GET("/clusters", clusterH.Summary)
	v1.PUT("/clusters/assignments", clusterH.Assign)

	return r
}
