package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/eventpix/internal/queue"
	"github.com/your-org/eventpix/internal/storage"
)

type dependency struct {
	name string
	ping func(context.Context) error
}

// SystemHandler serves liveness and readiness probes. Readiness requires
// every backing dependency (Postgres, MinIO, NATS) to answer a ping.
type SystemHandler struct {
	deps []dependency
}

func NewSystemHandler(db *storage.PostgresStore, blobs *storage.MinIOStore, producer *queue.Producer) *SystemHandler {
	return &SystemHandler{deps: []dependency{
		{"postgres", db.Ping},
		{"minio", blobs.Ping},
		{"nats", func(context.Context) error { return producer.Ping() }},
	}}
}

func (h *SystemHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *SystemHandler) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.deps))
	ready := true
	for _, d := range h.deps {
		if err := d.ping(ctx); err != nil {
			checks[d.name] = err.Error()
			ready = false
		} else {
			checks[d.name] = "ok"
		}
	}

	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "checks": checks})
}
