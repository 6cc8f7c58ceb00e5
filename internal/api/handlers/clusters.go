package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/your-org/eventpix/internal/models"
	"github.com/your-org/eventpix/internal/storage"
	"github.com/your-org/eventpix/pkg/dto"
)

// ClusterStore is the store surface of the cluster endpoints: the event
// lookup, the summary read, and the write boundary the external clustering
// job shares.
type ClusterStore interface {
	GetEventByCode(ctx context.Context, code string) (*models.Event, error)
	ClusterSummary(ctx context.Context, eventID int64, sampleSize int) ([]storage.ClusterInfo, error)
	storage.ClusterWriter
}

type ClusterHandler struct {
	store ClusterStore
}

func NewClusterHandler(store ClusterStore) *ClusterHandler {
	return &ClusterHandler{store: store}
}

// Summary lists an event's person clusters with sample faces.
func (h *ClusterHandler) Summary(c *gin.Context) {
	eventCode := c.Query("event_code")
	if eventCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event_code required"})
		return
	}

	ev, err := h.store.GetEventByCode(c.Request.Context(), eventCode)
	if err != nil {
		writeError(c, err)
		return
	}

	samples, _ := strconv.Atoi(c.DefaultQuery("samples", "3"))

	clusters, err := h.store.ClusterSummary(c.Request.Context(), ev.ID, samples)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := make([]dto.ClusterResponse, 0, len(clusters))
	for _, cl := range clusters {
		out := dto.ClusterResponse{
			ClusterID: cl.ClusterID,
			FaceCount: cl.FaceCount,
			Samples:   make([]dto.ClusterSample, 0, len(cl.Samples)),
		}
		for _, s := range cl.Samples {
			out.Samples = append(out.Samples, dto.ClusterSample{
				FaceID:   s.FaceID,
				ImageURL: s.ImageURL,
				BBox:     dto.BBox(s.BBox),
			})
		}
		resp = append(resp, out)
	}
	c.JSON(http.StatusOK, gin.H{"clusters": resp, "total": len(resp)})
}

// Assign applies a clustering batch: every listed face gets its new cluster
// id in one transaction.
func (h *ClusterHandler) Assign(c *gin.Context) {
	var req dto.AssignClustersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ev, err := h.store.GetEventByCode(c.Request.Context(), req.EventCode)
	if err != nil {
		writeError(c, err)
		return
	}

	assignments := make([]storage.ClusterAssignment, 0, len(req.Assignments))
	for _, a := range req.Assignments {
		if a.ClusterID < models.ClusterPending {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cluster_id"})
			return
		}
		assignments = append(assignments, storage.ClusterAssignment{
			FaceID:    a.FaceID,
			ClusterID: a.ClusterID,
		})
	}

	if err := h.store.BulkUpdateClusterIDs(c.Request.Context(), ev.ID, assignments); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": len(assignments)})
}
