package handlers

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/your-org/eventpix/internal/models"
	"github.com/your-org/eventpix/internal/storage"
	"github.com/your-org/eventpix/pkg/dto"
)

// Searcher is the store surface of the similarity endpoint.
type Searcher interface {
	GetEventByCode(ctx context.Context, code string) (*models.Event, error)
	SimilaritySearch(ctx context.Context, eventID int64, embedding []float32, metric storage.Metric, topK int) ([]storage.FaceMatch, error)
}

type SearchHandler struct {
	store Searcher
	// EmbedFn extracts the embedding from a probe photo containing exactly
	// one face. Nil when the vision models are not loaded.
	EmbedFn func(imageData []byte) ([]float32, error)
}

func NewSearchHandler(store Searcher) *SearchHandler {
	return &SearchHandler{store: store}
}

// Search finds the closest faces within an event. Callers either upload a
// probe photo (multipart) or post a raw embedding (JSON).
func (h *SearchHandler) Search(c *gin.Context) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		h.searchByImage(c)
		return
	}
	h.searchByEmbedding(c)
}

func (h *SearchHandler) searchByImage(c *gin.Context) {
	eventCode := c.PostForm("event_code")
	if eventCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event_code required"})
		return
	}

	file, _, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file required"})
		return
	}
	defer file.Close()

	imageData, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read image failed"})
		return
	}

	if h.EmbedFn == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "face models not loaded"})
		return
	}

	embedding, err := h.EmbedFn(imageData)
	if err != nil {
		writeError(c, err)
		return
	}

	topK := 0
	if raw := c.DefaultQuery("top_k", c.PostForm("top_k")); raw != "" {
		topK, err = strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid top_k"})
			return
		}
	}
	h.run(c, eventCode, embedding, c.PostForm("metric"), topK)
}

func (h *SearchHandler) searchByEmbedding(c *gin.Context) {
	var req dto.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.run(c, req.EventCode, req.Embedding, req.Metric, req.TopK)
}

func (h *SearchHandler) run(c *gin.Context, eventCode string, embedding []float32, metric string, topK int) {
	ev, err := h.store.GetEventByCode(c.Request.Context(), eventCode)
	if err != nil {
		writeError(c, err)
		return
	}

	m := storage.MetricCosine
	if metric != "" {
		m = storage.Metric(metric)
	}

	matches, err := h.store.SimilaritySearch(c.Request.Context(), ev.ID, embedding, m, topK)
	if err != nil {
		writeError(c, err)
		return
	}

	results := make([]dto.SearchResult, 0, len(matches))
	for _, match := range matches {
		results = append(results, dto.SearchResult{
			FaceID:    match.FaceID,
			ImageUUID: match.ImageUUID,
			ImageURL:  match.ImageURL,
			ClusterID: match.ClusterID,
			BBox:      dto.BBox(match.BBox),
			Distance:  match.Distance,
		})
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "total": len(results)})
}
