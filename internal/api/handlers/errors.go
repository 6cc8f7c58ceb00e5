package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/eventpix/internal/ingest"
	"github.com/your-org/eventpix/internal/storage"
)

// writeError maps domain sentinels onto HTTP statuses. Anything unrecognized
// is a 500 with a generic body so backend details never leak to clients.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, storage.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, storage.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ingest.ErrBacklogFull):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "processing backlog full, retry later"})
	case errors.Is(err, ingest.ErrStorageUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "object storage unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
