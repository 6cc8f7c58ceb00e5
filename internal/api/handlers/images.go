package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/eventpix/internal/ingest"
	"github.com/your-org/eventpix/internal/models"
	"github.com/your-org/eventpix/internal/storage"
	"github.com/your-org/eventpix/pkg/dto"
)

// Uploader accepts a photo into the pool.
type Uploader interface {
	Ingest(ctx context.Context, eventCode, filename, contentType string, data []byte) (*ingest.Result, error)
}

// ImageReader is the store surface the photo endpoints read through.
type ImageReader interface {
	GetEventByCode(ctx context.Context, code string) (*models.Event, error)
	GetEventByID(ctx context.Context, id int64) (*models.Event, error)
	GetImages(ctx context.Context, eventID int64, f storage.ImageFilter, limit, offset int) ([]models.Image, error)
	GetImageDetail(ctx context.Context, uuid string) (*models.Image, []models.Face, error)
	GetImageByUUID(ctx context.Context, uuid string) (*models.Image, error)
	DeleteImage(ctx context.Context, uuid string) error
}

// BlobRemover deletes a photo's bytes from the event bucket.
type BlobRemover interface {
	Delete(ctx context.Context, eventCode, key string) error
}

type ImageHandler struct {
	coordinator Uploader
	store       ImageReader
	blobs       BlobRemover
}

func NewImageHandler(coordinator Uploader, store ImageReader, blobs BlobRemover) *ImageHandler {
	return &ImageHandler{coordinator: coordinator, store: store, blobs: blobs}
}

// Upload accepts a multipart photo for an event.
func (h *ImageHandler) Upload(c *gin.Context) {
	eventCode := c.PostForm("event_code")
	if eventCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event_code required"})
		return
	}

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read image failed"})
		return
	}

	res, err := h.coordinator.Ingest(c.Request.Context(), eventCode,
		header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.UploadResponse{
		UUID:      res.UUID,
		URL:       res.URL,
		Extension: res.Extension,
		Status:    string(models.ImageStatusPending),
	})
}

// List returns an event's photos, filterable by date range, face count
// bounds, and cluster membership.
func (h *ImageHandler) List(c *gin.Context) {
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

	var f storage.ImageFilter
	if v := c.Query("date_from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date_from"})
			return
		}
		f.DateFrom = &t
	}
	if v := c.Query("date_to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date_to"})
			return
		}
		f.DateTo = &t
	}
	if v := c.Query("min_faces"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid min_faces"})
			return
		}
		f.MinFaces = &n
	}
	if v := c.Query("max_faces"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid max_faces"})
			return
		}
		f.MaxFaces = &n
	}
	if v := c.Query("cluster_ids"); v != "" {
		for _, part := range strings.Split(v, ",") {
			id, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cluster_ids"})
				return
			}
			f.ClusterIDs = append(f.ClusterIDs, id)
		}
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	images, err := h.store.GetImages(c.Request.Context(), ev.ID, f, limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := make([]dto.ImageResponse, 0, len(images))
	for _, img := range images {
		resp = append(resp, imageResponse(img))
	}
	c.JSON(http.StatusOK, gin.H{"images": resp, "total": len(resp)})
}

// Get returns one photo with its detected faces.
func (h *ImageHandler) Get(c *gin.Context) {
	img, faces, err := h.store.GetImageDetail(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		writeError(c, err)
		return
	}

	faceResp := make([]dto.FaceResponse, 0, len(faces))
	for _, face := range faces {
		faceResp = append(faceResp, dto.FaceResponse{
			ID:        face.ID,
			BBox:      dto.BBox(face.BBox),
			ClusterID: face.ClusterID,
		})
	}
	c.JSON(http.StatusOK, dto.ImageDetailResponse{
		ImageResponse: imageResponse(*img),
		Faces:         faceResp,
	})
}

// Delete removes a photo: blob first, then the record (faces cascade). A
// record pointing at a missing blob is harmless and the reconciler reports
// it; a blob without a record would leak storage, so that order is fixed.
func (h *ImageHandler) Delete(c *gin.Context) {
	uuid := c.Param("uuid")

	img, err := h.store.GetImageByUUID(c.Request.Context(), uuid)
	if err != nil {
		writeError(c, err)
		return
	}
	ev, err := h.store.GetEventByID(c.Request.Context(), img.EventID)
	if err != nil {
		writeError(c, err)
		return
	}

	key := ingest.ObjectKey(img.UUID, img.FileExtension)
	if err := h.blobs.Delete(c.Request.Context(), ev.Code, key); err != nil {
		slog.Error("delete blob", "image_uuid", uuid, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "object storage unavailable"})
		return
	}

	if err := h.store.DeleteImage(c.Request.Context(), uuid); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func imageResponse(img models.Image) dto.ImageResponse {
	return dto.ImageResponse{
		UUID:         img.UUID,
		URL:          img.StorageURL,
		Extension:    img.FileExtension,
		FaceCount:    img.FaceCount,
		Status:       string(img.Status),
		CreatedAt:    img.CreatedAt.Format(time.RFC3339),
		LastModified: img.LastModified.Format(time.RFC3339),
	}
}
