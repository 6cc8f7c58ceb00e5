package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/eventpix/internal/models"
	"github.com/your-org/eventpix/internal/storage"
	"github.com/your-org/eventpix/pkg/dto"
)

// EventStore is the store surface of the event CRUD endpoints.
type EventStore interface {
	CreateEvent(ctx context.Context, ev *models.Event) error
	GetEventByCode(ctx context.Context, code string) (*models.Event, error)
	ListEvents(ctx context.Context) ([]models.Event, error)
	UpdateEvent(ctx context.Context, code string, upd storage.EventUpdate) (*models.Event, error)
	DeleteEvent(ctx context.Context, code string) error
}

// BucketAdmin manages the per-event bucket lifecycle.
type BucketAdmin interface {
	EnsureBucket(ctx context.Context, eventCode string) (string, error)
	RenameBucket(ctx context.Context, oldCode, newCode string) error
	PurgeBucket(ctx context.Context, eventCode string) error
}

type EventHandler struct {
	store EventStore
	blobs BucketAdmin
}

func NewEventHandler(store EventStore, blobs BucketAdmin) *EventHandler {
	return &EventHandler{store: store, blobs: blobs}
}

// Event codes become bucket names after lowercasing, so they carry the
// bucket naming restrictions.
var eventCodeRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]{1,61}[a-zA-Z0-9]$`)

func (h *EventHandler) Create(c *gin.Context) {
	var req dto.CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !eventCodeRe.MatchString(req.Code) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event code"})
		return
	}

	// Bucket first: EnsureBucket is idempotent, so a later duplicate-code
	// failure leaves nothing to undo.
	if _, err := h.blobs.EnsureBucket(c.Request.Context(), req.Code); err != nil {
		slog.Error("ensure bucket", "event_code", req.Code, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "object storage unavailable"})
		return
	}

	ev := &models.Event{
		Code:        req.Code,
		Name:        req.Name,
		Description: req.Description,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
	}
	if err := h.store.CreateEvent(c.Request.Context(), ev); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, eventResponse(ev))
}

func (h *EventHandler) List(c *gin.Context) {
	events, err := h.store.ListEvents(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	resp := make([]dto.EventResponse, 0, len(events))
	for i := range events {
		resp = append(resp, eventResponse(&events[i]))
	}
	c.JSON(http.StatusOK, gin.H{"events": resp, "total": len(resp)})
}

func (h *EventHandler) Get(c *gin.Context) {
	ev, err := h.store.GetEventByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, eventResponse(ev))
}

// Update changes event fields. A code change also renames the bucket, which
// runs as copy-then-delete and can take a while on large events.
func (h *EventHandler) Update(c *gin.Context) {
	code := c.Param("code")

	var req dto.UpdateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Code != nil && !eventCodeRe.MatchString(*req.Code) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event code"})
		return
	}

	ev, err := h.store.UpdateEvent(c.Request.Context(), code, storage.EventUpdate{
		NewCode:     req.Code,
		Name:        req.Name,
		Description: req.Description,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	if req.Code != nil && *req.Code != code {
		if err := h.blobs.RenameBucket(c.Request.Context(), code, *req.Code); err != nil {
			// Record already carries the new code; revert it so code and
			// bucket never disagree.
			slog.Error("rename bucket", "from", code, "to", *req.Code, "error", err)
			if _, rbErr := h.store.UpdateEvent(c.Request.Context(), *req.Code,
				storage.EventUpdate{NewCode: &code}); rbErr != nil {
				slog.Error("revert event code", "code", code, "error", rbErr)
			}
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "object storage unavailable"})
			return
		}
	}

	c.JSON(http.StatusOK, eventResponse(ev))
}

// Delete removes an event, its photo records (cascading to faces), and the
// whole bucket.
func (h *EventHandler) Delete(c *gin.Context) {
	code := c.Param("code")

	if err := h.store.DeleteEvent(c.Request.Context(), code); err != nil {
		writeError(c, err)
		return
	}

	if err := h.blobs.PurgeBucket(c.Request.Context(), code); err != nil {
		// Records are gone; leftover blobs only waste space until an
		// operator removes the bucket manually.
		slog.Error("purge bucket", "event_code", code, "error", err)
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func eventResponse(ev *models.Event) dto.EventResponse {
	return dto.EventResponse{
		ID:          ev.ID,
		Code:        ev.Code,
		Name:        ev.Name,
		Description: ev.Description,
		StartTime:   ev.StartTime,
		EndTime:     ev.EndTime,
		CreatedAt:   ev.CreatedAt.Format(time.RFC3339),
	}
}
