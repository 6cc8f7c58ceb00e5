package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/eventpix/internal/models"
	"github.com/your-org/eventpix/internal/observability"
	"github.com/your-org/eventpix/internal/storage"
)

// Failure classes surfaced to the uploader. Everything past the placeholder
// insert is asynchronous and never reaches the caller.
var (
	// ErrBacklogFull: the pending-detection queue exceeded its bound.
	ErrBacklogFull = errors.New("detection backlog full")
	// ErrStorageUnavailable: the blob write failed; nothing was persisted.
	ErrStorageUnavailable = errors.New("object storage unavailable")
	// ErrPersistence: the metadata insert failed after the blob write; the
	// blob has been cleaned up best-effort.
	ErrPersistence = errors.New("metadata persistence failed")
)

// ImageStore is the slice of the embedding store the coordinator needs.
type ImageStore interface {
	GetEventByCode(ctx context.Context, code string) (*models.Event, error)
	InsertImage(ctx context.Context, img *models.Image) error
}

// BlobStore is the slice of the object store adapter the coordinator needs.
type BlobStore interface {
	EnsureBucket(ctx context.Context, eventCode string) (string, error)
	Upload(ctx context.Context, eventCode, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, eventCode, key string) error
}

// TaskQueue hands accepted photos to the detection workers.
type TaskQueue interface {
	PublishDetectTask(ctx context.Context, eventCode string, task interface{}) error
	QueueDepth(ctx context.Context) (uint64, error)
}

// opTimeout bounds each blob/store call; a timed-out upload is treated the
// same as a failed one.
const opTimeout = 30 * time.Second

var allowedExtensions = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true, "bmp": true, "tiff": true,
}

// Coordinator runs the synchronous half of ingestion: validate, store the
// blob, insert the placeholder row, enqueue detection. Detection itself is
// off the request path.
type Coordinator struct {
	store      ImageStore
	blobs      BlobStore
	tasks      TaskQueue
	maxPending int
}

func NewCoordinator(store ImageStore, blobs BlobStore, tasks TaskQueue, maxPending int) *Coordinator {
	return &Coordinator{store: store, blobs: blobs, tasks: tasks, maxPending: maxPending}
}

// Result is returned to the uploader once the blob and record exist. Faces
// may not have been found yet; face_count reads 0 until detection commits.
type Result struct {
	UUID      string
	URL       string
	Extension string
}

// Ingest accepts one photo for an event. On success both the blob and the
// placeholder record exist and a detect task has been queued.
func (c *Coordinator) Ingest(ctx context.Context, eventCode, filename, contentType string, data []byte) (*Result, error) {
	if !strings.HasPrefix(contentType, "image/") {
		observability.IngestFailures.WithLabelValues("invalid_input").Inc()
		return nil, fmt.Errorf("content type %q: %w", contentType, storage.ErrInvalidInput)
	}

	event, err := c.store.GetEventByCode(ctx, eventCode)
	if err != nil {
		return nil, err
	}

	if c.maxPending > 0 {
		depth, err := c.tasks.QueueDepth(ctx)
		if err != nil {
			slog.Warn("queue depth check failed, admitting upload", "error", err)
		} else if depth > uint64(c.maxPending) {
			observability.IngestFailures.WithLabelValues("backlog_full").Inc()
			return nil, fmt.Errorf("%d tasks pending: %w", depth, ErrBacklogFull)
		}
	}

	uid := NewImageUUID()
	ext := InferExtension(filename)
	key := ObjectKey(uid, ext)

	upCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := c.blobs.EnsureBucket(upCtx, eventCode); err != nil {
		observability.IngestFailures.WithLabelValues("storage").Inc()
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	url, err := c.blobs.Upload(upCtx, eventCode, key, data, contentType)
	if err != nil {
		observability.IngestFailures.WithLabelValues("storage").Inc()
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	img := &models.Image{
		EventID:       event.ID,
		UUID:          uid,
		StorageURL:    url,
		FileExtension: ext,
	}
	if err := c.store.InsertImage(ctx, img); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			// Identifier collision is astronomically rare and the blob for
			// this uuid already exists, so report the upload as accepted.
			return &Result{UUID: uid, URL: url, Extension: ext}, nil
		}
		// No record may outlive its blob failure path: remove the blob so
		// orphans do not accumulate. A failed delete is logged, not escalated;
		// the reconciliation sweep covers it.
		delCtx, cancelDel := context.WithTimeout(context.WithoutCancel(ctx), opTimeout)
		defer cancelDel()
		if delErr := c.blobs.Delete(delCtx, eventCode, key); delErr != nil {
			slog.Error("compensating blob delete failed", "key", key, "error", delErr)
		}
		observability.IngestFailures.WithLabelValues("persistence").Inc()
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	task := models.DetectTask{
		ImageID:    img.ID,
		ImageUUID:  uid,
		EventID:    event.ID,
		EventCode:  eventCode,
		ObjectKey:  key,
		UploadedAt: img.CreatedAt,
	}
	if err := c.tasks.PublishDetectTask(ctx, eventCode, task); err != nil {
		// The upload itself succeeded; the image stays pending until the
		// reconciliation sweep re-enqueues it.
		slog.Error("publish detect task failed", "image_uuid", uid, "error", err)
	}

	observability.PhotosIngested.WithLabelValues(eventCode).Inc()
	return &Result{UUID: uid, URL: url, Extension: ext}, nil
}

// NewImageUUID returns a fresh 32-hex-char identifier.
func NewImageUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// InferExtension derives a storage extension from the declared filename.
// Unrecognized or absent extensions fall back to png.
func InferExtension(filename string) string {
	if filename == "" {
		return "png"
	}
	idx := strings.LastIndex(filename, ".")
	if idx < 0 || idx == len(filename)-1 {
		return "png"
	}
	ext := strings.ToLower(filename[idx+1:])
	if !allowedExtensions[ext] {
		return "png"
	}
	return ext
}

// ObjectKey is the blob path for an image within its event bucket.
func ObjectKey(imageUUID, ext string) string {
	return fmt.Sprintf("images/%s.%s", imageUUID, ext)
}
