package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"time"

	"github.com/your-org/eventpix/internal/models"
	"github.com/your-org/eventpix/internal/observability"
)

// FaceFinder localizes faces in a photo.
type FaceFinder interface {
	Detect(img image.Image) ([]models.BBox, error)
}

// FaceEmbedder turns a face crop into a fixed-length vector.
type FaceEmbedder interface {
	Embed(face image.Image) ([]float32, error)
}

// DetectionStore is the write-back surface of the embedding store.
type DetectionStore interface {
	RecordDetection(ctx context.Context, imageID int64, faces []models.DetectedFace) error
	MarkImageFailed(ctx context.Context, imageID int64) error
}

// BlobReader fetches photo bytes from the object store.
type BlobReader interface {
	Download(ctx context.Context, eventCode, key string) ([]byte, error)
}

// ProcessedPublisher announces completed photos.
type ProcessedPublisher interface {
	PublishProcessed(ctx context.Context, eventCode string, evt interface{}) error
}

// Processor is the detection worker core: download, detect, embed, write
// back. It runs on the consumer's worker goroutines, never on a request path.
type Processor struct {
	detector FaceFinder
	embedder FaceEmbedder
	store    DetectionStore
	blobs    BlobReader
	producer ProcessedPublisher
}

func NewProcessor(detector FaceFinder, embedder FaceEmbedder, store DetectionStore, blobs BlobReader, producer ProcessedPublisher) *Processor {
	return &Processor{detector: detector, embedder: embedder, store: store, blobs: blobs, producer: producer}
}

// Process handles one detect task. A returned error means the task should be
// redelivered (transient backend failure); undecodable or undetectable photos
// are marked failed and not retried.
func (p *Processor) Process(ctx context.Context, task models.DetectTask) error {
	data, err := p.blobs.Download(ctx, task.EventCode, task.ObjectKey)
	if err != nil {
		return fmt.Errorf("download %s: %w", task.ObjectKey, err)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		slog.Warn("undecodable photo", "image_uuid", task.ImageUUID, "error", err)
		return p.fail(ctx, task)
	}

	start := time.Now()
	boxes, err := p.detector.Detect(img)
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())
	if err != nil {
		slog.Warn("face detection failed", "image_uuid", task.ImageUUID, "error", err)
		return p.fail(ctx, task)
	}

	faces := make([]models.DetectedFace, 0, len(boxes))
	for _, box := range boxes {
		crop := cropFace(img, box)
		if crop == nil {
			continue
		}
		start = time.Now()
		embedding, err := p.embedder.Embed(crop)
		observability.InferenceDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())
		if err != nil {
			slog.Warn("embedding failed, skipping face", "image_uuid", task.ImageUUID, "error", err)
			continue
		}
		faces = append(faces, models.DetectedFace{BBox: box, Embedding: embedding})
	}

	// Count update, face rows, and status flip commit together; the
	// placeholder row stays untouched if this fails and the task retries.
	if err := p.store.RecordDetection(ctx, task.ImageID, faces); err != nil {
		return fmt.Errorf("record detection for %s: %w", task.ImageUUID, err)
	}

	observability.FacesDetected.WithLabelValues(task.EventCode).Add(float64(len(faces)))
	slog.Info("photo processed", "image_uuid", task.ImageUUID, "faces", len(faces))

	p.announce(ctx, task, len(faces), models.ImageStatusProcessed)
	return nil
}

// fail marks the image failed and consumes the task. Detection failures are
// never surfaced to the uploader; the status field is the durable signal.
func (p *Processor) fail(ctx context.Context, task models.DetectTask) error {
	observability.DetectionFailures.Inc()
	if err := p.store.MarkImageFailed(ctx, task.ImageID); err != nil {
		return fmt.Errorf("mark image %s failed: %w", task.ImageUUID, err)
	}
	p.announce(ctx, task, 0, models.ImageStatusFailed)
	return nil
}

func (p *Processor) announce(ctx context.Context, task models.DetectTask, faceCount int, status models.ImageStatus) {
	if p.producer == nil {
		return
	}
	evt := models.PhotoProcessed{
		ImageUUID:   task.ImageUUID,
		EventCode:   task.EventCode,
		FaceCount:   faceCount,
		Status:      string(status),
		ProcessedAt: time.Now().UTC(),
	}
	if err := p.producer.PublishProcessed(ctx, task.EventCode, evt); err != nil {
		slog.Warn("publish processed event", "image_uuid", task.ImageUUID, "error", err)
	}
}
