package ingest

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/your-org/eventpix/internal/models"
	"github.com/your-org/eventpix/internal/observability"
	"github.com/your-org/eventpix/internal/storage"
)

// ReconcileStore is the read surface the sweep needs.
type ReconcileStore interface {
	ListEvents(ctx context.Context) ([]models.Event, error)
	ListImages(ctx context.Context, eventID int64) ([]models.Image, error)
	GetImageByUUID(ctx context.Context, uuid string) (*models.Image, error)
}

// ReconcileBlobs is the blob surface the sweep needs.
type ReconcileBlobs interface {
	ListObjects(ctx context.Context, eventCode, prefix string) ([]storage.ObjectInfo, error)
	StatObject(ctx context.Context, eventCode, key string) (bool, time.Time, error)
	Delete(ctx context.Context, eventCode, key string) error
}

// Reconciler periodically resolves the two orphan classes the two-backend
// write path can leave behind: blobs with no record (deleted once past the
// grace window) and records with no blob (logged and counted; the photo is
// unrecoverable and needs operator attention). It also re-enqueues pending
// images whose detect task was lost.
type Reconciler struct {
	store ReconcileStore
	blobs ReconcileBlobs
	tasks TaskQueue
	grace time.Duration
}

func NewReconciler(store ReconcileStore, blobs ReconcileBlobs, tasks TaskQueue, grace time.Duration) *Reconciler {
	return &Reconciler{store: store, blobs: blobs, tasks: tasks, grace: grace}
}

// Run sweeps every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				slog.Error("reconcile sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs one full pass over all events.
func (r *Reconciler) Sweep(ctx context.Context) error {
	events, err := r.store.ListEvents(ctx)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if err := r.sweepEvent(ctx, ev); err != nil {
			slog.Error("reconcile event failed", "event_code", ev.Code, "error", err)
		}
	}
	return nil
}

func (r *Reconciler) sweepEvent(ctx context.Context, ev models.Event) error {
	cutoff := time.Now().Add(-r.grace)

	// Blobs without a record.
	objects, err := r.blobs.ListObjects(ctx, ev.Code, "images/")
	if err != nil {
		return err
	}
	for _, obj := range objects {
		if obj.LastModified.After(cutoff) {
			continue // possibly an in-flight upload
		}
		uid := imageUUIDFromKey(obj.Key)
		if uid == "" {
			continue
		}
		_, err := r.store.GetImageByUUID(ctx, uid)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if err := r.blobs.Delete(ctx, ev.Code, obj.Key); err != nil {
			slog.Error("delete orphan blob failed", "event_code", ev.Code, "key", obj.Key, "error", err)
			continue
		}
		observability.OrphanBlobsDeleted.Inc()
		slog.Info("deleted orphan blob", "event_code", ev.Code, "key", obj.Key)
	}

	// Records without a blob, and stuck pending images.
	images, err := r.store.ListImages(ctx, ev.ID)
	if err != nil {
		return err
	}
	for _, img := range images {
		key := ObjectKey(img.UUID, img.FileExtension)
		exists, _, err := r.blobs.StatObject(ctx, ev.Code, key)
		if err != nil {
			return err
		}
		if !exists {
			observability.OrphanRecords.Inc()
			slog.Warn("image record has no blob", "event_code", ev.Code, "image_uuid", img.UUID)
			continue
		}
		if img.Status == models.ImageStatusPending && img.CreatedAt.Before(cutoff) {
			task := models.DetectTask{
				ImageID:    img.ID,
				ImageUUID:  img.UUID,
				EventID:    ev.ID,
				EventCode:  ev.Code,
				ObjectKey:  key,
				UploadedAt: img.CreatedAt,
			}
			if err := r.tasks.PublishDetectTask(ctx, ev.Code, task); err != nil {
				slog.Error("re-enqueue detect task failed", "image_uuid", img.UUID, "error", err)
				continue
			}
			slog.Info("re-enqueued stale pending image", "event_code", ev.Code, "image_uuid", img.UUID)
		}
	}

	return nil
}

// imageUUIDFromKey extracts the 32-char uuid from "images/<uuid>.<ext>".
func imageUUIDFromKey(key string) string {
	base := path.Base(key)
	uid, _, ok := strings.Cut(base, ".")
	if !ok || len(uid) != 32 {
		return ""
	}
	return uid
}
