package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/your-org/eventpix/internal/models"
	"github.com/your-org/eventpix/internal/storage"
)

type fakeSweepStore struct {
	events []models.Event
	images map[int64][]models.Image
	byUUID map[string]*models.Image
}

func (f *fakeSweepStore) ListEvents(_ context.Context) ([]models.Event, error) {
	return f.events, nil
}

func (f *fakeSweepStore) ListImages(_ context.Context, eventID int64) ([]models.Image, error) {
	return f.images[eventID], nil
}

func (f *fakeSweepStore) GetImageByUUID(_ context.Context, uuid string) (*models.Image, error) {
	img, ok := f.byUUID[uuid]
	if !ok {
		return nil, fmt.Errorf("image %q: %w", uuid, storage.ErrNotFound)
	}
	return img, nil
}

type fakeSweepBlobs struct {
	objects map[string][]storage.ObjectInfo // by event code
	deleted []string
}

func (f *fakeSweepBlobs) ListObjects(_ context.Context, eventCode, _ string) ([]storage.ObjectInfo, error) {
	return f.objects[eventCode], nil
}

func (f *fakeSweepBlobs) StatObject(_ context.Context, eventCode, key string) (bool, time.Time, error) {
	for _, obj := range f.objects[eventCode] {
		if obj.Key == key {
			return true, obj.LastModified, nil
		}
	}
	return false, time.Time{}, nil
}

func (f *fakeSweepBlobs) Delete(_ context.Context, _, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

const (
	knownUUID  = "11111111111111111111111111111111"
	orphanUUID = "22222222222222222222222222222222"
	staleUUID  = "33333333333333333333333333333333"
)

func TestSweep_DeletesOldOrphanBlobs(t *testing.T) {
	old := time.Now().Add(-time.Hour)
	store := &fakeSweepStore{
		events: []models.Event{{ID: 1, Code: "gala"}},
		images: map[int64][]models.Image{},
		byUUID: map[string]*models.Image{},
	}
	blobs := &fakeSweepBlobs{objects: map[string][]storage.ObjectInfo{
		"gala": {{Key: ObjectKey(orphanUUID, "jpg"), LastModified: old}},
	}}

	r := NewReconciler(store, blobs, &fakeQueue{}, 15*time.Minute)
	if err := r.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if len(blobs.deleted) != 1 {
		t.Fatalf("expected 1 deleted orphan, got %v", blobs.deleted)
	}
}

func TestSweep_KeepsRecentOrphanBlobs(t *testing.T) {
	store := &fakeSweepStore{
		events: []models.Event{{ID: 1, Code: "gala"}},
		images: map[int64][]models.Image{},
		byUUID: map[string]*models.Image{},
	}
	blobs := &fakeSweepBlobs{objects: map[string][]storage.ObjectInfo{
		"gala": {{Key: ObjectKey(orphanUUID, "jpg"), LastModified: time.Now()}},
	}}

	r := NewReconciler(store, blobs, &fakeQueue{}, 15*time.Minute)
	if err := r.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if len(blobs.deleted) != 0 {
		t.Fatalf("recent blob may be an in-flight upload, got deletions %v", blobs.deleted)
	}
}

func TestSweep_KeepsBlobsWithRecords(t *testing.T) {
	old := time.Now().Add(-time.Hour)
	img := models.Image{ID: 10, EventID: 1, UUID: knownUUID, FileExtension: "jpg",
		Status: models.ImageStatusProcessed, CreatedAt: old}
	store := &fakeSweepStore{
		events: []models.Event{{ID: 1, Code: "gala"}},
		images: map[int64][]models.Image{1: {img}},
		byUUID: map[string]*models.Image{knownUUID: &img},
	}
	blobs := &fakeSweepBlobs{objects: map[string][]storage.ObjectInfo{
		"gala": {{Key: ObjectKey(knownUUID, "jpg"), LastModified: old}},
	}}

	r := NewReconciler(store, blobs, &fakeQueue{}, 15*time.Minute)
	if err := r.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if len(blobs.deleted) != 0 {
		t.Fatalf("recorded blob must survive the sweep, deleted %v", blobs.deleted)
	}
}

func TestSweep_ReenqueuesStalePendingImages(t *testing.T) {
	old := time.Now().Add(-time.Hour)
	img := models.Image{ID: 11, EventID: 1, UUID: staleUUID, FileExtension: "jpg",
		Status: models.ImageStatusPending, CreatedAt: old}
	store := &fakeSweepStore{
		events: []models.Event{{ID: 1, Code: "gala"}},
		images: map[int64][]models.Image{1: {img}},
		byUUID: map[string]*models.Image{staleUUID: &img},
	}
	blobs := &fakeSweepBlobs{objects: map[string][]storage.ObjectInfo{
		"gala": {{Key: ObjectKey(staleUUID, "jpg"), LastModified: old}},
	}}
	queue := &fakeQueue{}

	r := NewReconciler(store, blobs, queue, 15*time.Minute)
	if err := r.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if len(queue.published) != 1 {
		t.Fatalf("expected 1 re-enqueued task, got %d", len(queue.published))
	}
	if queue.published[0].ImageUUID != staleUUID {
		t.Errorf("re-enqueued %q, want %q", queue.published[0].ImageUUID, staleUUID)
	}
}

func TestSweep_RecordWithoutBlobIsNotReenqueued(t *testing.T) {
	old := time.Now().Add(-time.Hour)
	img := models.Image{ID: 12, EventID: 1, UUID: staleUUID, FileExtension: "jpg",
		Status: models.ImageStatusPending, CreatedAt: old}
	store := &fakeSweepStore{
		events: []models.Event{{ID: 1, Code: "gala"}},
		images: map[int64][]models.Image{1: {img}},
		byUUID: map[string]*models.Image{staleUUID: &img},
	}
	blobs := &fakeSweepBlobs{objects: map[string][]storage.ObjectInfo{}}
	queue := &fakeQueue{}

	r := NewReconciler(store, blobs, queue, 15*time.Minute)
	if err := r.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if len(queue.published) != 0 {
		t.Fatalf("a blobless record cannot be re-detected, got %d tasks", len(queue.published))
	}
}

func TestImageUUIDFromKey(t *testing.T) {
	cases := []struct {
		key  string
		want string
	}{
		{"images/" + knownUUID + ".jpg", knownUUID},
		{"images/short.jpg", ""},
		{"images/" + knownUUID, ""},
		{knownUUID + ".png", knownUUID},
	}
	for _, tc := range cases {
		if got := imageUUIDFromKey(tc.key); got != tc.want {
			t.Errorf("imageUUIDFromKey(%q) = %q, want %q", tc.key, got, tc.want)
		}
	}
}
