package vision

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/your-org/eventpix/internal/models"
)

type stubDetector struct {
	boxes []models.BBox
	err   error
}

func (s *stubDetector) Detect(_ image.Image) ([]models.BBox, error) {
	return s.boxes, s.err
}

type stubEmbedder struct {
	err   error
	calls int
}

func (s *stubEmbedder) Embed(_ image.Image) ([]float32, error) {
	s.calls++
	if s.err != nil && s.calls == 1 {
		return nil, s.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type stubStore struct {
	recorded   []models.DetectedFace
	recordedID int64
	recordErr  error
	failedIDs  []int64
}

func (s *stubStore) RecordDetection(_ context.Context, imageID int64, faces []models.DetectedFace) error {
	if s.recordErr != nil {
		return s.recordErr
	}
	s.recordedID = imageID
	s.recorded = faces
	return nil
}

func (s *stubStore) MarkImageFailed(_ context.Context, imageID int64) error {
	s.failedIDs = append(s.failedIDs, imageID)
	return nil
}

type stubBlobs struct {
	data []byte
	err  error
}

func (s *stubBlobs) Download(_ context.Context, _, _ string) ([]byte, error) {
	return s.data, s.err
}

type stubPublisher struct {
	events []models.PhotoProcessed
}

func (s *stubPublisher) PublishProcessed(_ context.Context, _ string, evt interface{}) error {
	s.events = append(s.events, evt.(models.PhotoProcessed))
	return nil
}

func testPhotoPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 120, 120))
	for y := 0; y < 120; y++ {
		for x := 0; x < 120; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func testTask() models.DetectTask {
	return models.DetectTask{
		ImageID:   42,
		ImageUUID: "deadbeefdeadbeefdeadbeefdeadbeef",
		EventID:   1,
		EventCode: "gala",
		ObjectKey: "images/deadbeefdeadbeefdeadbeefdeadbeef.png",
	}
}

func TestProcess_RecordsDetectedFaces(t *testing.T) {
	detector := &stubDetector{boxes: []models.BBox{
		{X: 10, Y: 10, Width: 30, Height: 30},
		{X: 60, Y: 50, Width: 40, Height: 40},
	}}
	store := &stubStore{}
	pub := &stubPublisher{}
	p := NewProcessor(detector, &stubEmbedder{}, store, &stubBlobs{data: testPhotoPNG(t)}, pub)

	if err := p.Process(context.Background(), testTask()); err != nil {
		t.Fatalf("process: %v", err)
	}

	if store.recordedID != 42 {
		t.Errorf("recorded image id %d, want 42", store.recordedID)
	}
	if len(store.recorded) != 2 {
		t.Fatalf("expected 2 faces recorded, got %d", len(store.recorded))
	}
	for _, face := range store.recorded {
		if len(face.Embedding) == 0 {
			t.Error("recorded face has no embedding")
		}
	}

	if len(pub.events) != 1 {
		t.Fatalf("expected 1 processed notification, got %d", len(pub.events))
	}
	if pub.events[0].FaceCount != 2 || pub.events[0].Status != string(models.ImageStatusProcessed) {
		t.Errorf("notification %+v", pub.events[0])
	}
}

func TestProcess_NoFacesStillRecords(t *testing.T) {
	store := &stubStore{recorded: []models.DetectedFace{{}}}
	p := NewProcessor(&stubDetector{}, &stubEmbedder{}, store, &stubBlobs{data: testPhotoPNG(t)}, nil)

	if err := p.Process(context.Background(), testTask()); err != nil {
		t.Fatalf("process: %v", err)
	}
	// Zero faces is a valid outcome and must flip the status to processed.
	if store.recordedID != 42 {
		t.Error("expected RecordDetection even with no faces")
	}
	if len(store.recorded) != 0 {
		t.Errorf("expected empty face list, got %d", len(store.recorded))
	}
}

func TestProcess_DownloadErrorRetries(t *testing.T) {
	store := &stubStore{}
	p := NewProcessor(&stubDetector{}, &stubEmbedder{}, store, &stubBlobs{err: errors.New("minio down")}, nil)

	if err := p.Process(context.Background(), testTask()); err == nil {
		t.Fatal("expected error so the task gets redelivered")
	}
	if len(store.failedIDs) != 0 {
		t.Errorf("transient download failure must not mark the image failed")
	}
}

func TestProcess_UndecodableMarksFailed(t *testing.T) {
	store := &stubStore{}
	pub := &stubPublisher{}
	p := NewProcessor(&stubDetector{}, &stubEmbedder{}, store, &stubBlobs{data: []byte("not an image")}, pub)

	if err := p.Process(context.Background(), testTask()); err != nil {
		t.Fatalf("undecodable photo must consume the task, got %v", err)
	}
	if len(store.failedIDs) != 1 || store.failedIDs[0] != 42 {
		t.Fatalf("expected image 42 marked failed, got %v", store.failedIDs)
	}
	if len(pub.events) != 1 || pub.events[0].Status != string(models.ImageStatusFailed) {
		t.Errorf("expected failed notification, got %+v", pub.events)
	}
}

func TestProcess_DetectorErrorMarksFailed(t *testing.T) {
	store := &stubStore{}
	p := NewProcessor(&stubDetector{err: errors.New("session broken")}, &stubEmbedder{},
		store, &stubBlobs{data: testPhotoPNG(t)}, nil)

	if err := p.Process(context.Background(), testTask()); err != nil {
		t.Fatalf("detector failure must consume the task, got %v", err)
	}
	if len(store.failedIDs) != 1 {
		t.Fatalf("expected image marked failed, got %v", store.failedIDs)
	}
}

func TestProcess_EmbedErrorSkipsFace(t *testing.T) {
	detector := &stubDetector{boxes: []models.BBox{
		{X: 10, Y: 10, Width: 30, Height: 30},
		{X: 60, Y: 50, Width: 40, Height: 40},
	}}
	store := &stubStore{}
	p := NewProcessor(detector, &stubEmbedder{err: errors.New("bad crop")},
		store, &stubBlobs{data: testPhotoPNG(t)}, nil)

	if err := p.Process(context.Background(), testTask()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(store.recorded) != 1 {
		t.Fatalf("expected 1 face after skipping the failed one, got %d", len(store.recorded))
	}
}

func TestProcess_RecordErrorRetries(t *testing.T) {
	store := &stubStore{recordErr: errors.New("db down")}
	p := NewProcessor(&stubDetector{}, &stubEmbedder{}, store, &stubBlobs{data: testPhotoPNG(t)}, nil)

	if err := p.Process(context.Background(), testTask()); err == nil {
		t.Fatal("expected error so the task gets redelivered")
	}
}

func TestCropFace_Degenerate(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 50, 50))
	if crop := cropFace(img, models.BBox{X: 60, Y: 60, Width: 10, Height: 10}); crop != nil {
		t.Error("box fully outside the image must yield nil")
	}
	if crop := cropFace(img, models.BBox{X: 10, Y: 10, Width: 0, Height: 5}); crop != nil {
		t.Error("zero-width box must yield nil")
	}
}

func TestCropFace_PadsAndClamps(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	crop := cropFace(img, models.BBox{X: 0, Y: 0, Width: 40, Height: 40})
	if crop == nil {
		t.Fatal("expected non-nil crop")
	}
	b := crop.Bounds()
	if b.Dx() < 40 || b.Dy() < 40 {
		t.Errorf("crop smaller than the box: %v", b)
	}
	if b.Dx() > 100 || b.Dy() > 100 {
		t.Errorf("crop exceeds image bounds: %v", b)
	}
}
