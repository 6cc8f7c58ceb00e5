package vision

import (
	"bytes"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"

	"github.com/your-org/eventpix/internal/config"
	"github.com/your-org/eventpix/internal/storage"
)

// Pipeline bundles the two ONNX models used by the worker and the search
// endpoint. Both models serialize inference internally, so one pipeline can
// be shared across worker goroutines and concurrent search requests.
type Pipeline struct {
	Detector *Detector
	Embedder *Embedder
}

// NewPipeline initialises both ONNX models from the configured models dir.
func NewPipeline(cfg config.VisionConfig) (*Pipeline, error) {
	detPath := filepath.Join(cfg.ModelsDir, "det_10g.onnx")
	embPath := filepath.Join(cfg.ModelsDir, "w600k_r50.onnx")

	slog.Info("loading detection model", "path", detPath)
	det, err := NewDetector(detPath, float32(cfg.DetectionThreshold))
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading embedding model", "path", embPath)
	emb, err := NewEmbedder(embPath)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	slog.Info("vision pipeline ready")
	return &Pipeline{Detector: det, Embedder: emb}, nil
}

// EmbedQuery extracts the embedding for a probe photo. The photo must contain
// exactly one detectable face; anything else is a caller error.
func (p *Pipeline) EmbedQuery(imageData []byte) ([]float32, error) {
	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("%w: decode image: %v", storage.ErrInvalidInput, err)
	}

	boxes, err := p.Detector.Detect(img)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	switch {
	case len(boxes) == 0:
		return nil, fmt.Errorf("%w: no face detected in query image", storage.ErrInvalidInput)
	case len(boxes) > 1:
		return nil, fmt.Errorf("%w: query image contains %d faces, expected exactly one", storage.ErrInvalidInput, len(boxes))
	}

	crop := cropFace(img, boxes[0])
	if crop == nil {
		return nil, fmt.Errorf("%w: face region is degenerate", storage.ErrInvalidInput)
	}

	embedding, err := p.Embedder.Embed(crop)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	return embedding, nil
}

// Close releases both ONNX sessions.
func (p *Pipeline) Close() {
	if p.Detector != nil {
		p.Detector.Close()
	}
	if p.Embedder != nil {
		p.Embedder.Close()
	}
}
