package vision

import (
	"fmt"
	"image"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/eventpix/internal/storage"
)

// Embedder extracts face embeddings with an ArcFace (w600k_r50) ONNX model.
// Output vectors are stored exactly as the model produces them; no
// normalization happens here or at insert time.
// Safe for concurrent use; inference is serialized on the shared tensors.
type Embedder struct {
	guard        sessionGuard
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputW       int
	inputH       int
}

// NewEmbedder loads the ArcFace ONNX model.
func NewEmbedder(modelPath string) (*Embedder, error) {
	// w600k_r50 expects 112x112 input and emits storage.EmbeddingDim floats.
	inputW, inputH := 112, 112

	inputShape := ort.NewShape(1, 3, int64(inputH), int64(inputW))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputShape := ort.NewShape(1, int64(storage.EmbeddingDim))
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		[]string{"683"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create embedder session: %w", err)
	}

	return &Embedder{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		inputW:       inputW,
		inputH:       inputH,
	}, nil
}

// Embed extracts the embedding vector for one face crop.
func (e *Embedder) Embed(face image.Image) ([]float32, error) {
	input := imageToFloat32CHW(face, e.inputW, e.inputH,
		[3]float32{127.5, 127.5, 127.5}, [3]float32{127.5, 127.5, 127.5})

	embedding := make([]float32, storage.EmbeddingDim)
	err := e.guard.infer(func() error {
		copy(e.inputTensor.GetData(), input)
		if err := e.session.Run(); err != nil {
			return fmt.Errorf("run embedding: %w", err)
		}
		copy(embedding, e.outputTensor.GetData())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return embedding, nil
}

func (e *Embedder) Close() {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
	}
}
