package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/your-org/eventpix/internal/models"
	"github.com/your-org/eventpix/internal/storage"
)

type fakeSearcher struct {
	event      *models.Event
	matches    []storage.FaceMatch
	lastMetric storage.Metric
	lastTopK   int
	lastEmb    []float32
}

func (f *fakeSearcher) GetEventByCode(_ context.Context, code string) (*models.Event, error) {
	if f.event == nil || f.event.Code != code {
		return nil, fmt.Errorf("event %q: %w", code, storage.ErrNotFound)
	}
	return f.event, nil
}

func (f *fakeSearcher) SimilaritySearch(_ context.Context, _ int64, embedding []float32, metric storage.Metric, topK int) ([]storage.FaceMatch, error) {
	if metric != storage.MetricCosine && metric != storage.MetricL2 && metric != storage.MetricInnerProduct {
		return nil, fmt.Errorf("metric %q: %w", metric, storage.ErrInvalidInput)
	}
	f.lastEmb = embedding
	f.lastMetric = metric
	f.lastTopK = topK
	return f.matches, nil
}

func searchRouter(h *SearchHandler) *gin.Engine {
	r := gin.New()
	r.POST("/v1/search", h.Search)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestSearch_ByEmbedding(t *testing.T) {
	store := &fakeSearcher{
		event: &models.Event{ID: 1, Code: "gala"},
		matches: []storage.FaceMatch{
			{FaceID: 3, ImageUUID: "u1", Distance: 0.12, ClusterID: 0},
		},
	}
	h := NewSearchHandler(store)

	rec := doJSON(t, searchRouter(h), "POST", "/v1/search", map[string]interface{}{
		"event_code": "gala",
		"embedding":  []float32{0.1, 0.2},
		"metric":     "l2",
		"top_k":      7,
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	if store.lastMetric != storage.MetricL2 {
		t.Errorf("metric %q", store.lastMetric)
	}
	if store.lastTopK != 7 {
		t.Errorf("top_k %d", store.lastTopK)
	}

	var resp struct {
		Results []struct {
			FaceID   int64   `json:"face_id"`
			Distance float64 `json:"distance"`
		} `json:"results"`
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || resp.Results[0].FaceID != 3 {
		t.Errorf("response %+v", resp)
	}
}

func TestSearch_DefaultsToCosine(t *testing.T) {
	store := &fakeSearcher{event: &models.Event{ID: 1, Code: "gala"}}
	h := NewSearchHandler(store)

	rec := doJSON(t, searchRouter(h), "POST", "/v1/search", map[string]interface{}{
		"event_code": "gala",
		"embedding":  []float32{0.1},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	if store.lastMetric != storage.MetricCosine {
		t.Errorf("metric %q, want cosine", store.lastMetric)
	}
}

func TestSearch_UnknownMetric(t *testing.T) {
	store := &fakeSearcher{event: &models.Event{ID: 1, Code: "gala"}}
	h := NewSearchHandler(store)

	rec := doJSON(t, searchRouter(h), "POST", "/v1/search", map[string]interface{}{
		"event_code": "gala",
		"embedding":  []float32{0.1},
		"metric":     "hamming",
	})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}

func TestSearch_UnknownEvent(t *testing.T) {
	h := NewSearchHandler(&fakeSearcher{})

	rec := doJSON(t, searchRouter(h), "POST", "/v1/search", map[string]interface{}{
		"event_code": "nope",
		"embedding":  []float32{0.1},
	})

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", rec.Code)
	}
}

func TestSearch_ByImageWithoutModels(t *testing.T) {
	h := NewSearchHandler(&fakeSearcher{event: &models.Event{ID: 1, Code: "gala"}})
	// EmbedFn deliberately nil

	body, contentType := multipartPhoto(t, "gala")
	req := httptest.NewRequest("POST", "/v1/search", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	searchRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d, want 503", rec.Code)
	}
}

func TestSearch_ByImage(t *testing.T) {
	store := &fakeSearcher{event: &models.Event{ID: 1, Code: "gala"}}
	h := NewSearchHandler(store)
	h.EmbedFn = func(_ []byte) ([]float32, error) {
		return []float32{0.5, 0.6}, nil
	}

	body, contentType := multipartPhoto(t, "gala")
	req := httptest.NewRequest("POST", "/v1/search", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	searchRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	if len(store.lastEmb) != 2 {
		t.Errorf("embedding not passed through: %v", store.lastEmb)
	}
}

func TestSearch_BadTopK(t *testing.T) {
	store := &fakeSearcher{event: &models.Event{ID: 1, Code: "gala"}}
	h := NewSearchHandler(store)
	h.EmbedFn = func(_ []byte) ([]float32, error) {
		return []float32{0.5, 0.6}, nil
	}

	body, contentType := multipartPhoto(t, "gala")
	req := httptest.NewRequest("POST", "/v1/search?top_k=abc", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	searchRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
	if store.lastEmb != nil {
		t.Errorf("search ran despite malformed top_k")
	}
}

func TestSearch_MultiFaceProbeRejected(t *testing.T) {
	h := NewSearchHandler(&fakeSearcher{event: &models.Event{ID: 1, Code: "gala"}})
	h.EmbedFn = func(_ []byte) ([]float32, error) {
		return nil, fmt.Errorf("%w: query image contains 2 faces, expected exactly one", storage.ErrInvalidInput)
	}

	body, contentType := multipartPhoto(t, "gala")
	req := httptest.NewRequest("POST", "/v1/search", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	searchRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}
