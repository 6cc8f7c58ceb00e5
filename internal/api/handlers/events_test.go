package handlers

import (
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

type fakeEventStore struct {
	events    map[string]*models.Event
	createErr error
	updates   []storage.EventUpdate
	deleted   []string
}

func (f *fakeEventStore) CreateEvent(_ context.Context, ev *models.Event) error {
	if f.createErr != nil {
		return f.createErr
	}
	ev.ID = int64(len(f.events) + 1)
	if f.events == nil {
		f.events = map[string]*models.Event{}
	}
	f.events[ev.Code] = ev
	return nil
}

func (f *fakeEventStore) GetEventByCode(_ context.Context, code string) (*models.Event, error) {
	ev, ok := f.events[code]
	if !ok {
		return nil, fmt.Errorf("event %q: %w", code, storage.ErrNotFound)
	}
	return ev, nil
}

func (f *fakeEventStore) ListEvents(_ context.Context) ([]models.Event, error) {
	out := make([]models.Event, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, *ev)
	}
	return out, nil
}

func (f *fakeEventStore) UpdateEvent(_ context.Context, code string, upd storage.EventUpdate) (*models.Event, error) {
	ev, ok := f.events[code]
	if !ok {
		return nil, fmt.Errorf("event %q: %w", code, storage.ErrNotFound)
	}
	f.updates = append(f.updates, upd)
	if upd.NewCode != nil {
		delete(f.events, code)
		ev.Code = *upd.NewCode
		f.events[ev.Code] = ev
	}
	if upd.Name != nil {
		ev.Name = *upd.Name
	}
	return ev, nil
}

func (f *fakeEventStore) DeleteEvent(_ context.Context, code string) error {
	if _, ok := f.events[code]; !ok {
		return fmt.Errorf("event %q: %w", code, storage.ErrNotFound)
	}
	delete(f.events, code)
	f.deleted = append(f.deleted, code)
	return nil
}

type fakeBucketAdmin struct {
	ensured   []string
	renamed   [][2]string
	purged    []string
	renameErr error
	ensureErr error
}

func (f *fakeBucketAdmin) EnsureBucket(_ context.Context, eventCode string) (string, error) {
	if f.ensureErr != nil {
		return "", f.ensureErr
	}
	f.ensured = append(f.ensured, eventCode)
	return eventCode, nil
}

func (f *fakeBucketAdmin) RenameBucket(_ context.Context, oldCode, newCode string) error {
	if f.renameErr != nil {
		return f.renameErr
	}
	f.renamed = append(f.renamed, [2]string{oldCode, newCode})
	return nil
}

func (f *fakeBucketAdmin) PurgeBucket(_ context.Context, eventCode string) error {
	f.purged = append(f.purged, eventCode)
	return nil
}

func eventsRouter(h *EventHandler) *gin.Engine {
	r := gin.New()
	r.POST("/v1/events", h.Create)
	r.GET("/v1/events", h.List)
	r.GET("/v1/events/:code", h.Get)
	r.PUT("/v1/events/:code", h.Update)
	r.DELETE("/v1/events/:code", h.Delete)
	return r
}

func TestCreateEvent(t *testing.T) {
	store := &fakeEventStore{}
	blobs := &fakeBucketAdmin{}
	h := NewEventHandler(store, blobs)

	rec := doJSON(t, eventsRouter(h), "POST", "/v1/events", map[string]interface{}{
		"code": "wedding01",
		"name": "Nina and Sam",
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	if len(blobs.ensured) != 1 || blobs.ensured[0] != "wedding01" {
		t.Errorf("ensured buckets %v", blobs.ensured)
	}
	if _, ok := store.events["wedding01"]; !ok {
		t.Error("event record missing")
	}
}

func TestCreateEvent_InvalidCode(t *testing.T) {
	cases := []string{"", "a", "has spaces", "under_score", "-leading", "trailing-"}
	for _, code := range cases {
		h := NewEventHandler(&fakeEventStore{}, &fakeBucketAdmin{})
		rec := doJSON(t, eventsRouter(h), "POST", "/v1/events", map[string]interface{}{
			"code": code, "name": "x",
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("code %q: status %d, want 400", code, rec.Code)
		}
	}
}

func TestCreateEvent_Duplicate(t *testing.T) {
	store := &fakeEventStore{createErr: fmt.Errorf("taken: %w", storage.ErrDuplicate)}
	h := NewEventHandler(store, &fakeBucketAdmin{})

	rec := doJSON(t, eventsRouter(h), "POST", "/v1/events", map[string]interface{}{
		"code": "wedding01", "name": "x",
	})

	if rec.Code != http.StatusConflict {
		t.Fatalf("status %d, want 409", rec.Code)
	}
}

func TestCreateEvent_BucketFailure(t *testing.T) {
	store := &fakeEventStore{}
	blobs := &fakeBucketAdmin{ensureErr: fmt.Errorf("minio down")}
	h := NewEventHandler(store, blobs)

	rec := doJSON(t, eventsRouter(h), "POST", "/v1/events", map[string]interface{}{
		"code": "wedding01", "name": "x",
	})

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d, want 503", rec.Code)
	}
	if len(store.events) != 0 {
		t.Error("no record should exist without a bucket")
	}
}

func TestUpdateEvent_CodeChangeRenamesBucket(t *testing.T) {
	store := &fakeEventStore{events: map[string]*models.Event{
		"wedding01": {ID: 1, Code: "wedding01", Name: "old"},
	}}
	blobs := &fakeBucketAdmin{}
	h := NewEventHandler(store, blobs)

	rec := doJSON(t, eventsRouter(h), "PUT", "/v1/events/wedding01", map[string]interface{}{
		"code": "wedding02",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	if len(blobs.renamed) != 1 || blobs.renamed[0] != [2]string{"wedding01", "wedding02"} {
		t.Errorf("renames %v", blobs.renamed)
	}

	var resp struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Code != "wedding02" {
		t.Errorf("response code %q", resp.Code)
	}
}

func TestUpdateEvent_RenameFailureRevertsCode(t *testing.T) {
	store := &fakeEventStore{events: map[string]*models.Event{
		"wedding01": {ID: 1, Code: "wedding01"},
	}}
	blobs := &fakeBucketAdmin{renameErr: fmt.Errorf("minio down")}
	h := NewEventHandler(store, blobs)

	rec := doJSON(t, eventsRouter(h), "PUT", "/v1/events/wedding01", map[string]interface{}{
		"code": "wedding02",
	})

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d, want 503", rec.Code)
	}
	if _, ok := store.events["wedding01"]; !ok {
		t.Error("code must be reverted when the bucket rename fails")
	}
}

func TestUpdateEvent_NameOnlyLeavesBucket(t *testing.T) {
	store := &fakeEventStore{events: map[string]*models.Event{
		"wedding01": {ID: 1, Code: "wedding01"},
	}}
	blobs := &fakeBucketAdmin{}
	h := NewEventHandler(store, blobs)

	rec := doJSON(t, eventsRouter(h), "PUT", "/v1/events/wedding01", map[string]interface{}{
		"name": "renamed",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	if len(blobs.renamed) != 0 {
		t.Errorf("no bucket rename expected, got %v", blobs.renamed)
	}
}

func TestDeleteEvent_PurgesBucket(t *testing.T) {
	store := &fakeEventStore{events: map[string]*models.Event{
		"wedding01": {ID: 1, Code: "wedding01"},
	}}
	blobs := &fakeBucketAdmin{}
	h := NewEventHandler(store, blobs)

	req := httptest.NewRequest("DELETE", "/v1/events/wedding01", nil)
	rec := httptest.NewRecorder()
	eventsRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	if len(blobs.purged) != 1 || blobs.purged[0] != "wedding01" {
		t.Errorf("purged %v", blobs.purged)
	}
	if len(store.deleted) != 1 {
		t.Errorf("deleted %v", store.deleted)
	}
}

func TestDeleteEvent_NotFound(t *testing.T) {
	h := NewEventHandler(&fakeEventStore{}, &fakeBucketAdmin{})

	req := httptest.NewRequest("DELETE", "/v1/events/nope", nil)
	rec := httptest.NewRecorder()
	eventsRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", rec.Code)
	}
}
