package models

import "time"

// Image processing status. FaceCount alone cannot distinguish "not yet
// processed" from "processed, no faces found", so Status carries that.
type ImageStatus string

const (
	ImageStatusPending   ImageStatus = "pending"
	ImageStatusProcessed ImageStatus = "processed"
	ImageStatusFailed    ImageStatus = "failed"
)

// Image is an uploaded photo: raw bytes live in the object store, metadata
// here. UUID (32 hex chars) is the only identifier exposed to clients.
type Image struct {
	ID            int64       `json:"id" db:"id"`
	EventID       int64       `json:"event_id" db:"event_id"`
	UUID          string      `json:"uuid" db:"uuid"`
	StorageURL    string      `json:"storage_url" db:"storage_url"`
	FileExtension string      `json:"file_extension" db:"file_extension"`
	FaceCount     int         `json:"face_count" db:"face_count"`
	Status        ImageStatus `json:"status" db:"status"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
	LastModified  time.Time   `json:"last_modified" db:"last_modified"`
}

// BBox is a face bounding box in pixel coordinates of the original photo.
type BBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Cluster identifier classes for Face.ClusterID.
const (
	// ClusterPending: detection done, clustering has not run over this face yet.
	ClusterPending = -2
	// ClusterUnassigned: clustering ran and found no group for this face.
	ClusterUnassigned = -1
)

// Face is one detected face within an image. The embedding is fixed at
// creation; only ClusterID is ever mutated afterwards, and only through
// the bulk cluster-assignment batch.
type Face struct {
	ID        int64     `json:"id" db:"id"`
	EventID   int64     `json:"event_id" db:"event_id"`
	ImageID   int64     `json:"image_id" db:"image_id"`
	BBox      BBox      `json:"bbox" db:"bbox"`
	Embedding []float32 `json:"-" db:"embedding"`
	ClusterID int       `json:"cluster_id" db:"cluster_id"`
}

// DetectedFace is the detector's output for one face before persistence.
type DetectedFace struct {
	BBox      BBox
	Embedding []float32
}
