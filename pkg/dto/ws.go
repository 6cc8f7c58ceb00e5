package dto

import "time"

// WSEvent is pushed to gallery clients when a photo finishes processing.
type WSEvent struct {
	Type        string    `json:"type"`
	EventCode   string    `json:"event_code"`
	ImageUUID   string    `json:"image_uuid"`
	FaceCount   int       `json:"face_count"`
	Status      string    `json:"status"`
	ProcessedAt time.Time `json:"processed_at"`
}
