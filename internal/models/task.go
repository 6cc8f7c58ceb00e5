package models

import "time"

// DetectTask is the message published to NATS when a photo has been accepted.
// The worker downloads the blob by ObjectKey from the event's bucket.
type DetectTask struct {
	ImageID    int64     `json:"image_id"`
	ImageUUID  string    `json:"image_uuid"`
	EventID    int64     `json:"event_id"`
	EventCode  string    `json:"event_code"`
	ObjectKey  string    `json:"object_key"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// PhotoProcessed is published by the worker once face rows are committed,
// and relayed to gallery clients over WebSocket.
type PhotoProcessed struct {
	ImageUUID   string    `json:"image_uuid"`
	EventCode   string    `json:"event_code"`
	FaceCount   int       `json:"face_count"`
	Status      string    `json:"status"`
	ProcessedAt time.Time `json:"processed_at"`
}
