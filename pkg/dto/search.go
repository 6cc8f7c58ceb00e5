package dto

// SearchRequest is the JSON body variant of POST /v1/search, used when the
// caller already holds an embedding. The multipart variant sends a probe
// photo instead and the server extracts the embedding itself.
type SearchRequest struct {
	EventCode string    `json:"event_code" binding:"required"`
	Embedding []float32 `json:"embedding" binding:"required"`
	Metric    string    `json:"metric"`
	TopK      int       `json:"top_k"`
}

type SearchResult struct {
	FaceID    int64   `json:"face_id"`
	ImageUUID string  `json:"image_uuid"`
	ImageURL  string  `json:"image_url"`
	ClusterID int     `json:"cluster_id"`
	BBox      BBox    `json:"bbox"`
	Distance  float64 `json:"distance"`
}
