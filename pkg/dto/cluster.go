package dto

type ClusterSample struct {
	FaceID   int64  `json:"face_id"`
	ImageURL string `json:"image_url"`
	BBox     BBox   `json:"bbox"`
}

type ClusterResponse struct {
	ClusterID int             `json:"cluster_id"`
	FaceCount int             `json:"face_count"`
	Samples   []ClusterSample `json:"samples"`
}

type ClusterAssignment struct {
	FaceID    int64 `json:"face_id" binding:"required"`
	ClusterID int   `json:"cluster_id"`
}

// AssignClustersRequest replaces cluster ids for the listed faces in one
// atomic batch. Sent by the external clustering job.
type AssignClustersRequest struct {
	EventCode   string              `json:"event_code" binding:"required"`
	Assignments []ClusterAssignment `json:"assignments" binding:"required"`
}
