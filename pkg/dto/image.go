package dto

// UploadResponse acknowledges an accepted photo. Detection runs after the
// response; face_count is always 0 here.
type UploadResponse struct {
	UUID      string `json:"uuid"`
	URL       string `json:"url"`
	Extension string `json:"extension"`
	Status    string `json:"status"`
}

type ImageResponse struct {
	UUID         string `json:"uuid"`
	URL          string `json:"url"`
	Extension    string `json:"extension"`
	FaceCount    int    `json:"face_count"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
	LastModified string `json:"last_modified"`
}

type FaceResponse struct {
	ID        int64 `json:"id"`
	BBox      BBox  `json:"bbox"`
	ClusterID int   `json:"cluster_id"`
}

type BBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type ImageDetailResponse struct {
	ImageResponse
	Faces []FaceResponse `json:"faces"`
}
