package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/eventpix/internal/config"
	"github.com/your-org/eventpix/internal/models"
)

// PostgresStore is the embedding store: all durable metadata (events, images,
// faces) plus vector-distance search over face embeddings.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- Events ---

func (s *PostgresStore) CreateEvent(ctx context.Context, ev *models.Event) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO events (code, name, description, start_time, end_time)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
		ev.Code, ev.Name, ev.Description, ev.StartTime, ev.EndTime,
	).Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("event code %q: %w", ev.Code, ErrDuplicate)
		}
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

// GetEventByCode resolves an external event code to its record. This is the
// only event read the ingestion core depends on.
func (s *PostgresStore) GetEventByCode(ctx context.Context, code string) (*models.Event, error) {
	ev := &models.Event{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, code, name, description, start_time, end_time, created_at
		 FROM events WHERE code = $1`, code,
	).Scan(&ev.ID, &ev.Code, &ev.Name, &ev.Description, &ev.StartTime, &ev.EndTime, &ev.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("event %q: %w", code, ErrNotFound)
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return ev, nil
}

func (s *PostgresStore) GetEventByID(ctx context.Context, id int64) (*models.Event, error) {
	ev := &models.Event{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, code, name, description, start_time, end_time, created_at
		 FROM events WHERE id = $1`, id,
	).Scan(&ev.ID, &ev.Code, &ev.Name, &ev.Description, &ev.StartTime, &ev.EndTime, &ev.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("event %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return ev, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context) ([]models.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, code, name, description, start_time, end_time, created_at
		 FROM events ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var ev models.Event
		if err := rows.Scan(&ev.ID, &ev.Code, &ev.Name, &ev.Description,
			&ev.StartTime, &ev.EndTime, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// EventUpdate carries optional field changes; nil means leave unchanged.
type EventUpdate struct {
	NewCode     *string
	Name        *string
	Description *string
	StartTime   *time.Time
	EndTime     *time.Time
}

func (s *PostgresStore) UpdateEvent(ctx context.Context, code string, upd EventUpdate) (*models.Event, error) {
	set := ""
	args := []interface{}{}
	argIdx := 1

	add := func(col string, v interface{}) {
		if set != "" {
			set += ", "
		}
		set += fmt.Sprintf("%s = $%d", col, argIdx)
		args = append(args, v)
		argIdx++
	}

	if upd.NewCode != nil {
		add("code", *upd.NewCode)
	}
	if upd.Name != nil {
		add("name", *upd.Name)
	}
	if upd.Description != nil {
		add("description", *upd.Description)
	}
	if upd.StartTime != nil {
		add("start_time", *upd.StartTime)
	}
	if upd.EndTime != nil {
		add("end_time", *upd.EndTime)
	}
	if set == "" {
		return s.GetEventByCode(ctx, code)
	}

	args = append(args, code)
	query := fmt.Sprintf(
		`UPDATE events SET %s WHERE code = $%d
		 RETURNING id, code, name, description, start_time, end_time, created_at`,
		set, argIdx)

	ev := &models.Event{}
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&ev.ID, &ev.Code, &ev.Name, &ev.Description, &ev.StartTime, &ev.EndTime, &ev.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("event %q: %w", code, ErrNotFound)
		}
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("event code %q: %w", *upd.NewCode, ErrDuplicate)
		}
		return nil, fmt.Errorf("update event: %w", err)
	}
	return ev, nil
}

func (s *PostgresStore) DeleteEvent(ctx context.Context, code string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM events WHERE code = $1`, code)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event %q: %w", code, ErrNotFound)
	}
	return nil
}

// --- Images ---

const imageColumns = `id, event_id, uuid, storage_url, file_extension, face_count, status, created_at, last_modified`

func scanImage(row pgx.Row, img *models.Image) error {
	return row.Scan(&img.ID, &img.EventID, &img.UUID, &img.StorageURL,
		&img.FileExtension, &img.FaceCount, &img.Status, &img.CreatedAt, &img.LastModified)
}

// InsertImage creates the placeholder row (face_count 0, status pending).
// Returns ErrDuplicate if the uuid is already present.
func (s *PostgresStore) InsertImage(ctx context.Context, img *models.Image) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO images (event_id, uuid, storage_url, file_extension)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, face_count, status, created_at, last_modified`,
		img.EventID, img.UUID, img.StorageURL, img.FileExtension,
	).Scan(&img.ID, &img.FaceCount, &img.Status, &img.CreatedAt, &img.LastModified)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("image %s: %w", img.UUID, ErrDuplicate)
		}
		return fmt.Errorf("insert image: %w", err)
	}
	return nil
}

// ImageFilter narrows GetImages. Nil fields are skipped. A non-empty
// ClusterIDs selects the distinct images having at least one face in any of
// the given clusters.
type ImageFilter struct {
	DateFrom   *time.Time
	DateTo     *time.Time
	MinFaces   *int
	MaxFaces   *int
	ClusterIDs []int
}

// GetImages returns an event's images ordered by last_modified descending.
func (s *PostgresStore) GetImages(ctx context.Context, eventID int64, f ImageFilter, limit, offset int) ([]models.Image, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	cols := `i.id, i.event_id, i.uuid, i.storage_url, i.file_extension, i.face_count, i.status, i.created_at, i.last_modified`
	query := "SELECT " + cols + " FROM images i"
	where := " WHERE i.event_id = $1"
	args := []interface{}{eventID}
	argIdx := 2

	if f.DateFrom != nil {
		where += fmt.Sprintf(" AND i.created_at >= $%d", argIdx)
		args = append(args, *f.DateFrom)
		argIdx++
	}
	if f.DateTo != nil {
		where += fmt.Sprintf(" AND i.created_at <= $%d", argIdx)
		args = append(args, *f.DateTo)
		argIdx++
	}
	if f.MinFaces != nil {
		where += fmt.Sprintf(" AND i.face_count >= $%d", argIdx)
		args = append(args, *f.MinFaces)
		argIdx++
	}
	if f.MaxFaces != nil {
		where += fmt.Sprintf(" AND i.face_count <= $%d", argIdx)
		args = append(args, *f.MaxFaces)
		argIdx++
	}
	if len(f.ClusterIDs) > 0 {
		// Join, not a count: an image qualifies if any face is in the set.
		query = "SELECT DISTINCT " + cols + " FROM images i JOIN faces f ON f.image_id = i.id"
		ids := make([]int32, len(f.ClusterIDs))
		for i, c := range f.ClusterIDs {
			ids[i] = int32(c)
		}
		where += fmt.Sprintf(" AND f.cluster_id = ANY($%d)", argIdx)
		args = append(args, ids)
		argIdx++
	}

	query += where + fmt.Sprintf(" ORDER BY i.last_modified DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get images: %w", err)
	}
	defer rows.Close()

	var images []models.Image
	for rows.Next() {
		var img models.Image
		if err := scanImage(rows, &img); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// GetImageByUUID returns a single image record or ErrNotFound.
func (s *PostgresStore) GetImageByUUID(ctx context.Context, uuid string) (*models.Image, error) {
	img := &models.Image{}
	err := scanImage(s.pool.QueryRow(ctx,
		`SELECT `+imageColumns+` FROM images WHERE uuid = $1`, uuid), img)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("image %s: %w", uuid, ErrNotFound)
		}
		return nil, fmt.Errorf("get image: %w", err)
	}
	return img, nil
}

// GetImageDetail returns the image plus all of its faces.
func (s *PostgresStore) GetImageDetail(ctx context.Context, uuid string) (*models.Image, []models.Face, error) {
	img, err := s.GetImageByUUID(ctx, uuid)
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, event_id, image_id, bbox, cluster_id FROM faces WHERE image_id = $1 ORDER BY id`,
		img.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("query faces: %w", err)
	}
	defer rows.Close()

	var faces []models.Face
	for rows.Next() {
		var f models.Face
		var bboxRaw []byte
		if err := rows.Scan(&f.ID, &f.EventID, &f.ImageID, &bboxRaw, &f.ClusterID); err != nil {
			return nil, nil, fmt.Errorf("scan face: %w", err)
		}
		if err := json.Unmarshal(bboxRaw, &f.BBox); err != nil {
			return nil, nil, fmt.Errorf("decode bbox: %w", err)
		}
		faces = append(faces, f)
	}
	return img, faces, rows.Err()
}

// ListImages returns all image records for an event (reconciler input).
func (s *PostgresStore) ListImages(ctx context.Context, eventID int64) ([]models.Image, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+imageColumns+` FROM images WHERE event_id = $1`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	var images []models.Image
	for rows.Next() {
		var img models.Image
		if err := scanImage(rows, &img); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// DeleteImage removes the record; faces cascade.
func (s *PostgresStore) DeleteImage(ctx context.Context, uuid string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM images WHERE uuid = $1`, uuid)
	if err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("image %s: %w", uuid, ErrNotFound)
	}
	return nil
}

// --- Faces ---

// InsertFace attaches a single face to an existing image. The image's event
// id is copied onto the face row so scoped queries skip the join.
func (s *PostgresStore) InsertFace(ctx context.Context, imageUUID string, bbox models.BBox, embedding []float32, clusterID int) (*models.Face, error) {
	if len(embedding) != EmbeddingDim {
		return nil, fmt.Errorf("embedding length %d, want %d: %w", len(embedding), EmbeddingDim, ErrInvalidInput)
	}

	var imageID, eventID int64
	err := s.pool.QueryRow(ctx,
		`SELECT id, event_id FROM images WHERE uuid = $1`, imageUUID,
	).Scan(&imageID, &eventID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("image %s: %w", imageUUID, ErrNotFound)
		}
		return nil, fmt.Errorf("resolve image: %w", err)
	}

	bboxJSON, err := json.Marshal(bbox)
	if err != nil {
		return nil, fmt.Errorf("encode bbox: %w", err)
	}

	f := &models.Face{EventID: eventID, ImageID: imageID, BBox: bbox, Embedding: embedding, ClusterID: clusterID}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO faces (event_id, image_id, bbox, embedding, cluster_id)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		eventID, imageID, bboxJSON, pgvector.NewVector(embedding), clusterID,
	).Scan(&f.ID)
	if err != nil {
		return nil, fmt.Errorf("insert face: %w", err)
	}
	return f, nil
}

// UpdateFaceCount overwrites the denormalized count. Idempotent.
func (s *PostgresStore) UpdateFaceCount(ctx context.Context, imageID int64, count int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE images SET face_count = $1, last_modified = NOW() WHERE id = $2`,
		count, imageID)
	if err != nil {
		return fmt.Errorf("update face count: %w", err)
	}
	return nil
}

// RecordDetection commits a detection result in one transaction: the
// face_count update, the status flip to processed, and the face rows. Either
// all of it is visible or none of it.
func (s *PostgresStore) RecordDetection(ctx context.Context, imageID int64, faces []models.DetectedFace) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// Redelivered tasks overwrite rather than append.
	if _, err := tx.Exec(ctx, `DELETE FROM faces WHERE image_id = $1`, imageID); err != nil {
		return fmt.Errorf("clear faces: %w", err)
	}

	var eventID int64
	err = tx.QueryRow(ctx,
		`UPDATE images SET face_count = $1, status = $2, last_modified = NOW()
		 WHERE id = $3 RETURNING event_id`,
		len(faces), models.ImageStatusProcessed, imageID,
	).Scan(&eventID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("image id %d: %w", imageID, ErrNotFound)
		}
		return fmt.Errorf("update image: %w", err)
	}

	for _, df := range faces {
		if len(df.Embedding) != EmbeddingDim {
			return fmt.Errorf("embedding length %d, want %d: %w", len(df.Embedding), EmbeddingDim, ErrInvalidInput)
		}
		bboxJSON, err := json.Marshal(df.BBox)
		if err != nil {
			return fmt.Errorf("encode bbox: %w", err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO faces (event_id, image_id, bbox, embedding, cluster_id)
			 VALUES ($1, $2, $3, $4, $5)`,
			eventID, imageID, bboxJSON, pgvector.NewVector(df.Embedding), models.ClusterPending)
		if err != nil {
			return fmt.Errorf("insert face: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// MarkImageFailed records a terminal detection failure. The uploader is never
// notified; the status is the only durable signal beyond logs.
func (s *PostgresStore) MarkImageFailed(ctx context.Context, imageID int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE images SET status = $1, last_modified = NOW() WHERE id = $2`,
		models.ImageStatusFailed, imageID)
	if err != nil {
		return fmt.Errorf("mark image failed: %w", err)
	}
	return nil
}

// --- Similarity search ---

type Metric string

const (
	MetricCosine       Metric = "cosine"
	MetricL2           Metric = "l2"
	MetricInnerProduct Metric = "inner_product"
)

// operator maps a metric to its pgvector distance operator. Embeddings are
// stored as produced; cosine and inner-product callers must account for any
// normalization themselves.
func (m Metric) operator() (string, error) {
	switch m {
	case MetricCosine:
		return "<=>", nil
	case MetricL2:
		return "<->", nil
	case MetricInnerProduct:
		return "<#>", nil
	default:
		return "", fmt.Errorf("metric %q: %w", m, ErrInvalidInput)
	}
}

// FaceMatch is one similarity search result.
type FaceMatch struct {
	FaceID    int64       `json:"face_id"`
	ImageUUID string      `json:"image_uuid"`
	ImageURL  string      `json:"image_url"`
	ClusterID int         `json:"cluster_id"`
	BBox      models.BBox `json:"bbox"`
	Distance  float64     `json:"distance"`
}

// SimilaritySearch returns the topK closest faces within an event, ascending
// by distance, ties broken by face id for determinism.
func (s *PostgresStore) SimilaritySearch(ctx context.Context, eventID int64, embedding []float32, metric Metric, topK int) ([]FaceMatch, error) {
	if len(embedding) != EmbeddingDim {
		return nil, fmt.Errorf("embedding length %d, want %d: %w", len(embedding), EmbeddingDim, ErrInvalidInput)
	}
	op, err := metric.operator()
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 5
	}

	query := fmt.Sprintf(`
		SELECT f.id, img.uuid, img.storage_url, f.cluster_id, f.bbox, f.embedding %s $1 AS distance
		FROM faces f
		JOIN images img ON img.id = f.image_id
		WHERE f.event_id = $2
		ORDER BY distance ASC, f.id ASC
		LIMIT $3`, op)

	rows, err := s.pool.Query(ctx, query, pgvector.NewVector(embedding), eventID, topK)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	var matches []FaceMatch
	for rows.Next() {
		var m FaceMatch
		var bboxRaw []byte
		if err := rows.Scan(&m.FaceID, &m.ImageUUID, &m.ImageURL, &m.ClusterID, &bboxRaw, &m.Distance); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		if err := json.Unmarshal(bboxRaw, &m.BBox); err != nil {
			return nil, fmt.Errorf("decode bbox: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// --- Cluster summaries ---

type ClusterSample struct {
	FaceID   int64       `json:"face_id"`
	ImageURL string      `json:"image_url"`
	BBox     models.BBox `json:"bbox"`
}

type ClusterInfo struct {
	ClusterID int             `json:"cluster_id"`
	FaceCount int             `json:"face_count"`
	Samples   []ClusterSample `json:"samples"`
}

// ClusterSummary aggregates per-cluster face counts with up to sampleSize
// randomly chosen sample faces each. The LATERAL subquery bounds the random
// scan per cluster instead of materializing whole clusters.
func (s *PostgresStore) ClusterSummary(ctx context.Context, eventID int64, sampleSize int) ([]ClusterInfo, error) {
	if sampleSize <= 0 {
		sampleSize = 3
	}

	rows, err := s.pool.Query(ctx, `
		WITH summary AS (
			SELECT cluster_id, COUNT(*) AS face_count
			FROM faces
			WHERE event_id = $1
			GROUP BY cluster_id
		)
		SELECT s.cluster_id, s.face_count, sub.id, i.storage_url, sub.bbox
		FROM summary s
		CROSS JOIN LATERAL (
			SELECT id, bbox, image_id
			FROM faces
			WHERE event_id = $1 AND cluster_id = s.cluster_id
			ORDER BY RANDOM()
			LIMIT $2
		) sub
		JOIN images i ON i.id = sub.image_id
		ORDER BY s.cluster_id`, eventID, sampleSize)
	if err != nil {
		return nil, fmt.Errorf("cluster summary: %w", err)
	}
	defer rows.Close()

	var out []ClusterInfo
	byID := map[int]int{} // cluster_id -> index in out
	for rows.Next() {
		var (
			clusterID int
			faceCount int
			sample    ClusterSample
			bboxRaw   []byte
		)
		if err := rows.Scan(&clusterID, &faceCount, &sample.FaceID, &sample.ImageURL, &bboxRaw); err != nil {
			return nil, fmt.Errorf("scan cluster row: %w", err)
		}
		if err := json.Unmarshal(bboxRaw, &sample.BBox); err != nil {
			return nil, fmt.Errorf("decode bbox: %w", err)
		}

		idx, ok := byID[clusterID]
		if !ok {
			out = append(out, ClusterInfo{ClusterID: clusterID, FaceCount: faceCount})
			idx = len(out) - 1
			byID[clusterID] = idx
		}
		out[idx].Samples = append(out[idx].Samples, sample)
	}
	return out, rows.Err()
}

// --- Cluster assignment (external clustering batch boundary) ---

type ClusterAssignment struct {
	FaceID    int64 `json:"face_id"`
	ClusterID int   `json:"cluster_id"`
}

// ClusterWriter is the narrow boundary the external clustering job writes
// through; the actual clustering strategy lives entirely behind it.
type ClusterWriter interface {
	BulkUpdateClusterIDs(ctx context.Context, eventID int64, assignments []ClusterAssignment) error
}

// BulkUpdateClusterIDs applies all assignments in one transaction. A failure
// partway rolls everything back; readers never see a mix of old and new ids.
// Faces outside the given event are not touched.
func (s *PostgresStore) BulkUpdateClusterIDs(ctx context.Context, eventID int64, assignments []ClusterAssignment) error {
	if len(assignments) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, a := range assignments {
		batch.Queue(
			`UPDATE faces SET cluster_id = $1 WHERE id = $2 AND event_id = $3`,
			a.ClusterID, a.FaceID, eventID)
	}

	br := tx.SendBatch(ctx, batch)
	for range assignments {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("update cluster id: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	return tx.Commit(ctx)
}
