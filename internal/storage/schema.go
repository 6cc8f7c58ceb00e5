package storage

import (
	"context"
	"fmt"
)

// EmbeddingDim is the length of every stored face embedding, fixed by the
// ArcFace w600k_r50 model. Vectors supplied to SimilaritySearch must match it.
const EmbeddingDim = 512

// schemaStatements are applied in order by Migrate. Every statement is
// idempotent so Migrate can run on each startup.
var schemaStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS vector`,

	`CREATE TABLE IF NOT EXISTS events (
		id          BIGSERIAL PRIMARY KEY,
		code        VARCHAR(32) NOT NULL UNIQUE,
		name        TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		start_time  TIMESTAMPTZ,
		end_time    TIMESTAMPTZ,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS images (
		id             BIGSERIAL PRIMARY KEY,
		event_id       BIGINT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
		uuid           CHAR(32) NOT NULL UNIQUE,
		storage_url    TEXT NOT NULL,
		file_extension VARCHAR(10) NOT NULL,
		face_count     INTEGER NOT NULL DEFAULT 0,
		status         VARCHAR(10) NOT NULL DEFAULT 'pending',
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_modified  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_images_event_id ON images(event_id)`,
	`CREATE INDEX IF NOT EXISTS idx_images_last_modified ON images(last_modified DESC)`,

	// event_id is denormalized onto faces so cluster and similarity queries
	// never need the images join just for scoping.
	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS faces (
		id         BIGSERIAL PRIMARY KEY,
		event_id   BIGINT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
		image_id   BIGINT NOT NULL REFERENCES images(id) ON DELETE CASCADE,
		bbox       JSONB NOT NULL,
		embedding  VECTOR(%d) NOT NULL,
		cluster_id INTEGER NOT NULL DEFAULT -2
	)`, EmbeddingDim),
	`CREATE INDEX IF NOT EXISTS idx_faces_event_id ON faces(event_id)`,
	`CREATE INDEX IF NOT EXISTS idx_faces_image_id ON faces(image_id)`,
	`CREATE INDEX IF NOT EXISTS idx_faces_cluster ON faces(event_id, cluster_id)`,

	// One HNSW index per distance operator family.
	`CREATE INDEX IF NOT EXISTS idx_faces_embedding_cosine ON faces USING hnsw (embedding vector_cosine_ops)`,
	`CREATE INDEX IF NOT EXISTS idx_faces_embedding_l2 ON faces USING hnsw (embedding vector_l2_ops)`,
	`CREATE INDEX IF NOT EXISTS idx_faces_embedding_ip ON faces USING hnsw (embedding vector_ip_ops)`,
}

// Migrate brings the schema up to date.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for i, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
