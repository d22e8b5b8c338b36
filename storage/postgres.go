package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
	openai "github.com/sashabaranov/go-openai"

	"vidcrawl/config"
	"vidcrawl/core"
	"vidcrawl/index"
)

const embeddingDim = 1536

// PgStore persists timelines in postgres and serves ANN content search
// through pgvector. Event vectors are keyed by (video_id, version) so each
// snapshot generation reads only its own rows.
type PgStore struct {
	conn *pgx.Conn
	cfg  *config.Config
	oa   *openai.Client
}

func NewPgStore(ctx context.Context, cfg *config.Config) (*PgStore, error) {
	conn, err := pgx.Connect(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PgStore{conn: conn, cfg: cfg, oa: newOpenAIClient(cfg)}
	if err := s.ensureSchema(ctx); err != nil {
		conn.Close(ctx)
		return nil, err
	}
	return s, nil
}

func (s *PgStore) Close(ctx context.Context) error { return s.conn.Close(ctx) }

func (s *PgStore) ensureSchema(ctx context.Context) error {
	if _, err := s.conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector;"); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS videos (
			video_id VARCHAR(255) PRIMARY KEY,
			duration FLOAT NOT NULL,
			partial_coverage BOOLEAN NOT NULL DEFAULT FALSE,
			timeline JSONB NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS timeline_events (
			video_id VARCHAR(255) NOT NULL,
			event_id VARCHAR(64) NOT NULL,
			start_time FLOAT NOT NULL,
			end_time FLOAT NOT NULL,
			modality VARCHAR(16) NOT NULL,
			kind VARCHAR(128),
			description TEXT NOT NULL,
			confidence FLOAT NOT NULL,
			source_refs JSONB NOT NULL,
			PRIMARY KEY (video_id, event_id)
		);`,
		`CREATE TABLE IF NOT EXISTS index_snapshots (
			video_id VARCHAR(255) NOT NULL,
			version INT NOT NULL,
			built_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (video_id, version)
		);`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS event_vectors (
			video_id VARCHAR(255) NOT NULL,
			version INT NOT NULL,
			event_id VARCHAR(64) NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d),
			PRIMARY KEY (video_id, version, event_id)
		);`, embeddingDim),
		`CREATE INDEX IF NOT EXISTS idx_timeline_events_video ON timeline_events(video_id, start_time);`,
		`CREATE INDEX IF NOT EXISTS idx_event_vectors_gen ON event_vectors(video_id, version);`,
	}
	for _, q := range stmts {
		if _, err := s.conn.Exec(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *PgStore) SaveTimeline(ctx context.Context, t *core.Timeline) error {
	if t == nil || t.VideoID == "" {
		return fmt.Errorf("timeline must have a video id")
	}
	blob, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal timeline: %w", err)
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO videos (video_id, duration, partial_coverage, timeline)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (video_id) DO UPDATE SET
			duration = EXCLUDED.duration,
			partial_coverage = EXCLUDED.partial_coverage,
			timeline = EXCLUDED.timeline
	`, t.VideoID, t.Duration, t.PartialCoverage, blob); err != nil {
		return fmt.Errorf("save video record: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM timeline_events WHERE video_id = $1`, t.VideoID); err != nil {
		return fmt.Errorf("clear old events: %w", err)
	}
	for _, e := range t.Events {
		refs, err := json.Marshal(e.SourceRefs)
		if err != nil {
			return fmt.Errorf("marshal source refs: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO timeline_events
				(video_id, event_id, start_time, end_time, modality, kind, description, confidence, source_refs)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, t.VideoID, e.ID, e.Span.Start, e.Span.End, string(e.Modality), e.Kind, e.Description, e.Confidence, refs); err != nil {
			return fmt.Errorf("save event %s: %w", e.ID, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PgStore) LoadTimeline(ctx context.Context, videoID string) (*core.Timeline, error) {
	var blob []byte
	err := s.conn.QueryRow(ctx, `SELECT timeline FROM videos WHERE video_id = $1`, videoID).Scan(&blob)
	if err == pgx.ErrNoRows {
		return nil, &core.EmptyTimelineError{VideoID: videoID}
	}
	if err != nil {
		return nil, fmt.Errorf("load timeline: %w", err)
	}
	var t core.Timeline
	if err := json.Unmarshal(blob, &t); err != nil {
		return nil, fmt.Errorf("unmarshal timeline: %w", err)
	}
	return &t, nil
}

func (s *PgStore) NextVersion(ctx context.Context, videoID string) (int, error) {
	var v int
	err := s.conn.QueryRow(ctx, `
		INSERT INTO index_snapshots (video_id, version)
		SELECT $1, COALESCE(MAX(version), 0) + 1 FROM index_snapshots WHERE video_id = $1
		RETURNING version
	`, videoID).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("allocate index version: %w", err)
	}
	return v, nil
}

func (s *PgStore) CurrentVersion(ctx context.Context, videoID string) (int, error) {
	var v int
	err := s.conn.QueryRow(ctx, `
		SELECT COALESCE(MAX(version), 0) FROM index_snapshots WHERE video_id = $1
	`, videoID).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("read index version: %w", err)
	}
	return v, nil
}

// UpsertEventVectors embeds event descriptions and writes one row per event
// under the snapshot generation. Events whose embedding call fails are
// skipped; the content index just misses them.
func (s *PgStore) UpsertEventVectors(ctx context.Context, videoID string, version int, events []core.Event) error {
	for _, e := range events {
		vec, err := embedText(ctx, s.oa, s.cfg.EmbeddingModel, e.Kind+" "+e.Description)
		if err != nil {
			continue
		}
		if _, err := s.conn.Exec(ctx, `
			INSERT INTO event_vectors (video_id, version, event_id, content, embedding)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (video_id, version, event_id) DO UPDATE SET
				content = EXCLUDED.content,
				embedding = EXCLUDED.embedding
		`, videoID, version, e.ID, e.Description, pgvector.NewVector(vec)); err != nil {
			return fmt.Errorf("upsert vector for %s: %w", e.ID, err)
		}
	}
	return nil
}

func (s *PgStore) SearchEventVectors(ctx context.Context, videoID string, version int, text string, k int) ([]index.VectorHit, error) {
	if k <= 0 {
		k = 5
	}
	qv, err := embedText(ctx, s.oa, s.cfg.EmbeddingModel, strings.ToLower(text))
	if err != nil {
		return nil, err
	}
	rows, err := s.conn.Query(ctx, `
		SELECT event_id, 1 - (embedding <=> $1) AS similarity
		FROM event_vectors
		WHERE video_id = $2 AND version = $3
		ORDER BY embedding <=> $1
		LIMIT $4
	`, pgvector.NewVector(qv), videoID, version, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var hits []index.VectorHit
	for rows.Next() {
		var h index.VectorHit
		if err := rows.Scan(&h.EventID, &h.Score); err != nil {
			return nil, fmt.Errorf("scan vector hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
