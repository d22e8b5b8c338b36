package storage

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	openai "github.com/sashabaranov/go-openai"

	"vidcrawl/config"
	"vidcrawl/core"
	"vidcrawl/index"
)

// MilvusStore is the milvus-backed vector search backend for the content
// index. Rows carry (video_id, version) scalars so searches stay inside one
// snapshot generation.
type MilvusStore struct {
	mc   client.Client
	coll string
	dim  int
	cfg  *config.Config
	oa   *openai.Client
}

func NewMilvusStore(cfg *config.Config) (*MilvusStore, error) {
	addr := os.Getenv("MILVUS_ADDR")
	if addr == "" {
		addr = "localhost:19530"
	}
	coll := os.Getenv("MILVUS_COLLECTION")
	if coll == "" {
		coll = "timeline_events"
	}

	mc, err := client.NewClient(context.Background(), client.Config{
		Address:  addr,
		Username: os.Getenv("MILVUS_USERNAME"),
		Password: os.Getenv("MILVUS_PASSWORD"),
		APIKey:   os.Getenv("MILVUS_API_KEY"),
	})
	if err != nil {
		return nil, fmt.Errorf("connect milvus: %w", err)
	}

	s := &MilvusStore{mc: mc, coll: coll, dim: embeddingDim, cfg: cfg, oa: newOpenAIClient(cfg)}
	if err := s.ensureSchemaAndIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MilvusStore) ensureSchemaAndIndex() error {
	ctx := context.Background()
	has, err := s.mc.HasCollection(ctx, s.coll)
	if err != nil {
		return err
	}
	if !has {
		schema := entity.NewSchema()
		schema.WithField(entity.NewField().WithName("id").WithIsAutoID(true).WithIsPrimaryKey(true).WithDataType(entity.FieldTypeInt64))
		schema.WithField(entity.NewField().WithName("video_id").WithDataType(entity.FieldTypeVarChar).WithMaxLength(128))
		schema.WithField(entity.NewField().WithName("version").WithDataType(entity.FieldTypeInt64))
		schema.WithField(entity.NewField().WithName("event_id").WithDataType(entity.FieldTypeVarChar).WithMaxLength(64))
		schema.WithField(entity.NewField().WithName("content").WithDataType(entity.FieldTypeVarChar).WithMaxLength(4096))
		schema.WithField(entity.NewField().WithName("vector").WithDataType(entity.FieldTypeFloatVector).WithDim(int64(s.dim)))

		if err := s.mc.CreateCollection(ctx, schema, int32(2)); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
	}
	idx, err := entity.NewIndexHNSW(entity.COSINE, 8, 200)
	if err != nil {
		return fmt.Errorf("new hnsw index: %w", err)
	}
	if err := s.mc.CreateIndex(ctx, s.coll, "vector", idx, false, client.WithIndexName("idx_vector")); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	if err := s.mc.LoadCollection(ctx, s.coll, false); err != nil {
		return fmt.Errorf("load collection: %w", err)
	}
	return nil
}

func (s *MilvusStore) UpsertEventVectors(ctx context.Context, videoID string, version int, events []core.Event) error {
	if len(events) == 0 {
		return nil
	}
	videoIDs := make([]string, 0, len(events))
	versions := make([]int64, 0, len(events))
	eventIDs := make([]string, 0, len(events))
	contents := make([]string, 0, len(events))
	vectors := make([][]float32, 0, len(events))

	for _, e := range events {
		v, err := embedText(ctx, s.oa, s.cfg.EmbeddingModel, e.Kind+" "+e.Description)
		if err != nil {
			continue
		}
		videoIDs = append(videoIDs, videoID)
		versions = append(versions, int64(version))
		eventIDs = append(eventIDs, e.ID)
		contents = append(contents, e.Description)
		vectors = append(vectors, v)
	}
	if len(vectors) == 0 {
		return nil
	}

	_, err := s.mc.Insert(ctx, s.coll, "",
		entity.NewColumnVarChar("video_id", videoIDs),
		entity.NewColumnInt64("version", versions),
		entity.NewColumnVarChar("event_id", eventIDs),
		entity.NewColumnVarChar("content", contents),
		entity.NewColumnFloatVector("vector", s.dim, vectors),
	)
	if err != nil {
		return fmt.Errorf("insert event vectors: %w", err)
	}
	return nil
}

func (s *MilvusStore) SearchEventVectors(ctx context.Context, videoID string, version int, text string, k int) ([]index.VectorHit, error) {
	if k <= 0 {
		k = 5
	}
	qv, err := embedText(ctx, s.oa, s.cfg.EmbeddingModel, strings.ToLower(text))
	if err != nil {
		return nil, err
	}

	sp, _ := entity.NewIndexHNSWSearchParam(74)
	filter := fmt.Sprintf(`video_id == "%s" && version == %d`,
		strings.ReplaceAll(videoID, `"`, `\"`), version)
	res, err := s.mc.Search(ctx, s.coll, []string{}, filter, []string{"event_id"},
		[]entity.Vector{entity.FloatVector(qv)}, "vector", entity.COSINE, k, sp)
	if err != nil {
		return nil, fmt.Errorf("milvus search: %w", err)
	}

	var hits []index.VectorHit
	for _, r := range res {
		var ids *entity.ColumnVarChar
		for _, c := range r.Fields {
			if c.Name() == "event_id" {
				ids, _ = c.(*entity.ColumnVarChar)
			}
		}
		if ids == nil {
			continue
		}
		data := ids.Data()
		for i := 0; i < r.ResultCount && i < len(data); i++ {
			hits = append(hits, index.VectorHit{EventID: data[i], Score: float64(r.Scores[i])})
		}
	}
	return hits, nil
}
