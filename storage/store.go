package storage

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"vidcrawl/config"
	"vidcrawl/core"
	"vidcrawl/index"
)

// Store persists per-video timelines and index-build versions. The
// timeline record is the source of truth; index snapshots are derived and
// keyed by (video id, version).
type Store interface {
	SaveTimeline(ctx context.Context, t *core.Timeline) error
	LoadTimeline(ctx context.Context, videoID string) (*core.Timeline, error)
	// NextVersion allocates and records the next index-build version.
	NextVersion(ctx context.Context, videoID string) (int, error)
	CurrentVersion(ctx context.Context, videoID string) (int, error)
}

// Open selects the backend from the STORE environment variable
// (memory | pgvector | milvus) and falls back to memory with a warning if
// the remote backend is unreachable. The second return value is the vector
// search backend for the content index; nil means index in process.
func Open(cfg *config.Config) (Store, index.VectorSearcher) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("STORE"))) {
	case "pgvector", "postgres":
		s, err := NewPgStore(context.Background(), cfg)
		if err != nil {
			log.Printf("Warning: pgvector store unavailable (%v), using memory store", err)
			return NewMemoryStore(), nil
		}
		log.Printf("Store backend: pgvector")
		return s, s
	case "milvus":
		m, err := NewMilvusStore(cfg)
		if err != nil {
			log.Printf("Warning: milvus unavailable (%v), using memory store", err)
			return NewMemoryStore(), nil
		}
		log.Printf("Store backend: memory timelines + milvus vectors")
		return NewMemoryStore(), m
	default:
		log.Printf("Store backend: memory")
		return NewMemoryStore(), nil
	}
}

// MemoryStore keeps everything in process. Timelines are immutable once
// saved, so reads hand out the stored pointer.
type MemoryStore struct {
	mu        sync.RWMutex
	timelines map[string]*core.Timeline
	versions  map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		timelines: map[string]*core.Timeline{},
		versions:  map[string]int{},
	}
}

func (s *MemoryStore) SaveTimeline(_ context.Context, t *core.Timeline) error {
	if t == nil || t.VideoID == "" {
		return fmt.Errorf("timeline must have a video id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timelines[t.VideoID] = t
	return nil
}

func (s *MemoryStore) LoadTimeline(_ context.Context, videoID string) (*core.Timeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.timelines[videoID]
	if !ok {
		return nil, &core.EmptyTimelineError{VideoID: videoID}
	}
	return t, nil
}

func (s *MemoryStore) NextVersion(_ context.Context, videoID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[videoID]++
	return s.versions[videoID], nil
}

func (s *MemoryStore) CurrentVersion(_ context.Context, videoID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.versions[videoID], nil
}

// embedText fetches one embedding vector from the configured model.
func embedText(ctx context.Context, cli *openai.Client, model, text string) ([]float32, error) {
	resp, err := cli.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(model),
		Input: []string{strings.ToLower(text)},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding API failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return resp.Data[0].Embedding, nil
}

func newOpenAIClient(cfg *config.Config) *openai.Client {
	conf := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		conf.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(conf)
}
