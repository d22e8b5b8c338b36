package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"

	"vidcrawl/config"
	"vidcrawl/core"
	"vidcrawl/index"
	"vidcrawl/processors"
	"vidcrawl/query"
	"vidcrawl/storage"
)

// Server wires the segmenter, the dual analysis pipelines, fusion, the
// index and the query engine behind the HTTP boundary.
type Server struct {
	cfg       *config.Config
	store     storage.Store
	vectors   index.VectorSearcher
	engine    *query.Engine
	analyzers []processors.SegmentAnalyzer
	registry  *Registry
}

func New(cfg *config.Config, store storage.Store, vectors index.VectorSearcher, analyzers []processors.SegmentAnalyzer) *Server {
	return &Server{
		cfg:       cfg,
		store:     store,
		vectors:   vectors,
		engine:    query.NewEngine(cfg),
		analyzers: analyzers,
		registry:  NewRegistry(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Post("/videos", s.handleRegister)
	r.Route("/videos/{videoID}", func(r chi.Router) {
		r.Post("/analyze", s.handleAnalyze)
		r.Get("/status", s.handleStatus)
		r.Post("/cancel", s.handleCancel)
		r.Post("/reindex", s.handleReindex)
		r.Post("/query", s.handleQuery)
		r.Get("/export", s.handleExport)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	core.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type registerRequest struct {
	VideoID  string  `json:"video_id,omitempty"`
	Duration float64 `json:"duration"`
	Source   string  `json:"source,omitempty"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.Duration <= 0 {
		err := &core.SegmentationError{Duration: req.Duration, Reason: "duration must be positive"}
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.VideoID == "" {
		req.VideoID = core.NewID()
	}
	ref := processors.VideoRef{VideoID: req.VideoID, Duration: req.Duration, Source: req.Source}
	if err := s.registry.Register(ref); err != nil {
		core.WriteJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	core.WriteJSON(w, http.StatusCreated, ref)
}

type analyzeRequest struct {
	WindowSec float64   `json:"window_sec,omitempty"`
	SceneCuts []float64 `json:"scene_cuts,omitempty"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoID")
	ref, ok := s.registry.ref(videoID)
	if !ok {
		core.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "unknown video"})
		return
	}

	var req analyzeRequest
	if r.Body != nil {
		// Body is optional; defaults come from config.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	segCfg := processors.SegmentConfig{WindowSec: req.WindowSec, SceneCuts: req.SceneCuts}
	if segCfg.WindowSec <= 0 {
		segCfg.WindowSec = s.cfg.WindowSec
	}

	// Validate segmentation up front: a bad config aborts the job before
	// any analysis starts.
	segments, err := processors.SegmentVideo(ref.Duration, segCfg)
	if err != nil {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.registry.startJob(videoID, cancel); err != nil {
		cancel()
		core.WriteJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}

	go s.runAnalysis(ctx, ref, segments)
	core.WriteJSON(w, http.StatusAccepted, map[string]string{"video_id": videoID, "status": string(StatusRunning)})
}

func (s *Server) runAnalysis(ctx context.Context, ref processors.VideoRef, segments []core.TimeSpan) {
	results, err := processors.RunAnalysis(ctx, ref, segments, s.analyzers, s.cfg.PipelineWorkers)
	if err != nil {
		// Cancelled: the registry already moved the job out of running.
		log.Printf("analysis for video %s stopped: %v", ref.VideoID, err)
		return
	}

	tl, err := processors.Fuse(ref.VideoID, ref.Duration, results, processors.FusionConfig{
		OverlapThreshold: s.cfg.OverlapThreshold,
		MinConfidence:    s.cfg.MinConfidence,
	})
	if err != nil {
		log.Printf("fusion failed for video %s: %v", ref.VideoID, err)
		s.registry.fail(ref.VideoID, err)
		return
	}

	bg := context.Background()
	if err := s.store.SaveTimeline(bg, tl); err != nil {
		s.registry.fail(ref.VideoID, err)
		return
	}
	snap, err := s.buildSnapshot(bg, tl)
	if err != nil {
		s.registry.fail(ref.VideoID, err)
		return
	}
	if s.registry.publish(ref.VideoID, snap) {
		log.Printf("published timeline for video %s: %d events, index version %d, partial=%v",
			ref.VideoID, len(tl.Events), snap.Version, tl.PartialCoverage)
	}
}

// buildSnapshot allocates the next index version and builds the immutable
// snapshot. The content backend is the remote vector store when one is
// configured, an embedding index when CONTENT_INDEX=embedding, and the
// lexical index otherwise.
func (s *Server) buildSnapshot(ctx context.Context, tl *core.Timeline) (*index.Snapshot, error) {
	version, err := s.store.NextVersion(ctx, tl.VideoID)
	if err != nil {
		return nil, err
	}

	var content index.ContentIndex
	switch {
	case s.vectors != nil:
		content, err = index.NewRemoteContentIndex(ctx, s.vectors, tl, version)
		if err != nil {
			log.Printf("Warning: remote content index failed (%v), using lexical index", err)
			content = nil
		}
	case strings.EqualFold(os.Getenv("CONTENT_INDEX"), "embedding") && s.cfg.HasValidAPI():
		ei, err := index.NewEmbeddingIndex(ctx, s.cfg, tl.Events)
		if err != nil {
			log.Printf("Warning: embedding index failed (%v), using lexical index", err)
		} else {
			content = ei
		}
	}
	return index.Build(tl, version, content)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoID")
	view, ok := s.registry.statusView(videoID)
	if !ok {
		core.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "unknown video"})
		return
	}
	core.WriteJSON(w, http.StatusOK, view)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoID")
	if !s.registry.cancelJob(videoID) {
		core.WriteJSON(w, http.StatusConflict, map[string]string{"error": "no running analysis to cancel"})
		return
	}
	core.WriteJSON(w, http.StatusOK, map[string]string{"video_id": videoID, "status": string(StatusCancelled)})
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoID")
	tl, err := s.store.LoadTimeline(r.Context(), videoID)
	if err != nil {
		s.writeQueryError(w, videoID, err)
		return
	}
	snap, err := s.buildSnapshot(r.Context(), tl)
	if err != nil {
		core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.registry.swapSnapshot(videoID, snap)
	core.WriteJSON(w, http.StatusOK, map[string]any{"video_id": videoID, "index_version": snap.Version})
}

type queryRequest struct {
	Text    string   `json:"text"`
	TopK    int      `json:"top_k,omitempty"`
	Start   *float64 `json:"start,omitempty"`
	End     *float64 `json:"end,omitempty"`
	Version int      `json:"version,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoID")
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
		return
	}

	snap, known := s.registry.current(videoID)
	if !known {
		core.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "unknown video"})
		return
	}
	if snap == nil {
		s.writeQueryError(w, videoID, &core.EmptyTimelineError{VideoID: videoID})
		return
	}
	if req.Version != 0 && req.Version != snap.Version {
		s.writeQueryError(w, videoID, &core.IndexStaleError{VideoID: videoID, Requested: req.Version, Current: snap.Version})
		return
	}

	q := core.Query{VideoID: videoID, Text: req.Text, TopK: req.TopK}
	if req.Start != nil || req.End != nil {
		span := core.TimeSpan{End: snap.Timeline().Duration}
		if req.Start != nil {
			span.Start = *req.Start
		}
		if req.End != nil {
			span.End = *req.End
		}
		if !span.Valid() {
			core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid time range"})
			return
		}
		q.TimeRange = &span
	}

	ans, err := s.engine.Answer(r.Context(), snap, q)
	if err != nil {
		s.writeQueryError(w, videoID, err)
		return
	}
	core.WriteJSON(w, http.StatusOK, ans)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoID")
	snap, known := s.registry.current(videoID)
	if !known {
		core.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "unknown video"})
		return
	}
	if snap == nil {
		s.writeQueryError(w, videoID, &core.EmptyTimelineError{VideoID: videoID})
		return
	}

	tl := snap.Timeline()
	if r.URL.Query().Get("format") == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(tl.MarkdownReport()))
		return
	}
	core.WriteJSON(w, http.StatusOK, map[string]any{
		"video_id": videoID,
		"events":   tl.Export(),
	})
}

// writeQueryError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeQueryError(w http.ResponseWriter, videoID string, err error) {
	var empty *core.EmptyTimelineError
	if errors.As(err, &empty) {
		core.WriteJSON(w, http.StatusConflict, map[string]any{
			"error":     err.Error(),
			"retryable": true,
		})
		return
	}
	var stale *core.IndexStaleError
	if errors.As(err, &stale) {
		core.WriteJSON(w, http.StatusConflict, map[string]any{
			"error":           err.Error(),
			"current_version": stale.Current,
		})
		return
	}
	log.Printf("query failed for video %s: %v", videoID, err)
	core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
