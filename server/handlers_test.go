package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"vidcrawl/config"
	"vidcrawl/core"
	"vidcrawl/processors"
	"vidcrawl/storage"
)

// stubAnalyzer emits one detection per segment without leaving the process.
type stubAnalyzer struct {
	modality core.Modality
	kind     string
	text     string
}

func (s stubAnalyzer) Modality() core.Modality { return s.modality }

func (s stubAnalyzer) Analyze(_ context.Context, ref processors.VideoRef, seg core.TimeSpan) ([]core.RawDetection, error) {
	return []core.RawDetection{{
		ID:          fmt.Sprintf("%s-%s-%v", ref.VideoID, s.modality, seg.Start),
		Span:        seg,
		Modality:    s.modality,
		Kind:        s.kind,
		Description: fmt.Sprintf("%s near %s", s.text, core.FormatTime(seg.Start)),
		Confidence:  0.9,
	}}, nil
}

func testServer() *Server {
	cfg := &config.Config{WindowSec: 30, PipelineWorkers: 2, TopK: 5}
	analyzers := []processors.SegmentAnalyzer{
		stubAnalyzer{modality: core.ModalityAudio, kind: "dialogue", text: "commentator describes a goal"},
		stubAnalyzer{modality: core.ModalityVisual, kind: "Goal", text: "ball crosses the line"},
	}
	return New(cfg, storage.NewMemoryStore(), nil, analyzers)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func waitForStatus(t *testing.T, h http.Handler, videoID string, want JobStatus) jobStatusView {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := doJSON(t, h, http.MethodGet, "/videos/"+videoID+"/status", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status returned %d: %s", rec.Code, rec.Body.String())
		}
		var view jobStatusView
		if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
			t.Fatalf("decode status: %v", err)
		}
		if view.Status == want {
			return view
		}
		if view.Status == StatusFailed && want != StatusFailed {
			t.Fatalf("job failed: %s", view.Error)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("video %s never reached status %s", videoID, want)
	return jobStatusView{}
}

func TestAnalyzeQueryExportFlow(t *testing.T) {
	srv := testServer()
	h := srv.Router()

	rec := doJSON(t, h, http.MethodPost, "/videos", map[string]any{"video_id": "vid1", "duration": 90.0})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register returned %d: %s", rec.Code, rec.Body.String())
	}

	// Querying before any analysis is an explicit not-ready conflict.
	rec = doJSON(t, h, http.MethodPost, "/videos/vid1/query", map[string]any{"text": "goal"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("query before analysis returned %d, want 409", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "retryable") {
		t.Errorf("not-ready response should be marked retryable: %s", rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/videos/vid1/analyze", map[string]any{"window_sec": 30})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("analyze returned %d: %s", rec.Code, rec.Body.String())
	}

	view := waitForStatus(t, h, "vid1", StatusCompleted)
	if view.Events == 0 {
		t.Fatal("completed job published no events")
	}
	if view.IndexVersion != 1 {
		t.Errorf("first analysis should publish index version 1, got %d", view.IndexVersion)
	}
	if view.PartialCoverage {
		t.Error("both stub pipelines succeeded; coverage should be complete")
	}

	rec = doJSON(t, h, http.MethodPost, "/videos/vid1/query", map[string]any{"text": "who scored the goal"})
	if rec.Code != http.StatusOK {
		t.Fatalf("query returned %d: %s", rec.Code, rec.Body.String())
	}
	var ans core.Answer
	if err := json.Unmarshal(rec.Body.Bytes(), &ans); err != nil {
		t.Fatalf("decode answer: %v", err)
	}
	if len(ans.Citations) == 0 {
		t.Fatalf("answer carries no citations: %s", ans.Text)
	}

	rec = doJSON(t, h, http.MethodGet, "/videos/vid1/export?format=markdown", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export returned %d", rec.Code)
	}
	report := rec.Body.String()
	if !strings.Contains(report, "[00:00") {
		t.Errorf("markdown report should carry MM:SS timestamps: %q", report)
	}
}

func TestQueryVersionPinning(t *testing.T) {
	srv := testServer()
	h := srv.Router()

	doJSON(t, h, http.MethodPost, "/videos", map[string]any{"video_id": "vid1", "duration": 60.0})
	doJSON(t, h, http.MethodPost, "/videos/vid1/analyze", nil)
	waitForStatus(t, h, "vid1", StatusCompleted)

	// Reindex bumps the version; a query pinned to the old one is stale.
	rec := doJSON(t, h, http.MethodPost, "/videos/vid1/reindex", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reindex returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/videos/vid1/query", map[string]any{"text": "goal", "version": 1})
	if rec.Code != http.StatusConflict {
		t.Fatalf("stale query returned %d, want 409", rec.Code)
	}
	var resp struct {
		CurrentVersion int `json:"current_version"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode stale response: %v", err)
	}
	if resp.CurrentVersion != 2 {
		t.Errorf("expected current_version 2 after reindex, got %d", resp.CurrentVersion)
	}

	rec = doJSON(t, h, http.MethodPost, "/videos/vid1/query", map[string]any{"text": "goal", "version": 2})
	if rec.Code != http.StatusOK {
		t.Errorf("query pinned to current version returned %d: %s", rec.Code, rec.Body.String())
	}
}

func TestQueryTimeRange(t *testing.T) {
	srv := testServer()
	h := srv.Router()

	doJSON(t, h, http.MethodPost, "/videos", map[string]any{"video_id": "vid1", "duration": 90.0})
	doJSON(t, h, http.MethodPost, "/videos/vid1/analyze", map[string]any{"window_sec": 30})
	waitForStatus(t, h, "vid1", StatusCompleted)

	rec := doJSON(t, h, http.MethodPost, "/videos/vid1/query",
		map[string]any{"text": "goal", "start": 0.0, "end": 29.0})
	if rec.Code != http.StatusOK {
		t.Fatalf("query returned %d: %s", rec.Code, rec.Body.String())
	}
	var ans core.Answer
	if err := json.Unmarshal(rec.Body.Bytes(), &ans); err != nil {
		t.Fatalf("decode answer: %v", err)
	}
	for _, c := range ans.Citations {
		if c.Span.Start > 29 {
			t.Errorf("citation %s at %v lies outside the requested range", c.EventID, c.Span)
		}
	}

	rec = doJSON(t, h, http.MethodPost, "/videos/vid1/query",
		map[string]any{"text": "goal", "start": 80.0, "end": 10.0})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("inverted time range returned %d, want 400", rec.Code)
	}
}

func TestRegisterValidation(t *testing.T) {
	srv := testServer()
	h := srv.Router()

	rec := doJSON(t, h, http.MethodPost, "/videos", map[string]any{"video_id": "vid1", "duration": -5.0})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("negative duration returned %d, want 400", rec.Code)
	}

	doJSON(t, h, http.MethodPost, "/videos", map[string]any{"video_id": "vid1", "duration": 60.0})
	rec = doJSON(t, h, http.MethodPost, "/videos", map[string]any{"video_id": "vid1", "duration": 60.0})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate registration returned %d, want 409", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/videos/ghost/analyze", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("analyze on unknown video returned %d, want 404", rec.Code)
	}
}

func TestCancelFlow(t *testing.T) {
	srv := testServer()
	// A slow analyzer keeps the job running long enough to cancel it.
	srv.analyzers = []processors.SegmentAnalyzer{slowAnalyzer{}}
	h := srv.Router()

	doJSON(t, h, http.MethodPost, "/videos", map[string]any{"video_id": "vid1", "duration": 300.0})
	rec := doJSON(t, h, http.MethodPost, "/videos/vid1/analyze", map[string]any{"window_sec": 10})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("analyze returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/videos/vid1/cancel", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel returned %d: %s", rec.Code, rec.Body.String())
	}
	view := waitForStatus(t, h, "vid1", StatusCancelled)
	if view.Events != 0 {
		t.Errorf("cancelled job must not publish events, got %d", view.Events)
	}

	// Give the cancelled goroutine a moment, then confirm nothing was
	// published behind the registry's back.
	time.Sleep(50 * time.Millisecond)
	rec = doJSON(t, h, http.MethodPost, "/videos/vid1/query", map[string]any{"text": "goal"})
	if rec.Code != http.StatusConflict {
		t.Errorf("query after cancel returned %d, want 409", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/videos/vid1/cancel", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("second cancel returned %d, want 409", rec.Code)
	}
}

type slowAnalyzer struct{}

func (slowAnalyzer) Modality() core.Modality { return core.ModalityAudio }

func (slowAnalyzer) Analyze(ctx context.Context, _ processors.VideoRef, seg core.TimeSpan) ([]core.RawDetection, error) {
	select {
	case <-time.After(100 * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return []core.RawDetection{{
		ID: fmt.Sprintf("slow-%v", seg.Start), Span: seg,
		Modality: core.ModalityAudio, Kind: "dialogue",
		Description: "slow segment", Confidence: 1,
	}}, nil
}
