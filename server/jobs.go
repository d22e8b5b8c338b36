package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vidcrawl/index"
	"vidcrawl/processors"
)

type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// videoRecord is the registry's per-video state: the ingestion metadata,
// the current job, and the published snapshot. The snapshot pointer is
// swapped atomically under the registry lock; the snapshot itself is
// immutable, so query handlers read it without further locking.
type videoRecord struct {
	ref        processors.VideoRef
	status     JobStatus
	errMsg     string
	cancel     context.CancelFunc
	snapshot   *index.Snapshot
	startedAt  time.Time
	finishedAt time.Time
}

type Registry struct {
	mu     sync.RWMutex
	videos map[string]*videoRecord
}

func NewRegistry() *Registry {
	return &Registry{videos: map[string]*videoRecord{}}
}

func (r *Registry) Register(ref processors.VideoRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.videos[ref.VideoID]; ok {
		return fmt.Errorf("video %s already registered", ref.VideoID)
	}
	r.videos[ref.VideoID] = &videoRecord{ref: ref, status: StatusPending}
	return nil
}

func (r *Registry) ref(videoID string) (processors.VideoRef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.videos[videoID]
	if !ok {
		return processors.VideoRef{}, false
	}
	return rec.ref, true
}

// startJob transitions the video to running, unless a job is already in
// flight.
func (r *Registry) startJob(videoID string, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.videos[videoID]
	if !ok {
		return fmt.Errorf("video %s not registered", videoID)
	}
	if rec.status == StatusRunning {
		return fmt.Errorf("analysis already running for video %s", videoID)
	}
	rec.status = StatusRunning
	rec.errMsg = ""
	rec.cancel = cancel
	rec.startedAt = time.Now()
	rec.finishedAt = time.Time{}
	return nil
}

// publish installs a completed snapshot. A job that was cancelled while
// fusing loses the race here and nothing is published.
func (r *Registry) publish(videoID string, snap *index.Snapshot) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.videos[videoID]
	if !ok || rec.status != StatusRunning {
		return false
	}
	rec.snapshot = snap
	rec.status = StatusCompleted
	rec.cancel = nil
	rec.finishedAt = time.Now()
	return true
}

// swapSnapshot replaces the published snapshot after a reindex.
func (r *Registry) swapSnapshot(videoID string, snap *index.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.videos[videoID]; ok {
		rec.snapshot = snap
	}
}

func (r *Registry) fail(videoID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.videos[videoID]
	if !ok || rec.status != StatusRunning {
		return
	}
	rec.status = StatusFailed
	rec.errMsg = err.Error()
	rec.cancel = nil
	rec.finishedAt = time.Now()
}

// cancelJob cancels the in-flight job; completed-but-unfused detections are
// discarded by the scheduler and no timeline is published.
func (r *Registry) cancelJob(videoID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.videos[videoID]
	if !ok || rec.status != StatusRunning || rec.cancel == nil {
		return false
	}
	rec.cancel()
	rec.status = StatusCancelled
	rec.cancel = nil
	rec.finishedAt = time.Now()
	return true
}

// current returns the published snapshot, nil when none exists yet.
func (r *Registry) current(videoID string) (*index.Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.videos[videoID]
	if !ok {
		return nil, false
	}
	return rec.snapshot, true
}

type jobStatusView struct {
	VideoID         string    `json:"video_id"`
	Status          JobStatus `json:"status"`
	Error           string    `json:"error,omitempty"`
	IndexVersion    int       `json:"index_version,omitempty"`
	Events          int       `json:"events,omitempty"`
	Failures        int       `json:"failures,omitempty"`
	PartialCoverage bool      `json:"partial_coverage,omitempty"`
	StartedAt       string    `json:"started_at,omitempty"`
	FinishedAt      string    `json:"finished_at,omitempty"`
}

func (r *Registry) statusView(videoID string) (jobStatusView, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.videos[videoID]
	if !ok {
		return jobStatusView{}, false
	}
	v := jobStatusView{VideoID: videoID, Status: rec.status, Error: rec.errMsg}
	if !rec.startedAt.IsZero() {
		v.StartedAt = rec.startedAt.Format(time.RFC3339)
	}
	if !rec.finishedAt.IsZero() {
		v.FinishedAt = rec.finishedAt.Format(time.RFC3339)
	}
	if rec.snapshot != nil {
		tl := rec.snapshot.Timeline()
		v.IndexVersion = rec.snapshot.Version
		v.Events = len(tl.Events)
		v.Failures = len(tl.Failures)
		v.PartialCoverage = tl.PartialCoverage
	}
	return v, true
}
