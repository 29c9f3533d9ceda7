package processor

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Snapshot bounds: readers get a clipped activity text and tag list.
const (
	snapshotTextMax = 200
	snapshotTagsMax = 10
)

// Counters are the final numbers a completed job publishes.
type Counters struct {
	RawActivities          int     `json:"raw_activities"`
	ProcessedActivities    int     `json:"processed_activities"`
	UniqueTags             int     `json:"unique_tags"`
	AverageTagsPerActivity float64 `json:"average_tags_per_activity"`
}

// Job is the externally observable handle to an asynchronous run.
type Job struct {
	ID          string     `json:"job_id"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	Progress    float64    `json:"progress"`
	Counters    *Counters  `json:"counters,omitempty"`
}

// Snapshot is the live progress view. Snapshots are overwritten, not queued;
// readers observe the latest value and must tolerate missed intermediates.
type Snapshot struct {
	JobID           string   `json:"job_id"`
	Status          string   `json:"status"`
	ActivityIndex   int      `json:"activity_index"`
	TotalActivities int      `json:"total_activities"`
	CurrentActivity string   `json:"current_activity"`
	CurrentTags     []string `json:"current_tags"`
	Progress        int      `json:"progress"`
	Error           string   `json:"error,omitempty"`
}

// NewJobID builds an opaque id: proc_<timestamp>_<uuid6>.
func NewJobID() string {
	return "proc_" + time.Now().Format("20060102_150405") + "_" + uuid.NewString()[:6]
}

// jobEntry pairs a job with its latest snapshot and cancellation flag. The
// owning worker is the single writer; readers copy under the store lock.
type jobEntry struct {
	job      Job
	snapshot Snapshot
	cancel   func()
}

// JobStore tracks jobs and their progress snapshots in process memory.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*jobEntry
}

// NewJobStore builds an empty store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: map[string]*jobEntry{}}
}

// Create registers a running job with its cancel function and returns it.
func (s *JobStore) Create(id string, cancel func()) Job {
	job := Job{ID: id, Status: StatusRunning, StartedAt: time.Now()}
	s.mu.Lock()
	s.jobs[id] = &jobEntry{
		job:      job,
		snapshot: Snapshot{JobID: id, Status: StatusRunning},
		cancel:   cancel,
	}
	s.mu.Unlock()
	return job
}

// Get returns a copy of the job, or false.
func (s *JobStore) Get(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return e.job, true
}

// Progress returns a copy of the latest snapshot, or false.
func (s *JobStore) Progress(id string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.jobs[id]
	if !ok {
		return Snapshot{}, false
	}
	snap := e.snapshot
	snap.CurrentTags = append([]string(nil), e.snapshot.CurrentTags...)
	return snap, true
}

// History returns the most recent jobs, newest first.
func (s *JobStore) History(limit int) []Job {
	s.mu.RLock()
	out := make([]Job, 0, len(s.jobs))
	for _, e := range s.jobs {
		out = append(out, e.job)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Cancel flips the job's cancellation flag; the worker notices between
// activities.
func (s *JobStore) Cancel(id string) bool {
	s.mu.RLock()
	e, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok || e.cancel == nil {
		return false
	}
	e.cancel()
	return true
}

// Update overwrites the job's snapshot.
func (s *JobStore) Update(id string, snap Snapshot) {
	snap.JobID = id
	if len(snap.CurrentActivity) > snapshotTextMax {
		snap.CurrentActivity = snap.CurrentActivity[:snapshotTextMax]
	}
	if len(snap.CurrentTags) > snapshotTagsMax {
		snap.CurrentTags = snap.CurrentTags[:snapshotTagsMax]
	}
	s.mu.Lock()
	if e, ok := s.jobs[id]; ok {
		e.snapshot = snap
		e.job.Progress = float64(snap.Progress) / 100
	}
	s.mu.Unlock()
}

// Complete marks the job finished with its final counters.
func (s *JobStore) Complete(id string, counters *Counters) {
	now := time.Now()
	s.mu.Lock()
	if e, ok := s.jobs[id]; ok {
		e.job.Status = StatusCompleted
		e.job.CompletedAt = &now
		e.job.Progress = 1.0
		e.job.Counters = counters
		e.snapshot.Status = StatusCompleted
		e.snapshot.Progress = 100
	}
	s.mu.Unlock()
}

// Fail marks the job failed with the error text.
func (s *JobStore) Fail(id string, errText string) {
	now := time.Now()
	s.mu.Lock()
	if e, ok := s.jobs[id]; ok {
		e.job.Status = StatusFailed
		e.job.CompletedAt = &now
		e.job.Error = errText
		e.snapshot.Status = StatusFailed
		e.snapshot.Error = errText
	}
	s.mu.Unlock()
}
