package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mrbot-consultas/backend/internal/models"
)

// Status represents the fetch job status.
type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusComplete    Status = "complete"
	StatusError       Status = "error"
)

// Job represents an async download job. Archive and Log are populated once
// the job completes.
type Job struct {
	ID          string     `json:"id"`
	Status      Status     `json:"status"`
	Progress    float64    `json:"progress"`
	Total       int        `json:"total"`
	Done        int        `json:"done"`
	OKCount     int        `json:"okCount"`
	ErrorCount  int        `json:"errorCount"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	archive []byte
	entries []models.DownloadLogEntry
}

// Manager handles async fetch jobs.
type Manager struct {
	jobs    map[string]*Job
	mu      sync.RWMutex
	fetcher *Fetcher
	logger  zerolog.Logger
}

// NewManager creates a fetch job manager.
func NewManager(fetcher *Fetcher) *Manager {
	return &Manager{
		jobs:    make(map[string]*Job),
		fetcher: fetcher,
		logger:  log.With().Str("component", "fetch-jobs").Logger(),
	}
}

// StartJob begins downloading the references in the background and returns
// the job snapshot.
func (m *Manager) StartJob(refs []models.FileReference) Job {
	job := &Job{
		ID:        uuid.New().String(),
		Status:    StatusPending,
		Total:     len(refs),
		CreatedAt: time.Now(),
	}

	// Snapshot before the worker goroutine starts mutating the shared struct.
	snapshot := *job

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	go m.runJob(job, refs)

	return snapshot
}

// GetJob returns a snapshot of a job's state.
func (m *Manager) GetJob(id string) (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Archive returns the bundled ZIP of a completed job.
func (m *Manager) Archive(id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s not found", id)
	}
	if job.Status != StatusComplete {
		return nil, fmt.Errorf("job %s is %s, not complete", id, job.Status)
	}
	return job.archive, nil
}

// LogEntries returns the per-file download log of a finished job.
func (m *Manager) LogEntries(id string) ([]models.DownloadLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s not found", id)
	}
	if job.Status != StatusComplete && job.Status != StatusError {
		return nil, fmt.Errorf("job %s still %s", id, job.Status)
	}
	return job.entries, nil
}

func (m *Manager) runJob(job *Job, refs []models.FileReference) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Interface("panic", r).Str("job", job.ID).Msg("fetch job panicked")
			m.markError(job, fmt.Sprintf("internal error: %v", r))
		}
	}()

	m.logger.Info().Str("job", job.ID).Int("files", len(refs)).Msg("fetch job started")
	m.update(job, func(j *Job) { j.Status = StatusDownloading })

	res, err := m.fetcher.Fetch(context.Background(), refs, func(done, total int) {
		m.update(job, func(j *Job) {
			j.Done = done
			if total > 0 {
				j.Progress = float64(done) / float64(total) * 100
			}
		})
	})
	if err != nil {
		m.markError(job, err.Error())
		return
	}

	m.update(job, func(j *Job) {
		j.Status = StatusComplete
		j.Progress = 100
		j.OKCount = res.OKCount
		j.ErrorCount = res.ErrorCount
		j.archive = res.Archive
		j.entries = res.Log
		now := time.Now()
		j.CompletedAt = &now
	})
	m.logger.Info().Str("job", job.ID).
		Int("ok", res.OKCount).Int("errors", res.ErrorCount).
		Msg("fetch job complete")
}

func (m *Manager) update(job *Job, fn func(*Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(job)
}

func (m *Manager) markError(job *Job, msg string) {
	m.update(job, func(j *Job) {
		j.Status = StatusError
		j.Error = msg
		now := time.Now()
		j.CompletedAt = &now
	})
}

// CleanupOldJobs removes finished jobs older than maxAge.
func (m *Manager) CleanupOldJobs(maxAge time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for id, job := range m.jobs {
		if job.Status == StatusComplete || job.Status == StatusError {
			if job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
				delete(m.jobs, id)
			}
		}
	}
}
