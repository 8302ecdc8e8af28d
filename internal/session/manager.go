// Package session owns running and finished batch query sessions.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mrbot-consultas/backend/internal/batch"
	"github.com/mrbot-consultas/backend/internal/models"
	"github.com/mrbot-consultas/backend/internal/mrbot"
)

// MaxSessions limits concurrent sessions to prevent memory exhaustion.
const MaxSessions = 50

// state holds one session plus the data the API serves from it.
type state struct {
	session      *models.BatchSession
	service      mrbot.Service
	results      []models.QueryResult
	cancel       context.CancelFunc
	lastAccessed time.Time
}

// Manager handles active batch query sessions.
type Manager struct {
	sessions     map[string]*state
	mu           sync.RWMutex
	orchestrator *batch.Orchestrator
	logger       zerolog.Logger
}

// NewManager creates a new session manager.
func NewManager(orchestrator *batch.Orchestrator) *Manager {
	return &Manager{
		sessions:     make(map[string]*state),
		orchestrator: orchestrator,
		logger:       log.With().Str("component", "session").Logger(),
	}
}

// StartBatch begins running the rows against the service in a background
// goroutine and returns the pending session.
func (m *Manager) StartBatch(fileID string, svc mrbot.Service, rows []models.QueryRow, params batch.Params) (models.BatchSession, error) {
	m.cleanupIfAtCapacity()

	sessionID := uuid.New().String()
	session := models.NewBatchSession(sessionID, fileID, svc.Name)
	session.RowCount = len(rows)

	ctx, cancel := context.WithCancel(context.Background())
	st := &state{
		session:      session,
		service:      svc,
		cancel:       cancel,
		lastAccessed: time.Now(),
	}

	// Snapshot before the worker goroutine starts mutating the shared struct.
	snapshot := *session

	m.mu.Lock()
	m.sessions[sessionID] = st
	m.mu.Unlock()

	go m.runBatch(ctx, sessionID, svc, rows, params)

	return snapshot, nil
}

func (m *Manager) runBatch(ctx context.Context, sessionID string, svc mrbot.Service, rows []models.QueryRow, params batch.Params) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Interface("panic", r).Str("session", sessionID).Msg("batch panicked")
			m.markError(sessionID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	start := time.Now()
	m.logger.Info().Str("session", sessionID).Str("service", svc.Name).Int("rows", len(rows)).Msg("batch started")

	m.update(sessionID, func(st *state) {
		st.session.Status = models.SessionStatusRunning
	})

	results, runErr := m.orchestrator.Run(ctx, svc, rows, params, func(done, total int) {
		m.update(sessionID, func(st *state) {
			if total > 0 {
				st.session.Progress = float64(done) / float64(total) * 100
			}
		})
	})

	elapsed := time.Since(start).Milliseconds()

	m.update(sessionID, func(st *state) {
		st.results = results
		st.session.ProcessingTimeMs = elapsed
		for _, res := range results {
			if res.Status == models.RowStatusOK {
				st.session.OKCount++
			} else {
				st.session.ErrorCount++
			}
		}
		if runErr != nil {
			// Cancellation mid-run: keep the completed prefix, flag the rest.
			st.session.Status = models.SessionStatusError
			st.session.Error = runErr.Error()
			return
		}
		st.session.Status = models.SessionStatusComplete
		st.session.Progress = 100
	})

	m.logger.Info().Str("session", sessionID).
		Int64("elapsed_ms", elapsed).
		Msg("batch finished")
}

func (m *Manager) update(sessionID string, fn func(*state)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.sessions[sessionID]; ok {
		fn(st)
	}
}

func (m *Manager) markError(sessionID, reason string) {
	m.update(sessionID, func(st *state) {
		st.session.Status = models.SessionStatusError
		st.session.Error = reason
	})
}

// GetSession returns a snapshot of a session by ID.
func (m *Manager) GetSession(id string) (models.BatchSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.sessions[id]
	if !ok {
		return models.BatchSession{}, false
	}
	st.lastAccessed = time.Now()
	return *st.session, true
}

// Results returns the collected results of a finished session.
func (m *Manager) Results(id string) ([]models.QueryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	st.lastAccessed = time.Now()
	if st.session.Status != models.SessionStatusComplete && st.session.Status != models.SessionStatusError {
		return nil, fmt.Errorf("session %s still %s", id, st.session.Status)
	}
	return st.results, nil
}

// Service returns the catalog service a session ran against.
func (m *Manager) Service(id string) (mrbot.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.sessions[id]
	if !ok {
		return mrbot.Service{}, fmt.Errorf("session %s not found", id)
	}
	return st.service, nil
}

// FileRefs returns every result file a finished session referenced, in row
// order.
func (m *Manager) FileRefs(id string) ([]models.FileReference, error) {
	results, err := m.Results(id)
	if err != nil {
		return nil, err
	}
	var refs []models.FileReference
	for _, res := range results {
		refs = append(refs, res.FileRefs...)
	}
	return refs, nil
}

// Cancel stops a running session between rows. Completed rows are kept.
func (m *Manager) Cancel(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.sessions[id]
	if !ok {
		return false
	}
	st.cancel()
	return true
}

// cleanupIfAtCapacity evicts finished sessions when the map is full.
func (m *Manager) cleanupIfAtCapacity() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) < MaxSessions {
		return
	}

	toFree := len(m.sessions) - MaxSessions + 1
	for id, st := range m.sessions {
		if toFree == 0 {
			break
		}
		if st.session.Status == models.SessionStatusComplete ||
			st.session.Status == models.SessionStatusError {
			delete(m.sessions, id)
			toFree--
			m.logger.Debug().Str("session", id).Msg("evicted finished session")
		}
	}
}

// CleanupOldSessions removes finished sessions not accessed within maxAge.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for id, st := range m.sessions {
		if st.session.Status != models.SessionStatusComplete &&
			st.session.Status != models.SessionStatusError {
			continue
		}
		if st.lastAccessed.Before(cutoff) {
			delete(m.sessions, id)
			m.logger.Debug().Str("session", id).Msg("cleaned up aged session")
		}
	}
}
