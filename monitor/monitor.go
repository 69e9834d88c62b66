// Package monitor tracks per-player progress, errors, metrics and cancellation
// requests of enhanced extraction operations.
package monitor

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zombar/matchscheduler/models"
)

// ErrOperationNotFound is returned for unknown operation ids
var ErrOperationNotFound = errors.New("operation not found")

type operation struct {
	players   []string
	progress  map[string]*models.PlayerProgress
	errors    []models.ErrorRecord
	metrics   models.OperationMetrics
	cancelled bool
}

// Monitor is safe for concurrent use
type Monitor struct {
	mu         sync.RWMutex
	operations map[string]*operation
	limiter    *RateLimiter
	now        func() time.Time
}

// New creates a monitor sharing limiter across all operations
func New(limiter *RateLimiter) *Monitor {
	if limiter == nil {
		limiter = NewRateLimiter(0, 0)
	}
	return &Monitor{
		operations: make(map[string]*operation),
		limiter:    limiter,
		now:        time.Now,
	}
}

// CreateOperation starts tracking id with every player not started
func (m *Monitor) CreateOperation(id string, players []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	op := &operation{
		players:  append([]string(nil), players...),
		progress: make(map[string]*models.PlayerProgress, len(players)),
		metrics: models.OperationMetrics{
			OperationID: id,
			StartedAt:   m.now(),
		},
	}
	for _, p := range players {
		op.progress[p] = &models.PlayerProgress{
			OperationID: id,
			PlayerName:  p,
			Status:      models.StatusNotStarted,
		}
	}
	m.operations[id] = op

	slog.Default().Info("monitoring operation", "operation_id", id, "players", len(players))
}

// UpdatePlayerProgress applies update to the progress of player under the
// monitor lock. Unknown operations or players are ignored.
func (m *Monitor) UpdatePlayerProgress(id, player string, update func(*models.PlayerProgress)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, ok := m.operations[id]
	if !ok {
		return
	}
	p, ok := op.progress[player]
	if !ok {
		return
	}
	prevMatches := p.MatchesExtracted
	update(p)
	op.metrics.MatchesExtracted += p.MatchesExtracted - prevMatches
}

// RecordError stores an error and returns its id
func (m *Monitor) RecordError(id, player, kind, message string, severity models.Severity) string {
	rec := models.ErrorRecord{
		ID:          uuid.NewString(),
		OperationID: id,
		PlayerName:  player,
		Kind:        kind,
		Message:     message,
		Severity:    severity,
		Timestamp:   m.now(),
	}

	m.mu.Lock()
	if op, ok := m.operations[id]; ok {
		op.errors = append(op.errors, rec)
		op.metrics.Errors++
	}
	m.mu.Unlock()

	slog.Default().Warn("extraction error recorded",
		"operation_id", id, "player", player, "kind", kind, "severity", string(severity), "error", message)
	return rec.ID
}

// RequestCancel flags id for cooperative cancellation
func (m *Monitor) RequestCancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, ok := m.operations[id]
	if !ok {
		return ErrOperationNotFound
	}
	op.cancelled = true
	return nil
}

// ShouldCancel reports whether cancellation was requested for id
func (m *Monitor) ShouldCancel(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	op, ok := m.operations[id]
	return ok && op.cancelled
}

// CanMakeRequest reports whether the shared limiter has a token available
func (m *Monitor) CanMakeRequest() bool { return m.limiter.CanMakeRequest() }

// WaitTime returns how long the caller should wait for the next token
func (m *Monitor) WaitTime() time.Duration { return m.limiter.WaitTime() }

// RecordRequest charges the limiter and counts an API call against id
func (m *Monitor) RecordRequest(id, endpoint string, success bool) {
	m.limiter.RecordRequest(endpoint, success)

	m.mu.Lock()
	defer m.mu.Unlock()
	if op, ok := m.operations[id]; ok {
		op.metrics.APICalls++
	}
}

// RecordQualityScore appends a data-quality score to the metrics of id
func (m *Monitor) RecordQualityScore(id string, score float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if op, ok := m.operations[id]; ok {
		op.metrics.QualityScores = append(op.metrics.QualityScores, score)
	}
}

// Metrics returns a snapshot of the metrics of id
func (m *Monitor) Metrics(id string) (models.OperationMetrics, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	op, ok := m.operations[id]
	if !ok {
		return models.OperationMetrics{}, false
	}
	out := op.metrics
	out.QualityScores = append([]float64(nil), op.metrics.QualityScores...)
	return out, true
}

// Players returns progress snapshots of id in the original player order
func (m *Monitor) Players(id string) ([]models.PlayerProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	op, ok := m.operations[id]
	if !ok {
		return nil, ErrOperationNotFound
	}
	out := make([]models.PlayerProgress, 0, len(op.players))
	for _, name := range op.players {
		p := *op.progress[name]
		if p.StartTime != nil {
			v := *p.StartTime
			p.StartTime = &v
		}
		if p.EndTime != nil {
			v := *p.EndTime
			p.EndTime = &v
		}
		out = append(out, p)
	}
	return out, nil
}

// Errors returns the errors recorded for id, oldest first
func (m *Monitor) Errors(id string) []models.ErrorRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	op, ok := m.operations[id]
	if !ok {
		return nil
	}
	return append([]models.ErrorRecord(nil), op.errors...)
}

// RemoveOperation stops tracking id and drops its progress, errors and metrics
func (m *Monitor) RemoveOperation(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.operations, id)
}

// Operations lists tracked operation ids
func (m *Monitor) Operations() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.operations))
	for id := range m.operations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
