package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zombar/matchscheduler/engine"
	"github.com/zombar/matchscheduler/models"
	"github.com/zombar/matchscheduler/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
)

var (
	ErrNoPlayers         = errors.New("at least one player is required")
	ErrDuplicatePlayer   = errors.New("player listed more than once")
	ErrOperationStarted  = errors.New("operation already started")
	ErrOperationNotReady = errors.New("operation has not been started")
)

// Auto-optimize thresholds
const (
	maxErrorRate           = 0.1
	minExtractionRate      = 5.0 // matches per minute
	minQualityScore        = 80.0
	recommendedBatchSize   = 15
	delayBackoffMultiplier = 2
)

type enhancedRun struct {
	players []string

	mu             sync.Mutex
	config         models.ExtractionConfig
	started        bool
	cancelObserved bool
	done           chan struct{}
}

// EnhancedManager runs one operation over a set of players, one player at a
// time in input order, reporting every step to a Monitor
type EnhancedManager struct {
	base    *Manager
	monitor Monitor

	mu   sync.RWMutex
	runs map[string]*enhancedRun
	wg   sync.WaitGroup
}

// NewEnhancedManager wraps base, reusing its player store, engine client,
// quality checker and metrics
func NewEnhancedManager(base *Manager, monitor Monitor) *EnhancedManager {
	return &EnhancedManager{
		base:    base,
		monitor: monitor,
		runs:    make(map[string]*enhancedRun),
	}
}

// CreateOperation registers an operation for players and initializes
// monitoring. Every player starts not_started.
func (e *EnhancedManager) CreateOperation(players []string) (string, error) {
	if len(players) == 0 {
		return "", ErrNoPlayers
	}

	seen := make(map[string]bool, len(players))
	for _, name := range players {
		if name == "" {
			return "", &ValidationError{Message: "Player selection is required"}
		}
		if seen[name] {
			return "", fmt.Errorf("%w: %s", ErrDuplicatePlayer, name)
		}
		seen[name] = true

		p, err := e.base.players.GetPlayerByName(name)
		if err != nil {
			return "", fmt.Errorf("failed to load player %s: %w", name, err)
		}
		if p == nil {
			return "", &ValidationError{Message: fmt.Sprintf("Player '%s' not found", name)}
		}
	}

	id := uuid.NewString()
	e.monitor.CreateOperation(id, players)

	e.mu.Lock()
	e.runs[id] = &enhancedRun{
		players: append([]string(nil), players...),
		done:    make(chan struct{}),
	}
	e.mu.Unlock()

	return id, nil
}

func (e *EnhancedManager) lookup(id string) (*enhancedRun, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	run, ok := e.runs[id]
	if !ok {
		return nil, ErrOperationNotFound
	}
	return run, nil
}

// Run starts the background worker of operation id with cfg. The player
// selector of cfg is ignored; every other setting is validated.
func (e *EnhancedManager) Run(id string, cfg models.ExtractionConfig) error {
	if res := validateSettings(cfg); !res.Valid {
		return &ValidationError{Message: res.Message}
	}

	run, err := e.lookup(id)
	if err != nil {
		return err
	}

	run.mu.Lock()
	if run.started {
		run.mu.Unlock()
		return ErrOperationStarted
	}
	run.started = true
	run.config = cfg.Clone()
	run.mu.Unlock()

	if e.base.metrics != nil {
		e.base.metrics.OperationsStarted.WithLabelValues("enhanced").Inc()
		e.base.metrics.ActiveOperations.Inc()
	}

	slog.Default().Info("enhanced extraction started", "operation_id", id, "players", len(run.players))

	e.wg.Add(1)
	go e.work(e.base.ctx, id, run, cfg.Clone())
	return nil
}

// Start creates and runs an operation in one call
func (e *EnhancedManager) Start(players []string, cfg models.ExtractionConfig) (string, error) {
	if res := validateSettings(cfg); !res.Valid {
		return "", &ValidationError{Message: res.Message}
	}
	id, err := e.CreateOperation(players)
	if err != nil {
		return "", err
	}
	return id, e.Run(id, cfg)
}

func (e *EnhancedManager) work(ctx context.Context, id string, run *enhancedRun, cfg models.ExtractionConfig) {
	defer e.wg.Done()
	defer close(run.done)

	ctx, span := tracing.StartSpan(ctx, "extraction.enhanced_operation",
		attribute.String("operation.id", id),
		attribute.Int("operation.players", len(run.players)))
	defer span.End()

	cancelled := false
	for i, player := range run.players {
		if i > 0 {
			if err := sleepCtx(ctx, cfg.Delay()); err != nil {
				cancelled = true
				break
			}
		}
		// a cancel requested during the delay stops the next player
		if e.monitor.ShouldCancel(id) || ctx.Err() != nil {
			cancelled = true
			slog.Default().Info("enhanced extraction cancelled", "operation_id", id, "remaining_players", len(run.players)-i)
			break
		}

		e.processPlayer(ctx, id, player, cfg)
	}

	run.mu.Lock()
	run.cancelObserved = cancelled
	run.mu.Unlock()

	status, _ := e.OperationStatus(id)
	span.SetAttributes(attribute.String("operation.status", string(status)))

	if e.base.metrics != nil {
		e.base.metrics.OperationsFinished.WithLabelValues(string(status)).Inc()
		e.base.metrics.ActiveOperations.Dec()
	}

	slog.Default().Info("enhanced extraction finished", "operation_id", id, "status", string(status))
}

// processPlayer extracts one player and records the outcome on the monitor
func (e *EnhancedManager) processPlayer(ctx context.Context, id, player string, cfg models.ExtractionConfig) {
	start := time.Now()
	e.monitor.UpdatePlayerProgress(id, player, func(p *models.PlayerProgress) {
		p.Status = models.StatusRunning
		p.StartTime = &start
		p.CurrentStep = "Starting extraction"
	})

	result, err := e.extractPlayerSafely(ctx, id, player, cfg)
	end := time.Now()

	switch {
	case err != nil:
		e.monitor.RecordError(id, player, "extraction_exception", err.Error(), models.SeverityCritical)
		e.monitor.UpdatePlayerProgress(id, player, func(p *models.PlayerProgress) {
			p.Status = models.StatusFailed
			p.EndTime = &end
			p.ErrorMessage = err.Error()
			p.CurrentStep = "Failed: " + err.Error()
		})
	case resultError(result, player) != "":
		msg := resultError(result, player)
		e.monitor.RecordError(id, player, "extraction_error", msg, models.SeverityHigh)
		e.monitor.UpdatePlayerProgress(id, player, func(p *models.PlayerProgress) {
			p.Status = models.StatusFailed
			p.EndTime = &end
			p.ErrorMessage = msg
			p.CurrentStep = "Failed: " + msg
		})
	default:
		stored := result.Stored(player)
		e.monitor.UpdatePlayerProgress(id, player, func(p *models.PlayerProgress) {
			p.Status = models.StatusCompleted
			p.EndTime = &end
			p.MatchesExtracted = stored
			p.CurrentStep = fmt.Sprintf("Completed: %d matches extracted", stored)
		})
		if e.base.metrics != nil {
			e.base.metrics.MatchesExtracted.Add(float64(stored))
		}
	}
}

func resultError(res *engine.Result, player string) string {
	if res == nil {
		return "engine returned an empty response"
	}
	if res.Error != "" {
		return res.Error
	}
	return res.Players[player].Error
}

func (e *EnhancedManager) extractPlayerSafely(ctx context.Context, id, player string, cfg models.ExtractionConfig) (res *engine.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("unexpected error: %v", r)
		}
	}()
	return e.extractPlayer(ctx, id, player, cfg)
}

// extractPlayer waits out the rate limiter, calls the engine, records the call
// and optionally scores the result
func (e *EnhancedManager) extractPlayer(ctx context.Context, id, player string, cfg models.ExtractionConfig) (*engine.Result, error) {
	step := func(s string) {
		e.monitor.UpdatePlayerProgress(id, player, func(p *models.PlayerProgress) { p.CurrentStep = s })
	}

	step("Checking rate limits")
	if !e.monitor.CanMakeRequest() {
		wait := e.monitor.WaitTime()
		step(fmt.Sprintf("Rate limited, waiting %.1fs", wait.Seconds()))
		if err := sleepCtx(ctx, wait); err != nil {
			return nil, err
		}
	}

	step(fmt.Sprintf("Extracting up to %d matches", cfg.MaxMatches))
	result, err := e.base.engine.ExtractMatches(ctx, engine.Request{
		Players:             []string{player},
		MaxMatchesPerPlayer: cfg.MaxMatches,
	})
	e.monitor.RecordRequest(id, engine.ExtractEndpoint, err == nil && resultError(result, player) == "")
	if err != nil {
		return nil, err
	}

	if cfg.ValidateData && e.base.quality != nil && resultError(result, player) == "" {
		step("Validating data quality")
		e.monitor.RecordQualityScore(id, e.base.quality.Score(player, cfg, result))
	}
	return result, nil
}

// Cancel requests cooperative cancellation. Players not yet started are left
// untouched.
func (e *EnhancedManager) Cancel(id string) error {
	if _, err := e.lookup(id); err != nil {
		return err
	}
	return e.monitor.RequestCancel(id)
}

// Players returns per-player progress of id in input order
func (e *EnhancedManager) Players(id string) ([]models.PlayerProgress, error) {
	if _, err := e.lookup(id); err != nil {
		return nil, err
	}
	return e.monitor.Players(id)
}

// OperationStatus derives the operation-level status from its players
func (e *EnhancedManager) OperationStatus(id string) (models.Status, error) {
	run, err := e.lookup(id)
	if err != nil {
		return "", err
	}
	players, err := e.monitor.Players(id)
	if err != nil {
		return "", err
	}

	statuses := make([]models.Status, len(players))
	for i, p := range players {
		statuses[i] = p.Status
	}

	run.mu.Lock()
	cancelled := run.cancelObserved
	run.mu.Unlock()

	return DeriveOperationStatus(statuses, cancelled), nil
}

// Metrics returns the monitor metrics snapshot of id
func (e *EnhancedManager) Metrics(id string) (models.OperationMetrics, error) {
	if _, err := e.lookup(id); err != nil {
		return models.OperationMetrics{}, err
	}
	m, ok := e.monitor.Metrics(id)
	if !ok {
		return models.OperationMetrics{}, ErrOperationNotFound
	}
	return m, nil
}

// Recommend runs AutoOptimize against the latest metrics and the settings the
// operation was started with
func (e *EnhancedManager) Recommend(id string) (Recommendation, error) {
	run, err := e.lookup(id)
	if err != nil {
		return Recommendation{}, err
	}
	m, err := e.Metrics(id)
	if err != nil {
		return Recommendation{}, err
	}

	run.mu.Lock()
	started := run.started
	cfg := run.config
	run.mu.Unlock()
	if !started {
		return Recommendation{}, ErrOperationNotReady
	}

	return AutoOptimize(m, cfg, time.Now()), nil
}

// Wait blocks until the worker of id has exited
func (e *EnhancedManager) Wait(id string) error {
	run, err := e.lookup(id)
	if err != nil {
		return err
	}
	run.mu.Lock()
	started := run.started
	run.mu.Unlock()
	if !started {
		return ErrOperationNotReady
	}
	<-run.done
	return nil
}

// CleanupCompletedOperations forgets operations whose worker has exited, here
// and in the monitor, and returns how many were removed. Operations that were
// created but never run are kept.
func (e *EnhancedManager) CleanupCompletedOperations() int {
	e.mu.Lock()
	var removed []string
	for id, run := range e.runs {
		select {
		case <-run.done:
			delete(e.runs, id)
			removed = append(removed, id)
		default:
		}
	}
	e.mu.Unlock()

	for _, id := range removed {
		e.monitor.RemoveOperation(id)
	}
	return len(removed)
}

// WaitAll blocks until every enhanced worker has exited
func (e *EnhancedManager) WaitAll() {
	e.wg.Wait()
}

// DeriveOperationStatus computes the operation-level status from player
// statuses. Cancellation observed by the worker wins; otherwise the operation
// is running while any player is not terminal, and once all are terminal it is
// completed, failed or partial_failure depending on the failures.
func DeriveOperationStatus(statuses []models.Status, cancelObserved bool) models.Status {
	if cancelObserved {
		return models.StatusCancelled
	}
	if len(statuses) == 0 {
		return models.StatusNotStarted
	}

	notStarted, pending, failures := 0, 0, 0
	for _, s := range statuses {
		switch {
		case s == models.StatusNotStarted:
			notStarted++
			pending++
		case !s.IsTerminal():
			pending++
		case s != models.StatusCompleted:
			failures++
		}
	}

	switch {
	case notStarted == len(statuses):
		return models.StatusNotStarted
	case pending > 0:
		return models.StatusRunning
	case failures == 0:
		return models.StatusCompleted
	case failures == len(statuses):
		return models.StatusFailed
	default:
		return models.StatusPartialFailure
	}
}

// Recommendation holds suggested settings. Nothing applies them automatically.
type Recommendation struct {
	RateLimitDelay   float64  `json:"rate_limit_delay"`
	BatchSize        int      `json:"batch_size"`
	StrictValidation bool     `json:"strict_validation"`
	Reasons          []string `json:"reasons"`
}

// AutoOptimize suggests settings from a metrics snapshot: double the delay when
// the error rate is above 10%, shrink batches to 15 when fewer than 5 matches
// per minute are extracted, enable strict validation below a quality of 80.
func AutoOptimize(m models.OperationMetrics, cfg models.ExtractionConfig, now time.Time) Recommendation {
	rec := Recommendation{
		RateLimitDelay:   cfg.RateLimitDelay,
		BatchSize:        cfg.BatchSize,
		StrictValidation: cfg.ValidateData,
		Reasons:          []string{},
	}

	if rate := m.ErrorRate(); rate > maxErrorRate {
		rec.RateLimitDelay = cfg.RateLimitDelay * delayBackoffMultiplier
		rec.Reasons = append(rec.Reasons, fmt.Sprintf("error rate %.0f%% above %.0f%%", rate*100, maxErrorRate*100))
	}
	if rate := m.ExtractionRate(now); rate < minExtractionRate {
		rec.BatchSize = recommendedBatchSize
		rec.Reasons = append(rec.Reasons, fmt.Sprintf("extraction rate %.1f matches/min below %.0f", rate, minExtractionRate))
	}
	if q := m.AverageQuality(); q < minQualityScore {
		rec.StrictValidation = true
		rec.Reasons = append(rec.Reasons, fmt.Sprintf("data quality %.0f below %.0f", q, minQualityScore))
	}

	return rec
}
