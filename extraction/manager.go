package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zombar/matchscheduler/engine"
	"github.com/zombar/matchscheduler/history"
	"github.com/zombar/matchscheduler/models"
	"github.com/zombar/matchscheduler/pkg/metrics"
	"github.com/zombar/matchscheduler/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrOperationNotFound  = errors.New("extraction operation not found")
	ErrNoRunningOperation = errors.New("no running extraction operation")
	ErrNoPausedOperation  = errors.New("no paused extraction operation")
	ErrNoActiveOperation  = errors.New("no active extraction operation")
	ErrAmbiguousOperation = errors.New("more than one extraction operation matches, an operation id is required")
	ErrOperationTerminal  = errors.New("extraction operation already finished")
)

const shutdownMessage = "Extraction interrupted by shutdown"

// ControlResult is returned by pause, resume and cancel. The flags tell the
// caller which controls to enable next.
type ControlResult struct {
	OperationID string        `json:"operation_id,omitempty"`
	Status      models.Status `json:"status,omitempty"`
	Message     string        `json:"message"`
	CanPause    bool          `json:"can_pause"`
	CanResume   bool          `json:"can_resume"`
	CanCancel   bool          `json:"can_cancel"`
}

// pauseGate blocks the worker between work items while paused
type pauseGate struct {
	mu     sync.Mutex
	paused bool
	resume chan struct{}
}

func (g *pauseGate) pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		g.paused = true
		g.resume = make(chan struct{})
	}
}

func (g *pauseGate) unpause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		g.paused = false
		close(g.resume)
	}
}

func (g *pauseGate) wait(ctx context.Context) error {
	g.mu.Lock()
	if !g.paused {
		g.mu.Unlock()
		return nil
	}
	ch := g.resume
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type operation struct {
	mu       sync.Mutex
	progress models.ExtractionProgress
	config   models.ExtractionConfig

	// worker bookkeeping, cleared when the worker exits
	cancel context.CancelFunc
	gate   *pauseGate
	done   chan struct{}
}

func (op *operation) logf(format string, args ...any) {
	line := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	op.progress.Logs = append(op.progress.Logs, line)
}

func (op *operation) setStep(step string) {
	op.mu.Lock()
	defer op.mu.Unlock()
	op.progress.CurrentStep = step
	op.logf("%s", step)
}

func (op *operation) snapshot() models.ExtractionProgress {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.progress.Clone()
}

func (op *operation) control(msg string) ControlResult {
	return ControlResult{
		OperationID: op.progress.OperationID,
		Status:      op.progress.Status,
		Message:     msg,
		CanPause:    op.progress.CanPause,
		CanResume:   op.progress.CanResume,
		CanCancel:   op.progress.CanCancel,
	}
}

// Option configures a Manager
type Option func(*Manager)

// WithMetrics records operation metrics
func WithMetrics(m *metrics.ExtractionMetrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithQualityChecker replaces the default data-quality check
func WithQualityChecker(q QualityChecker) Option {
	return func(mgr *Manager) { mgr.quality = q }
}

// Manager runs single-player extraction operations
type Manager struct {
	players PlayerStore
	engine  Extractor
	history *history.Store
	quality QualityChecker
	metrics *metrics.ExtractionMetrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.RWMutex
	operations map[string]*operation
}

// NewManager creates a manager. hist may be nil, in which case history is
// kept nowhere.
func NewManager(players PlayerStore, extractor Extractor, hist *history.Store, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		players:    players,
		engine:     extractor,
		history:    hist,
		quality:    ResultQualityChecker{},
		ctx:        ctx,
		cancel:     cancel,
		operations: make(map[string]*operation),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Validate checks cfg against the player store
func (m *Manager) Validate(cfg models.ExtractionConfig) ValidationResult {
	return Validate(cfg, m.players)
}

// Start validates cfg and launches one worker for it. A validation failure
// returns *ValidationError and creates no state.
func (m *Manager) Start(ctx context.Context, cfg models.ExtractionConfig) (string, error) {
	if res := m.Validate(cfg); !res.Valid {
		return "", &ValidationError{Message: res.Message}
	}

	player, err := m.players.GetPlayerByName(cfg.PlayerName)
	if err != nil {
		return "", fmt.Errorf("failed to load player: %w", err)
	}
	if player == nil {
		return "", &ValidationError{Message: fmt.Sprintf("Player '%s' not found", cfg.PlayerName)}
	}

	if err := m.ctx.Err(); err != nil {
		return "", fmt.Errorf("manager is shut down: %w", err)
	}

	id := uuid.NewString()
	// the worker outlives ctx but stays in its trace
	opCtx, cancel := context.WithCancel(trace.ContextWithSpanContext(m.ctx, trace.SpanContextFromContext(ctx)))
	op := &operation{
		config: cfg.Clone(),
		progress: models.ExtractionProgress{
			OperationID: id,
			PlayerName:  player.Name,
			Status:      models.StatusRunning,
			CurrentStep: "Initializing extraction",
			StartTime:   time.Now(),
		},
		cancel: cancel,
		gate:   &pauseGate{},
		done:   make(chan struct{}),
	}
	op.progress.SetCapabilities()
	op.logf("Extraction started for %s", player.Name)

	m.mu.Lock()
	m.operations[id] = op
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.OperationsStarted.WithLabelValues("base").Inc()
		m.metrics.ActiveOperations.Inc()
	}

	slog.Default().Info("extraction started", "operation_id", id, "player", player.Name, "max_matches", cfg.MaxMatches)

	m.wg.Add(1)
	go m.run(opCtx, op)

	return id, nil
}

type outcome struct {
	matches int
	total   *int
	message string // retrieval error reported by the engine
	err     error  // transport failure, panic or cancellation
}

func (o outcome) failed() bool { return o.message != "" || o.err != nil }

func (o outcome) errorText() string {
	if o.message != "" {
		return o.message
	}
	if o.err != nil {
		return o.err.Error()
	}
	return ""
}

// run is the worker body of one operation
func (m *Manager) run(ctx context.Context, op *operation) {
	defer m.wg.Done()
	defer close(op.done)

	ctx, span := tracing.StartSpan(ctx, "extraction.operation",
		attribute.String("operation.id", op.progress.OperationID),
		attribute.String("operation.player", op.progress.PlayerName))
	defer span.End()

	res := m.extractSafely(ctx, op)
	if res.failed() {
		tracing.RecordError(ctx, errors.New(res.errorText()))
	}

	entry := m.finish(op, res)

	if m.history != nil {
		if err := m.history.Append(entry); err != nil {
			slog.Default().Error("failed to persist extraction history", "operation_id", entry.OperationID, "error", err)
			op.mu.Lock()
			op.logf("History persistence failed: %v", err)
			op.mu.Unlock()
			if m.metrics != nil {
				m.metrics.HistoryPersistErrs.Inc()
			}
		}
	}

	// cleanup runs whatever the outcome
	op.mu.Lock()
	if op.cancel != nil {
		op.cancel()
	}
	op.cancel = nil
	op.gate = nil
	op.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ActiveOperations.Dec()
	}
}

func (m *Manager) extractSafely(ctx context.Context, op *operation) (res outcome) {
	defer func() {
		if r := recover(); r != nil {
			slog.Default().Error("extraction worker panicked", "operation_id", op.progress.OperationID, "panic", r)
			res = outcome{err: fmt.Errorf("unexpected error: %v", r)}
		}
	}()
	return m.extract(ctx, op)
}

func (m *Manager) extract(ctx context.Context, op *operation) outcome {
	op.mu.Lock()
	cfg := op.config
	player := op.progress.PlayerName
	gate := op.gate
	op.mu.Unlock()

	attempts := 1
	if cfg.AutoRetry && cfg.MaxRetries > 0 {
		attempts += cfg.MaxRetries
	}

	var last outcome
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			op.setStep(fmt.Sprintf("Retrying after error (attempt %d/%d)", attempt, attempts))
			if err := sleepCtx(ctx, cfg.Delay()); err != nil {
				return outcome{err: err}
			}
		}
		if err := gate.wait(ctx); err != nil {
			return outcome{err: err}
		}
		if err := ctx.Err(); err != nil {
			return outcome{err: err}
		}

		op.setStep(fmt.Sprintf("Extracting up to %d matches for %s", cfg.MaxMatches, player))

		result, err := m.engine.ExtractMatches(ctx, engine.Request{
			Players:             []string{player},
			MaxMatchesPerPlayer: cfg.MaxMatches,
			ForceRestart:        false,
		})
		switch {
		case err != nil:
			last = outcome{err: err}
			if ctx.Err() != nil {
				return last
			}
		case result == nil:
			last = outcome{err: errors.New("engine returned an empty response")}
		case result.Error != "":
			last = outcome{message: result.Error}
		case result.Players[player].Error != "":
			last = outcome{message: result.Players[player].Error}
		default:
			pr := result.Players[player]
			if cfg.ValidateData && m.quality != nil {
				score := m.quality.Score(player, cfg, result)
				op.mu.Lock()
				op.logf("Data quality score: %.0f", score)
				op.mu.Unlock()
			}
			return outcome{matches: pr.NewMatchesStored, total: pr.TotalAvailable}
		}

		op.mu.Lock()
		op.logf("Attempt %d failed: %s", attempt, last.errorText())
		op.mu.Unlock()
	}
	return last
}

// finish commits the outcome unless the operation was already cancelled, then
// builds the history entry
func (m *Manager) finish(op *operation, res outcome) models.ExtractionHistory {
	op.mu.Lock()
	defer op.mu.Unlock()

	now := time.Now()
	p := &op.progress

	if !p.Status.IsTerminal() {
		switch {
		case res.err != nil && m.ctx.Err() != nil:
			p.Status = models.StatusCancelled
			p.ErrorMessage = shutdownMessage
			p.CurrentStep = shutdownMessage
			op.logf("%s", shutdownMessage)
		case res.failed():
			p.Status = models.StatusFailed
			p.ErrorMessage = res.errorText()
			p.CurrentStep = "Extraction failed: " + p.ErrorMessage
			op.logf("Extraction failed: %s", p.ErrorMessage)
		default:
			p.Status = models.StatusCompleted
			p.Percent = 100
			p.MatchesExtracted = res.matches
			p.TotalAvailable = res.total
			p.CurrentStep = fmt.Sprintf("Extraction completed: %d new matches stored", res.matches)
			op.logf("%s", p.CurrentStep)
		}
	} else {
		op.logf("Worker finished after operation was %s", p.Status)
	}
	if p.EndTime == nil {
		p.EndTime = &now
	}
	p.SetCapabilities()

	duration := p.EndTime.Sub(p.StartTime)
	success := p.Status == models.StatusCompleted

	if m.metrics != nil {
		m.metrics.OperationsFinished.WithLabelValues(string(p.Status)).Inc()
		m.metrics.OperationDuration.Observe(duration.Seconds())
		if success {
			m.metrics.MatchesExtracted.Add(float64(p.MatchesExtracted))
		}
	}

	slog.Default().Info("extraction finished",
		"operation_id", p.OperationID,
		"player", p.PlayerName,
		"status", string(p.Status),
		"matches", p.MatchesExtracted,
		"duration", duration.String())

	return models.ExtractionHistory{
		OperationID:     p.OperationID,
		PlayerName:      p.PlayerName,
		Config:          op.config.Clone(),
		Progress:        p.Clone(),
		Timestamp:       now,
		DurationSeconds: duration.Seconds(),
		Success:         success,
	}
}

// resolve finds the operation addressed by id. An empty id selects the single
// operation whose status is in want.
func (m *Manager) resolve(id string, none error, want ...models.Status) (*operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := func(op *operation) bool {
		op.mu.Lock()
		defer op.mu.Unlock()
		for _, s := range want {
			if op.progress.Status == s {
				return true
			}
		}
		return false
	}

	if id != "" {
		op, ok := m.operations[id]
		if !ok {
			return nil, ErrOperationNotFound
		}
		return op, nil
	}

	var found *operation
	for _, op := range m.operations {
		if !matches(op) {
			continue
		}
		if found != nil {
			return nil, ErrAmbiguousOperation
		}
		found = op
	}
	if found == nil {
		return nil, none
	}
	return found, nil
}

// Pause pauses the running operation id, or the only running operation when
// id is empty
func (m *Manager) Pause(id string) (ControlResult, error) {
	op, err := m.resolve(id, ErrNoRunningOperation, models.StatusRunning)
	if err != nil {
		return ControlResult{Message: "No running extraction to pause"}, err
	}

	op.mu.Lock()
	defer op.mu.Unlock()

	if op.progress.Status != models.StatusRunning || op.gate == nil {
		return op.control("Extraction is not running"), ErrNoRunningOperation
	}

	op.gate.pause()
	op.progress.Status = models.StatusPaused
	op.progress.SetCapabilities()
	op.logf("Extraction paused")

	slog.Default().Info("extraction paused", "operation_id", op.progress.OperationID)
	return op.control("Extraction paused"), nil
}

// Resume resumes the paused operation id, or the only paused operation when
// id is empty
func (m *Manager) Resume(id string) (ControlResult, error) {
	op, err := m.resolve(id, ErrNoPausedOperation, models.StatusPaused)
	if err != nil {
		return ControlResult{Message: "No paused extraction to resume"}, err
	}

	op.mu.Lock()
	defer op.mu.Unlock()

	if op.progress.Status != models.StatusPaused || op.gate == nil {
		return op.control("Extraction is not paused"), ErrNoPausedOperation
	}

	op.gate.unpause()
	op.progress.Status = models.StatusRunning
	op.progress.SetCapabilities()
	op.logf("Extraction resumed")

	slog.Default().Info("extraction resumed", "operation_id", op.progress.OperationID)
	return op.control("Extraction resumed"), nil
}

// Cancel stops the running or paused operation id, or the only such operation
// when id is empty. The operation context is cancelled, which also aborts an
// in-flight engine call.
func (m *Manager) Cancel(id string) (ControlResult, error) {
	op, err := m.resolve(id, ErrNoActiveOperation, models.StatusRunning, models.StatusPaused)
	if err != nil {
		return ControlResult{Message: "No active extraction to cancel"}, err
	}

	op.mu.Lock()
	defer op.mu.Unlock()

	if !op.progress.Status.CanTransition(models.StatusCancelled) {
		return op.control(fmt.Sprintf("Extraction already %s", op.progress.Status)), ErrOperationTerminal
	}

	if op.cancel != nil {
		op.cancel()
	}
	if op.gate != nil {
		op.gate.unpause()
	}
	now := time.Now()
	op.progress.Status = models.StatusCancelled
	op.progress.EndTime = &now
	op.progress.CurrentStep = "Extraction cancelled"
	op.progress.SetCapabilities()
	op.logf("Extraction cancelled")

	slog.Default().Info("extraction cancelled", "operation_id", op.progress.OperationID)
	return op.control("Extraction cancelled"), nil
}

// Progress returns a snapshot of operation id
func (m *Manager) Progress(id string) (models.ExtractionProgress, error) {
	m.mu.RLock()
	op, ok := m.operations[id]
	m.mu.RUnlock()
	if !ok {
		return models.ExtractionProgress{}, ErrOperationNotFound
	}
	return op.snapshot(), nil
}

// ActiveOperations returns snapshots of every tracked operation ordered by
// start time
func (m *Manager) ActiveOperations() []models.ExtractionProgress {
	m.mu.RLock()
	out := make([]models.ExtractionProgress, 0, len(m.operations))
	for _, op := range m.operations {
		out = append(out, op.snapshot())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].OperationID < out[j].OperationID
	})
	return out
}

// History returns archived operations, oldest first
func (m *Manager) History() []models.ExtractionHistory {
	if m.history == nil {
		return nil
	}
	return m.history.Entries()
}

// CleanupCompletedOperations drops terminal operations from the active set and
// returns how many were removed
func (m *Manager) CleanupCompletedOperations() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, op := range m.operations {
		op.mu.Lock()
		terminal := op.progress.Status.IsTerminal()
		op.mu.Unlock()
		if terminal {
			delete(m.operations, id)
			removed++
		}
	}
	return removed
}

// Done returns a channel closed when the worker of id has exited
func (m *Manager) Done(id string) (<-chan struct{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	op, ok := m.operations[id]
	if !ok {
		return nil, ErrOperationNotFound
	}
	return op.done, nil
}

// Wait blocks until every worker has exited
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown cancels every operation and waits for workers until ctx expires
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
