package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/zombar/matchscheduler/models"
	"github.com/zombar/matchscheduler/pkg/metrics"
	"github.com/zombar/matchscheduler/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultPollSpec is how often due schedules are dispatched
const DefaultPollSpec = "@every 30s"

// ErrScheduleNotFound is returned for unknown schedule ids
var ErrScheduleNotFound = errors.New("schedule not found")

// ScheduleStore persists schedules
type ScheduleStore interface {
	CreateSchedule(s *models.Schedule) error
	UpdateSchedule(s *models.Schedule) error
	ListSchedules() ([]*models.Schedule, error)
}

// Starter launches an extraction for a due schedule
type Starter interface {
	Start(ctx context.Context, cfg models.ExtractionConfig) (string, error)
}

// Config contains scheduler configuration
type Config struct {
	// PollSpec is a robfig/cron spec, DefaultPollSpec when empty
	PollSpec string
	// Store is optional; without it schedules live in memory only
	Store   ScheduleStore
	Metrics *metrics.ExtractionMetrics
	// Now overrides the clock in tests
	Now func() time.Time
}

// Dispatch is the outcome of starting one due schedule
type Dispatch struct {
	ScheduleID  string
	OperationID string
	Err         error
}

// Scheduler keeps one-time and recurring extraction requests and starts them
// when due
type Scheduler struct {
	starter Starter
	store   ScheduleStore
	metrics *metrics.ExtractionMetrics
	now     func() time.Time

	cron     *cron.Cron
	pollSpec string

	mu        sync.RWMutex
	schedules map[string]*models.Schedule
}

// New creates a new Scheduler instance
func New(starter Starter, config Config) *Scheduler {
	if config.PollSpec == "" {
		config.PollSpec = DefaultPollSpec
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Scheduler{
		starter:   starter,
		store:     config.Store,
		metrics:   config.Metrics,
		now:       config.Now,
		cron:      cron.New(),
		pollSpec:  config.PollSpec,
		schedules: make(map[string]*models.Schedule),
	}
}

// Start loads persisted schedules and starts the poll job
func (s *Scheduler) Start() error {
	if s.store != nil {
		stored, err := s.store.ListSchedules()
		if err != nil {
			return fmt.Errorf("failed to load schedules: %w", err)
		}
		s.mu.Lock()
		for _, sched := range stored {
			s.schedules[sched.ID] = sched
		}
		s.mu.Unlock()
		slog.Default().Info("loaded schedules", "count", len(stored))
	}

	_, err := s.cron.AddFunc(s.pollSpec, func() {
		s.DispatchDue(context.Background())
	})
	if err != nil {
		return fmt.Errorf("failed to add poll job: %w", err)
	}

	s.cron.Start()
	slog.Default().Info("scheduler started", "poll", s.pollSpec)

	return nil
}

// Stop stops the poll job and waits for a running dispatch to return
func (s *Scheduler) Stop() error {
	ctx := s.cron.Stop()
	<-ctx.Done()

	slog.Default().Info("scheduler stopped")
	return nil
}

// ScheduleExtraction registers a one-time extraction due at due
func (s *Scheduler) ScheduleExtraction(cfg models.ExtractionConfig, due time.Time) string {
	now := s.now()
	sched := &models.Schedule{
		ID:        uuid.NewString(),
		Kind:      models.ScheduleKindOneTime,
		Config:    cfg.Clone(),
		NextRunAt: due,
		Status:    models.ScheduleStatusScheduled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.add(sched)

	slog.Default().Info("scheduled extraction", "schedule_id", sched.ID, "player", cfg.PlayerName, "due", due.Format(time.RFC3339))
	return sched.ID
}

// CreateRecurringSchedule registers an extraction repeating every
// intervalHours, first due one interval from now
func (s *Scheduler) CreateRecurringSchedule(cfg models.ExtractionConfig, intervalHours float64) string {
	now := s.now()
	sched := &models.Schedule{
		ID:            uuid.NewString(),
		Kind:          models.ScheduleKindRecurring,
		Config:        cfg.Clone(),
		IntervalHours: intervalHours,
		Status:        models.ScheduleStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	sched.NextRunAt = now.Add(sched.Interval())
	s.add(sched)

	slog.Default().Info("created recurring schedule", "schedule_id", sched.ID, "player", cfg.PlayerName,
		"interval_hours", intervalHours, "next_run", sched.NextRunAt.Format(time.RFC3339))
	return sched.ID
}

func (s *Scheduler) add(sched *models.Schedule) {
	s.mu.Lock()
	s.schedules[sched.ID] = sched
	snapshot := copySchedule(sched)
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.CreateSchedule(&snapshot); err != nil {
			slog.Default().Error("failed to persist schedule", "schedule_id", sched.ID, "error", err)
		}
	}
}

// GetPendingOperations returns due schedules without changing any of them
func (s *Scheduler) GetPendingOperations() []models.Schedule {
	now := s.now()

	s.mu.RLock()
	var due []models.Schedule
	for _, sched := range s.schedules {
		if sched.IsDue(now) {
			due = append(due, copySchedule(sched))
		}
	}
	s.mu.RUnlock()

	sortByNextRun(due)
	return due
}

// List returns every schedule ordered by next run
func (s *Scheduler) List() []models.Schedule {
	s.mu.RLock()
	out := make([]models.Schedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		out = append(out, copySchedule(sched))
	}
	s.mu.RUnlock()

	sortByNextRun(out)
	return out
}

// Get returns schedule id
func (s *Scheduler) Get(id string) (models.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sched, ok := s.schedules[id]
	if !ok {
		return models.Schedule{}, ErrScheduleNotFound
	}
	return copySchedule(sched), nil
}

// MarkFired records that schedule id was dispatched at firedAt. A one-time
// schedule is consumed; a recurring one moves its next run one interval past
// firedAt.
func (s *Scheduler) MarkFired(id string, firedAt time.Time) error {
	s.mu.Lock()
	sched, ok := s.schedules[id]
	if !ok {
		s.mu.Unlock()
		return ErrScheduleNotFound
	}

	switch sched.Kind {
	case models.ScheduleKindOneTime:
		sched.Status = models.ScheduleStatusConsumed
	case models.ScheduleKindRecurring:
		sched.NextRunAt = cron.Every(sched.Interval()).Next(firedAt)
	}
	fired := firedAt
	sched.LastRunAt = &fired
	sched.UpdatedAt = s.now()
	snapshot := copySchedule(sched)
	s.mu.Unlock()

	return s.persist(&snapshot)
}

// Deactivate stops schedule id from firing again
func (s *Scheduler) Deactivate(id string) error {
	s.mu.Lock()
	sched, ok := s.schedules[id]
	if !ok {
		s.mu.Unlock()
		return ErrScheduleNotFound
	}

	if sched.Kind == models.ScheduleKindRecurring {
		sched.Status = models.ScheduleStatusInactive
	} else {
		sched.Status = models.ScheduleStatusConsumed
	}
	sched.UpdatedAt = s.now()
	snapshot := copySchedule(sched)
	s.mu.Unlock()

	slog.Default().Info("deactivated schedule", "schedule_id", id)
	return s.persist(&snapshot)
}

func (s *Scheduler) persist(sched *models.Schedule) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.UpdateSchedule(sched); err != nil {
		return fmt.Errorf("failed to persist schedule %s: %w", sched.ID, err)
	}
	return nil
}

// DispatchDue starts every pending schedule and marks each one fired whether
// or not its extraction could be started
func (s *Scheduler) DispatchDue(ctx context.Context) []Dispatch {
	pending := s.GetPendingOperations()
	if len(pending) == 0 {
		return nil
	}

	ctx, span := tracing.StartSpan(ctx, "scheduler.dispatch",
		attribute.Int("schedules.due", len(pending)))
	defer span.End()

	out := make([]Dispatch, 0, len(pending))
	for _, sched := range pending {
		d := Dispatch{ScheduleID: sched.ID}
		d.OperationID, d.Err = s.starter.Start(ctx, sched.Config)

		result := "started"
		if d.Err != nil {
			result = "failed"
			tracing.RecordError(ctx, d.Err)
			slog.Default().Error("scheduled extraction failed to start", "schedule_id", sched.ID,
				"player", sched.Config.PlayerName, "error", d.Err)
		} else {
			slog.Default().Info("scheduled extraction started", "schedule_id", sched.ID,
				"operation_id", d.OperationID, "player", sched.Config.PlayerName)
		}
		if s.metrics != nil {
			s.metrics.SchedulesFired.WithLabelValues(string(sched.Kind), result).Inc()
		}

		if err := s.MarkFired(sched.ID, s.now()); err != nil {
			slog.Default().Error("failed to mark schedule fired", "schedule_id", sched.ID, "error", err)
		}
		out = append(out, d)
	}

	tracing.AddEvent(ctx, "schedules_dispatched", attribute.Int("schedules.count", len(out)))
	return out
}

func copySchedule(s *models.Schedule) models.Schedule {
	out := *s
	out.Config = s.Config.Clone()
	if s.LastRunAt != nil {
		t := *s.LastRunAt
		out.LastRunAt = &t
	}
	return out
}

func sortByNextRun(schedules []models.Schedule) {
	sort.Slice(schedules, func(i, j int) bool {
		if !schedules[i].NextRunAt.Equal(schedules[j].NextRunAt) {
			return schedules[i].NextRunAt.Before(schedules[j].NextRunAt)
		}
		return schedules[i].ID < schedules[j].ID
	})
}
