package models

import "time"

// ScheduleKind distinguishes one-time from recurring schedules
type ScheduleKind string

const (
	ScheduleKindOneTime   ScheduleKind = "one_time"
	ScheduleKindRecurring ScheduleKind = "recurring"
)

// Schedule statuses
const (
	ScheduleStatusScheduled = "scheduled"
	ScheduleStatusConsumed  = "consumed"
	ScheduleStatusActive    = "active"
	ScheduleStatusInactive  = "inactive"
)

// Schedule represents a pending one-time or recurring extraction request
type Schedule struct {
	ID            string           `json:"id" db:"id"`
	Kind          ScheduleKind     `json:"kind" db:"kind"`
	Config        ExtractionConfig `json:"config" db:"config"`
	NextRunAt     time.Time        `json:"next_run_at" db:"next_run_at"`
	IntervalHours float64          `json:"interval_hours,omitempty" db:"interval_hours"`
	Status        string           `json:"status" db:"status"`
	CreatedAt     time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at" db:"updated_at"`
	LastRunAt     *time.Time       `json:"last_run_at,omitempty" db:"last_run_at"`
}

// Interval returns the recurring interval as a duration
func (s Schedule) Interval() time.Duration {
	return time.Duration(s.IntervalHours * float64(time.Hour))
}

// IsDue reports whether the schedule should fire at now
func (s Schedule) IsDue(now time.Time) bool {
	if now.Before(s.NextRunAt) {
		return false
	}
	switch s.Kind {
	case ScheduleKindOneTime:
		return s.Status == ScheduleStatusScheduled
	case ScheduleKindRecurring:
		return s.Status == ScheduleStatusActive
	}
	return false
}
