package models

import "time"

// Status represents the lifecycle state of an extraction operation or of a
// single player inside an enhanced operation
type Status string

const (
	StatusNotStarted     Status = "not_started"
	StatusRunning        Status = "running"
	StatusPaused         Status = "paused"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
	StatusPartialFailure Status = "partial_failure" // derived, enhanced operations only
)

// IsTerminal reports whether no further transition is allowed
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusPartialFailure:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a legal transition
func (s Status) CanTransition(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case StatusNotStarted:
		return next == StatusRunning || next == StatusCancelled
	case StatusRunning:
		return next == StatusPaused || next == StatusCompleted || next == StatusFailed || next == StatusCancelled
	case StatusPaused:
		return next == StatusRunning || next == StatusCompleted || next == StatusFailed || next == StatusCancelled
	}
	return false
}

// ExtractionConfig describes a requested extraction. It is copied by value on
// submission and never mutated afterwards.
type ExtractionConfig struct {
	PlayerName     string   `json:"player_name" yaml:"player_name"`
	QueueTypes     []string `json:"queue_types" yaml:"queue_types"`
	MaxMatches     int      `json:"max_matches" yaml:"max_matches"`
	DateRangeDays  int      `json:"date_range_days" yaml:"date_range_days"`
	BatchSize      int      `json:"batch_size" yaml:"batch_size"`
	RateLimitDelay float64  `json:"rate_limit_delay" yaml:"rate_limit_delay"` // seconds between requests
	ValidateData   bool     `json:"validate_data" yaml:"validate_data"`
	AutoRetry      bool     `json:"auto_retry" yaml:"auto_retry"`
	MaxRetries     int      `json:"max_retries" yaml:"max_retries"`
}

// Delay returns the inter-request delay as a duration
func (c ExtractionConfig) Delay() time.Duration {
	return time.Duration(c.RateLimitDelay * float64(time.Second))
}

// Clone returns a copy that shares no slices with c
func (c ExtractionConfig) Clone() ExtractionConfig {
	out := c
	out.QueueTypes = append([]string(nil), c.QueueTypes...)
	return out
}

// ExtractionProgress is the live state of one operation
type ExtractionProgress struct {
	OperationID      string     `json:"operation_id"`
	PlayerName       string     `json:"player_name"`
	Status           Status     `json:"status"`
	Percent          float64    `json:"progress_percent"`
	CurrentStep      string     `json:"current_step"`
	MatchesExtracted int        `json:"matches_extracted"`
	TotalAvailable   *int       `json:"total_matches_available,omitempty"`
	StartTime        time.Time  `json:"start_time"`
	EndTime          *time.Time `json:"end_time,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	Logs             []string   `json:"logs"`
	CanPause         bool       `json:"can_pause"`
	CanResume        bool       `json:"can_resume"`
	CanCancel        bool       `json:"can_cancel"`
}

// Clone returns a deep copy safe to hand to concurrent readers
func (p ExtractionProgress) Clone() ExtractionProgress {
	out := p
	out.Logs = append([]string(nil), p.Logs...)
	if p.TotalAvailable != nil {
		v := *p.TotalAvailable
		out.TotalAvailable = &v
	}
	if p.EndTime != nil {
		v := *p.EndTime
		out.EndTime = &v
	}
	return out
}

// SetCapabilities derives the control flags from the current status
func (p *ExtractionProgress) SetCapabilities() {
	p.CanPause = p.Status == StatusRunning
	p.CanResume = p.Status == StatusPaused
	p.CanCancel = p.Status == StatusRunning || p.Status == StatusPaused
}

// ExtractionHistory is the archived outcome of a finished operation
type ExtractionHistory struct {
	OperationID     string             `json:"operation_id"`
	PlayerName      string             `json:"player_name"`
	Config          ExtractionConfig   `json:"config"`
	Progress        ExtractionProgress `json:"progress"`
	Timestamp       time.Time          `json:"timestamp"`
	DurationSeconds float64            `json:"duration_seconds"`
	Success         bool               `json:"success"`
}
