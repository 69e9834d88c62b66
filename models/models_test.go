package models

import (
	"testing"
	"time"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusNotStarted, StatusRunning, true},
		{StatusNotStarted, StatusPaused, false},
		{StatusRunning, StatusPaused, true},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusCancelled, true},
		{StatusPaused, StatusRunning, true},
		{StatusPaused, StatusCompleted, true},
		{StatusPaused, StatusCancelled, true},
		{StatusPaused, StatusPaused, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusFailed, StatusRunning, false},
		{StatusCancelled, StatusCompleted, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s: expected %v, got %v", tt.from, tt.to, tt.want, got)
		}
	}
}

func TestSetCapabilities(t *testing.T) {
	tests := []struct {
		status                Status
		pause, resume, cancel bool
	}{
		{StatusRunning, true, false, true},
		{StatusPaused, false, true, true},
		{StatusCompleted, false, false, false},
		{StatusFailed, false, false, false},
		{StatusCancelled, false, false, false},
	}

	for _, tt := range tests {
		p := ExtractionProgress{Status: tt.status}
		p.SetCapabilities()
		if p.CanPause != tt.pause || p.CanResume != tt.resume || p.CanCancel != tt.cancel {
			t.Errorf("%s: unexpected capabilities pause=%v resume=%v cancel=%v", tt.status, p.CanPause, p.CanResume, p.CanCancel)
		}
	}
}

func TestProgressClone(t *testing.T) {
	end := time.Now()
	total := 40
	p := ExtractionProgress{Logs: []string{"a"}, EndTime: &end, TotalAvailable: &total}

	c := p.Clone()
	c.Logs[0] = "b"
	*c.EndTime = end.Add(time.Hour)
	*c.TotalAvailable = 1

	if p.Logs[0] != "a" || !p.EndTime.Equal(end) || *p.TotalAvailable != 40 {
		t.Error("Expected clone to share nothing with the original")
	}
}

func TestConfigDelay(t *testing.T) {
	cfg := ExtractionConfig{RateLimitDelay: 1.5}
	if cfg.Delay() != 1500*time.Millisecond {
		t.Errorf("Expected 1.5s, got %v", cfg.Delay())
	}
}

func TestScheduleIsDue(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		s    Schedule
		want bool
	}{
		{"one-time due", Schedule{Kind: ScheduleKindOneTime, Status: ScheduleStatusScheduled, NextRunAt: now}, true},
		{"one-time future", Schedule{Kind: ScheduleKindOneTime, Status: ScheduleStatusScheduled, NextRunAt: now.Add(time.Second)}, false},
		{"one-time consumed", Schedule{Kind: ScheduleKindOneTime, Status: ScheduleStatusConsumed, NextRunAt: now.Add(-time.Hour)}, false},
		{"recurring due", Schedule{Kind: ScheduleKindRecurring, Status: ScheduleStatusActive, NextRunAt: now.Add(-time.Hour)}, true},
		{"recurring inactive", Schedule{Kind: ScheduleKindRecurring, Status: ScheduleStatusInactive, NextRunAt: now.Add(-time.Hour)}, false},
	}

	for _, tt := range tests {
		if got := tt.s.IsDue(now); got != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, got)
		}
	}
}

func TestOperationMetrics(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	m := OperationMetrics{
		APICalls:         0,
		Errors:           2,
		MatchesExtracted: 30,
		StartedAt:        now.Add(-3 * time.Minute),
	}

	if m.ErrorRate() != 2 {
		t.Errorf("Expected error rate 2 with no calls, got %v", m.ErrorRate())
	}
	if m.ExtractionRate(now) != 10 {
		t.Errorf("Expected 10 matches/min, got %v", m.ExtractionRate(now))
	}
	if m.ExtractionRate(m.StartedAt) != 0 {
		t.Error("Expected zero rate without elapsed time")
	}
	if m.AverageQuality() != 100 {
		t.Errorf("Expected default quality 100, got %v", m.AverageQuality())
	}
}
