package models

import "time"

// Severity classifies recorded extraction errors
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// PlayerProgress tracks one player inside an enhanced operation
type PlayerProgress struct {
	OperationID      string     `json:"operation_id"`
	PlayerName       string     `json:"player_name"`
	Status           Status     `json:"status"`
	CurrentStep      string     `json:"current_step"`
	MatchesExtracted int        `json:"matches_extracted"`
	StartTime        *time.Time `json:"start_time,omitempty"`
	EndTime          *time.Time `json:"end_time,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
}

// ErrorRecord is an error logged against an operation
type ErrorRecord struct {
	ID          string    `json:"id"`
	OperationID string    `json:"operation_id"`
	PlayerName  string    `json:"player_name"`
	Kind        string    `json:"kind"`
	Message     string    `json:"message"`
	Severity    Severity  `json:"severity"`
	Timestamp   time.Time `json:"timestamp"`
}

// OperationMetrics is a snapshot of the running metrics of an enhanced operation
type OperationMetrics struct {
	OperationID      string    `json:"operation_id"`
	APICalls         int       `json:"api_calls"`
	Errors           int       `json:"errors"`
	MatchesExtracted int       `json:"matches_extracted"`
	StartedAt        time.Time `json:"started_at"`
	QualityScores    []float64 `json:"quality_scores"`
}

// ErrorRate returns errors / max(api_calls, 1)
func (m OperationMetrics) ErrorRate() float64 {
	calls := m.APICalls
	if calls < 1 {
		calls = 1
	}
	return float64(m.Errors) / float64(calls)
}

// ExtractionRate returns extracted matches per minute since StartedAt
func (m OperationMetrics) ExtractionRate(now time.Time) float64 {
	minutes := now.Sub(m.StartedAt).Minutes()
	if minutes <= 0 {
		return 0
	}
	return float64(m.MatchesExtracted) / minutes
}

// AverageQuality returns the mean quality score, 100 when nothing was scored
func (m OperationMetrics) AverageQuality() float64 {
	if len(m.QualityScores) == 0 {
		return 100
	}
	var sum float64
	for _, s := range m.QualityScores {
		sum += s
	}
	return sum / float64(len(m.QualityScores))
}
