package extraction

import (
	"fmt"

	"github.com/zombar/matchscheduler/models"
)

// Limits enforced by Validate
const (
	MinBatchSize      = 1
	MaxBatchSize      = 100
	MinRateLimitDelay = 0.1
)

// ValidationResult is the outcome of validating an ExtractionConfig
type ValidationResult struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

// ValidationError is returned when an operation is refused before it starts
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Message
}

func invalid(format string, args ...any) ValidationResult {
	return ValidationResult{Valid: false, Message: fmt.Sprintf(format, args...)}
}

// validateSettings checks everything except the player selector
func validateSettings(cfg models.ExtractionConfig) ValidationResult {
	if len(cfg.QueueTypes) == 0 {
		return invalid("At least one queue type is required")
	}
	if cfg.MaxMatches < 1 {
		return invalid("Max matches must be at least 1")
	}
	if cfg.DateRangeDays < 1 {
		return invalid("Date range must be at least 1 day")
	}
	if cfg.BatchSize < MinBatchSize || cfg.BatchSize > MaxBatchSize {
		return invalid("Batch size must be between %d and %d", MinBatchSize, MaxBatchSize)
	}
	if cfg.RateLimitDelay < MinRateLimitDelay {
		return invalid("Rate limit delay must be at least %.1f seconds", MinRateLimitDelay)
	}
	return ValidationResult{Valid: true, Message: "Configuration is valid"}
}

// Validate checks cfg in a fixed order and reports the first failure. The
// selected player must exist in players.
func Validate(cfg models.ExtractionConfig, players PlayerStore) ValidationResult {
	if cfg.PlayerName == "" {
		return invalid("Player selection is required")
	}
	if res := validateSettings(cfg); !res.Valid {
		return res
	}

	player, err := players.GetPlayerByName(cfg.PlayerName)
	if err != nil {
		return invalid("Failed to look up player '%s': %v", cfg.PlayerName, err)
	}
	if player == nil {
		return invalid("Player '%s' not found", cfg.PlayerName)
	}

	return ValidationResult{Valid: true, Message: "Configuration is valid"}
}
