// Package extraction orchestrates match extraction operations: the base
// Manager runs one player per operation with pause, resume and cancel, the
// EnhancedManager runs a monitored operation over many players in sequence.
package extraction

import (
	"context"
	"time"

	"github.com/zombar/matchscheduler/engine"
	"github.com/zombar/matchscheduler/models"
)

// PlayerStore resolves players selected for extraction
type PlayerStore interface {
	GetPlayerByName(name string) (*models.Player, error)
}

// Extractor performs the remote match retrieval call
type Extractor interface {
	ExtractMatches(ctx context.Context, req engine.Request) (*engine.Result, error)
}

// Monitor records per-player progress, errors, rate limits and metrics of
// enhanced operations
type Monitor interface {
	CreateOperation(id string, players []string)
	UpdatePlayerProgress(id, player string, update func(*models.PlayerProgress))
	RecordError(id, player, kind, message string, severity models.Severity) string
	RequestCancel(id string) error
	ShouldCancel(id string) bool
	CanMakeRequest() bool
	WaitTime() time.Duration
	RecordRequest(id, endpoint string, success bool)
	RecordQualityScore(id string, score float64)
	Metrics(id string) (models.OperationMetrics, bool)
	Players(id string) ([]models.PlayerProgress, error)
	RemoveOperation(id string)
}

// sleepCtx waits for d or until ctx is done
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
