package extraction

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/zombar/matchscheduler/engine"
	"github.com/zombar/matchscheduler/models"
)

type fakePlayers struct {
	players map[string]*models.Player
	err     error
}

func newFakePlayers(names ...string) *fakePlayers {
	f := &fakePlayers{players: make(map[string]*models.Player)}
	for _, n := range names {
		f.players[n] = &models.Player{Name: n}
	}
	return f
}

func (f *fakePlayers) GetPlayerByName(name string) (*models.Player, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.players[name], nil
}

type extractFunc func(ctx context.Context, req engine.Request) (*engine.Result, error)

type fakeExtractor struct {
	mu    sync.Mutex
	calls []engine.Request
	fn    extractFunc
}

func (f *fakeExtractor) ExtractMatches(ctx context.Context, req engine.Request) (*engine.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	fn := f.fn
	f.mu.Unlock()
	return fn(ctx, req)
}

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func stored(n int) extractFunc {
	return func(ctx context.Context, req engine.Request) (*engine.Result, error) {
		return &engine.Result{Players: map[string]engine.PlayerResult{
			req.Players[0]: {NewMatchesStored: n},
		}}, nil
	}
}

// blocking returns an extractor that waits for release or cancellation
func blocking(release <-chan struct{}, n int) extractFunc {
	return func(ctx context.Context, req engine.Request) (*engine.Result, error) {
		select {
		case <-release:
			return stored(n)(ctx, req)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func validConfig() models.ExtractionConfig {
	return models.ExtractionConfig{
		PlayerName:     "Ada",
		QueueTypes:     []string{"ranked_solo"},
		MaxMatches:     50,
		DateRangeDays:  30,
		BatchSize:      20,
		RateLimitDelay: 0.1,
	}
}

func waitDone(t *testing.T, m *Manager, id string) {
	t.Helper()
	done, err := m.Done(id)
	if err != nil {
		t.Fatalf("Failed to get done channel: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Timed out waiting for operation %s", id)
	}
}
