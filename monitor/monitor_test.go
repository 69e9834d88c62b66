package monitor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zombar/matchscheduler/models"
)

func TestCreateOperation(t *testing.T) {
	m := New(nil)
	m.CreateOperation("op-1", []string{"B", "A", "C"})

	players, err := m.Players("op-1")
	require.NoError(t, err)
	require.Len(t, players, 3)

	// input order is kept
	for i, name := range []string{"B", "A", "C"} {
		assert.Equal(t, name, players[i].PlayerName)
		assert.Equal(t, models.StatusNotStarted, players[i].Status)
		assert.Equal(t, "op-1", players[i].OperationID)
	}

	metrics, ok := m.Metrics("op-1")
	require.True(t, ok)
	assert.Zero(t, metrics.APICalls)
	assert.False(t, metrics.StartedAt.IsZero())

	_, err = m.Players("missing")
	assert.ErrorIs(t, err, ErrOperationNotFound)
	assert.Equal(t, []string{"op-1"}, m.Operations())
}

func TestUpdatePlayerProgressTracksMatches(t *testing.T) {
	m := New(nil)
	m.CreateOperation("op-1", []string{"A", "B"})

	m.UpdatePlayerProgress("op-1", "A", func(p *models.PlayerProgress) { p.MatchesExtracted = 10 })
	m.UpdatePlayerProgress("op-1", "A", func(p *models.PlayerProgress) { p.MatchesExtracted = 12 })
	m.UpdatePlayerProgress("op-1", "B", func(p *models.PlayerProgress) { p.MatchesExtracted = 3 })

	// unknown targets are ignored
	m.UpdatePlayerProgress("op-1", "Z", func(p *models.PlayerProgress) { p.MatchesExtracted = 100 })
	m.UpdatePlayerProgress("missing", "A", func(p *models.PlayerProgress) { p.MatchesExtracted = 100 })

	metrics, _ := m.Metrics("op-1")
	assert.Equal(t, 15, metrics.MatchesExtracted)
}

func TestPlayersReturnsCopies(t *testing.T) {
	m := New(nil)
	m.CreateOperation("op-1", []string{"A"})

	start := time.Now()
	m.UpdatePlayerProgress("op-1", "A", func(p *models.PlayerProgress) {
		p.Status = models.StatusRunning
		p.StartTime = &start
	})

	players, _ := m.Players("op-1")
	*players[0].StartTime = start.Add(time.Hour)
	players[0].Status = models.StatusFailed

	again, _ := m.Players("op-1")
	assert.Equal(t, models.StatusRunning, again[0].Status)
	assert.True(t, again[0].StartTime.Equal(start))
}

func TestRecordError(t *testing.T) {
	m := New(nil)
	m.CreateOperation("op-1", []string{"A"})

	first := m.RecordError("op-1", "A", "extraction_error", "rate limited", models.SeverityHigh)
	second := m.RecordError("op-1", "A", "extraction_exception", "connection reset", models.SeverityCritical)
	assert.NotEqual(t, first, second)

	errs := m.Errors("op-1")
	require.Len(t, errs, 2)
	assert.Equal(t, first, errs[0].ID)
	assert.Equal(t, models.SeverityHigh, errs[0].Severity)
	assert.Equal(t, "connection reset", errs[1].Message)

	metrics, _ := m.Metrics("op-1")
	assert.Equal(t, 2, metrics.Errors)

	assert.Nil(t, m.Errors("missing"))
}

func TestCancellationFlag(t *testing.T) {
	m := New(nil)
	m.CreateOperation("op-1", []string{"A"})

	assert.False(t, m.ShouldCancel("op-1"))
	require.NoError(t, m.RequestCancel("op-1"))
	assert.True(t, m.ShouldCancel("op-1"))

	assert.ErrorIs(t, m.RequestCancel("missing"), ErrOperationNotFound)
	assert.False(t, m.ShouldCancel("missing"))
}

func TestRecordRequestAndQuality(t *testing.T) {
	limiter := NewRateLimiter(100, 10)
	m := New(limiter)
	m.CreateOperation("op-1", []string{"A"})

	m.RecordRequest("op-1", "/api/extract", true)
	m.RecordRequest("op-1", "/api/extract", false)
	m.RecordQualityScore("op-1", 80)
	m.RecordQualityScore("op-1", 100)

	metrics, _ := m.Metrics("op-1")
	assert.Equal(t, 2, metrics.APICalls)
	assert.Equal(t, []float64{80, 100}, metrics.QualityScores)
	assert.Equal(t, 90.0, metrics.AverageQuality())

	requests, failures := limiter.EndpointStats("/api/extract")
	assert.Equal(t, 2, requests)
	assert.Equal(t, 1, failures)

	metrics.QualityScores[0] = 0
	again, _ := m.Metrics("op-1")
	assert.Equal(t, 80.0, again.QualityScores[0])
}

func TestConcurrentUpdates(t *testing.T) {
	m := New(nil)
	m.CreateOperation("op-1", []string{"A"})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordRequest("op-1", "/api/extract", true)
			m.UpdatePlayerProgress("op-1", "A", func(p *models.PlayerProgress) { p.MatchesExtracted++ })
		}()
	}
	wg.Wait()

	metrics, _ := m.Metrics("op-1")
	assert.Equal(t, 50, metrics.APICalls)
	assert.Equal(t, 50, metrics.MatchesExtracted)
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(1, 2)

	assert.True(t, limiter.CanMakeRequest())
	assert.Zero(t, limiter.WaitTime())

	limiter.RecordRequest("/api/extract", true)
	limiter.RecordRequest("/api/extract", true)

	assert.False(t, limiter.CanMakeRequest())
	wait := limiter.WaitTime()
	assert.Greater(t, wait, time.Duration(0))
	assert.LessOrEqual(t, wait, time.Second)

	// asking for the wait time does not consume a token
	assert.InDelta(t, wait.Seconds(), limiter.WaitTime().Seconds(), 0.05)
}

func TestRateLimiterChargesConcurrentRequests(t *testing.T) {
	limiter := NewRateLimiter(1, 1)

	// two callers both see the single token before either is charged
	assert.True(t, limiter.CanMakeRequest())
	assert.True(t, limiter.CanMakeRequest())

	limiter.RecordRequest("/api/extract", true)
	limiter.RecordRequest("/api/extract", true)

	assert.False(t, limiter.CanMakeRequest())
	assert.Greater(t, limiter.WaitTime(), 1500*time.Millisecond)

	requests, _ := limiter.EndpointStats("/api/extract")
	assert.Equal(t, 2, requests)
}

func TestRemoveOperation(t *testing.T) {
	m := New(nil)
	m.CreateOperation("op-1", []string{"A"})
	m.CreateOperation("op-2", []string{"B"})

	m.RemoveOperation("op-1")
	m.RemoveOperation("missing")

	assert.Equal(t, []string{"op-2"}, m.Operations())
	_, err := m.Players("op-1")
	assert.ErrorIs(t, err, ErrOperationNotFound)
	_, ok := m.Metrics("op-1")
	assert.False(t, ok)
}

func TestRateLimiterDefaults(t *testing.T) {
	limiter := NewRateLimiter(0, 0)
	assert.Equal(t, 20, limiter.limiter.Burst())
}
