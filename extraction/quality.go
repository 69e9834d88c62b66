package extraction

import (
	"github.com/zombar/matchscheduler/engine"
	"github.com/zombar/matchscheduler/models"
)

// QualityChecker scores a successful extraction result from 0 to 100
type QualityChecker interface {
	Score(player string, cfg models.ExtractionConfig, res *engine.Result) float64
}

// QualityCheckerFunc adapts a function to QualityChecker
type QualityCheckerFunc func(player string, cfg models.ExtractionConfig, res *engine.Result) float64

// Score calls f
func (f QualityCheckerFunc) Score(player string, cfg models.ExtractionConfig, res *engine.Result) float64 {
	return f(player, cfg, res)
}

// ResultQualityChecker scores the consistency of the engine response
type ResultQualityChecker struct{}

// Score penalises missing per-player data and counts that break the requested bounds
func (ResultQualityChecker) Score(player string, cfg models.ExtractionConfig, res *engine.Result) float64 {
	if res == nil {
		return 0
	}
	pr, ok := res.Players[player]
	switch {
	case !ok:
		return 40
	case pr.NewMatchesStored < 0:
		return 0
	case pr.NewMatchesStored > cfg.MaxMatches:
		return 50
	case pr.TotalAvailable != nil && pr.NewMatchesStored > *pr.TotalAvailable:
		return 60
	}
	return 100
}
