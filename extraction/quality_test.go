package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zombar/matchscheduler/engine"
)

func TestResultQualityChecker(t *testing.T) {
	cfg := validConfig()
	total := 10

	tests := []struct {
		name string
		res  *engine.Result
		want float64
	}{
		{"nil result", nil, 0},
		{"missing player", &engine.Result{Players: map[string]engine.PlayerResult{}}, 40},
		{"negative count", &engine.Result{Players: map[string]engine.PlayerResult{"Ada": {NewMatchesStored: -1}}}, 0},
		{"above max matches", &engine.Result{Players: map[string]engine.PlayerResult{"Ada": {NewMatchesStored: 51}}}, 50},
		{"above total available", &engine.Result{Players: map[string]engine.PlayerResult{"Ada": {NewMatchesStored: 11, TotalAvailable: &total}}}, 60},
		{"consistent", &engine.Result{Players: map[string]engine.PlayerResult{"Ada": {NewMatchesStored: 10, TotalAvailable: &total}}}, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResultQualityChecker{}.Score("Ada", cfg, tt.res))
		})
	}
}
