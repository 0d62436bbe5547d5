package automation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/olexisomar/ai-visibility/internal/db"
)

func TestEstimateSpend(t *testing.T) {
	model := DefaultCostModel()

	tests := []struct {
		name     string
		counts   map[string]int
		expected float64
	}{
		{"empty", map[string]int{}, 0},
		{"gpt only", map[string]int{db.SourceGPT: 100}, 1.2},
		{"mixed sources", map[string]int{db.SourceGPT: 100, db.SourceGoogleAIO: 50}, 1.4},
		{"unknown source is free", map[string]int{"perplexity": 1000}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, model.EstimateSpend(tt.counts), 0.0001)
		})
	}
}
