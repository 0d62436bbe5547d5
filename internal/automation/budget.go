package automation

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/olexisomar/ai-visibility/internal/db"
)

// CostModel holds per-response cost estimates in USD for each source
type CostModel struct {
	PerResponse map[string]float64
}

// DefaultCostModel returns the current per-response pricing estimates
func DefaultCostModel() CostModel {
	return CostModel{
		PerResponse: map[string]float64{
			db.SourceGPT:       0.012,
			db.SourceGoogleAIO: 0.004,
		},
	}
}

// EstimateSpend computes an estimated spend in USD from per-source response
// counts. Sources without a known price contribute nothing.
func (c CostModel) EstimateSpend(counts map[string]int) float64 {
	var total float64
	for source, count := range counts {
		total += c.PerResponse[source] * float64(count)
	}
	return total
}

// warnIfOverBudget compares this month's estimated spend against the
// account's configured budget. Budgets warn, they never block: a zero budget
// means unbudgeted.
func (m *Manager) warnIfOverBudget(ctx context.Context, accountID string, settings *db.AutomationSettings) {
	if settings.MonthlyBudget <= 0 {
		return
	}

	counts, err := m.store.MonthlySourceCounts(ctx, accountID, time.Now().UTC())
	if err != nil {
		log.Warn().Err(err).Str("account_id", accountID).Msg("Failed to read monthly response counts for budget check")
		return
	}

	spend := m.costs.EstimateSpend(counts)
	if spend > settings.MonthlyBudget {
		log.Warn().
			Str("account_id", accountID).
			Float64("estimated_spend_usd", spend).
			Float64("monthly_budget_usd", settings.MonthlyBudget).
			Msg("Estimated monthly spend exceeds budget")
	}
}
