package collector

import (
	"context"
)

// ProviderResponse is one answer obtained from an AI surface for a prompt
type ProviderResponse struct {
	Answer  string
	CostUSD float64
}

// Provider fetches an answer for a prompt from one AI surface (GPT, Google
// AI Overviews). Implementations are expected to rate-limit themselves.
type Provider interface {
	Name() string
	Collect(ctx context.Context, prompt string) (*ProviderResponse, error)
}
