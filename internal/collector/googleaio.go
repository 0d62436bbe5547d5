package collector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/olexisomar/ai-visibility/internal/db"
)

const (
	aioDefaultTimeout = 30 * time.Second
	aioCostPerCall    = 0.004
	aioUserAgent      = "Mozilla/5.0 (compatible; ai-visibility/1.0)"
)

// Selectors Google has used for the AI Overview container. Tried in order;
// markup changes here regularly, so the last resort is the result snippets.
var aioSelectors = []string{
	"div[data-attrid='AIOverview']",
	"div.ai-overview",
	"div[aria-label='AI Overview']",
}

// GoogleAIOClient scrapes Google AI Overview answers from the results page
type GoogleAIOClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// AIOOption customises a GoogleAIOClient
type AIOOption func(*GoogleAIOClient)

// WithAIOBaseURL points the client at a different endpoint, used in tests
func WithAIOBaseURL(url string) AIOOption {
	return func(c *GoogleAIOClient) { c.baseURL = url }
}

// NewGoogleAIOClient creates a Google AI Overview provider
func NewGoogleAIOClient(opts ...AIOOption) *GoogleAIOClient {
	c := &GoogleAIOClient{
		baseURL: "https://www.google.com/search",
		httpClient: &http.Client{
			Timeout: aioDefaultTimeout,
		},
		// Scraping budget is deliberately conservative
		limiter: rate.NewLimiter(rate.Limit(0.5), 2),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the source identifier for this provider
func (c *GoogleAIOClient) Name() string {
	return db.SourceGoogleAIO
}

// Collect fetches the results page for the prompt and extracts the AI
// Overview text
func (c *GoogleAIOClient) Collect(ctx context.Context, prompt string) (*ProviderResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("google_aio: rate limit wait cancelled: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?q="+url.QueryEscape(prompt), nil)
	if err != nil {
		return nil, fmt.Errorf("google_aio: failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", aioUserAgent)
	req.Header.Set("Accept-Language", "en")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("google_aio: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("google_aio: unexpected status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("google_aio: failed to parse page: %w", err)
	}

	answer := extractOverview(doc)
	if answer == "" {
		return nil, fmt.Errorf("google_aio: no AI overview present for prompt")
	}

	return &ProviderResponse{
		Answer:  answer,
		CostUSD: aioCostPerCall,
	}, nil
}

// extractOverview pulls the overview text out of a parsed results page
func extractOverview(doc *goquery.Document) string {
	for _, selector := range aioSelectors {
		if text := collapseText(doc.Find(selector).First()); text != "" {
			return text
		}
	}

	// Fall back to organic snippets so a missing overview still yields
	// something to analyse
	var parts []string
	doc.Find("div[data-snippet], span.result-snippet").EachWithBreak(func(i int, s *goquery.Selection) bool {
		if text := collapseText(s); text != "" {
			parts = append(parts, text)
		}
		return len(parts) < 3
	})
	return strings.Join(parts, " ")
}

func collapseText(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}
