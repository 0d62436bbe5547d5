package collector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olexisomar/ai-visibility/internal/db"
)

const overviewPage = `<html><body>
<div data-attrid="AIOverview">
  <p>Acme is a popular choice for small teams.</p>
  <p>It integrates with most project tools.</p>
</div>
<div data-snippet>Some organic result text.</div>
</body></html>`

const noOverviewPage = `<html><body>
<div data-snippet>First organic result.</div>
<div data-snippet>Second organic result.</div>
</body></html>`

func TestGoogleAIOCollect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "best project tools?", r.URL.Query().Get("q"))
		w.Write([]byte(overviewPage))
	}))
	defer server.Close()

	client := NewGoogleAIOClient(WithAIOBaseURL(server.URL))

	resp, err := client.Collect(context.Background(), "best project tools?")
	require.NoError(t, err)
	assert.Equal(t, "Acme is a popular choice for small teams. It integrates with most project tools.", resp.Answer)
	assert.Greater(t, resp.CostUSD, 0.0)
}

func TestGoogleAIOCollectFallsBackToSnippets(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(noOverviewPage))
	}))
	defer server.Close()

	client := NewGoogleAIOClient(WithAIOBaseURL(server.URL))

	resp, err := client.Collect(context.Background(), "anything")
	require.NoError(t, err)
	assert.Contains(t, resp.Answer, "First organic result.")
	assert.Contains(t, resp.Answer, "Second organic result.")
}

func TestGoogleAIOCollectEmptyPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body></body></html>"))
	}))
	defer server.Close()

	client := NewGoogleAIOClient(WithAIOBaseURL(server.URL))

	_, err := client.Collect(context.Background(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no AI overview")
}

func TestGoogleAIOCollectHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewGoogleAIOClient(WithAIOBaseURL(server.URL))

	_, err := client.Collect(context.Background(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 429")
}

func TestExtractOverviewWhitespaceCollapse(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<div class="ai-overview">  Acme   is
		  widely	used.  </div>`))
	require.NoError(t, err)

	assert.Equal(t, "Acme is widely used.", extractOverview(doc))
}

func TestGoogleAIOName(t *testing.T) {
	assert.Equal(t, db.SourceGoogleAIO, NewGoogleAIOClient().Name())
}
