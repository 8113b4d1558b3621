package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/meridian-lab/fathom/internal/models"
	"github.com/meridian-lab/fathom/internal/resilience"
)

// WebProvider queries the web search sidecar over HTTP. The sidecar
// fronts a commercial search API and returns ranked page snippets.
type WebProvider struct {
	BaseURL string
	Client  *http.Client
}

// Name returns the provider identifier used for rate budgets and metrics.
func (p *WebProvider) Name() string { return "web" }

// Search asks the sidecar for up to limit pages matching the term.
func (p *WebProvider) Search(ctx context.Context, term string, limit int) ([]models.SearchResult, error) {
	if p.BaseURL == "" {
		return nil, fmt.Errorf("web search not configured")
	}
	if limit <= 0 {
		limit = 5
	}

	params := url.Values{
		"q":     {term},
		"limit": {fmt.Sprintf("%d", limit)},
	}
	reqURL := p.BaseURL + "/v1/search?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating web search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient(p.Client).Do(req)
	if err != nil {
		return nil, &resilience.TransientNetworkError{Op: "web search", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, resilience.HTTPStatusError("web", resp.StatusCode, "")
	}

	var body webSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("parsing web search response: %w", err)
	}

	total := len(body.Results)
	results := make([]models.SearchResult, 0, total)
	for i, item := range body.Results {
		r := models.SearchResult{
			Title:          item.Title,
			Content:        item.Snippet,
			URL:            item.URL,
			Source:         "web",
			RelevanceScore: item.Score,
		}
		if r.RelevanceScore <= 0 {
			r.RelevanceScore = positionScore(i, total)
		}
		results = append(results, r)
	}
	return results, nil
}

type webSearchResponse struct {
	Results []webSearchItem `json:"results"`
}

type webSearchItem struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

// positionScore ranks by feed position when the upstream supplies no
// score of its own: first entry 1.0, linear decay to 0.1.
func positionScore(i, total int) float64 {
	if total <= 1 {
		return 1.0
	}
	return 1.0 - float64(i)/float64(total-1)*0.9
}
