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

// SocialProvider queries the discussion search sidecar, which indexes
// forum threads and social posts. Posts carry no canonical relevance
// score, so rank position decides.
type SocialProvider struct {
	BaseURL string
	Client  *http.Client
}

// Name returns the provider identifier used for rate budgets and metrics.
func (p *SocialProvider) Name() string { return "social" }

// Search asks the sidecar for up to limit posts matching the term.
func (p *SocialProvider) Search(ctx context.Context, term string, limit int) ([]models.SearchResult, error) {
	if p.BaseURL == "" {
		return nil, fmt.Errorf("social search not configured")
	}
	if limit <= 0 {
		limit = 5
	}

	params := url.Values{
		"q":     {term},
		"limit": {fmt.Sprintf("%d", limit)},
	}
	reqURL := p.BaseURL + "/api/search?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating social search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient(p.Client).Do(req)
	if err != nil {
		return nil, &resilience.TransientNetworkError{Op: "social search", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, resilience.HTTPStatusError("social", resp.StatusCode, "")
	}

	var body socialSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("parsing social search response: %w", err)
	}

	total := len(body.Posts)
	results := make([]models.SearchResult, 0, total)
	for i, post := range body.Posts {
		results = append(results, models.SearchResult{
			Title:          post.Title,
			Content:        post.Excerpt,
			URL:            post.Permalink,
			Source:         "social",
			RelevanceScore: positionScore(i, total),
			Metadata: map[string]interface{}{
				"community":  post.Community,
				"engagement": post.Engagement,
			},
		})
	}
	return results, nil
}

type socialSearchResponse struct {
	Posts []socialPost `json:"posts"`
}

type socialPost struct {
	Title      string `json:"title"`
	Permalink  string `json:"permalink"`
	Excerpt    string `json:"excerpt"`
	Community  string `json:"community"`
	Engagement int    `json:"engagement"`
}
