package search

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/meridian-lab/fathom/internal/models"
	"github.com/meridian-lab/fathom/internal/resilience"
)

// arxivAPIBase is the arXiv Atom endpoint. Declared as a var so tests
// can substitute an httptest server.
var arxivAPIBase = "https://export.arxiv.org/api/query"

// ArxivProvider queries the arXiv Atom API for academic papers.
type ArxivProvider struct {
	Client *http.Client
}

// Name returns the provider identifier used for rate budgets and metrics.
func (p *ArxivProvider) Name() string { return "arxiv" }

// Search queries arXiv and maps the Atom feed into search results.
// Relevance is position based: the feed is already ranked, so the
// first entry scores 1.0 and the rest decay linearly.
func (p *ArxivProvider) Search(ctx context.Context, term string, limit int) ([]models.SearchResult, error) {
	if strings.TrimSpace(term) == "" {
		return nil, fmt.Errorf("empty arxiv term")
	}
	if limit <= 0 {
		limit = 5
	}

	// arXiv expects '+' separated terms in search_query; percent
	// encoding the '+' changes its meaning, so the URL is built by hand.
	q := "all:" + strings.Join(strings.Fields(term), "+")
	reqURL := fmt.Sprintf("%s?search_query=%s&start=0&max_results=%d&sortBy=relevance&sortOrder=descending",
		arxivAPIBase, q, limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating arxiv request: %w", err)
	}

	resp, err := httpClient(p.Client).Do(req)
	if err != nil {
		return nil, &resilience.TransientNetworkError{Op: "arxiv query", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, resilience.HTTPStatusError("arxiv", resp.StatusCode, "")
	}

	var feed arxivFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("parsing arxiv response: %w", err)
	}

	total := len(feed.Entries)
	results := make([]models.SearchResult, 0, total)
	for i, entry := range feed.Entries {
		id := extractArxivID(entry.ID)
		if id == "" {
			continue
		}

		authors := make([]string, 0, len(entry.Authors))
		for _, a := range entry.Authors {
			authors = append(authors, strings.TrimSpace(a.Name))
		}

		r := models.SearchResult{
			ID:      "arxiv-" + id,
			Title:   collapseWhitespace(entry.Title),
			Content: collapseWhitespace(entry.Summary),
			URL:     "https://arxiv.org/abs/" + id,
			Source:  "arxiv",
			Metadata: map[string]interface{}{
				"arxiv_id":  id,
				"authors":   authors,
				"published": entry.Published,
			},
		}
		if total > 1 {
			r.RelevanceScore = 1.0 - float64(i)/float64(total-1)*0.9
		} else {
			r.RelevanceScore = 1.0
		}
		results = append(results, r)
	}
	return results, nil
}

// arXiv Atom feed structures.
type arxivFeed struct {
	Entries []arxivEntry `xml:"entry"`
}

type arxivEntry struct {
	ID        string        `xml:"id"`
	Title     string        `xml:"title"`
	Summary   string        `xml:"summary"`
	Published string        `xml:"published"`
	Authors   []arxivAuthor `xml:"author"`
}

type arxivAuthor struct {
	Name string `xml:"name"`
}

// extractArxivID pulls the bare paper ID from the entry's <id> URL,
// e.g. "http://arxiv.org/abs/2301.07041v2" becomes "2301.07041".
func extractArxivID(idURL string) string {
	const prefix = "/abs/"
	idx := strings.Index(idURL, prefix)
	if idx < 0 {
		return ""
	}
	id := idURL[idx+len(prefix):]
	if vIdx := strings.LastIndex(id, "v"); vIdx > 0 {
		if _, err := strconv.Atoi(id[vIdx+1:]); err == nil {
			id = id[:vIdx]
		}
	}
	return id
}

// collapseWhitespace joins the field's lines; arXiv titles and
// abstracts arrive with embedded newlines and indentation.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
