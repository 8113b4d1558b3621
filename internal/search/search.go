// Package search fans research terms out to the configured providers
// and merges their results into one deduplicated, stably ordered slice.
package search

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meridian-lab/fathom/internal/metrics"
	"github.com/meridian-lab/fathom/internal/models"
	"github.com/meridian-lab/fathom/internal/ratecontrol"
	"github.com/meridian-lab/fathom/internal/resilience"
)

// Provider queries one upstream search source for a single term.
// Implementations return an empty slice, not an error, when the term
// simply has no matches.
type Provider interface {
	Name() string
	Search(ctx context.Context, term string, limit int) ([]models.SearchResult, error)
}

// Config controls one aggregation pass.
type Config struct {
	// PerTermLimit caps how many results each provider returns per term.
	PerTermLimit int
	// InterTermDelay is the pause between consecutive terms.
	InterTermDelay time.Duration
	// FallbackTerms are searched when the caller supplies no usable terms.
	FallbackTerms []string
	// Retry governs each individual provider call.
	Retry resilience.Policy
}

// Output carries the merged results plus bookkeeping for the caller.
type Output struct {
	Results        []models.SearchResult
	TermsSearched  []string
	DupsRemoved    int
	ProviderErrors []string
}

// Aggregator runs search terms against every registered provider.
// Providers run concurrently within a term; terms run sequentially
// with a fixed delay between them. Output ordering is deterministic:
// term order first, then provider registration order within a term.
type Aggregator struct {
	cfg       Config
	providers []Provider
	executor  *resilience.Executor
	budgets   *ratecontrol.Manager
	logger    *zap.Logger
}

// NewAggregator creates an aggregator over the given providers. The
// budget manager may be nil, in which case calls are not rate limited.
func NewAggregator(cfg Config, providers []Provider, executor *resilience.Executor, budgets *ratecontrol.Manager, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		cfg:       cfg,
		providers: providers,
		executor:  executor,
		budgets:   budgets,
		logger:    logger,
	}
}

// Aggregate searches every term against every provider and returns the
// deduplicated union. A failing provider is logged and skipped so one
// bad upstream cannot sink the pass; the pass errors only when every
// single provider call failed.
func (a *Aggregator) Aggregate(ctx context.Context, terms []string) (Output, error) {
	out := Output{TermsSearched: a.effectiveTerms(terms)}
	if len(a.providers) == 0 {
		return out, fmt.Errorf("no search providers configured")
	}
	if len(out.TermsSearched) == 0 {
		a.logger.Warn("No usable search terms and no fallback terms configured")
		return out, nil
	}

	var all []models.SearchResult
	succeeded := 0
	for i, term := range out.TermsSearched {
		if i > 0 && a.cfg.InterTermDelay > 0 {
			select {
			case <-time.After(a.cfg.InterTermDelay):
			case <-ctx.Done():
				return out, ctx.Err()
			}
		}
		results, errs, ok := a.searchTerm(ctx, term)
		succeeded += ok
		out.ProviderErrors = append(out.ProviderErrors, errs...)
		all = append(all, results...)
	}

	if succeeded == 0 {
		failed := make([]string, 0, len(a.providers))
		for _, p := range a.providers {
			failed = append(failed, p.Name())
		}
		return out, &resilience.ProviderUnavailableError{Providers: failed}
	}

	out.Results = Dedup(all)
	out.DupsRemoved = len(all) - len(out.Results)

	a.logger.Info("Search aggregation complete",
		zap.Int("terms", len(out.TermsSearched)),
		zap.Int("results", len(out.Results)),
		zap.Int("duplicates_removed", out.DupsRemoved),
		zap.Int("provider_errors", len(out.ProviderErrors)))
	return out, nil
}

// searchTerm runs all providers concurrently for one term and
// reassembles their results in registration order.
func (a *Aggregator) searchTerm(ctx context.Context, term string) ([]models.SearchResult, []string, int) {
	slots := make([][]models.SearchResult, len(a.providers))
	errs := make([]error, len(a.providers))

	var wg sync.WaitGroup
	for i, p := range a.providers {
		wg.Add(1)
		go func(i int, p Provider) {
			defer wg.Done()
			slots[i], errs[i] = a.callProvider(ctx, p, term)
		}(i, p)
	}
	wg.Wait()

	var merged []models.SearchResult
	var failures []string
	succeeded := 0
	for i, p := range a.providers {
		if errs[i] != nil {
			failures = append(failures, fmt.Sprintf("%s (%q): %v", p.Name(), term, errs[i]))
			metrics.SearchProviderFailures.WithLabelValues(p.Name()).Inc()
			a.logger.Warn("Search provider failed",
				zap.String("provider", p.Name()),
				zap.String("term", term),
				zap.Error(errs[i]))
			continue
		}
		succeeded++
		metrics.SearchResults.WithLabelValues(p.Name()).Add(float64(len(slots[i])))
		merged = append(merged, a.stamp(slots[i], p.Name())...)
	}
	return merged, failures, succeeded
}

// callProvider wraps one provider call in the rate budget and the
// retry executor.
func (a *Aggregator) callProvider(ctx context.Context, p Provider, term string) ([]models.SearchResult, error) {
	return resilience.Execute(ctx, a.executor, "search."+p.Name(), a.cfg.Retry, func(ctx context.Context) ([]models.SearchResult, error) {
		if a.budgets != nil {
			if err := a.budgets.Acquire(ctx, p.Name()); err != nil {
				return nil, err
			}
		}
		return p.Search(ctx, term, a.cfg.PerTermLimit)
	})
}

// stamp fills in the identifier and source on results that arrived
// without one.
func (a *Aggregator) stamp(results []models.SearchResult, provider string) []models.SearchResult {
	for i := range results {
		if results[i].ID == "" {
			results[i].ID = uuid.New().String()
		}
		if results[i].Source == "" {
			results[i].Source = provider
		}
	}
	return results
}

// effectiveTerms trims blank terms and substitutes the configured
// fallback terms when nothing searchable remains.
func (a *Aggregator) effectiveTerms(terms []string) []string {
	clean := make([]string, 0, len(terms))
	for _, t := range terms {
		if trimmed := strings.TrimSpace(t); trimmed != "" {
			clean = append(clean, trimmed)
		}
	}
	if len(clean) == 0 && len(a.cfg.FallbackTerms) > 0 {
		a.logger.Warn("No usable search terms, using fallback terms",
			zap.Int("requested", len(terms)),
			zap.Strings("fallback", a.cfg.FallbackTerms))
		return append([]string(nil), a.cfg.FallbackTerms...)
	}
	return clean
}

// Dedup drops results whose URL was already seen in the slice, keeping
// the first occurrence. Results without a URL always survive. Running
// Dedup on its own output returns it unchanged.
func Dedup(results []models.SearchResult) []models.SearchResult {
	seen := make(map[string]struct{}, len(results))
	out := make([]models.SearchResult, 0, len(results))
	for _, r := range results {
		key := normalizeURL(r.URL)
		if key == "" {
			out = append(out, r)
			continue
		}
		if _, dup := seen[key]; dup {
			metrics.SearchDedupDropped.Inc()
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

// normalizeURL strips surrounding whitespace and a trailing slash so
// trivially different spellings of the same address collapse.
func normalizeURL(u string) string {
	return strings.TrimSuffix(strings.TrimSpace(u), "/")
}

func httpClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return http.DefaultClient
}
