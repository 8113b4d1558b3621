package models

// SearchResult is one item returned by a source provider. Within one
// aggregated result set no two entries share a non-empty URL.
type SearchResult struct {
	ID             string                 `json:"id"`
	Title          string                 `json:"title"`
	Content        string                 `json:"content"`
	URL            string                 `json:"url,omitempty"`
	Source         string                 `json:"source"`
	RelevanceScore float64                `json:"relevanceScore"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// FactClaim is a single extracted claim with its source attribution.
type FactClaim struct {
	Claim           string  `json:"claim"`
	Source          string  `json:"source"`
	RelevanceScore  float64 `json:"relevanceScore"`
	IsContradictory bool    `json:"isContradictory,omitempty"`
}

// SearchPlan is the typed payload of the SearchPlanning stage. Surface
// terms target mainstream/encyclopedic coverage, social terms target
// discussion/forum coverage.
type SearchPlan struct {
	SurfaceTerms []string `json:"surfaceTerms"`
	SocialTerms  []string `json:"socialTerms"`
	Rationale    string   `json:"rationale,omitempty"`
}

// AllTerms returns surface terms followed by social terms.
func (p *SearchPlan) AllTerms() []string {
	terms := make([]string, 0, len(p.SurfaceTerms)+len(p.SocialTerms))
	terms = append(terms, p.SurfaceTerms...)
	terms = append(terms, p.SocialTerms...)
	return terms
}

// AnalysisResult is the typed payload of the Analysis stage. An
// EvidenceSufficient of false triggers the optional DeepResearch stage.
type AnalysisResult struct {
	Summary            string   `json:"summary"`
	Themes             []string `json:"themes"`
	EvidenceSufficient bool     `json:"evidenceSufficient"`
	KnowledgeGaps      []string `json:"knowledgeGaps,omitempty"`
	FollowUpTerms      []string `json:"followUpTerms,omitempty"`
}
