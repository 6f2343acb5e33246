package models

// MatchType tags which sub-query produced a search result.
type MatchType string

const (
	MatchVector  MatchType = "vector"
	MatchKeyword MatchType = "keyword"
	MatchHybrid  MatchType = "hybrid"
)

// RankedResult is one fused search hit.
type RankedResult struct {
	Chunk        Chunk     `json:"chunk"`
	Score        float64   `json:"score"`
	VectorScore  float64   `json:"vector_score,omitempty"`
	KeywordScore float64   `json:"keyword_score,omitempty"`
	RerankScore  float64   `json:"rerank_score,omitempty"`
	MatchType    MatchType `json:"match_type"`
}

// SearchFilters restricts a search to a subset of the corpus.
type SearchFilters struct {
	SourceIDs []string `json:"source_ids,omitempty"`
	HasCode   *bool    `json:"has_code,omitempty"`
}

// SearchResponse carries fused results plus a degradation flag. Degraded is
// set when one retrieval leg was unavailable and the response was served
// from the other, so callers can tell it apart from a full hybrid result.
type SearchResponse struct {
	Results  []RankedResult `json:"results"`
	Degraded bool           `json:"degraded,omitempty"`
	Reranked bool           `json:"reranked,omitempty"`
}
