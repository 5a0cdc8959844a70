// Package matching decides whether a newly posted item matches an existing
// item of the opposite type and applies the consequences of a match.
package matching

import (
	"fmt"

	"github.com/erazemk/najdeno/internal/model"
)

// SimilarityThreshold is the default minimum cosine similarity for a match.
const SimilarityThreshold = 0.75

// Selection policies.
const (
	// PolicyFirstMatch accepts the first qualifying candidate in scan order.
	PolicyFirstMatch = "first"
	// PolicyBestMatch accepts the qualifying candidate with the highest
	// similarity; ties go to the earliest in scan order.
	PolicyBestMatch = "best"
)

// Engine selects at most one matching candidate for an item.
type Engine struct {
	Threshold  float64
	MinOverlap int
	Policy     string
}

// NewEngine returns an engine with the default threshold, minimum overlap
// and first-match policy.
func NewEngine() *Engine {
	return &Engine{
		Threshold:  SimilarityThreshold,
		MinOverlap: DefaultMinOverlap,
		Policy:     PolicyFirstMatch,
	}
}

// ValidPolicy reports whether p names a known selection policy.
func ValidPolicy(p string) bool {
	return p == PolicyFirstMatch || p == PolicyBestMatch
}

// Decide scans candidates in order and returns the match for item, if any.
// A candidate qualifies when its similarity is at least the threshold and the
// descriptions share enough tokens. Candidates of the item's own type, inactive
// candidates and candidates without an embedding are skipped. An item without
// an embedding never matches.
func (e *Engine) Decide(item *model.Item, candidates []model.Candidate) (*model.MatchResult, bool) {
	if !item.HasEmbedding() || len(candidates) == 0 {
		return nil, false
	}

	var best *model.MatchResult
	for i := range candidates {
		c := &candidates[i]
		if c.Type == item.Type || c.Status != model.ItemStatusActive || c.ID == item.ID {
			continue
		}
		if !c.HasEmbedding() {
			continue
		}

		sim := VectorSimilarity(item.Embedding, c.Embedding)
		if sim < e.Threshold {
			continue
		}
		if !TextOverlap(item.Description, c.Description, e.MinOverlap) {
			continue
		}

		if e.Policy != PolicyBestMatch {
			return &model.MatchResult{Candidate: *c, Similarity: sim, Index: i}, true
		}
		if best == nil || sim > best.Similarity {
			best = &model.MatchResult{Candidate: *c, Similarity: sim, Index: i}
		}
	}
	return best, best != nil
}

// String describes the engine configuration for logs.
func (e *Engine) String() string {
	return fmt.Sprintf("threshold=%.2f min_overlap=%d policy=%s", e.Threshold, e.MinOverlap, e.Policy)
}
