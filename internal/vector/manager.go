package vector

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/leolilley/kiwi-mcp/internal/logging"
	"github.com/leolilley/kiwi-mcp/internal/types"
)

// scopeRank orders scopes for merge tie-breaking: project outranks user,
// which outranks registry.
var scopeRank = map[types.Scope]int{
	types.ScopeProject:  0,
	types.ScopeUser:     1,
	types.ScopeRegistry: 2,
}

// Weights controls the hybrid re-ranker's blend of semantic similarity,
// keyword overlap, and recency. The three fields are expected to sum to 1
// but are renormalized on use if they don't.
type Weights struct {
	Semantic float64
	Keyword  float64
	Recency  float64
}

// DefaultWeights matches the spec's hybrid defaults: 0.7 semantic, 0.2
// keyword, 0.1 recency.
func DefaultWeights() Weights {
	return Weights{Semantic: 0.7, Keyword: 0.2, Recency: 0.1}
}

func (w Weights) normalized() Weights {
	sum := w.Semantic + w.Keyword + w.Recency
	if sum <= 0 {
		return DefaultWeights()
	}
	return Weights{Semantic: w.Semantic / sum, Keyword: w.Keyword / sum, Recency: w.Recency / sum}
}

// Manager fans candidate searches out across every registered tier in
// parallel and merges the results.
type Manager struct {
	tiers []Tier
}

// NewManager builds a Manager over tiers, typically project, user, and
// registry in that preference order (though merge order does not depend
// on slice order).
func NewManager(tiers ...Tier) *Manager {
	return &Manager{tiers: tiers}
}

// Search runs queryVec against every tier concurrently and merges results
// by item_id, keeping the highest score; ties break project > user >
// registry.
func (m *Manager) Search(ctx context.Context, queryVec []float32, limit int) ([]types.SearchResult, error) {
	perTier := make([][]types.SearchResult, len(m.tiers))

	g, gCtx := errgroup.WithContext(ctx)
	for i, tier := range m.tiers {
		i, tier := i, tier
		g.Go(func() error {
			results, err := tier.Search(gCtx, queryVec, limit)
			if err != nil {
				logging.Get(logging.CategoryVector).Warnw("tier search failed", "scope", tier.Scope(), "error", err)
				return nil // one tier's failure must not abort the others
			}
			perTier[i] = results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := mergeByItemID(perTier)
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

func mergeByItemID(perTier [][]types.SearchResult) []types.SearchResult {
	best := make(map[string]types.SearchResult)
	for _, tierResults := range perTier {
		for _, r := range tierResults {
			existing, ok := best[r.ItemID]
			if !ok || r.Score > existing.Score || (r.Score == existing.Score && scopeRank[r.Source] < scopeRank[existing.Source]) {
				best[r.ItemID] = r
			}
		}
	}
	out := make([]types.SearchResult, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	sortResultsDesc(out)
	return out
}

func sortResultsDesc(results []types.SearchResult) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

// Rerank blends each result's semantic score with keyword overlap against
// queryTerms and recency (0.1 for a local-scope hit, 0.05 otherwise, per
// spec §4.15's higher weight for directly-addressable tiers), using w.
// Results are re-sorted by the blended score.
func Rerank(results []types.SearchResult, queryTerms []string, w Weights) []types.SearchResult {
	w = w.normalized()
	out := make([]types.SearchResult, len(results))
	copy(out, results)

	for i := range out {
		kw := keywordOverlap(out[i], queryTerms)
		rec := recencyFor(out[i])
		out[i].Score = w.Semantic*out[i].Score + w.Keyword*kw + w.Recency*rec
	}
	sortResultsDesc(out)
	return out
}

func keywordOverlap(r types.SearchResult, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	haystack := strings.ToLower(r.ContentPreview)
	matches := 0
	for _, term := range terms {
		if strings.Contains(haystack, strings.ToLower(term)) {
			matches++
		}
	}
	return float64(matches) / float64(len(terms))
}

// recencyFor returns a coarse recency score: 0.1 for a local tier (project
// or user), 0.05 otherwise, matching the spec's recency contribution.
func recencyFor(r types.SearchResult) float64 {
	if r.Source == types.ScopeProject || r.Source == types.ScopeUser {
		return 0.1
	}
	return 0.05
}
