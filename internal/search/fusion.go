// Package search implements the hybrid retrieval core: dense and
// lexical legs run in parallel and their results are fused by weighted
// sum or reciprocal rank fusion.
package search

import (
	"sort"

	"github.com/coderag/coderag/internal/store"
)

// Fusion strategy names.
const (
	StrategyWeighted = "weighted"
	StrategyRRF      = "rrf"
)

// Default fusion parameters.
const (
	DefaultVectorWeight = 0.7
	DefaultBM25Weight   = 0.3
	DefaultRRFConstant  = 60
)

// FusedResult is one fused hit with the per-leg evidence preserved for
// caller inspection. Ranks are 1-indexed; 0 means the document did not
// appear in that leg.
type FusedResult struct {
	ID            string         `json:"id"`
	Content       string         `json:"content"`
	VectorScore   float64        `json:"vector_score"`
	BM25Score     float64        `json:"bm25_score"`
	VectorRank    int            `json:"vector_rank,omitempty"`
	BM25Rank      int            `json:"bm25_rank,omitempty"`
	CombinedScore float64        `json:"combined_score"`
	Sources       []string       `json:"sources"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	FilePath      string         `json:"file_path,omitempty"`
}

// fusionAcc accumulates per-document evidence across the two legs.
type fusionAcc struct {
	result *FusedResult
}

type fusionState map[string]*fusionAcc

func (fs fusionState) getOrCreate(r *store.RetrievalResult) *FusedResult {
	if acc, ok := fs[r.ID]; ok {
		// Fill content and metadata from whichever leg has them.
		if acc.result.Content == "" {
			acc.result.Content = r.Content
		}
		if acc.result.Metadata == nil {
			acc.result.Metadata = r.Metadata
		}
		if acc.result.FilePath == "" {
			acc.result.FilePath = r.FilePath
		}
		return acc.result
	}
	fr := &FusedResult{
		ID:       r.ID,
		Content:  r.Content,
		Metadata: r.Metadata,
		FilePath: r.FilePath,
	}
	fs[r.ID] = &fusionAcc{result: fr}
	return fr
}

func (fs fusionState) toSlice() []*FusedResult {
	out := make([]*FusedResult, 0, len(fs))
	for _, acc := range fs {
		out = append(out, acc.result)
	}
	return out
}

// WeightedFusion combines the legs by weighted score sum. Vector
// scores are cosine similarities clipped to [0,1]; BM25 scores are
// min-max normalized across this call's BM25 result set. A document
// missing from a leg contributes 0 from it. Ties break on higher
// vector score, then id.
func WeightedFusion(vector, bm25 []*store.RetrievalResult, wVector, wBM25 float64, k int) []*FusedResult {
	state := make(fusionState)

	for i, r := range vector {
		fr := state.getOrCreate(r)
		fr.VectorScore = clip01(r.Score)
		fr.VectorRank = i + 1
		fr.Sources = append(fr.Sources, store.SourceVector)
	}

	normalized := minMaxNormalize(bm25)
	for i, r := range bm25 {
		fr := state.getOrCreate(r)
		fr.BM25Score = normalized[i]
		fr.BM25Rank = i + 1
		fr.Sources = append(fr.Sources, store.SourceBM25)
	}

	results := state.toSlice()
	for _, fr := range results {
		fr.CombinedScore = wVector*fr.VectorScore + wBM25*fr.BM25Score
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].CombinedScore != results[j].CombinedScore {
			return results[i].CombinedScore > results[j].CombinedScore
		}
		if results[i].VectorScore != results[j].VectorScore {
			return results[i].VectorScore > results[j].VectorScore
		}
		return results[i].ID < results[j].ID
	})

	return truncate(results, k)
}

// RRFFusion combines the legs by reciprocal rank: each list
// contributes 1/(kRRF + rank) for the documents it contains, and
// nothing for documents absent from it. Ties break on id.
func RRFFusion(vector, bm25 []*store.RetrievalResult, kRRF int, k int) []*FusedResult {
	if kRRF <= 0 {
		kRRF = DefaultRRFConstant
	}
	state := make(fusionState)

	for i, r := range vector {
		fr := state.getOrCreate(r)
		fr.VectorScore = clip01(r.Score)
		fr.VectorRank = i + 1
		fr.CombinedScore += 1.0 / float64(kRRF+i+1)
		fr.Sources = append(fr.Sources, store.SourceVector)
	}
	for i, r := range bm25 {
		fr := state.getOrCreate(r)
		fr.BM25Score = r.Score
		fr.BM25Rank = i + 1
		fr.CombinedScore += 1.0 / float64(kRRF+i+1)
		fr.Sources = append(fr.Sources, store.SourceBM25)
	}

	results := state.toSlice()
	sort.Slice(results, func(i, j int) bool {
		if results[i].CombinedScore != results[j].CombinedScore {
			return results[i].CombinedScore > results[j].CombinedScore
		}
		return results[i].ID < results[j].ID
	})

	return truncate(results, k)
}

// minMaxNormalize maps the scores of one result list onto [0,1]. When
// all scores are equal the whole list maps to 0.
func minMaxNormalize(results []*store.RetrievalResult) []float64 {
	out := make([]float64, len(results))
	if len(results) == 0 {
		return out
	}

	min, max := results[0].Score, results[0].Score
	for _, r := range results[1:] {
		if r.Score < min {
			min = r.Score
		}
		if r.Score > max {
			max = r.Score
		}
	}
	if max == min {
		return out
	}
	for i, r := range results {
		out[i] = (r.Score - min) / (max - min)
	}
	return out
}

func clip01(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

func truncate(results []*FusedResult, k int) []*FusedResult {
	if k > 0 && len(results) > k {
		return results[:k]
	}
	return results
}
