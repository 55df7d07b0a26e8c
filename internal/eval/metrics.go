// Package eval implements the batch evaluation pipeline: rank metrics,
// Java filepath normalization, dataset loading and validation, and an
// append-only run log.
package eval

import (
	"fmt"
	"math"

	cerr "github.com/coderag/coderag/internal/errors"
)

// Metric names accepted by Compute and the pipeline.
const (
	MetricPrecision = "precision"
	MetricRecall    = "recall"
	MetricF1        = "f1"
	MetricHit       = "hit"
	MetricMRR       = "mrr"
	MetricNDCG      = "ndcg"
	MetricMAP       = "map"
)

// AllMetrics returns the supported metric names in report order.
func AllMetrics() []string {
	return []string{MetricPrecision, MetricRecall, MetricF1, MetricHit, MetricMRR, MetricNDCG, MetricMAP}
}

// Compute dispatches by metric name.
func Compute(metric string, predictions, groundTruth []string, k int) (float64, error) {
	switch metric {
	case MetricPrecision:
		return PrecisionAtK(predictions, groundTruth, k)
	case MetricRecall:
		return RecallAtK(predictions, groundTruth, k)
	case MetricF1:
		return F1AtK(predictions, groundTruth, k)
	case MetricHit:
		return HitAtK(predictions, groundTruth, k)
	case MetricMRR:
		return MRRAtK(predictions, groundTruth, k)
	case MetricNDCG:
		return NDCGAtK(predictions, groundTruth, k)
	case MetricMAP:
		return MAPAtK(predictions, groundTruth, k)
	default:
		return 0, cerr.New(cerr.ErrCodeInvalidMetricArgs,
			fmt.Sprintf("unknown metric %q", metric), nil)
	}
}

// validateArgs enforces the shared metric contract.
func validateArgs(groundTruth []string, k int) error {
	if k <= 0 {
		return cerr.New(cerr.ErrCodeInvalidMetricArgs, fmt.Sprintf("k must be >= 1, got %d", k), nil)
	}
	if len(groundTruth) == 0 {
		return cerr.New(cerr.ErrCodeInvalidMetricArgs, "ground truth must be non-empty", nil)
	}
	return nil
}

// prepare dedups predictions preserving first occurrence, truncates to
// k, and builds the ground-truth set.
func prepare(predictions, groundTruth []string, k int) (topK []string, truth map[string]struct{}) {
	seen := make(map[string]struct{}, len(predictions))
	topK = make([]string, 0, min(k, len(predictions)))
	for _, p := range predictions {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		topK = append(topK, p)
		if len(topK) == k {
			break
		}
	}
	truth = make(map[string]struct{}, len(groundTruth))
	for _, g := range groundTruth {
		truth[g] = struct{}{}
	}
	return topK, truth
}

func relevantCount(topK []string, truth map[string]struct{}) int {
	n := 0
	for _, p := range topK {
		if _, ok := truth[p]; ok {
			n++
		}
	}
	return n
}

// PrecisionAtK is the fraction of the top k predictions that are
// relevant. Empty predictions score 0.
func PrecisionAtK(predictions, groundTruth []string, k int) (float64, error) {
	if err := validateArgs(groundTruth, k); err != nil {
		return 0, err
	}
	topK, truth := prepare(predictions, groundTruth, k)
	if len(topK) == 0 {
		return 0, nil
	}
	return float64(relevantCount(topK, truth)) / float64(len(topK)), nil
}

// RecallAtK is the fraction of the ground truth found in the top k.
func RecallAtK(predictions, groundTruth []string, k int) (float64, error) {
	if err := validateArgs(groundTruth, k); err != nil {
		return 0, err
	}
	topK, truth := prepare(predictions, groundTruth, k)
	return float64(relevantCount(topK, truth)) / float64(len(truth)), nil
}

// F1AtK is the harmonic mean of precision and recall at k.
func F1AtK(predictions, groundTruth []string, k int) (float64, error) {
	p, err := PrecisionAtK(predictions, groundTruth, k)
	if err != nil {
		return 0, err
	}
	r, err := RecallAtK(predictions, groundTruth, k)
	if err != nil {
		return 0, err
	}
	if p == 0 || r == 0 {
		return 0, nil
	}
	return 2 * p * r / (p + r), nil
}

// HitAtK is 1 when any of the top k predictions is relevant.
func HitAtK(predictions, groundTruth []string, k int) (float64, error) {
	if err := validateArgs(groundTruth, k); err != nil {
		return 0, err
	}
	topK, truth := prepare(predictions, groundTruth, k)
	if relevantCount(topK, truth) > 0 {
		return 1, nil
	}
	return 0, nil
}

// MRRAtK is the reciprocal rank of the first relevant prediction, or 0
// when none of the top k is relevant.
func MRRAtK(predictions, groundTruth []string, k int) (float64, error) {
	if err := validateArgs(groundTruth, k); err != nil {
		return 0, err
	}
	topK, truth := prepare(predictions, groundTruth, k)
	for i, p := range topK {
		if _, ok := truth[p]; ok {
			return 1 / float64(i+1), nil
		}
	}
	return 0, nil
}

// NDCGAtK is DCG over the binary relevance of the top k, normalized by
// the ideal DCG for min(|groundTruth|, k) relevant items.
func NDCGAtK(predictions, groundTruth []string, k int) (float64, error) {
	if err := validateArgs(groundTruth, k); err != nil {
		return 0, err
	}
	topK, truth := prepare(predictions, groundTruth, k)

	dcg := 0.0
	for i, p := range topK {
		if _, ok := truth[p]; ok {
			dcg += 1 / math.Log2(float64(i+2))
		}
	}

	ideal := min(len(truth), k)
	idcg := 0.0
	for i := 1; i <= ideal; i++ {
		idcg += 1 / math.Log2(float64(i+1))
	}
	if idcg == 0 {
		return 0, nil
	}
	return dcg / idcg, nil
}

// MAPAtK sums precision at each relevant position and divides by
// min(|groundTruth|, k).
func MAPAtK(predictions, groundTruth []string, k int) (float64, error) {
	if err := validateArgs(groundTruth, k); err != nil {
		return 0, err
	}
	topK, truth := prepare(predictions, groundTruth, k)

	sum := 0.0
	hits := 0
	for i, p := range topK {
		if _, ok := truth[p]; ok {
			hits++
			sum += float64(hits) / float64(i+1)
		}
	}
	if hits == 0 {
		return 0, nil
	}
	return sum / float64(min(len(truth), k)), nil
}
