package stages

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// FeatureSelectionParams sets the trend smoothing window as a fraction of genes.
type FeatureSelectionParams struct {
	Span float64 `cbor:"span" json:"span" yaml:"span"`
}

func (p FeatureSelectionParams) Equal(o FeatureSelectionParams) bool { return p == o }

// FeatureSelectionResult models per-gene variance against a mean trend.
type FeatureSelectionResult struct {
	Means     []float64 `cbor:"means"`
	Vars      []float64 `cbor:"vars"`
	Fitted    []float64 `cbor:"fitted"`
	Residuals []float64 `cbor:"residuals"`
}

// ComputeFeatureSelection fits a tricube-weighted local mean of variance on
// mean and reports each gene's residual.
func ComputeFeatureSelection(norm *NormResult, p FeatureSelectionParams, env Env) (*FeatureSelectionResult, error) {
	if norm == nil {
		return nil, missing(Normalization)
	}
	if !(p.Span > 0 && p.Span <= 1) {
		return nil, invalidf("span must be in (0, 1], got %v", p.Span)
	}

	n := norm.LogCounts.Rows
	res := &FeatureSelectionResult{
		Means:     make([]float64, n),
		Vars:      make([]float64, n),
		Fitted:    make([]float64, n),
		Residuals: make([]float64, n),
	}
	_ = parallelFor(env.threads(), n, func(lo, hi int) error {
		for g := lo; g < hi; g++ {
			row := norm.LogCounts.Row(g)
			if len(row) > 1 {
				res.Means[g], res.Vars[g] = stat.MeanVariance(row, nil)
			} else if len(row) == 1 {
				res.Means[g] = row[0]
			}
		}
		return nil
	})

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return res.Means[order[a]] < res.Means[order[b]] })

	window := int(math.Ceil(p.Span * float64(n)))
	if window < 1 {
		window = 1
	}
	_ = parallelFor(env.threads(), n, func(lo, hi int) error {
		for pos := lo; pos < hi; pos++ {
			g := order[pos]
			from, to := max(0, pos-window), min(n-1, pos+window)
			radius := 0.0
			for _, q := range []int{from, to} {
				radius = math.Max(radius, math.Abs(res.Means[order[q]]-res.Means[g]))
			}
			var wsum, vsum float64
			for q := from; q <= to; q++ {
				h := order[q]
				w := 1.0
				if radius > 0 {
					u := math.Abs(res.Means[h]-res.Means[g]) / (radius * 1.0000001)
					w = math.Pow(1-u*u*u, 3)
				}
				wsum += w
				vsum += w * res.Vars[h]
			}
			if wsum > 0 {
				res.Fitted[g] = vsum / wsum
			}
			res.Residuals[g] = res.Vars[g] - res.Fitted[g]
		}
		return nil
	})
	return res, nil
}

// TopGenes returns the indices of the n genes with the largest residuals.
func (r *FeatureSelectionResult) TopGenes(n int) []int {
	idx := make([]int, len(r.Residuals))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return r.Residuals[idx[a]] > r.Residuals[idx[b]] })
	if n < len(idx) {
		idx = idx[:n]
	}
	sort.Ints(idx)
	return idx
}
