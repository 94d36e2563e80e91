package stages

import (
	"sort"

	"gonum.org/v1/gonum/floats"
)

// NeighborIndexParams records whether approximate search was requested.
// Search is always exact.
type NeighborIndexParams struct {
	Approximate bool `cbor:"approximate" json:"approximate" yaml:"approximate"`
}

func (p NeighborIndexParams) Equal(o NeighborIndexParams) bool { return p == o }

// NeighborIndexResult indexes cells by their PC coordinates.
type NeighborIndexResult struct {
	Points      Matrix `cbor:"points"`
	Approximate bool   `cbor:"approximate"`
}

// Neighbors lists, per cell, its nearest other cells by increasing distance.
type Neighbors struct {
	Index    [][]int
	Distance [][]float64
}

// BuildNeighborIndex indexes the PCA scores.
func BuildNeighborIndex(pca *PCAResult, p NeighborIndexParams) (*NeighborIndexResult, error) {
	if pca == nil {
		return nil, missing(PCA)
	}
	if pca.Components.Rows < 2 {
		return nil, ErrNoCells
	}
	return &NeighborIndexResult{Points: pca.Components, Approximate: p.Approximate}, nil
}

// NumCells returns the number of indexed cells.
func (ix *NeighborIndexResult) NumCells() int { return ix.Points.Rows }

// Search finds the k nearest neighbors of every cell, capped at n-1.
func (ix *NeighborIndexResult) Search(k int, env Env) (Neighbors, error) {
	n := ix.Points.Rows
	if k < 1 {
		return Neighbors{}, invalidf("number of neighbors must be at least 1, got %d", k)
	}
	k = min(k, n-1)
	nb := Neighbors{Index: make([][]int, n), Distance: make([][]float64, n)}
	err := parallelFor(env.threads(), n, func(lo, hi int) error {
		type cand struct {
			j int
			d float64
		}
		cands := make([]cand, 0, n-1)
		for i := lo; i < hi; i++ {
			cands = cands[:0]
			pi := ix.Points.Row(i)
			for j := 0; j < n; j++ {
				if j == i {
					continue
				}
				cands = append(cands, cand{j, floats.Distance(pi, ix.Points.Row(j), 2)})
			}
			sort.Slice(cands, func(a, b int) bool {
				if cands[a].d == cands[b].d {
					return cands[a].j < cands[b].j
				}
				return cands[a].d < cands[b].d
			})
			idx := make([]int, k)
			dist := make([]float64, k)
			for q := 0; q < k; q++ {
				idx[q], dist[q] = cands[q].j, cands[q].d
			}
			nb.Index[i], nb.Distance[i] = idx, dist
		}
		return nil
	})
	return nb, err
}
