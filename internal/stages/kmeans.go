package stages

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

const kmeansMaxIterations = 100

// KMeansParams sets the number of clusters.
type KMeansParams struct {
	K int `cbor:"k" json:"k" yaml:"k"`
}

func (p KMeansParams) Equal(o KMeansParams) bool { return p == o }

// ComputeKMeans clusters PC scores with k-means++ seeding and Lloyd updates.
func ComputeKMeans(pca *PCAResult, p KMeansParams, env Env) (*Clustering, error) {
	if pca == nil {
		return nil, missing(PCA)
	}
	pts := pca.Components
	n, d := pts.Rows, pts.Cols
	if p.K < 1 || p.K > n {
		return nil, invalidf("k must be between 1 and %d, got %d", n, p.K)
	}

	rng := rand.New(rand.NewPCG(0x6b6d, uint64(p.K)))
	centers := seedCenters(pts, p.K, rng)
	assign := make([]int, n)
	for i := range assign {
		assign[i] = -1
	}

	for iter := 0; iter < kmeansMaxIterations; iter++ {
		var moved int
		changes := make([]int, n)
		_ = parallelFor(env.threads(), n, func(lo, hi int) error {
			for i := lo; i < hi; i++ {
				best, bestD := 0, math.Inf(1)
				for c := 0; c < p.K; c++ {
					if dd := sqDist(pts.Row(i), centers.Row(c)); dd < bestD {
						best, bestD = c, dd
					}
				}
				if assign[i] != best {
					assign[i] = best
					changes[i] = 1
				}
			}
			return nil
		})
		for _, c := range changes {
			moved += c
		}
		if moved == 0 {
			break
		}

		counts := make([]float64, p.K)
		next := NewMatrix(p.K, d)
		for i := 0; i < n; i++ {
			floats.Add(next.Row(assign[i]), pts.Row(i))
			counts[assign[i]]++
		}
		for c := 0; c < p.K; c++ {
			if counts[c] == 0 {
				copy(next.Row(c), pts.Row(farthestPoint(pts, centers, assign)))
				continue
			}
			floats.Scale(1/counts[c], next.Row(c))
		}
		centers = next
	}
	return canonicalClustering(assign), nil
}

func seedCenters(pts Matrix, k int, rng *rand.Rand) Matrix {
	n := pts.Rows
	centers := NewMatrix(k, pts.Cols)
	copy(centers.Row(0), pts.Row(rng.IntN(n)))
	dist := make([]float64, n)
	for i := range dist {
		dist[i] = sqDist(pts.Row(i), centers.Row(0))
	}
	for c := 1; c < k; c++ {
		total := floats.Sum(dist)
		pick := 0
		if total > 0 {
			target := rng.Float64() * total
			for i, dd := range dist {
				target -= dd
				if target <= 0 {
					pick = i
					break
				}
			}
		} else {
			pick = c % n
		}
		copy(centers.Row(c), pts.Row(pick))
		for i := range dist {
			dist[i] = math.Min(dist[i], sqDist(pts.Row(i), centers.Row(c)))
		}
	}
	return centers
}

func farthestPoint(pts, centers Matrix, assign []int) int {
	best, bestD := 0, -1.0
	for i := 0; i < pts.Rows; i++ {
		if dd := sqDist(pts.Row(i), centers.Row(assign[i])); dd > bestD {
			best, bestD = i, dd
		}
	}
	return best
}

func sqDist(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}
