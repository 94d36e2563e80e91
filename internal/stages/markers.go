package stages

import (
	"math"
	"sort"
)

// Ranking statistics for marker ordering.
const (
	RankCohen         = "cohen"
	RankLFC           = "lfc"
	RankDeltaDetected = "delta_detected"
)

// MarkerParams has no settings.
type MarkerParams struct{}

func (MarkerParams) Equal(MarkerParams) bool { return true }

// GroupStats compares one group of cells against all others, per gene.
type GroupStats struct {
	Means         []float64 `cbor:"means"`
	Detected      []float64 `cbor:"detected"`
	Cohen         []float64 `cbor:"cohen"`
	LFC           []float64 `cbor:"lfc"`
	DeltaDetected []float64 `cbor:"delta_detected"`
}

// MarkerResult holds per-cluster marker statistics.
type MarkerResult struct {
	Clusters []GroupStats `cbor:"clusters"`
}

// RankedMarkers is a group's statistics reordered by a ranking statistic.
type RankedMarkers struct {
	Ordering      []int     `json:"ordering"`
	Means         []float64 `json:"means"`
	Detected      []float64 `json:"detected"`
	Cohen         []float64 `json:"cohen"`
	LFC           []float64 `json:"lfc"`
	DeltaDetected []float64 `json:"delta_detected"`
}

// ComputeMarkers scores every cluster against the rest.
func ComputeMarkers(norm *NormResult, clusters *Clustering, _ MarkerParams, env Env) (*MarkerResult, error) {
	if norm == nil {
		return nil, missing(Normalization)
	}
	if clusters == nil {
		return nil, missing(ChooseClustering)
	}
	if len(clusters.Assignments) != norm.LogCounts.Cols {
		return nil, invalidf("clustering covers %d cells, expression has %d", len(clusters.Assignments), norm.LogCounts.Cols)
	}
	stats, err := scoreGroups(norm.LogCounts, clusters.Assignments, clusters.NumClusters, env)
	if err != nil {
		return nil, err
	}
	return &MarkerResult{Clusters: stats}, nil
}

// Ranked returns cluster's markers ordered by rankType, largest first.
func (r *MarkerResult) Ranked(cluster int, rankType string) (RankedMarkers, error) {
	if cluster < 0 || cluster >= len(r.Clusters) {
		return RankedMarkers{}, invalidf("cluster %d out of range [0, %d)", cluster, len(r.Clusters))
	}
	return rankGroup(r.Clusters[cluster], rankType)
}

// scoreGroups computes per-gene statistics for each group versus the rest.
// groups[i] < 0 excludes cell i.
func scoreGroups(expr Matrix, groups []int, numGroups int, env Env) ([]GroupStats, error) {
	nGenes := expr.Rows
	out := make([]GroupStats, numGroups)
	for k := range out {
		out[k] = GroupStats{
			Means:         make([]float64, nGenes),
			Detected:      make([]float64, nGenes),
			Cohen:         make([]float64, nGenes),
			LFC:           make([]float64, nGenes),
			DeltaDetected: make([]float64, nGenes),
		}
	}
	sizes := make([]float64, numGroups)
	var total float64
	for _, g := range groups {
		if g >= 0 {
			sizes[g]++
			total++
		}
	}

	err := parallelFor(env.threads(), nGenes, func(lo, hi int) error {
		sum := make([]float64, numGroups)
		sq := make([]float64, numGroups)
		det := make([]float64, numGroups)
		for gene := lo; gene < hi; gene++ {
			clear(sum)
			clear(sq)
			clear(det)
			var allSum, allSq, allDet float64
			for i, v := range expr.Row(gene) {
				g := groups[i]
				if g < 0 {
					continue
				}
				sum[g] += v
				sq[g] += v * v
				allSum += v
				allSq += v * v
				if v > 0 {
					det[g]++
					allDet++
				}
			}
			for k := 0; k < numGroups; k++ {
				n1 := sizes[k]
				n2 := total - n1
				if n1 == 0 {
					continue
				}
				m1 := sum[k] / n1
				d1 := det[k] / n1
				v1 := variance(sq[k], sum[k], n1)
				m2, d2, v2 := 0.0, 0.0, 0.0
				if n2 > 0 {
					m2 = (allSum - sum[k]) / n2
					d2 = (allDet - det[k]) / n2
					v2 = variance(allSq-sq[k], allSum-sum[k], n2)
				}
				st := &out[k]
				st.Means[gene] = m1
				st.Detected[gene] = d1
				st.LFC[gene] = m1 - m2
				st.DeltaDetected[gene] = d1 - d2
				if n2 > 0 {
					if pooled := math.Sqrt((v1 + v2) / 2); pooled > 0 {
						st.Cohen[gene] = (m1 - m2) / pooled
					}
				}
			}
		}
		return nil
	})
	return out, err
}

func variance(sq, sum, n float64) float64 {
	if n < 2 {
		return 0
	}
	v := (sq - sum*sum/n) / (n - 1)
	return math.Max(v, 0)
}

func rankGroup(st GroupStats, rankType string) (RankedMarkers, error) {
	var key []float64
	switch rankType {
	case RankCohen, "":
		key = st.Cohen
	case RankLFC:
		key = st.LFC
	case RankDeltaDetected:
		key = st.DeltaDetected
	default:
		return RankedMarkers{}, invalidf("unknown rank type %q", rankType)
	}
	order := make([]int, len(key))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return key[order[a]] > key[order[b]] })

	pick := func(src []float64) []float64 {
		out := make([]float64, len(order))
		for i, g := range order {
			out[i] = src[g]
		}
		return out
	}
	return RankedMarkers{
		Ordering:      order,
		Means:         pick(st.Means),
		Detected:      pick(st.Detected),
		Cohen:         pick(st.Cohen),
		LFC:           pick(st.LFC),
		DeltaDetected: pick(st.DeltaDetected),
	}, nil
}
