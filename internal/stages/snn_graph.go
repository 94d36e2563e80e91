package stages

import (
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/simple"
)

// SNN edge weighting schemes.
const (
	SchemeRank    = "rank"
	SchemeNumber  = "number"
	SchemeJaccard = "jaccard"
)

// SNNParams configures shared-nearest-neighbor graph clustering.
type SNNParams struct {
	K          int     `cbor:"k" json:"k" yaml:"k"`
	Scheme     string  `cbor:"scheme" json:"scheme" yaml:"scheme"`
	Resolution float64 `cbor:"resolution" json:"resolution" yaml:"resolution"`
}

func (p SNNParams) Equal(o SNNParams) bool { return p == o }

// ComputeSNNClusters builds a shared-nearest-neighbor graph and partitions it
// with Louvain modularity optimisation.
func ComputeSNNClusters(ix *NeighborIndexResult, p SNNParams, env Env) (*Clustering, error) {
	if ix == nil {
		return nil, missing(NeighborIndex)
	}
	switch p.Scheme {
	case SchemeRank, SchemeNumber, SchemeJaccard:
	default:
		return nil, invalidf("unknown scheme %q", p.Scheme)
	}
	if !(p.Resolution > 0) {
		return nil, invalidf("resolution must be positive, got %v", p.Resolution)
	}
	nb, err := ix.Search(p.K, env)
	if err != nil {
		return nil, err
	}

	n := ix.NumCells()
	g := simple.NewWeightedUndirectedGraph(0, 0)
	for i := 0; i < n; i++ {
		g.AddNode(simple.Node(i))
	}
	for key, w := range snnWeights(nb, p.Scheme) {
		if w <= 0 {
			continue
		}
		g.SetWeightedEdge(simple.WeightedEdge{F: simple.Node(key[0]), T: simple.Node(key[1]), W: w})
	}

	reduced := community.Modularize(g, p.Resolution, rand.NewPCG(0x736e6e, 1))
	comms := reduced.Communities()
	sort.SliceStable(comms, func(a, b int) bool { return minID(comms[a]) < minID(comms[b]) })

	labels := make([]int, n)
	for c, members := range comms {
		for _, node := range members {
			labels[node.ID()] = c
		}
	}
	return canonicalClustering(labels), nil
}

// snnWeights scores every pair of cells sharing at least one neighbor. Each
// cell counts as its own rank-0 neighbor.
func snnWeights(nb Neighbors, scheme string) map[[2]int]float64 {
	n := len(nb.Index)
	k := 0
	if n > 0 {
		k = len(nb.Index[0])
	}
	type hit struct{ cell, rank int }
	holders := make([][]hit, n)
	for i := 0; i < n; i++ {
		holders[i] = append(holders[i], hit{i, 0})
		for r, j := range nb.Index[i] {
			holders[j] = append(holders[j], hit{i, r + 1})
		}
	}

	shared := map[[2]int]float64{}
	bestRank := map[[2]int]int{}
	for _, hs := range holders {
		for a := 0; a < len(hs); a++ {
			for b := a + 1; b < len(hs); b++ {
				i, j := hs[a].cell, hs[b].cell
				if i > j {
					i, j = j, i
				}
				key := [2]int{i, j}
				shared[key]++
				rank := hs[a].rank + hs[b].rank
				if cur, ok := bestRank[key]; !ok || rank < cur {
					bestRank[key] = rank
				}
			}
		}
	}

	weights := make(map[[2]int]float64, len(shared))
	for key, s := range shared {
		switch scheme {
		case SchemeNumber:
			weights[key] = s
		case SchemeJaccard:
			weights[key] = s / (2*float64(k+1) - s)
		default:
			weights[key] = float64(k) - 0.5*float64(bestRank[key])
		}
	}
	return weights
}

func minID(nodes []graph.Node) int64 {
	m := int64(-1)
	for _, n := range nodes {
		if m < 0 || n.ID() < m {
			m = n.ID()
		}
	}
	return m
}
