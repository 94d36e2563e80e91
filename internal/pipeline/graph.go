package pipeline

import "kana-backend/internal/stages"

type node struct {
	name string
	deps []string
}

// graph lists every stage in execution order with the stages it reads.
// A stage is forced to recompute when any of its deps changed in the same run.
var graph = []node{
	{stages.Inputs, nil},
	{stages.QualityControl, []string{stages.Inputs}},
	{stages.Normalization, []string{stages.Inputs, stages.QualityControl}},
	{stages.FeatureSelection, []string{stages.Normalization}},
	{stages.PCA, []string{stages.Inputs, stages.QualityControl, stages.Normalization, stages.FeatureSelection}},
	{stages.NeighborIndex, []string{stages.PCA}},
	{stages.TSNE, []string{stages.NeighborIndex}},
	{stages.UMAP, []string{stages.NeighborIndex}},
	{stages.KMeansCluster, []string{stages.PCA}},
	{stages.SNNGraphCluster, []string{stages.NeighborIndex}},
	{stages.ChooseClustering, []string{stages.KMeansCluster, stages.SNNGraphCluster}},
	{stages.MarkerDetection, []string{stages.Normalization, stages.ChooseClustering}},
	{stages.CellLabelling, []string{stages.Inputs, stages.MarkerDetection}},
	{stages.CustomSelections, []string{stages.Normalization}},
}

// Order returns the stage names in execution order.
func Order() []string {
	out := make([]string, len(graph))
	for i, n := range graph {
		out[i] = n.name
	}
	return out
}

// Dependencies returns the direct upstream stages of name.
func Dependencies(name string) []string {
	for _, n := range graph {
		if n.name == name {
			return append([]string(nil), n.deps...)
		}
	}
	return nil
}

// Dependents returns every stage computed from name, directly or through
// other stages, in execution order.
func Dependents(name string) []string {
	reached := map[string]bool{name: true}
	var out []string
	for _, n := range graph {
		for _, dep := range n.deps {
			if reached[dep] {
				reached[n.name] = true
				out = append(out, n.name)
				break
			}
		}
	}
	return out
}

func forced(changed map[string]bool, name string) bool {
	for _, dep := range Dependencies(name) {
		if changed[dep] {
			return true
		}
	}
	return false
}
