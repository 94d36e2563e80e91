package stages

import (
	"context"
	"math"
	"slices"
	"strings"
	"unicode"

	"kana-backend/internal/matrix"
	"kana-backend/internal/references"
)

// CellLabellingParams names the references to label clusters against.
type CellLabellingParams struct {
	HumanReferences []string `cbor:"human_references" json:"human_references" yaml:"human_references"`
	MouseReferences []string `cbor:"mouse_references" json:"mouse_references" yaml:"mouse_references"`
}

func (p CellLabellingParams) Equal(o CellLabellingParams) bool {
	return slices.Equal(p.HumanReferences, o.HumanReferences) && slices.Equal(p.MouseReferences, o.MouseReferences)
}

// CellLabellingResult assigns a label per cluster for each reference and, with
// several references, the best-scoring label across them.
type CellLabellingResult struct {
	Species      string              `cbor:"species"`
	PerReference map[string][]string `cbor:"per_reference"`
	Integrated   []string            `cbor:"integrated"`
}

// ComputeCellLabelling scores each cluster against every label's markers by
// mean Cohen's d and picks the highest. The species is guessed from gene
// symbol casing.
func ComputeCellLabelling(ctx context.Context, in *InputsResult, markers *MarkerResult, refs references.Source, p CellLabellingParams) (*CellLabellingResult, error) {
	if in == nil {
		return nil, missing(Inputs)
	}
	if markers == nil {
		return nil, missing(MarkerDetection)
	}
	species := guessSpecies(in.Dataset.Genes)
	names := p.HumanReferences
	if species == references.Mouse {
		names = p.MouseReferences
	}
	res := &CellLabellingResult{Species: species, PerReference: map[string][]string{}}
	if len(names) == 0 {
		return res, nil
	}
	if refs == nil {
		return nil, invalidf("no reference source configured")
	}

	index := make(map[string]int, len(in.Dataset.Genes))
	for g, gene := range in.Dataset.Genes {
		index[strings.ToUpper(gene.Symbol)] = g
	}

	nClusters := len(markers.Clusters)
	bestScore := make([]float64, nClusters)
	for i := range bestScore {
		bestScore[i] = math.Inf(-1)
	}
	res.Integrated = make([]string, nClusters)

	for _, name := range names {
		ref, err := refs.Reference(ctx, name)
		if err != nil {
			return nil, err
		}
		labels := make([]string, nClusters)
		for c, st := range markers.Clusters {
			best, score := "", math.Inf(-1)
			for _, lab := range ref.Labels {
				var sum float64
				var n int
				for _, m := range lab.Markers {
					if g, ok := index[strings.ToUpper(m)]; ok {
						sum += st.Cohen[g]
						n++
					}
				}
				if n == 0 {
					continue
				}
				if s := sum / float64(n); s > score {
					best, score = lab.Name, s
				}
			}
			if best == "" {
				best = "unknown"
			}
			labels[c] = best
			if score > bestScore[c] {
				bestScore[c] = score
				res.Integrated[c] = best
			}
		}
		res.PerReference[name] = labels
	}
	if len(names) < 2 {
		res.Integrated = nil
	}
	return res, nil
}

// guessSpecies treats symbols that are mostly upper case as human.
func guessSpecies(genes []matrix.Gene) string {
	var upper, mixed int
	for _, g := range genes {
		letters := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) {
				return r
			}
			return -1
		}, g.Symbol)
		if len(letters) < 2 {
			continue
		}
		if letters == strings.ToUpper(letters) {
			upper++
		} else {
			mixed++
		}
	}
	if mixed > upper {
		return references.Mouse
	}
	return references.Human
}
