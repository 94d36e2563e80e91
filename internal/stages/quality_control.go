package stages

import (
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// madScale converts a MAD into a normal-consistent standard deviation.
const madScale = 1.4826

// QCParams controls per-cell quality filtering.
type QCParams struct {
	UseMitoDefault bool    `cbor:"use_mito_default" json:"use_mito_default" yaml:"use_mito_default"`
	MitoPrefix     string  `cbor:"mito_prefix" json:"mito_prefix" yaml:"mito_prefix"`
	NMADs          float64 `cbor:"nmads" json:"nmads" yaml:"nmads"`
}

func (p QCParams) Equal(o QCParams) bool { return p == o }

// QCThresholds are the filter boundaries for one batch block.
type QCThresholds struct {
	Sums           float64 `cbor:"sums"`
	Detected       float64 `cbor:"detected"`
	MitoProportion float64 `cbor:"mito_proportion"`
}

// QCResult holds per-cell metrics over all raw cells and the discard decision.
type QCResult struct {
	Sums           []float64      `cbor:"sums"`
	Detected       []float64      `cbor:"detected"`
	MitoProportion []float64      `cbor:"mito_proportion"`
	Thresholds     []QCThresholds `cbor:"thresholds"`
	Discard        []bool         `cbor:"discard"`
	// Retained lists raw cell indices that survive filtering, ascending.
	Retained []int `cbor:"retained"`
}

// Filter returns values at the retained cells.
func (r *QCResult) Filter(values []float64) []float64 {
	out := make([]float64, len(r.Retained))
	for i, c := range r.Retained {
		out[i] = values[c]
	}
	return out
}

// FilterStrings is Filter for string columns.
func (r *QCResult) FilterStrings(values []string) []string {
	out := make([]string, len(r.Retained))
	for i, c := range r.Retained {
		out[i] = values[c]
	}
	return out
}

// Metric returns a named per-cell QC metric over raw cells.
func (r *QCResult) Metric(name string) ([]float64, bool) {
	switch name {
	case "sums":
		return r.Sums, true
	case "detected":
		return r.Detected, true
	case "mito_proportion":
		return r.MitoProportion, true
	case "mito_percent":
		out := make([]float64, len(r.MitoProportion))
		for i, v := range r.MitoProportion {
			out[i] = v * 100
		}
		return out, true
	}
	return nil, false
}

// ComputeQC computes per-cell metrics and discards outliers by MAD within
// each batch block.
func ComputeQC(in *InputsResult, p QCParams, env Env) (*QCResult, error) {
	if in == nil {
		return nil, missing(Inputs)
	}
	if !(p.NMADs > 0) {
		return nil, invalidf("nmads must be positive, got %v", p.NMADs)
	}

	ds := in.Dataset
	nGenes, nCells := ds.NumGenes(), ds.NumCells()
	mito := make([]bool, nGenes)
	prefix := strings.ToLower(p.MitoPrefix)
	if p.UseMitoDefault {
		prefix = "mt-"
	}
	if prefix != "" {
		for g, gene := range ds.Genes {
			mito[g] = strings.HasPrefix(strings.ToLower(gene.Symbol), prefix)
		}
	}

	res := &QCResult{
		Sums:           make([]float64, nCells),
		Detected:       make([]float64, nCells),
		MitoProportion: make([]float64, nCells),
		Discard:        make([]bool, nCells),
	}
	_ = parallelFor(env.threads(), nCells, func(lo, hi int) error {
		for c := lo; c < hi; c++ {
			var sum, det, mt float64
			for g := 0; g < nGenes; g++ {
				v := ds.Counts.At(g, c)
				if v == 0 {
					continue
				}
				sum += v
				det++
				if mito[g] {
					mt += v
				}
			}
			res.Sums[c], res.Detected[c] = sum, det
			if sum > 0 {
				res.MitoProportion[c] = mt / sum
			}
		}
		return nil
	})

	blocks := in.NumBlocks()
	res.Thresholds = make([]QCThresholds, blocks)
	for b := 0; b < blocks; b++ {
		var logSums, logDet, props []float64
		for c := 0; c < nCells; c++ {
			if blockOf(in.Batch, c) != b {
				continue
			}
			logSums = append(logSums, math.Log(math.Max(res.Sums[c], 1)))
			logDet = append(logDet, math.Log(math.Max(res.Detected[c], 1)))
			props = append(props, res.MitoProportion[c])
		}
		if len(props) == 0 {
			continue
		}
		m, d := medianMAD(logSums)
		res.Thresholds[b].Sums = math.Exp(m - p.NMADs*d)
		m, d = medianMAD(logDet)
		res.Thresholds[b].Detected = math.Exp(m - p.NMADs*d)
		m, d = medianMAD(props)
		res.Thresholds[b].MitoProportion = m + p.NMADs*d
	}

	for c := 0; c < nCells; c++ {
		t := res.Thresholds[blockOf(in.Batch, c)]
		res.Discard[c] = res.Sums[c] <= 0 ||
			res.Sums[c] < t.Sums ||
			res.Detected[c] < t.Detected ||
			res.MitoProportion[c] > t.MitoProportion
		if !res.Discard[c] {
			res.Retained = append(res.Retained, c)
		}
	}
	if len(res.Retained) == 0 {
		return nil, ErrNoCells
	}
	return res, nil
}

func blockOf(batch []int, c int) int {
	if batch == nil {
		return 0
	}
	return batch[c]
}

func medianMAD(values []float64) (float64, float64) {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	med := stat.Quantile(0.5, stat.Empirical, sorted, nil)
	dev := make([]float64, len(sorted))
	for i, v := range sorted {
		dev[i] = math.Abs(v - med)
	}
	sort.Float64s(dev)
	return med, madScale * stat.Quantile(0.5, stat.Empirical, dev, nil)
}
