package stages

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// NormParams has no settings; normalization reruns only when upstream changes.
type NormParams struct{}

func (NormParams) Equal(NormParams) bool { return true }

// NormResult holds log-normalized expression for retained cells.
type NormResult struct {
	// LogCounts is genes x retained cells.
	LogCounts   Matrix    `cbor:"log_counts"`
	SizeFactors []float64 `cbor:"size_factors"`
}

// Expression returns one gene's log-expression across retained cells.
func (r *NormResult) Expression(gene int) []float64 {
	return append([]float64(nil), r.LogCounts.Row(gene)...)
}

// ComputeNormalization applies library-size normalization and a log2(x+1)
// transform to the cells QC retained.
func ComputeNormalization(in *InputsResult, qc *QCResult, _ NormParams, env Env) (*NormResult, error) {
	if in == nil {
		return nil, missing(Inputs)
	}
	if qc == nil {
		return nil, missing(QualityControl)
	}

	nGenes := in.Dataset.NumGenes()
	nCells := len(qc.Retained)
	sums := qc.Filter(qc.Sums)
	mean := floats.Sum(sums) / float64(nCells)
	if !(mean > 0) {
		return nil, ErrNoCells
	}
	res := &NormResult{
		LogCounts:   NewMatrix(nGenes, nCells),
		SizeFactors: make([]float64, nCells),
	}
	for i, s := range sums {
		res.SizeFactors[i] = s / mean
	}

	counts := in.Dataset.Counts
	err := parallelFor(env.threads(), nGenes, func(lo, hi int) error {
		for g := lo; g < hi; g++ {
			row := res.LogCounts.Row(g)
			for i, c := range qc.Retained {
				row[i] = math.Log2(counts.At(g, c)/res.SizeFactors[i] + 1)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
