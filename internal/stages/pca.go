package stages

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Block methods for PCA.
const (
	BlockNone    = "none"
	BlockRegress = "regress"
	BlockMNN     = "mnn"
)

// PCAParams selects highly variable genes and the number of components.
type PCAParams struct {
	NumHVGs     int    `cbor:"num_hvgs" json:"num_hvgs" yaml:"num_hvgs"`
	NumPCs      int    `cbor:"num_pcs" json:"num_pcs" yaml:"num_pcs"`
	BlockMethod string `cbor:"block_method" json:"block_method" yaml:"block_method"`
}

func (p PCAParams) Equal(o PCAParams) bool { return p == o }

// PCAResult holds per-cell principal component scores.
type PCAResult struct {
	HVGs []int `cbor:"hvgs"`
	// Components is retained cells x PCs.
	Components        Matrix    `cbor:"components"`
	VarianceExplained []float64 `cbor:"variance_explained"`
}

// ComputePCA projects retained cells onto the leading principal components of
// the highly variable genes. With a block method other than none, per-batch
// means are removed first; mnn falls back to the same regression.
func ComputePCA(in *InputsResult, qc *QCResult, norm *NormResult, fs *FeatureSelectionResult, p PCAParams, _ Env) (*PCAResult, error) {
	switch {
	case in == nil:
		return nil, missing(Inputs)
	case qc == nil:
		return nil, missing(QualityControl)
	case norm == nil:
		return nil, missing(Normalization)
	case fs == nil:
		return nil, missing(FeatureSelection)
	}
	if p.NumHVGs < 1 {
		return nil, invalidf("num_hvgs must be at least 1, got %d", p.NumHVGs)
	}
	if p.NumPCs < 1 {
		return nil, invalidf("num_pcs must be at least 1, got %d", p.NumPCs)
	}
	switch p.BlockMethod {
	case BlockNone, BlockRegress, BlockMNN:
	default:
		return nil, invalidf("unknown block_method %q", p.BlockMethod)
	}

	hvgs := fs.TopGenes(p.NumHVGs)
	nCells := norm.LogCounts.Cols
	if nCells < 2 {
		return nil, ErrNoCells
	}
	x := mat.NewDense(nCells, len(hvgs), nil)
	for j, g := range hvgs {
		row := norm.LogCounts.Row(g)
		for i := 0; i < nCells; i++ {
			x.Set(i, j, row[i])
		}
	}

	if p.BlockMethod != BlockNone && in.Batch != nil {
		removeBlockMeans(x, qcBatch(in, qc), in.NumBlocks())
	}
	centerColumns(x)

	var pc stat.PC
	if !pc.PrincipalComponents(x, nil) {
		return nil, invalidf("principal components did not converge")
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	vars := pc.VarsTo(nil)

	k := min(p.NumPCs, len(vars))
	var scores mat.Dense
	scores.Mul(x, vecs.Slice(0, len(hvgs), 0, k))

	total := floats.Sum(vars)
	explained := make([]float64, k)
	if total > 0 {
		for i := range explained {
			explained[i] = vars[i] / total
		}
	}
	return &PCAResult{
		HVGs:              hvgs,
		Components:        FromDense(&scores),
		VarianceExplained: explained,
	}, nil
}

// qcBatch returns the batch level of each retained cell.
func qcBatch(in *InputsResult, qc *QCResult) []int {
	if in.Batch == nil {
		return nil
	}
	out := make([]int, len(qc.Retained))
	for i, c := range qc.Retained {
		out[i] = in.Batch[c]
	}
	return out
}

func removeBlockMeans(x *mat.Dense, batch []int, blocks int) {
	rows, cols := x.Dims()
	counts := make([]float64, blocks)
	for _, b := range batch {
		counts[b]++
	}
	for j := 0; j < cols; j++ {
		sums := make([]float64, blocks)
		for i := 0; i < rows; i++ {
			sums[batch[i]] += x.At(i, j)
		}
		for i := 0; i < rows; i++ {
			b := batch[i]
			x.Set(i, j, x.At(i, j)-sums[b]/counts[b])
		}
	}
}

func centerColumns(x *mat.Dense) {
	rows, cols := x.Dims()
	for j := 0; j < cols; j++ {
		col := mat.Col(nil, j, x)
		m := stat.Mean(col, nil)
		for i := 0; i < rows; i++ {
			x.Set(i, j, col[i]-m)
		}
	}
}
