// Package stages implements the individual analysis steps and the cached
// executor that decides whether a step needs to recompute.
package stages

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Stage names, in pipeline order.
const (
	Inputs           = "inputs"
	QualityControl   = "quality_control"
	Normalization    = "normalization"
	FeatureSelection = "feature_selection"
	PCA              = "pca"
	NeighborIndex    = "neighbor_index"
	TSNE             = "tsne"
	UMAP             = "umap"
	KMeansCluster    = "kmeans_cluster"
	SNNGraphCluster  = "snn_graph_cluster"
	ChooseClustering = "choose_clustering"
	MarkerDetection  = "marker_detection"
	CellLabelling    = "cell_labelling"
	CustomSelections = "custom_selections"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrUpstreamMissing  = errors.New("upstream result missing")
	ErrNoCells          = errors.New("no cells remain")
)

// Error reports a failed stage computation.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string { return e.Stage + ": " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameter, fmt.Sprintf(format, args...))
}

func missing(stage string) error {
	return fmt.Errorf("%w: %s", ErrUpstreamMissing, stage)
}

// Env carries the resources a computation may use.
type Env struct {
	// Threads bounds the goroutines a single stage fans out to.
	Threads int
}

func (e Env) threads() int {
	if e.Threads < 1 {
		return 1
	}
	return e.Threads
}

// Matrix is a row-major dense matrix with exported fields so results can be
// encoded as-is.
type Matrix struct {
	Rows int       `cbor:"rows"`
	Cols int       `cbor:"cols"`
	Data []float64 `cbor:"data"`
}

// NewMatrix allocates a zero rows x cols matrix.
func NewMatrix(rows, cols int) Matrix {
	return Matrix{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

// At returns element (i, j).
func (m Matrix) At(i, j int) float64 { return m.Data[i*m.Cols+j] }

// Row returns row i without copying.
func (m Matrix) Row(i int) []float64 { return m.Data[i*m.Cols : (i+1)*m.Cols] }

// Dense wraps m as a gonum matrix sharing the same backing slice.
func (m Matrix) Dense() *mat.Dense { return mat.NewDense(m.Rows, m.Cols, m.Data) }

// FromDense copies a gonum matrix into a Matrix.
func FromDense(d mat.Matrix) Matrix {
	r, c := d.Dims()
	out := NewMatrix(r, c)
	mat.NewDense(r, c, out.Data).Copy(d)
	return out
}

// Clustering assigns every retained cell to a cluster numbered from 0.
type Clustering struct {
	Assignments []int `cbor:"assignments"`
	NumClusters int   `cbor:"num_clusters"`
}

// Sizes returns the number of cells per cluster.
func (c *Clustering) Sizes() []int {
	sizes := make([]int, c.NumClusters)
	for _, a := range c.Assignments {
		sizes[a]++
	}
	return sizes
}

// canonicalClustering renumbers labels by first appearance so equal
// partitions get equal labels.
func canonicalClustering(labels []int) *Clustering {
	remap := map[int]int{}
	out := make([]int, len(labels))
	for i, l := range labels {
		k, ok := remap[l]
		if !ok {
			k = len(remap)
			remap[l] = k
		}
		out[i] = k
	}
	return &Clustering{Assignments: out, NumClusters: len(remap)}
}
