// Package pipelinetest provides a small dataset and parameter set that run
// the whole pipeline in well under a second.
package pipelinetest

import (
	"kana-backend/internal/matrix"
	"kana-backend/internal/pipeline"
	"kana-backend/internal/stages"
)

// Cells and Genes are the shape of Files.
const (
	Cells      = 60
	Genes      = 40
	LowQuality = 3
)

// Files returns a synthetic dataset with three populations in two batches.
func Files() []matrix.File {
	return matrix.Synthetic(matrix.SyntheticConfig{
		Genes:      Genes,
		Cells:      Cells,
		Groups:     3,
		Batches:    2,
		LowQuality: LowQuality,
		Seed:       7,
	})
}

// Parameters returns settings sized for Files.
func Parameters() pipeline.Parameters {
	p := pipeline.DefaultParameters()
	p.Inputs = stages.InputsParams{Files: Files()}
	p.PCA = stages.PCAParams{NumHVGs: 30, NumPCs: 5, BlockMethod: stages.BlockNone}
	p.TSNE = stages.TSNEParams{Perplexity: 4, Iterations: 45, Animate: true}
	p.UMAP = stages.UMAPParams{NumNeighbors: 8, NumEpochs: 200, MinDist: 0.1, Animate: true}
	p.KMeansCluster = stages.KMeansParams{K: 3}
	p.SNNGraphCluster = stages.SNNParams{K: 8, Scheme: stages.SchemeRank, Resolution: 1}
	return p
}
