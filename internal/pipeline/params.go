package pipeline

import "kana-backend/internal/stages"

// Parameters is the full parameter set supplied on every run.
type Parameters struct {
	Inputs           stages.InputsParams           `json:"inputs" yaml:"inputs"`
	QualityControl   stages.QCParams               `json:"quality_control" yaml:"quality_control"`
	Normalization    stages.NormParams             `json:"normalization" yaml:"normalization"`
	FeatureSelection stages.FeatureSelectionParams `json:"feature_selection" yaml:"feature_selection"`
	PCA              stages.PCAParams              `json:"pca" yaml:"pca"`
	NeighborIndex    stages.NeighborIndexParams    `json:"neighbor_index" yaml:"neighbor_index"`
	TSNE             stages.TSNEParams             `json:"tsne" yaml:"tsne"`
	UMAP             stages.UMAPParams             `json:"umap" yaml:"umap"`
	KMeansCluster    stages.KMeansParams           `json:"kmeans_cluster" yaml:"kmeans_cluster"`
	SNNGraphCluster  stages.SNNParams              `json:"snn_graph_cluster" yaml:"snn_graph_cluster"`
	ChooseClustering stages.ChooseClusteringParams `json:"choose_clustering" yaml:"choose_clustering"`
	MarkerDetection  stages.MarkerParams           `json:"marker_detection" yaml:"marker_detection"`
	CellLabelling    stages.CellLabellingParams    `json:"cell_labelling" yaml:"cell_labelling"`
	CustomSelections stages.CustomSelectionsParams `json:"custom_selections" yaml:"custom_selections"`
}

// DefaultParameters returns the settings used when a caller supplies none.
func DefaultParameters() Parameters {
	return Parameters{
		QualityControl:   stages.QCParams{UseMitoDefault: true, NMADs: 3},
		FeatureSelection: stages.FeatureSelectionParams{Span: 0.3},
		PCA:              stages.PCAParams{NumHVGs: 2000, NumPCs: 20, BlockMethod: stages.BlockNone},
		NeighborIndex:    stages.NeighborIndexParams{Approximate: true},
		TSNE:             stages.TSNEParams{Perplexity: 30, Iterations: 500},
		UMAP:             stages.UMAPParams{NumNeighbors: 15, NumEpochs: 500, MinDist: 0.1},
		KMeansCluster:    stages.KMeansParams{K: 10},
		SNNGraphCluster:  stages.SNNParams{K: 10, Scheme: stages.SchemeRank, Resolution: 1},
		ChooseClustering: stages.ChooseClusteringParams{Method: stages.MethodSNNGraph},
		CellLabelling: stages.CellLabellingParams{
			HumanReferences: []string{"BlueprintEncode"},
			MouseReferences: []string{"ImmGen"},
		},
	}
}
