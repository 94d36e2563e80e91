package pipeline

import "kana-backend/internal/stages"

// State owns one cached executor per stage.
type State struct {
	Inputs           *stages.Executor[stages.InputsParams, *stages.InputsResult]
	QualityControl   *stages.Executor[stages.QCParams, *stages.QCResult]
	Normalization    *stages.Executor[stages.NormParams, *stages.NormResult]
	FeatureSelection *stages.Executor[stages.FeatureSelectionParams, *stages.FeatureSelectionResult]
	PCA              *stages.Executor[stages.PCAParams, *stages.PCAResult]
	NeighborIndex    *stages.Executor[stages.NeighborIndexParams, *stages.NeighborIndexResult]
	TSNE             *stages.Executor[stages.TSNEParams, *stages.Embedding]
	UMAP             *stages.Executor[stages.UMAPParams, *stages.Embedding]
	KMeansCluster    *stages.Executor[stages.KMeansParams, *stages.Clustering]
	SNNGraphCluster  *stages.Executor[stages.SNNParams, *stages.Clustering]
	ChooseClustering *stages.Executor[stages.ChooseClusteringParams, *stages.Clustering]
	MarkerDetection  *stages.Executor[stages.MarkerParams, *stages.MarkerResult]
	CellLabelling    *stages.Executor[stages.CellLabellingParams, *stages.CellLabellingResult]
	CustomSelections *stages.Executor[stages.CustomSelectionsParams, *stages.CustomSelectionsResult]
}

// NewState returns a state with no cached results.
func NewState() *State {
	return &State{
		Inputs:           stages.NewExecutor[stages.InputsParams, *stages.InputsResult](stages.Inputs),
		QualityControl:   stages.NewExecutor[stages.QCParams, *stages.QCResult](stages.QualityControl),
		Normalization:    stages.NewExecutor[stages.NormParams, *stages.NormResult](stages.Normalization),
		FeatureSelection: stages.NewExecutor[stages.FeatureSelectionParams, *stages.FeatureSelectionResult](stages.FeatureSelection),
		PCA:              stages.NewExecutor[stages.PCAParams, *stages.PCAResult](stages.PCA),
		NeighborIndex:    stages.NewExecutor[stages.NeighborIndexParams, *stages.NeighborIndexResult](stages.NeighborIndex),
		TSNE:             stages.NewExecutor[stages.TSNEParams, *stages.Embedding](stages.TSNE),
		UMAP:             stages.NewExecutor[stages.UMAPParams, *stages.Embedding](stages.UMAP),
		KMeansCluster:    stages.NewExecutor[stages.KMeansParams, *stages.Clustering](stages.KMeansCluster),
		SNNGraphCluster:  stages.NewExecutor[stages.SNNParams, *stages.Clustering](stages.SNNGraphCluster),
		ChooseClustering: stages.NewExecutor[stages.ChooseClusteringParams, *stages.Clustering](stages.ChooseClustering),
		MarkerDetection:  stages.NewExecutor[stages.MarkerParams, *stages.MarkerResult](stages.MarkerDetection),
		CellLabelling:    stages.NewExecutor[stages.CellLabellingParams, *stages.CellLabellingResult](stages.CellLabelling),
		CustomSelections: stages.NewExecutor[stages.CustomSelectionsParams, *stages.CustomSelectionsResult](stages.CustomSelections),
	}
}

type freer interface {
	Free()
	Valid() bool
}

func (s *State) executors() map[string]freer {
	return map[string]freer{
		stages.Inputs:           s.Inputs,
		stages.QualityControl:   s.QualityControl,
		stages.Normalization:    s.Normalization,
		stages.FeatureSelection: s.FeatureSelection,
		stages.PCA:              s.PCA,
		stages.NeighborIndex:    s.NeighborIndex,
		stages.TSNE:             s.TSNE,
		stages.UMAP:             s.UMAP,
		stages.KMeansCluster:    s.KMeansCluster,
		stages.SNNGraphCluster:  s.SNNGraphCluster,
		stages.ChooseClustering: s.ChooseClustering,
		stages.MarkerDetection:  s.MarkerDetection,
		stages.CellLabelling:    s.CellLabelling,
		stages.CustomSelections: s.CustomSelections,
	}
}

// Free releases every cached result.
func (s *State) Free() {
	if s == nil {
		return
	}
	for _, e := range s.executors() {
		e.Free()
	}
}

// FreeDependents drops every cached result derived from stage so that a run
// which stops partway cannot leave results built on a replaced upstream.
func (s *State) FreeDependents(stage string) {
	if s == nil {
		return
	}
	ex := s.executors()
	for _, d := range Dependents(stage) {
		ex[d].Free()
	}
}

// Valid reports whether stage holds a cached result.
func (s *State) Valid(stage string) bool {
	if s == nil {
		return false
	}
	e, ok := s.executors()[stage]
	return ok && e.Valid()
}

// Parameters returns the parameters of the cached results. Stages without a
// result contribute zero values.
func (s *State) Parameters() Parameters {
	var p Parameters
	p.Inputs, _ = s.Inputs.Params()
	p.QualityControl, _ = s.QualityControl.Params()
	p.Normalization, _ = s.Normalization.Params()
	p.FeatureSelection, _ = s.FeatureSelection.Params()
	p.PCA, _ = s.PCA.Params()
	p.NeighborIndex, _ = s.NeighborIndex.Params()
	p.TSNE, _ = s.TSNE.Params()
	p.UMAP, _ = s.UMAP.Params()
	p.KMeansCluster, _ = s.KMeansCluster.Params()
	p.SNNGraphCluster, _ = s.SNNGraphCluster.Params()
	p.ChooseClustering, _ = s.ChooseClustering.Params()
	p.MarkerDetection, _ = s.MarkerDetection.Params()
	p.CellLabelling, _ = s.CellLabelling.Params()
	p.CustomSelections, _ = s.CustomSelections.Params()
	return p
}
