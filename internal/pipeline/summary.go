package pipeline

import (
	"slices"

	"kana-backend/internal/stages"
)

// Payloads carried by _DATA events. Slices are copies so the receiver may
// keep them after the state moves on.

type InputsSummary struct {
	NumGenes    int      `json:"numGenes"`
	NumCells    int      `json:"numCells"`
	Annotations []string `json:"annotations"`
	BatchLevels []string `json:"batchLevels,omitempty"`
}

type QCSummary struct {
	Thresholds []stages.QCThresholds `json:"thresholds"`
	Retained   int                   `json:"retained"`
	Discarded  int                   `json:"discarded"`
}

type NormalizationSummary struct {
	NumCells int `json:"numCells"`
}

type FeatureSelectionSummary struct {
	Means     []float64 `json:"means"`
	Vars      []float64 `json:"vars"`
	Fitted    []float64 `json:"fitted"`
	Residuals []float64 `json:"residuals"`
}

type PCASummary struct {
	VarianceExplained []float64 `json:"varExp"`
}

type NeighborIndexSummary struct {
	NumCells    int  `json:"numCells"`
	Approximate bool `json:"approximate"`
}

type EmbeddingSummary struct {
	X          []float64 `json:"x"`
	Y          []float64 `json:"y"`
	Iterations int       `json:"iterations"`
}

type ClusteringSummary struct {
	Clusters    []int `json:"clusters"`
	NumClusters int   `json:"numClusters"`
	Sizes       []int `json:"sizes"`
}

type MarkersSummary struct {
	NumClusters int `json:"numClusters"`
}

type LabellingSummary struct {
	Species      string              `json:"species"`
	PerReference map[string][]string `json:"perReference"`
	Integrated   []string            `json:"integrated,omitempty"`
}

type CustomSelectionsSummary struct {
	IDs []string `json:"ids"`
}

// summarize builds the _DATA payload for stage from the state's cached result.
func summarize(s *State, stage string) any {
	switch stage {
	case stages.Inputs:
		r, _ := s.Inputs.Result()
		sum := InputsSummary{
			NumGenes:    r.Dataset.NumGenes(),
			NumCells:    r.Dataset.NumCells(),
			BatchLevels: slices.Clone(r.BatchLevels),
		}
		if r.Dataset.Annotations != nil {
			sum.Annotations = slices.Clone(r.Dataset.Annotations.Columns)
		}
		return sum
	case stages.QualityControl:
		r, _ := s.QualityControl.Result()
		return QCSummary{
			Thresholds: slices.Clone(r.Thresholds),
			Retained:   len(r.Retained),
			Discarded:  len(r.Discard) - len(r.Retained),
		}
	case stages.Normalization:
		r, _ := s.Normalization.Result()
		return NormalizationSummary{NumCells: r.LogCounts.Cols}
	case stages.FeatureSelection:
		r, _ := s.FeatureSelection.Result()
		return FeatureSelectionSummary{
			Means:     slices.Clone(r.Means),
			Vars:      slices.Clone(r.Vars),
			Fitted:    slices.Clone(r.Fitted),
			Residuals: slices.Clone(r.Residuals),
		}
	case stages.PCA:
		r, _ := s.PCA.Result()
		return PCASummary{VarianceExplained: slices.Clone(r.VarianceExplained)}
	case stages.NeighborIndex:
		r, _ := s.NeighborIndex.Result()
		return NeighborIndexSummary{NumCells: r.NumCells(), Approximate: r.Approximate}
	case stages.TSNE:
		r, _ := s.TSNE.Result()
		return embeddingSummary(r)
	case stages.UMAP:
		r, _ := s.UMAP.Result()
		return embeddingSummary(r)
	case stages.KMeansCluster:
		r, _ := s.KMeansCluster.Result()
		return clusteringSummary(r)
	case stages.SNNGraphCluster:
		r, _ := s.SNNGraphCluster.Result()
		return clusteringSummary(r)
	case stages.ChooseClustering:
		r, _ := s.ChooseClustering.Result()
		return clusteringSummary(r)
	case stages.MarkerDetection:
		r, _ := s.MarkerDetection.Result()
		return MarkersSummary{NumClusters: len(r.Clusters)}
	case stages.CellLabelling:
		r, _ := s.CellLabelling.Result()
		per := make(map[string][]string, len(r.PerReference))
		for k, v := range r.PerReference {
			per[k] = slices.Clone(v)
		}
		return LabellingSummary{Species: r.Species, PerReference: per, Integrated: slices.Clone(r.Integrated)}
	case stages.CustomSelections:
		r, _ := s.CustomSelections.Result()
		return CustomSelectionsSummary{IDs: r.IDs()}
	}
	return nil
}

func embeddingSummary(e *stages.Embedding) EmbeddingSummary {
	return EmbeddingSummary{X: slices.Clone(e.X), Y: slices.Clone(e.Y), Iterations: e.Iterations}
}

func clusteringSummary(c *stages.Clustering) ClusteringSummary {
	return ClusteringSummary{
		Clusters:    slices.Clone(c.Assignments),
		NumClusters: c.NumClusters,
		Sizes:       c.Sizes(),
	}
}
