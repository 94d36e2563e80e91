package pipeline

import (
	"errors"
	"fmt"

	"kana-backend/internal/shared/failure"
	"kana-backend/internal/stages"
)

// ErrUnknownAnnotation is returned for a name that is neither a QC metric
// nor an annotation column.
var ErrUnknownAnnotation = errors.New("unknown annotation")

// Annotation types.
const (
	AnnotationContinuous = "continuous"
	AnnotationFactor     = "factor"
)

// Annotation is a per-cell column. Continuous columns fill Values; factors
// fill Levels and Codes.
type Annotation struct {
	Name   string    `json:"name"`
	Type   string    `json:"type"`
	Values []float64 `json:"values,omitempty"`
	Levels []string  `json:"levels,omitempty"`
	Codes  []int     `json:"codes,omitempty"`
}

func (o *Orchestrator) result(stage string) error {
	if !o.state.Valid(stage) {
		return failure.Validation(stage, fmt.Errorf("%w: %s", stages.ErrUpstreamMissing, stage))
	}
	return nil
}

// MarkersForCluster returns a cluster's markers ranked by rankType.
func (o *Orchestrator) MarkersForCluster(cluster int, rankType string) (stages.RankedMarkers, error) {
	if err := o.result(stages.MarkerDetection); err != nil {
		return stages.RankedMarkers{}, err
	}
	r, _ := o.state.MarkerDetection.Result()
	ranked, err := r.Ranked(cluster, rankType)
	if err != nil {
		return stages.RankedMarkers{}, failure.Validation("markers for cluster", err)
	}
	return ranked, nil
}

// GeneExpression returns one gene's log-expression over retained cells.
func (o *Orchestrator) GeneExpression(gene int) ([]float64, error) {
	if err := o.result(stages.Normalization); err != nil {
		return nil, err
	}
	r, _ := o.state.Normalization.Result()
	if gene < 0 || gene >= r.LogCounts.Rows {
		return nil, failure.Newf(failure.KindValidation, "gene expression", "gene %d out of range [0, %d)", gene, r.LogCounts.Rows)
	}
	return r.Expression(gene), nil
}

// Annotation returns a QC metric or annotation column by name, restricted to
// retained cells unless unfiltered is set.
func (o *Orchestrator) Annotation(name string, unfiltered bool) (Annotation, error) {
	if err := o.result(stages.Inputs); err != nil {
		return Annotation{}, err
	}
	in, _ := o.state.Inputs.Result()
	qc, haveQC := o.state.QualityControl.Result()
	filter := haveQC && !unfiltered

	if haveQC {
		if values, ok := qc.Metric(name); ok {
			if filter {
				values = qc.Filter(values)
			} else {
				values = append([]float64(nil), values...)
			}
			return Annotation{Name: name, Type: AnnotationContinuous, Values: values}, nil
		}
	}

	if values, ok := in.Dataset.Annotations.Numeric(name); ok {
		if filter {
			values = qc.Filter(values)
		}
		return Annotation{Name: name, Type: AnnotationContinuous, Values: values}, nil
	}
	levels, codes, ok := in.Dataset.Annotations.Levels(name)
	if !ok {
		return Annotation{}, failure.Validation("annotation", fmt.Errorf("%w: %q", ErrUnknownAnnotation, name))
	}
	if filter {
		kept := make([]int, len(qc.Retained))
		for i, c := range qc.Retained {
			kept[i] = codes[c]
		}
		codes = kept
	}
	return Annotation{Name: name, Type: AnnotationFactor, Levels: levels, Codes: codes}, nil
}

// AddCustomSelection scores the given retained cells against all others.
func (o *Orchestrator) AddCustomSelection(id string, cells []int) error {
	if err := o.result(stages.CustomSelections); err != nil {
		return err
	}
	sel, _ := o.state.CustomSelections.Result()
	norm, _ := o.state.Normalization.Result()
	if err := sel.Add(id, cells, norm, o.env); err != nil {
		return failure.Validation("add custom selection", err)
	}
	return nil
}

// MarkersForSelection returns a custom selection's markers ranked by rankType.
func (o *Orchestrator) MarkersForSelection(id, rankType string) (stages.RankedMarkers, error) {
	if err := o.result(stages.CustomSelections); err != nil {
		return stages.RankedMarkers{}, err
	}
	sel, _ := o.state.CustomSelections.Result()
	ranked, err := sel.Ranked(id, rankType)
	if err != nil {
		return stages.RankedMarkers{}, failure.Validation("markers for selection", err)
	}
	return ranked, nil
}

// RemoveCustomSelection drops a selection. Removing an unknown id is not an
// error.
func (o *Orchestrator) RemoveCustomSelection(id string) error {
	if err := o.result(stages.CustomSelections); err != nil {
		return err
	}
	sel, _ := o.state.CustomSelections.Result()
	sel.Remove(id)
	return nil
}
