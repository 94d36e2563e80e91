// Package pipeline drives the analysis stages in dependency order, deciding
// per stage whether to reuse its cached result or recompute.
package pipeline

import (
	"context"
	"errors"
	"time"

	"kana-backend/internal/matrix"
	"kana-backend/internal/references"
	"kana-backend/internal/shared/failure"
	"kana-backend/internal/shared/metrics"
	"kana-backend/internal/shared/telemetry"
	"kana-backend/internal/stages"
)

// Orchestrator holds the single live analysis state.
type Orchestrator struct {
	env   stages.Env
	refs  references.Source
	state *State
}

// New returns an orchestrator with no state. refs may be nil when no
// labelling references are configured.
func New(env stages.Env, refs references.Source) *Orchestrator {
	return &Orchestrator{env: env, refs: refs}
}

// Env returns the compute resources stages run with.
func (o *Orchestrator) Env() stages.Env { return o.env }

// Create frees any current state and installs an empty one.
func (o *Orchestrator) Create() *State {
	o.Replace(NewState())
	return o.state
}

// Replace frees the current state and installs s.
func (o *Orchestrator) Replace(s *State) {
	if o.state != nil && o.state != s {
		o.state.Free()
	}
	o.state = s
}

// Current returns the live state, or nil before Create.
func (o *Orchestrator) Current() *State { return o.state }

// Free releases the live state.
func (o *Orchestrator) Free() {
	o.state.Free()
	o.state = nil
}

// Run executes every stage in order against p. It returns which stages
// recomputed. On failure the remaining stages are skipped; stages that
// already ran keep their results.
func (o *Orchestrator) Run(ctx context.Context, p Parameters, sink Sink) (map[string]bool, error) {
	s := o.state
	if s == nil {
		s = o.Create()
	}
	sink = orDiscard(sink)
	changed := make(map[string]bool, len(graph))
	runners := o.runners(ctx, s, p, sink, changed)

	start := time.Now()
	for _, name := range Order() {
		if err := ctx.Err(); err != nil {
			return changed, failure.StageExecution(name, err)
		}
		if err := runners[name](); err != nil {
			telemetry.Error("pipeline.run.failed", map[string]any{
				"stage":       name,
				"kind":        failure.KindOf(err).String(),
				"err":         err,
				"duration_ms": metrics.SinceMillis(start),
			})
			return changed, err
		}
	}
	telemetry.Info("pipeline.run.complete", map[string]any{
		"changed":     countChanged(changed),
		"duration_ms": metrics.SinceMillis(start),
	})
	return changed, nil
}

func (o *Orchestrator) runners(ctx context.Context, s *State, p Parameters, sink Sink, changed map[string]bool) map[string]func() error {
	env := o.env
	return map[string]func() error{
		stages.Inputs: func() error {
			return step(s, sink, changed, s.Inputs, p.Inputs, stages.LoadInputs)
		},
		stages.QualityControl: func() error {
			return step(s, sink, changed, s.QualityControl, p.QualityControl, func(qp stages.QCParams) (*stages.QCResult, error) {
				in, _ := s.Inputs.Result()
				return stages.ComputeQC(in, qp, env)
			})
		},
		stages.Normalization: func() error {
			return step(s, sink, changed, s.Normalization, p.Normalization, func(np stages.NormParams) (*stages.NormResult, error) {
				in, _ := s.Inputs.Result()
				qc, _ := s.QualityControl.Result()
				return stages.ComputeNormalization(in, qc, np, env)
			})
		},
		stages.FeatureSelection: func() error {
			return step(s, sink, changed, s.FeatureSelection, p.FeatureSelection, func(fp stages.FeatureSelectionParams) (*stages.FeatureSelectionResult, error) {
				norm, _ := s.Normalization.Result()
				return stages.ComputeFeatureSelection(norm, fp, env)
			})
		},
		stages.PCA: func() error {
			return step(s, sink, changed, s.PCA, p.PCA, func(pp stages.PCAParams) (*stages.PCAResult, error) {
				in, _ := s.Inputs.Result()
				qc, _ := s.QualityControl.Result()
				norm, _ := s.Normalization.Result()
				fs, _ := s.FeatureSelection.Result()
				return stages.ComputePCA(in, qc, norm, fs, pp, env)
			})
		},
		stages.NeighborIndex: func() error {
			return step(s, sink, changed, s.NeighborIndex, p.NeighborIndex, func(np stages.NeighborIndexParams) (*stages.NeighborIndexResult, error) {
				pca, _ := s.PCA.Result()
				return stages.BuildNeighborIndex(pca, np)
			})
		},
		stages.TSNE: func() error {
			return step(s, sink, changed, s.TSNE, p.TSNE, func(tp stages.TSNEParams) (*stages.Embedding, error) {
				ix, _ := s.NeighborIndex.Result()
				run, err := stages.NewTSNERun(ix, tp, env)
				if err != nil {
					return nil, err
				}
				return stages.Drain(run, animateWith(tp.Animate, sink, stages.TSNE))
			})
		},
		stages.UMAP: func() error {
			return step(s, sink, changed, s.UMAP, p.UMAP, func(up stages.UMAPParams) (*stages.Embedding, error) {
				ix, _ := s.NeighborIndex.Result()
				run, err := stages.NewUMAPRun(ix, up, env)
				if err != nil {
					return nil, err
				}
				return stages.Drain(run, animateWith(up.Animate, sink, stages.UMAP))
			})
		},
		stages.KMeansCluster: func() error {
			return step(s, sink, changed, s.KMeansCluster, p.KMeansCluster, func(kp stages.KMeansParams) (*stages.Clustering, error) {
				pca, _ := s.PCA.Result()
				return stages.ComputeKMeans(pca, kp, env)
			})
		},
		stages.SNNGraphCluster: func() error {
			return step(s, sink, changed, s.SNNGraphCluster, p.SNNGraphCluster, func(sp stages.SNNParams) (*stages.Clustering, error) {
				ix, _ := s.NeighborIndex.Result()
				return stages.ComputeSNNClusters(ix, sp, env)
			})
		},
		stages.ChooseClustering: func() error {
			return step(s, sink, changed, s.ChooseClustering, p.ChooseClustering, func(cp stages.ChooseClusteringParams) (*stages.Clustering, error) {
				km, _ := s.KMeansCluster.Result()
				snn, _ := s.SNNGraphCluster.Result()
				return stages.SelectClustering(km, snn, cp)
			})
		},
		stages.MarkerDetection: func() error {
			return step(s, sink, changed, s.MarkerDetection, p.MarkerDetection, func(mp stages.MarkerParams) (*stages.MarkerResult, error) {
				norm, _ := s.Normalization.Result()
				clusters, _ := s.ChooseClustering.Result()
				return stages.ComputeMarkers(norm, clusters, mp, env)
			})
		},
		stages.CellLabelling: func() error {
			return step(s, sink, changed, s.CellLabelling, p.CellLabelling, func(lp stages.CellLabellingParams) (*stages.CellLabellingResult, error) {
				in, _ := s.Inputs.Result()
				markers, _ := s.MarkerDetection.Result()
				return stages.ComputeCellLabelling(ctx, in, markers, o.refs, lp)
			})
		},
		stages.CustomSelections: func() error {
			return step(s, sink, changed, s.CustomSelections, p.CustomSelections, func(cp stages.CustomSelectionsParams) (*stages.CustomSelectionsResult, error) {
				norm, _ := s.Normalization.Result()
				return stages.NewCustomSelections(norm, cp)
			})
		},
	}
}

// step runs one executor, forcing it when an upstream stage changed, and
// emits its events.
func step[P stages.Params[P], R any](s *State, sink Sink, changed map[string]bool, e *stages.Executor[P, R], p P, compute func(P) (R, error)) error {
	name := e.Name()
	force := forced(changed, name)
	sink.Emit(Event{Stage: name, Kind: EventStart})

	start := time.Now()
	_, fresh, err := e.Execute(p, force, compute)
	changed[name] = fresh
	// An unforced failure keeps the previous result, so its dependents stay
	// consistent with it.
	if fresh && (err == nil || force) {
		s.FreeDependents(name)
	}
	if err != nil {
		metrics.IncStageFailure(name)
		return classify(name, err)
	}
	if !fresh {
		metrics.IncStageCache(name)
		sink.Emit(Event{Stage: name, Kind: EventCache, Iteration: cachedIteration(s, name)})
		return nil
	}
	elapsed := metrics.SinceMillis(start)
	metrics.IncStageRun(name)
	metrics.ObserveStageDurationMs(elapsed)
	telemetry.Info("pipeline.stage.complete", map[string]any{
		"stage":       name,
		"forced":      force,
		"duration_ms": elapsed,
	})
	sink.Emit(Event{Stage: name, Kind: EventData, Payload: summarize(s, name)})
	return nil
}

// animateWith returns the snapshot callback for a run, or nil when the
// caller did not ask for intermediate layouts.
func animateWith(on bool, sink Sink, stage string) func(stages.Snapshot) {
	if !on {
		return nil
	}
	return iterEmitter(sink, stage)
}

func iterEmitter(sink Sink, stage string) func(stages.Snapshot) {
	return func(snap stages.Snapshot) {
		metrics.IncSnapshot()
		sink.Emit(Event{
			Stage:     stage,
			Kind:      EventIter,
			Payload:   EmbeddingSummary{X: snap.X, Y: snap.Y, Iterations: snap.Iteration},
			Iteration: snap.Iteration,
		})
	}
}

func cachedIteration(s *State, stage string) int {
	var e *stages.Embedding
	switch stage {
	case stages.TSNE:
		e, _ = s.TSNE.Result()
	case stages.UMAP:
		e, _ = s.UMAP.Result()
	}
	if e == nil {
		return 0
	}
	return e.Iterations
}

// classify maps a stage error to its failure kind. Unreadable inputs are the
// caller's fault; everything else is a stage execution failure.
func classify(stage string, err error) error {
	var fe *failure.Error
	if errors.As(err, &fe) {
		return err
	}
	// The failure carries the stage name as its op.
	var se *stages.Error
	if errors.As(err, &se) && se.Stage == stage {
		err = se.Err
	}
	if errors.Is(err, matrix.ErrMalformed) || errors.Is(err, matrix.ErrDimensionMismatch) || errors.Is(err, matrix.ErrMissingMatrix) {
		return failure.Validation(stage, err)
	}
	return failure.StageExecution(stage, err)
}

func countChanged(changed map[string]bool) int {
	n := 0
	for _, c := range changed {
		if c {
			n++
		}
	}
	return n
}

// Restore emits a _DATA event for every stage holding a result, in order.
// It is used after a state is loaded.
func (o *Orchestrator) Restore(sink Sink) {
	sink = orDiscard(sink)
	s := o.state
	for _, name := range Order() {
		if s.Valid(name) {
			sink.Emit(Event{Stage: name, Kind: EventData, Payload: summarize(s, name)})
		}
	}
}

// Animate replays a finished embedding from iteration zero, emitting its
// snapshots and then its cached result. The cache is not modified.
func (o *Orchestrator) Animate(stage string, sink Sink) error {
	sink = orDiscard(sink)
	s := o.state
	if s == nil {
		return failure.Validation("animate", stages.ErrUpstreamMissing)
	}
	ix, ok := s.NeighborIndex.Result()
	if !ok {
		return failure.Validation("animate", stages.ErrUpstreamMissing)
	}

	var run *stages.Run
	var err error
	switch stage {
	case stages.TSNE:
		p, valid := s.TSNE.Params()
		if !valid {
			return failure.Validation("animate", stages.ErrUpstreamMissing)
		}
		run, err = stages.NewTSNERun(ix, p, o.env)
	case stages.UMAP:
		p, valid := s.UMAP.Params()
		if !valid {
			return failure.Validation("animate", stages.ErrUpstreamMissing)
		}
		run, err = stages.NewUMAPRun(ix, p, o.env)
	default:
		return failure.Newf(failure.KindValidation, "animate", "%q is not an embedding stage", stage)
	}
	if err != nil {
		return classify(stage, err)
	}
	if _, err := stages.Drain(run, iterEmitter(sink, stage)); err != nil {
		return classify(stage, err)
	}
	sink.Emit(Event{Stage: stage, Kind: EventData, Payload: summarize(s, stage)})
	return nil
}
