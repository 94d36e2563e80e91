package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"kana-backend/internal/kanafile"
	"kana-backend/internal/matrix"
	"kana-backend/internal/pipeline"
	"kana-backend/internal/records"
	"kana-backend/internal/shared/failure"
	"kana-backend/internal/stages"
)

type handlerFunc func(w *Worker, ctx context.Context, cmd Command, send func(Response)) (Response, error)

type handler struct {
	needsInit bool
	fn        handlerFunc
}

var handlers = map[string]handler{
	TypeRun:              {true, handleRun},
	TypeLoad:             {true, handleLoad},
	TypeExport:           {true, handleExport},
	TypeSave:             {true, handleSave},
	TypeRemove:           {false, handleRemove},
	TypePreflight:        {true, handlePreflight},
	TypeMarkersCluster:   {true, handleMarkersForCluster},
	TypeGeneExpression:   {true, handleGeneExpression},
	TypeAnnotation:       {true, handleAnnotation},
	TypeCustomMarkers:    {true, handleCustomMarkers},
	TypeMarkersSelection: {true, handleMarkersForSelection},
	TypeRemoveCustom:     {true, handleRemoveCustom},
	TypeAnimateTSNE:      {true, animate(stages.TSNE)},
	TypeAnimateUMAP:      {true, animate(stages.UMAP)},
}

func decode(cmd Command, v any) error {
	if len(cmd.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(cmd.Payload, v); err != nil {
		return failure.Protocol("decode "+cmd.Type+" payload", err)
	}
	return nil
}

// eventSink forwards pipeline events as non-final responses.
func eventSink(send func(Response)) pipeline.Sink {
	return pipeline.SinkFunc(func(e pipeline.Event) {
		send(Response{Type: e.Type(), Resp: e.Payload, Iteration: e.Iteration})
	})
}

type inputsPayload struct {
	Files []matrix.File `json:"files"`
	Batch string        `json:"batch"`
}

type runPayload struct {
	Inputs inputsPayload        `json:"inputs"`
	Params *pipeline.Parameters `json:"params"`
}

func handleRun(w *Worker, ctx context.Context, cmd Command, send func(Response)) (Response, error) {
	var req runPayload
	if err := decode(cmd, &req); err != nil {
		return Response{}, err
	}
	params := pipeline.DefaultParameters()
	if req.Params != nil {
		params = *req.Params
	}
	params.Inputs = stages.InputsParams{Files: req.Inputs.Files, Batch: req.Inputs.Batch}

	changed, err := w.orch.Run(ctx, params, eventSink(send))
	if err != nil {
		return Response{}, err
	}
	return Response{Type: TypeRun, Resp: changed, Msg: "Success: analysis run completed"}, nil
}

type loadPayload struct {
	Format string `json:"format"`
	Data   []byte `json:"data"`
	ID     string `json:"id"`
}

func handleLoad(w *Worker, ctx context.Context, cmd Command, send func(Response)) (Response, error) {
	var req loadPayload
	if err := decode(cmd, &req); err != nil {
		return Response{}, err
	}

	var container []byte
	switch req.Format {
	case "kana":
		container = req.Data
	case "kanadb":
		if w.deps.Records == nil {
			return Response{}, failure.Newf(failure.KindPersistence, "load", "no records store configured")
		}
		_, data, err := w.deps.Records.Load(ctx, req.ID)
		if err != nil {
			return Response{}, failure.Persistence("load record "+req.ID, err)
		}
		container = data
	default:
		return Response{}, failure.Newf(failure.KindValidation, "load", "unknown format %q", req.Format)
	}

	var resolver kanafile.Resolver
	if w.deps.Artifacts != nil {
		resolver = w.deps.Artifacts
	}
	state, err := kanafile.Deserialize(ctx, container, resolver)
	if err != nil {
		return Response{}, err
	}
	w.orch.Replace(state)
	w.orch.Restore(eventSink(send))
	return Response{Type: "loadedParameters", Resp: state.Parameters()}, nil
}

func handleExport(w *Worker, ctx context.Context, cmd Command, _ func(Response)) (Response, error) {
	data, _, err := kanafile.Serialize(ctx, w.orch.Current(), true, nil)
	if err != nil {
		return Response{}, err
	}
	return Response{Type: "exportState", Resp: data}, nil
}

type savePayload struct {
	Title string `json:"title"`
}

func handleSave(w *Worker, ctx context.Context, cmd Command, _ func(Response)) (Response, error) {
	var req savePayload
	if err := decode(cmd, &req); err != nil {
		return Response{}, err
	}
	if strings.TrimSpace(req.Title) == "" {
		return Response{}, failure.Newf(failure.KindValidation, "save", "title is required")
	}
	if w.deps.Records == nil || w.deps.Artifacts == nil {
		return Response{}, failure.Newf(failure.KindPersistence, "save", "no records store configured")
	}
	var serr error
	_, err := w.deps.Records.SaveLinked(ctx, req.Title, func(ctx context.Context) ([]byte, []string, error) {
		data, ids, err := kanafile.Serialize(ctx, w.orch.Current(), false, w.deps.Artifacts)
		serr = err
		return data, ids, err
	})
	if serr != nil {
		return Response{}, serr
	}
	if err != nil {
		return Response{}, failure.Persistence("save record", err)
	}
	return listRecords(ctx, w)
}

type idPayload struct {
	ID string `json:"id"`
}

func handleRemove(w *Worker, ctx context.Context, cmd Command, _ func(Response)) (Response, error) {
	var req idPayload
	if err := decode(cmd, &req); err != nil {
		return Response{}, err
	}
	if w.deps.Records == nil {
		return Response{}, failure.Newf(failure.KindPersistence, "remove", "no records store configured")
	}
	if err := w.deps.Records.Remove(ctx, req.ID); err != nil {
		return Response{}, failure.Persistence("remove record "+req.ID, err)
	}
	return listRecords(ctx, w)
}

func listRecords(ctx context.Context, w *Worker) (Response, error) {
	list, err := w.deps.Records.List(ctx)
	if err != nil {
		return Response{}, failure.Persistence("list records", err)
	}
	if list == nil {
		list = []records.Record{}
	}
	return Response{Type: "records", Resp: list}, nil
}

type preflightPayload struct {
	Inputs inputsPayload `json:"inputs"`
}

func handlePreflight(_ *Worker, _ context.Context, cmd Command, _ func(Response)) (Response, error) {
	var req preflightPayload
	if err := decode(cmd, &req); err != nil {
		return Response{}, err
	}
	summary, err := matrix.Preflight(req.Inputs.Files)
	if err != nil {
		return Response{}, failure.Validation("preflight", err)
	}
	if b := req.Inputs.Batch; b != "" {
		if _, ok := summary.Annotations[b]; !ok {
			return Response{}, failure.Validation("preflight", fmt.Errorf("%w: batch column %q not in annotations", matrix.ErrMalformed, b))
		}
	}
	return Response{Type: "PREFLIGHT_INPUT_DATA", Resp: summary}, nil
}

type markersPayload struct {
	Cluster  int    `json:"cluster"`
	RankType string `json:"rank_type"`
}

type markersResponse struct {
	Cluster any `json:"cluster"`
	stages.RankedMarkers
}

func handleMarkersForCluster(w *Worker, _ context.Context, cmd Command, _ func(Response)) (Response, error) {
	var req markersPayload
	if err := decode(cmd, &req); err != nil {
		return Response{}, err
	}
	ranked, err := w.orch.MarkersForCluster(req.Cluster, req.RankType)
	if err != nil {
		return Response{}, err
	}
	return Response{Type: "setMarkersForCluster", Resp: markersResponse{Cluster: req.Cluster, RankedMarkers: ranked}}, nil
}

type genePayload struct {
	Gene int `json:"gene"`
}

type geneResponse struct {
	Gene int       `json:"gene"`
	Expr []float64 `json:"expr"`
}

func handleGeneExpression(w *Worker, _ context.Context, cmd Command, _ func(Response)) (Response, error) {
	var req genePayload
	if err := decode(cmd, &req); err != nil {
		return Response{}, err
	}
	expr, err := w.orch.GeneExpression(req.Gene)
	if err != nil {
		return Response{}, err
	}
	return Response{Type: "setGeneExpression", Resp: geneResponse{Gene: req.Gene, Expr: expr}}, nil
}

type annotationPayload struct {
	Annotation string `json:"annotation"`
	Unfiltered bool   `json:"unfiltered"`
}

func handleAnnotation(w *Worker, _ context.Context, cmd Command, _ func(Response)) (Response, error) {
	var req annotationPayload
	if err := decode(cmd, &req); err != nil {
		return Response{}, err
	}
	ann, err := w.orch.Annotation(req.Annotation, req.Unfiltered)
	if err != nil {
		return Response{}, err
	}
	return Response{Type: "setAnnotation", Resp: ann}, nil
}

type customMarkersPayload struct {
	ID        string `json:"id"`
	Selection []int  `json:"selection"`
}

func handleCustomMarkers(w *Worker, _ context.Context, cmd Command, _ func(Response)) (Response, error) {
	var req customMarkersPayload
	if err := decode(cmd, &req); err != nil {
		return Response{}, err
	}
	if err := w.orch.AddCustomSelection(req.ID, req.Selection); err != nil {
		return Response{}, err
	}
	return Response{Type: TypeCustomMarkers, Resp: idPayload{ID: req.ID}}, nil
}

type selectionMarkersPayload struct {
	Cluster  string `json:"cluster"`
	RankType string `json:"rank_type"`
}

func handleMarkersForSelection(w *Worker, _ context.Context, cmd Command, _ func(Response)) (Response, error) {
	var req selectionMarkersPayload
	if err := decode(cmd, &req); err != nil {
		return Response{}, err
	}
	ranked, err := w.orch.MarkersForSelection(req.Cluster, req.RankType)
	if err != nil {
		return Response{}, err
	}
	return Response{Type: "setMarkersForCustomSelection", Resp: markersResponse{Cluster: req.Cluster, RankedMarkers: ranked}}, nil
}

func handleRemoveCustom(w *Worker, _ context.Context, cmd Command, _ func(Response)) (Response, error) {
	var req idPayload
	if err := decode(cmd, &req); err != nil {
		return Response{}, err
	}
	if err := w.orch.RemoveCustomSelection(req.ID); err != nil {
		return Response{}, err
	}
	return Response{Type: TypeRemoveCustom, Resp: idPayload{ID: req.ID}}, nil
}

// animate replays an embedding. The replayed _DATA event becomes the final
// response.
func animate(stage string) handlerFunc {
	return func(w *Worker, _ context.Context, _ Command, send func(Response)) (Response, error) {
		var final *pipeline.Event
		sink := pipeline.SinkFunc(func(e pipeline.Event) {
			if e.Kind == pipeline.EventData {
				final = &e
				return
			}
			send(Response{Type: e.Type(), Resp: e.Payload, Iteration: e.Iteration})
		})
		if err := w.orch.Animate(stage, sink); err != nil {
			return Response{}, err
		}
		if final == nil {
			return Response{}, failure.StageExecution(stage, errors.New("replay produced no result"))
		}
		return Response{Type: final.Type(), Resp: final.Payload}, nil
	}
}
