package kanafile_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gonum.org/v1/gonum/mat"

	"kana-backend/internal/artifacts"
	"kana-backend/internal/kanafile"
	"kana-backend/internal/pipeline"
	"kana-backend/internal/pipeline/pipelinetest"
	"kana-backend/internal/references"
	"kana-backend/internal/shared/failure"
	"kana-backend/internal/shared/storage/object"
	"kana-backend/internal/stages"
)

func runPipeline(t *testing.T) *pipeline.Orchestrator {
	t.Helper()
	o := pipeline.New(stages.Env{Threads: 2}, references.NewStore(nil, ""))
	if _, err := o.Run(context.Background(), pipelinetest.Parameters(), nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := o.Current().CustomSelections.Result(); !ok {
		t.Fatalf("custom selections missing")
	}
	if err := o.AddCustomSelection("saved", []int{2, 4, 6}); err != nil {
		t.Fatalf("AddCustomSelection: %v", err)
	}
	return o
}

func compareStates(t *testing.T, want, got *pipeline.State) {
	t.Helper()
	opts := cmp.Options{cmpopts.EquateNaNs(), cmpopts.EquateEmpty()}
	if diff := cmp.Diff(want.Parameters(), got.Parameters(), opts); diff != "" {
		t.Fatalf("parameters differ (-want +got):\n%s", diff)
	}

	wantIn, _ := want.Inputs.Result()
	gotIn, ok := got.Inputs.Result()
	if !ok {
		t.Fatalf("inputs not restored")
	}
	if !mat.Equal(wantIn.Dataset.Counts, gotIn.Dataset.Counts) {
		t.Fatalf("counts differ after round trip")
	}

	check := func(name string, a, b any) {
		if diff := cmp.Diff(a, b, opts); diff != "" {
			t.Fatalf("%s differs (-want +got):\n%s", name, diff)
		}
	}
	result := func(r any, _ bool) any { return r }
	check("qc", result(want.QualityControl.Result()), result(got.QualityControl.Result()))
	check("normalization", result(want.Normalization.Result()), result(got.Normalization.Result()))
	check("feature selection", result(want.FeatureSelection.Result()), result(got.FeatureSelection.Result()))
	check("pca", result(want.PCA.Result()), result(got.PCA.Result()))
	check("neighbor index", result(want.NeighborIndex.Result()), result(got.NeighborIndex.Result()))
	check("tsne", result(want.TSNE.Result()), result(got.TSNE.Result()))
	check("umap", result(want.UMAP.Result()), result(got.UMAP.Result()))
	check("kmeans", result(want.KMeansCluster.Result()), result(got.KMeansCluster.Result()))
	check("snn", result(want.SNNGraphCluster.Result()), result(got.SNNGraphCluster.Result()))
	check("choose", result(want.ChooseClustering.Result()), result(got.ChooseClustering.Result()))
	check("markers", result(want.MarkerDetection.Result()), result(got.MarkerDetection.Result()))
	check("labelling", result(want.CellLabelling.Result()), result(got.CellLabelling.Result()))
	check("custom selections", result(want.CustomSelections.Result()), result(got.CustomSelections.Result()))
}

func TestEmbeddedRoundTrip(t *testing.T) {
	ctx := context.Background()
	o := runPipeline(t)

	data, ids, err := kanafile.Serialize(ctx, o.Current(), true, nil)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("embedded mode should not link files, got %v", ids)
	}
	if !bytes.HasPrefix(data, []byte("KANA")) {
		t.Fatalf("missing magic")
	}

	restored, err := kanafile.Deserialize(ctx, data, nil)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	compareStates(t, o.Current(), restored)

	again, _, err := kanafile.Serialize(ctx, restored, true, nil)
	if err != nil {
		t.Fatalf("Serialize restored: %v", err)
	}
	if !bytes.Equal(data, again) {
		t.Fatalf("re-serializing a restored state should be byte identical")
	}
}

func TestRestoredStateRerunsFromCache(t *testing.T) {
	ctx := context.Background()
	o := runPipeline(t)
	data, _, err := kanafile.Serialize(ctx, o.Current(), true, nil)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	restored, err := kanafile.Deserialize(ctx, data, nil)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}

	fresh := pipeline.New(stages.Env{Threads: 2}, references.NewStore(nil, ""))
	fresh.Replace(restored)
	changed, err := fresh.Run(ctx, pipelinetest.Parameters(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for name, c := range changed {
		if c {
			t.Fatalf("%s recomputed after restore with identical parameters", name)
		}
	}
}

func TestLinkedRoundTripDeduplicates(t *testing.T) {
	ctx := context.Background()
	o := runPipeline(t)
	store := object.NewMemoryStore()
	svc := &artifacts.Service{Store: store, Repo: artifacts.NewMemoryRepo()}

	data, ids, err := kanafile.Serialize(ctx, o.Current(), false, svc)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 linked files, got %v", ids)
	}
	before := store.Len()

	_, ids2, err := kanafile.Serialize(ctx, o.Current(), false, svc)
	if err != nil {
		t.Fatalf("Serialize again: %v", err)
	}
	if diff := cmp.Diff(ids, ids2); diff != "" {
		t.Fatalf("link ids changed (-first +second):\n%s", diff)
	}
	if store.Len() != before {
		t.Fatalf("relinking identical files grew the store from %d to %d", before, store.Len())
	}

	restored, err := kanafile.Deserialize(ctx, data, svc)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	compareStates(t, o.Current(), restored)
}

func TestMissingArtifactIsPersistenceFailure(t *testing.T) {
	ctx := context.Background()
	o := runPipeline(t)
	svc := &artifacts.Service{Store: object.NewMemoryStore(), Repo: artifacts.NewMemoryRepo()}

	data, ids, err := kanafile.Serialize(ctx, o.Current(), false, svc)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if _, err := svc.Delete(ctx, ids[1]); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	_, err = kanafile.Deserialize(ctx, data, svc)
	if failure.KindOf(err) != failure.KindPersistence {
		t.Fatalf("expected persistence failure, got %v", err)
	}
	if !errors.Is(err, artifacts.ErrNotFound) {
		t.Fatalf("expected artifacts.ErrNotFound in chain, got %v", err)
	}
}

func TestRejectsCorruptContainers(t *testing.T) {
	ctx := context.Background()
	o := runPipeline(t)
	data, _, err := kanafile.Serialize(ctx, o.Current(), true, nil)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	cases := map[string][]byte{
		"empty":     nil,
		"bad magic": append([]byte("NOPE"), data[4:]...),
		"truncated": data[:30],
	}
	for name, blob := range cases {
		_, err := kanafile.Deserialize(ctx, blob, nil)
		if failure.KindOf(err) != failure.KindValidation || !errors.Is(err, kanafile.ErrFormat) {
			t.Fatalf("%s: expected validation failure wrapping ErrFormat, got %v", name, err)
		}
	}
}

func TestInspect(t *testing.T) {
	ctx := context.Background()
	o := runPipeline(t)
	data, _, err := kanafile.Serialize(ctx, o.Current(), true, nil)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	info, err := kanafile.Inspect(data)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if info.Mode != "embedded" || info.Version != kanafile.Version {
		t.Fatalf("info = %+v", info)
	}
	if diff := cmp.Diff(pipeline.Order(), info.Stages); diff != "" {
		t.Fatalf("stages (-want +got):\n%s", diff)
	}
	if len(info.Files) != 3 || info.Files[0].Size == 0 {
		t.Fatalf("files = %+v", info.Files)
	}
}

func TestSerializeRequiresLinkerInLinkedMode(t *testing.T) {
	_, _, err := kanafile.Serialize(context.Background(), pipeline.NewState(), false, nil)
	if failure.KindOf(err) != failure.KindPersistence {
		t.Fatalf("expected persistence failure, got %v", err)
	}
}
