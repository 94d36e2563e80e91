package stages

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kana-backend/internal/matrix"
	"kana-backend/internal/references"
)

func TestQCDiscardsLowQualityCells(t *testing.T) {
	c := buildChain(t, "")
	n := c.in.Dataset.NumCells()

	assert.Len(t, c.qc.Sums, n)
	assert.Less(t, len(c.qc.Retained), n)
	for cell := n - 3; cell < n; cell++ {
		assert.True(t, c.qc.Discard[cell], "cell %d should be discarded", cell)
	}
	pct, ok := c.qc.Metric("mito_percent")
	require.True(t, ok)
	assert.Len(t, c.qc.Filter(pct), len(c.qc.Retained))
}

func TestQCBlocksByBatch(t *testing.T) {
	c := buildChain(t, "batch")
	assert.Len(t, c.qc.Thresholds, 2)
	assert.Equal(t, []string{"b0", "b1"}, c.in.BatchLevels)
}

func TestInputsRejectsUnknownBatch(t *testing.T) {
	files := matrix.Synthetic(matrix.SyntheticConfig{Genes: 10, Cells: 10, Seed: 1})
	_, err := LoadInputs(InputsParams{Files: files, Batch: "nope"})
	assert.ErrorIs(t, err, matrix.ErrMalformed)
}

func TestNormalizationShape(t *testing.T) {
	c := buildChain(t, "")
	assert.Equal(t, c.in.Dataset.NumGenes(), c.norm.LogCounts.Rows)
	assert.Equal(t, len(c.qc.Retained), c.norm.LogCounts.Cols)
	assert.Len(t, c.norm.Expression(0), len(c.qc.Retained))
}

func TestPCAShape(t *testing.T) {
	c := buildChain(t, "")
	assert.Equal(t, len(c.qc.Retained), c.pca.Components.Rows)
	assert.Equal(t, 5, c.pca.Components.Cols)
	assert.Len(t, c.pca.HVGs, 20)
	for i := 1; i < len(c.pca.VarianceExplained); i++ {
		assert.LessOrEqual(t, c.pca.VarianceExplained[i], c.pca.VarianceExplained[i-1])
	}

	regressed, err := ComputePCA(c.in, c.qc, c.norm, c.fs, PCAParams{NumHVGs: 20, NumPCs: 3, BlockMethod: BlockRegress}, testEnv)
	require.NoError(t, err)
	assert.Equal(t, 3, regressed.Components.Cols)
}

func TestParameterValidation(t *testing.T) {
	c := buildChain(t, "")
	checks := map[string]error{}
	_, checks["qc nmads"] = ComputeQC(c.in, QCParams{NMADs: 0}, testEnv)
	_, checks["fs span"] = ComputeFeatureSelection(c.norm, FeatureSelectionParams{Span: 1.5}, testEnv)
	_, checks["pca block"] = ComputePCA(c.in, c.qc, c.norm, c.fs, PCAParams{NumHVGs: 5, NumPCs: 2, BlockMethod: "magic"}, testEnv)
	_, checks["pca pcs"] = ComputePCA(c.in, c.qc, c.norm, c.fs, PCAParams{NumHVGs: 5, NumPCs: 0, BlockMethod: BlockNone}, testEnv)
	_, checks["kmeans k"] = ComputeKMeans(c.pca, KMeansParams{K: 0}, testEnv)
	_, checks["snn scheme"] = ComputeSNNClusters(c.index, SNNParams{K: 5, Scheme: "odd", Resolution: 1}, testEnv)
	_, checks["tsne perplexity"] = NewTSNERun(c.index, TSNEParams{Perplexity: 0, Iterations: 10}, testEnv)
	_, checks["umap epochs"] = NewUMAPRun(c.index, UMAPParams{NumNeighbors: 5, NumEpochs: 0}, testEnv)
	_, checks["choose method"] = SelectClustering(nil, nil, ChooseClusteringParams{Method: "other"})
	for name, err := range checks {
		assert.ErrorIs(t, err, ErrInvalidParameter, name)
	}

	_, err := ComputeNormalization(nil, nil, NormParams{}, testEnv)
	assert.ErrorIs(t, err, ErrUpstreamMissing)
}

func TestNeighborSearch(t *testing.T) {
	c := buildChain(t, "")
	nb, err := c.index.Search(4, testEnv)
	require.NoError(t, err)
	for i, idx := range nb.Index {
		require.Len(t, idx, 4)
		assert.NotContains(t, idx, i)
		for q := 1; q < len(idx); q++ {
			assert.LessOrEqual(t, nb.Distance[i][q-1], nb.Distance[i][q])
		}
	}
}

func TestClusteringsCoverAllCells(t *testing.T) {
	c := buildChain(t, "")
	n := len(c.qc.Retained)

	km, err := ComputeKMeans(c.pca, KMeansParams{K: 3}, testEnv)
	require.NoError(t, err)
	assert.Len(t, km.Assignments, n)
	assert.Equal(t, 3, km.NumClusters)

	snn, err := ComputeSNNClusters(c.index, SNNParams{K: 8, Scheme: SchemeRank, Resolution: 1}, testEnv)
	require.NoError(t, err)
	assert.Len(t, snn.Assignments, n)
	assert.GreaterOrEqual(t, snn.NumClusters, 1)
	total := 0
	for _, s := range snn.Sizes() {
		total += s
	}
	assert.Equal(t, n, total)

	for _, scheme := range []string{SchemeNumber, SchemeJaccard} {
		_, err := ComputeSNNClusters(c.index, SNNParams{K: 8, Scheme: scheme, Resolution: 0.5}, testEnv)
		assert.NoError(t, err, scheme)
	}

	chosen, err := SelectClustering(km, snn, ChooseClusteringParams{Method: MethodKMeans})
	require.NoError(t, err)
	assert.Equal(t, km.Assignments, chosen.Assignments)
}

func TestMarkersAndLabelling(t *testing.T) {
	c := buildChain(t, "")
	km, err := ComputeKMeans(c.pca, KMeansParams{K: 3}, testEnv)
	require.NoError(t, err)
	markers, err := ComputeMarkers(c.norm, km, MarkerParams{}, testEnv)
	require.NoError(t, err)
	require.Len(t, markers.Clusters, 3)

	ranked, err := markers.Ranked(0, RankLFC)
	require.NoError(t, err)
	assert.Len(t, ranked.Ordering, c.in.Dataset.NumGenes())
	for i := 1; i < len(ranked.LFC); i++ {
		assert.GreaterOrEqual(t, ranked.LFC[i-1], ranked.LFC[i])
	}
	_, err = markers.Ranked(9, RankCohen)
	assert.ErrorIs(t, err, ErrInvalidParameter)

	byCohen, err := markers.Ranked(0, RankCohen)
	require.NoError(t, err)
	top := c.in.Dataset.Genes[byCohen.Ordering[0]].Symbol
	refs := staticRefs{
		"Ref": {Name: "Ref", Species: references.Human, Labels: []references.Label{
			{Name: "Top", Markers: []string{top}},
			{Name: "Mito", Markers: []string{"MT-CO1"}},
		}},
	}
	lab, err := ComputeCellLabelling(context.Background(), c.in, markers, refs, CellLabellingParams{HumanReferences: []string{"Ref"}})
	require.NoError(t, err)
	assert.Equal(t, references.Human, lab.Species)
	assert.Equal(t, "Top", lab.PerReference["Ref"][0])
	assert.Nil(t, lab.Integrated)

	_, err = ComputeCellLabelling(context.Background(), c.in, markers, refs, CellLabellingParams{HumanReferences: []string{"Missing"}})
	assert.True(t, errors.Is(err, references.ErrNotFound))
}

func TestCustomSelections(t *testing.T) {
	c := buildChain(t, "")
	sel, err := NewCustomSelections(c.norm, CustomSelectionsParams{})
	require.NoError(t, err)

	require.NoError(t, sel.Add("first", []int{0, 3, 3, 6}, c.norm, testEnv))
	assert.Equal(t, []int{0, 3, 6}, sel.Selections["first"].Cells)

	ranked, err := sel.Ranked("first", RankCohen)
	require.NoError(t, err)
	assert.Len(t, ranked.Ordering, c.norm.LogCounts.Rows)

	assert.ErrorIs(t, sel.Add("bad", []int{-1}, c.norm, testEnv), ErrInvalidParameter)
	assert.ErrorIs(t, sel.Add("empty", nil, c.norm, testEnv), ErrInvalidParameter)
	assert.Equal(t, []string{"first"}, sel.IDs())
	assert.True(t, sel.Remove("first"))
	assert.False(t, sel.Remove("first"))
}
