package stages

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"kana-backend/internal/matrix"
	"kana-backend/internal/references"
)

var testEnv = Env{Threads: 2}

type chain struct {
	in    *InputsResult
	qc    *QCResult
	norm  *NormResult
	fs    *FeatureSelectionResult
	pca   *PCAResult
	index *NeighborIndexResult
}

func buildChain(t *testing.T, batch string) chain {
	t.Helper()
	files := matrix.Synthetic(matrix.SyntheticConfig{Genes: 30, Cells: 60, Groups: 3, Batches: 2, LowQuality: 3, Seed: 7})
	var c chain
	var err error
	c.in, err = LoadInputs(InputsParams{Files: files, Batch: batch})
	require.NoError(t, err)
	c.qc, err = ComputeQC(c.in, QCParams{UseMitoDefault: true, NMADs: 3}, testEnv)
	require.NoError(t, err)
	c.norm, err = ComputeNormalization(c.in, c.qc, NormParams{}, testEnv)
	require.NoError(t, err)
	c.fs, err = ComputeFeatureSelection(c.norm, FeatureSelectionParams{Span: 0.3}, testEnv)
	require.NoError(t, err)
	c.pca, err = ComputePCA(c.in, c.qc, c.norm, c.fs, PCAParams{NumHVGs: 20, NumPCs: 5, BlockMethod: BlockNone}, testEnv)
	require.NoError(t, err)
	c.index, err = BuildNeighborIndex(c.pca, NeighborIndexParams{Approximate: true})
	require.NoError(t, err)
	return c
}

type staticRefs map[string]references.Reference

func (s staticRefs) Reference(_ context.Context, name string) (references.Reference, error) {
	ref, ok := s[name]
	if !ok {
		return references.Reference{}, references.ErrNotFound
	}
	return ref, nil
}
