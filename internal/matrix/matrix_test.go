package matrix

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const smallMTX = `%%MatrixMarket matrix coordinate integer general
% comment
3 2 4
1 1 5
2 1 1
3 2 7
1 2 2
`

func TestParseMatrixMarket(t *testing.T) {
	m, err := ParseMatrixMarket(strings.NewReader(smallMTX))
	require.NoError(t, err)
	r, c := m.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 2, c)
	assert.Equal(t, 5.0, m.At(0, 0))
	assert.Equal(t, 7.0, m.At(2, 1))
	assert.Equal(t, 0.0, m.At(1, 1))
}

func TestParseMatrixMarketGzip(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, _ = gz.Write([]byte(smallMTX))
	require.NoError(t, gz.Close())

	m, err := ParseMatrixMarket(&buf)
	require.NoError(t, err)
	assert.Equal(t, 2.0, m.At(0, 1))
}

func TestParseMatrixMarketRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"header":   "hello\n1 1 1\n1 1 1\n",
		"count":    "%%MatrixMarket matrix coordinate integer general\n2 2 3\n1 1 1\n",
		"range":    "%%MatrixMarket matrix coordinate integer general\n2 2 1\n3 1 1\n",
		"negative": "%%MatrixMarket matrix coordinate real general\n2 2 1\n1 1 -1\n",
		"no size":  "%%MatrixMarket matrix coordinate integer general\n",
		"array":    "%%MatrixMarket matrix array real general\n2 2\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseMatrixMarket(strings.NewReader(body))
			assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)
		})
	}
}

func TestLoadWithGenesAndAnnotations(t *testing.T) {
	ds, err := Load([]File{
		{Kind: KindMatrix, Name: "m.mtx", Data: []byte(smallMTX)},
		{Kind: KindGenes, Name: "g.tsv", Data: []byte("ENSG1\tMT-CO1\nENSG2\tACTB\nENSG3\n")},
		{Kind: KindAnnotations, Name: "a.csv", Data: []byte("batch,score\nA,1.5\nB,2\n")},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, ds.NumGenes())
	assert.Equal(t, 2, ds.NumCells())
	assert.Equal(t, "MT-CO1", ds.Genes[0].Symbol)
	assert.Equal(t, "ENSG3", ds.Genes[2].Symbol)

	levels, codes, ok := ds.Annotations.Levels("batch")
	require.True(t, ok)
	assert.Equal(t, []string{"A", "B"}, levels)
	assert.Equal(t, []int{0, 1}, codes)

	score, ok := ds.Annotations.Numeric("score")
	require.True(t, ok)
	assert.Equal(t, []float64{1.5, 2}, score)
	_, ok = ds.Annotations.Numeric("batch")
	assert.False(t, ok)
}

func TestLoadDimensionMismatch(t *testing.T) {
	_, err := Load([]File{
		{Kind: KindMatrix, Name: "m.mtx", Data: []byte(smallMTX)},
		{Kind: KindGenes, Name: "g.tsv", Data: []byte("ENSG1\n")},
	})
	assert.True(t, errors.Is(err, ErrDimensionMismatch), "got %v", err)

	_, err = Load([]File{
		{Kind: KindMatrix, Name: "m.mtx", Data: []byte(smallMTX)},
		{Kind: KindAnnotations, Name: "a.csv", Data: []byte("batch\nA\n")},
	})
	assert.True(t, errors.Is(err, ErrDimensionMismatch), "got %v", err)
}

func TestLoadRequiresMatrix(t *testing.T) {
	_, err := Load(nil)
	assert.ErrorIs(t, err, ErrMissingMatrix)
}

func TestPreflight(t *testing.T) {
	s, err := Preflight([]File{
		{Kind: KindMatrix, Name: "m.mtx", Data: []byte(smallMTX)},
		{Kind: KindAnnotations, Name: "a.tsv", Data: []byte("batch\tdonor\nA\td1\nA\td2\n")},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, s.NumCells)
	assert.Equal(t, []string{"A"}, s.Annotations["batch"])
	assert.Equal(t, []string{"d1", "d2"}, s.Annotations["donor"])
}

func TestSyntheticParses(t *testing.T) {
	files := Synthetic(SyntheticConfig{Genes: 30, Cells: 40, Groups: 3, Batches: 2, LowQuality: 2, Seed: 1})
	ds, err := Load(files)
	require.NoError(t, err)
	assert.Equal(t, 30, ds.NumGenes())
	assert.Equal(t, 40, ds.NumCells())
	assert.Equal(t, "MT-CO1", ds.Genes[0].Symbol)
	levels, _, ok := ds.Annotations.Levels("batch")
	require.True(t, ok)
	assert.Len(t, levels, 2)
}
