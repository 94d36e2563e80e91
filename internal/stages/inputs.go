package stages

import (
	"bytes"
	"fmt"

	"kana-backend/internal/matrix"
)

// InputsParams names the input files and the annotation column, if any, that
// marks each cell's batch.
type InputsParams struct {
	Files []matrix.File `cbor:"-" json:"-" yaml:"-"`
	Batch string        `cbor:"batch" json:"batch" yaml:"batch"`
}

func (p InputsParams) Equal(o InputsParams) bool {
	if p.Batch != o.Batch || len(p.Files) != len(o.Files) {
		return false
	}
	for i := range p.Files {
		a, b := p.Files[i], o.Files[i]
		if a.Kind != b.Kind || a.Name != b.Name || !bytes.Equal(a.Data, b.Data) {
			return false
		}
	}
	return true
}

// InputsResult is the parsed dataset plus the per-cell batch blocking.
type InputsResult struct {
	Dataset     *matrix.Dataset
	Files       []matrix.File
	BatchLevels []string
	// Batch holds each raw cell's level index, or nil when unblocked.
	Batch []int
}

// NumBlocks returns the number of batch levels, 1 when unblocked.
func (r *InputsResult) NumBlocks() int {
	if len(r.BatchLevels) == 0 {
		return 1
	}
	return len(r.BatchLevels)
}

// LoadInputs parses the input files. Parse errors keep their matrix sentinel
// so callers can report them as validation failures.
func LoadInputs(p InputsParams) (*InputsResult, error) {
	ds, err := matrix.Load(p.Files)
	if err != nil {
		return nil, err
	}
	res := &InputsResult{Dataset: ds, Files: p.Files}
	if p.Batch != "" {
		levels, codes, ok := ds.Annotations.Levels(p.Batch)
		if !ok {
			return nil, fmt.Errorf("%w: batch column %q not in annotations", matrix.ErrMalformed, p.Batch)
		}
		res.BatchLevels, res.Batch = levels, codes
	}
	return res, nil
}
