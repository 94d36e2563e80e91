// Package matrix parses count-matrix inputs: a MatrixMarket coordinate file,
// an optional gene list and an optional per-cell annotation table.
package matrix

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"gonum.org/v1/gonum/mat"
)

// File kinds accepted as inputs.
const (
	KindMatrix      = "mtx"
	KindGenes       = "genes"
	KindAnnotations = "annotations"
)

var (
	ErrMalformed         = errors.New("malformed input")
	ErrDimensionMismatch = errors.New("input dimensions do not agree")
	ErrMissingMatrix     = errors.New("no count matrix supplied")
)

// Gene identifies one row of the count matrix.
type Gene struct {
	ID     string `cbor:"id" json:"id"`
	Symbol string `cbor:"symbol" json:"symbol"`
}

// Dataset is a parsed set of inputs. Counts is genes x cells.
type Dataset struct {
	Counts      *mat.Dense
	Genes       []Gene
	Annotations *Annotations
}

// NumGenes returns the number of matrix rows.
func (d *Dataset) NumGenes() int {
	r, _ := d.Counts.Dims()
	return r
}

// NumCells returns the number of matrix columns.
func (d *Dataset) NumCells() int {
	_, c := d.Counts.Dims()
	return c
}

// File is one named input with its raw bytes.
type File struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
	Data []byte `json:"data"`
}

// Load parses files into a Dataset. Exactly one matrix file is required.
func Load(files []File) (*Dataset, error) {
	var mtx, genes, annots *File
	for i := range files {
		f := &files[i]
		switch f.Kind {
		case KindMatrix:
			mtx = f
		case KindGenes:
			genes = f
		case KindAnnotations:
			annots = f
		default:
			return nil, fmt.Errorf("%w: unknown file kind %q", ErrMalformed, f.Kind)
		}
	}
	if mtx == nil {
		return nil, ErrMissingMatrix
	}

	counts, err := ParseMatrixMarket(bytes.NewReader(mtx.Data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", mtx.Name, err)
	}
	nGenes, nCells := counts.Dims()
	ds := &Dataset{Counts: counts}

	if genes != nil {
		ds.Genes, err = ParseGenes(bytes.NewReader(genes.Data), nGenes)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", genes.Name, err)
		}
	} else {
		ds.Genes = make([]Gene, nGenes)
		for i := range ds.Genes {
			ds.Genes[i] = Gene{ID: "gene_" + strconv.Itoa(i+1), Symbol: "gene_" + strconv.Itoa(i+1)}
		}
	}

	if annots != nil {
		ds.Annotations, err = ParseAnnotations(bytes.NewReader(annots.Data), nCells)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", annots.Name, err)
		}
	}
	return ds, nil
}

// ParseMatrixMarket reads a coordinate-format MatrixMarket file, gzipped or
// not, into a dense genes x cells matrix.
func ParseMatrixMarket(r io.Reader) (*mat.Dense, error) {
	br := bufio.NewReader(r)
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("%w: gzip: %v", ErrMalformed, err)
		}
		defer gz.Close()
		br = bufio.NewReader(gz)
	}

	sc := bufio.NewScanner(br)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	if !sc.Scan() {
		return nil, fmt.Errorf("%w: empty matrix", ErrMalformed)
	}
	header := strings.Fields(strings.ToLower(sc.Text()))
	if len(header) < 4 || header[0] != "%%matrixmarket" || header[1] != "matrix" || header[2] != "coordinate" {
		return nil, fmt.Errorf("%w: expected a MatrixMarket coordinate header", ErrMalformed)
	}

	var m *mat.Dense
	var entries, seen int
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "%") {
			continue
		}
		fields := strings.Fields(line)
		if m == nil {
			if len(fields) != 3 {
				return nil, fmt.Errorf("%w: bad size line %q", ErrMalformed, line)
			}
			rows, err1 := strconv.Atoi(fields[0])
			cols, err2 := strconv.Atoi(fields[1])
			n, err3 := strconv.Atoi(fields[2])
			if err1 != nil || err2 != nil || err3 != nil || rows <= 0 || cols <= 0 || n < 0 {
				return nil, fmt.Errorf("%w: bad size line %q", ErrMalformed, line)
			}
			m = mat.NewDense(rows, cols, nil)
			entries = n
			continue
		}
		if len(fields) < 3 {
			return nil, fmt.Errorf("%w: bad entry %q", ErrMalformed, line)
		}
		i, err1 := strconv.Atoi(fields[0])
		j, err2 := strconv.Atoi(fields[1])
		v, err3 := strconv.ParseFloat(fields[2], 64)
		rows, cols := m.Dims()
		if err1 != nil || err2 != nil || err3 != nil || i < 1 || j < 1 || i > rows || j > cols {
			return nil, fmt.Errorf("%w: bad entry %q", ErrMalformed, line)
		}
		if v < 0 {
			return nil, fmt.Errorf("%w: negative count %q", ErrMalformed, line)
		}
		m.Set(i-1, j-1, m.At(i-1, j-1)+v)
		seen++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: missing size line", ErrMalformed)
	}
	if seen != entries {
		return nil, fmt.Errorf("%w: header declares %d entries, found %d", ErrMalformed, entries, seen)
	}
	return m, nil
}

// ParseGenes reads a features/genes TSV with one gene per line: id, then an
// optional symbol.
func ParseGenes(r io.Reader, nGenes int) ([]Gene, error) {
	sc := bufio.NewScanner(r)
	var genes []Gene
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		g := Gene{ID: strings.TrimSpace(fields[0])}
		g.Symbol = g.ID
		if len(fields) > 1 && strings.TrimSpace(fields[1]) != "" {
			g.Symbol = strings.TrimSpace(fields[1])
		}
		genes = append(genes, g)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(genes) != nGenes {
		return nil, fmt.Errorf("%w: %d genes for %d matrix rows", ErrDimensionMismatch, len(genes), nGenes)
	}
	return genes, nil
}
