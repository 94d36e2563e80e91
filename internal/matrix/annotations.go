package matrix

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Annotations holds per-cell metadata columns in header order.
type Annotations struct {
	Columns []string            `cbor:"columns" json:"columns"`
	Values  map[string][]string `cbor:"values" json:"values"`
}

// Column returns one column's values, or false if absent.
func (a *Annotations) Column(name string) ([]string, bool) {
	if a == nil {
		return nil, false
	}
	v, ok := a.Values[name]
	return v, ok
}

// Numeric converts a column to float64 when every value parses.
func (a *Annotations) Numeric(name string) ([]float64, bool) {
	col, ok := a.Column(name)
	if !ok {
		return nil, false
	}
	out := make([]float64, len(col))
	for i, s := range col {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

// Levels returns a column's distinct values in first-seen order and the level
// index of each cell.
func (a *Annotations) Levels(name string) ([]string, []int, bool) {
	col, ok := a.Column(name)
	if !ok {
		return nil, nil, false
	}
	index := map[string]int{}
	var levels []string
	codes := make([]int, len(col))
	for i, v := range col {
		k, seen := index[v]
		if !seen {
			k = len(levels)
			index[v] = k
			levels = append(levels, v)
		}
		codes[i] = k
	}
	return levels, codes, true
}

// ParseAnnotations reads a CSV (or TSV) with a header row and one row per cell.
func ParseAnnotations(r io.Reader, nCells int) (*Annotations, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	cr := csv.NewReader(strings.NewReader(string(raw)))
	if firstLine, _, _ := strings.Cut(string(raw), "\n"); strings.Contains(firstLine, "\t") && !strings.Contains(firstLine, ",") {
		cr.Comma = '\t'
	}
	cr.TrimLeadingSpace = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: empty annotation file", ErrMalformed)
	}
	header := rows[0]
	body := rows[1:]
	if len(body) != nCells {
		return nil, fmt.Errorf("%w: %d annotation rows for %d cells", ErrDimensionMismatch, len(body), nCells)
	}

	a := &Annotations{Columns: make([]string, len(header)), Values: make(map[string][]string, len(header))}
	for j, name := range header {
		name = strings.TrimSpace(name)
		if name == "" {
			name = "column_" + strconv.Itoa(j+1)
		}
		if _, dup := a.Values[name]; dup {
			return nil, fmt.Errorf("%w: duplicate annotation column %q", ErrMalformed, name)
		}
		a.Columns[j] = name
		col := make([]string, len(body))
		for i, row := range body {
			col[i] = row[j]
		}
		a.Values[name] = col
	}
	return a, nil
}
