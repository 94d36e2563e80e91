package stages

import (
	"sort"
	"strings"
)

// CustomSelectionsParams has no settings; selections are added by command.
type CustomSelectionsParams struct{}

func (CustomSelectionsParams) Equal(CustomSelectionsParams) bool { return true }

// Selection is a user-chosen set of retained cells and its markers against
// all other cells.
type Selection struct {
	Cells   []int      `cbor:"cells"`
	Markers GroupStats `cbor:"markers"`
}

// CustomSelectionsResult holds selections by id.
type CustomSelectionsResult struct {
	Selections map[string]*Selection `cbor:"selections"`
}

// NewCustomSelections starts an empty set. Selections index retained cells,
// so a rerun of normalization discards them.
func NewCustomSelections(norm *NormResult, _ CustomSelectionsParams) (*CustomSelectionsResult, error) {
	if norm == nil {
		return nil, missing(Normalization)
	}
	return &CustomSelectionsResult{Selections: map[string]*Selection{}}, nil
}

// Add scores cells against the rest and stores the selection under id,
// replacing any previous selection with that id.
func (r *CustomSelectionsResult) Add(id string, cells []int, norm *NormResult, env Env) error {
	if strings.TrimSpace(id) == "" {
		return invalidf("selection id is empty")
	}
	if norm == nil {
		return missing(Normalization)
	}
	n := norm.LogCounts.Cols
	groups := make([]int, n)
	for i := range groups {
		groups[i] = 1
	}
	seen := map[int]bool{}
	for _, c := range cells {
		if c < 0 || c >= n {
			return invalidf("cell %d out of range [0, %d)", c, n)
		}
		seen[c] = true
		groups[c] = 0
	}
	if len(seen) == 0 {
		return invalidf("selection %q is empty", id)
	}
	stats, err := scoreGroups(norm.LogCounts, groups, 2, env)
	if err != nil {
		return err
	}
	sorted := make([]int, 0, len(seen))
	for c := range seen {
		sorted = append(sorted, c)
	}
	sort.Ints(sorted)
	r.Selections[id] = &Selection{Cells: sorted, Markers: stats[0]}
	return nil
}

// Remove deletes a selection, reporting whether it existed.
func (r *CustomSelectionsResult) Remove(id string) bool {
	if _, ok := r.Selections[id]; !ok {
		return false
	}
	delete(r.Selections, id)
	return true
}

// Ranked returns a selection's markers ordered by rankType.
func (r *CustomSelectionsResult) Ranked(id, rankType string) (RankedMarkers, error) {
	sel, ok := r.Selections[id]
	if !ok {
		return RankedMarkers{}, invalidf("no selection %q", id)
	}
	return rankGroup(sel.Markers, rankType)
}

// IDs returns selection ids in sorted order.
func (r *CustomSelectionsResult) IDs() []string {
	ids := make([]string, 0, len(r.Selections))
	for id := range r.Selections {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
