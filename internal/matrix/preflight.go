package matrix

// Summary describes inputs without building an analysis.
type Summary struct {
	NumGenes    int                 `json:"numGenes"`
	NumCells    int                 `json:"numCells"`
	Annotations map[string][]string `json:"annotations"`
}

// maxPreviewLevels caps the distinct values reported per annotation column.
const maxPreviewLevels = 50

// Preflight parses files and reports their shape and annotation levels.
func Preflight(files []File) (Summary, error) {
	ds, err := Load(files)
	if err != nil {
		return Summary{}, err
	}
	s := Summary{
		NumGenes:    ds.NumGenes(),
		NumCells:    ds.NumCells(),
		Annotations: map[string][]string{},
	}
	if ds.Annotations != nil {
		for _, col := range ds.Annotations.Columns {
			levels, _, _ := ds.Annotations.Levels(col)
			if len(levels) > maxPreviewLevels {
				levels = levels[:maxPreviewLevels]
			}
			s.Annotations[col] = levels
		}
	}
	return s, nil
}
