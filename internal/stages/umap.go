package stages

// UMAPParams configures the UMAP layout.
type UMAPParams struct {
	NumNeighbors int     `cbor:"num_neighbors" json:"num_neighbors" yaml:"num_neighbors"`
	NumEpochs    int     `cbor:"num_epochs" json:"num_epochs" yaml:"num_epochs"`
	MinDist      float64 `cbor:"min_dist" json:"min_dist" yaml:"min_dist"`
	Animate      bool    `cbor:"animate" json:"animate" yaml:"animate"`
}

func (p UMAPParams) Equal(o UMAPParams) bool {
	return p.NumNeighbors == o.NumNeighbors && p.NumEpochs == o.NumEpochs && p.MinDist == o.MinDist
}

// NewUMAPRun prepares a UMAP run over the neighbor index.
func NewUMAPRun(ix *NeighborIndexResult, p UMAPParams, env Env) (*Run, error) {
	if p.NumNeighbors < 1 {
		return nil, invalidf("num_neighbors must be at least 1, got %d", p.NumNeighbors)
	}
	if p.MinDist < 0 {
		return nil, invalidf("min_dist must not be negative, got %v", p.MinDist)
	}
	cfg := layoutConfig{
		neighbors:    p.NumNeighbors,
		minDist:      p.MinDist + 1e-3,
		negatives:    5,
		exaggeration: 1,
		seed:         0x756d6170,
	}
	return newRun(ix, cfg, p.NumEpochs, env)
}
