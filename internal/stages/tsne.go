package stages

import "math"

// TSNEParams configures the t-SNE layout.
type TSNEParams struct {
	Perplexity float64 `cbor:"perplexity" json:"perplexity" yaml:"perplexity"`
	Iterations int     `cbor:"iterations" json:"iterations" yaml:"iterations"`
	// Animate streams intermediate layouts while the run is computed.
	Animate bool `cbor:"animate" json:"animate" yaml:"animate"`
}

// Equal ignores Animate, which never changes the result.
func (p TSNEParams) Equal(o TSNEParams) bool {
	return p.Perplexity == o.Perplexity && p.Iterations == o.Iterations
}

// NewTSNERun prepares a t-SNE run over the neighbor index. The neighborhood
// size follows the usual 3x perplexity rule.
func NewTSNERun(ix *NeighborIndexResult, p TSNEParams, env Env) (*Run, error) {
	if !(p.Perplexity > 0) {
		return nil, invalidf("perplexity must be positive, got %v", p.Perplexity)
	}
	cfg := layoutConfig{
		neighbors:    max(1, int(math.Ceil(3*p.Perplexity))),
		minDist:      1e-3,
		negatives:    2,
		exaggeration: 4,
		exaggerate:   0.25,
		seed:         0x7453,
	}
	return newRun(ix, cfg, p.Iterations, env)
}
