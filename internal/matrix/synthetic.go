package matrix

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
)

// SyntheticConfig shapes a generated dataset.
type SyntheticConfig struct {
	Genes      int
	Cells      int
	Groups     int
	Batches    int
	LowQuality int
	Seed       uint64
}

// Synthetic generates a small clustered dataset as input files: Groups cell
// populations each over-expressing its own block of genes, a few
// mitochondrial genes, and LowQuality trailing cells with few counts and high
// mitochondrial load.
func Synthetic(cfg SyntheticConfig) []File {
	if cfg.Groups < 1 {
		cfg.Groups = 1
	}
	if cfg.Batches < 1 {
		cfg.Batches = 1
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, 0x6b616e61))
	const mito = 3
	block := max(1, (cfg.Genes-mito)/cfg.Groups)

	type entry struct{ g, c, v int }
	var entries []entry
	for c := 0; c < cfg.Cells; c++ {
		group := c % cfg.Groups
		bad := c >= cfg.Cells-cfg.LowQuality
		for g := 0; g < cfg.Genes; g++ {
			var lambda float64
			switch {
			case g < mito:
				lambda = 2
				if bad {
					lambda = 40
				}
			case bad:
				lambda = 0.05
			case (g-mito)/block == group:
				lambda = 12
			default:
				lambda = 1.5
			}
			if v := poisson(rng, lambda); v > 0 {
				entries = append(entries, entry{g, c, v})
			}
		}
	}

	var mtx strings.Builder
	mtx.WriteString("%%MatrixMarket matrix coordinate integer general\n")
	fmt.Fprintf(&mtx, "%d %d %d\n", cfg.Genes, cfg.Cells, len(entries))
	for _, e := range entries {
		fmt.Fprintf(&mtx, "%d %d %d\n", e.g+1, e.c+1, e.v)
	}

	var genes strings.Builder
	for g := 0; g < cfg.Genes; g++ {
		symbol := fmt.Sprintf("GENE%d", g)
		if g < mito {
			symbol = fmt.Sprintf("MT-CO%d", g+1)
		}
		fmt.Fprintf(&genes, "ENSG%08d\t%s\n", g, symbol)
	}

	var annots strings.Builder
	annots.WriteString("batch,group\n")
	for c := 0; c < cfg.Cells; c++ {
		fmt.Fprintf(&annots, "b%d,g%d\n", c%cfg.Batches, c%cfg.Groups)
	}

	return []File{
		{Kind: KindMatrix, Name: "synthetic.mtx", Data: []byte(mtx.String())},
		{Kind: KindGenes, Name: "genes.tsv", Data: []byte(genes.String())},
		{Kind: KindAnnotations, Name: "annotations.csv", Data: []byte(annots.String())},
	}
}

func poisson(rng *rand.Rand, lambda float64) int {
	limit := math.Exp(-lambda)
	l, k := 1.0, 0
	for {
		l *= rng.Float64()
		if l <= limit {
			return k
		}
		k++
	}
}
