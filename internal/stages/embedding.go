package stages

import (
	"math"
	"math/rand/v2"
	"sync"
)

// BatchSize is the number of iterations between snapshots.
const BatchSize = 15

// RunState is the lifecycle of an incremental run.
type RunState int

const (
	Idle RunState = iota
	Running
	Complete
)

func (s RunState) String() string {
	switch s {
	case Running:
		return "running"
	case Complete:
		return "complete"
	default:
		return "idle"
	}
}

// Snapshot is a copy of the layout after Iteration iterations.
type Snapshot struct {
	X         []float64
	Y         []float64
	Iteration int
}

// Embedding is a finished two-dimensional layout.
type Embedding struct {
	X          []float64 `cbor:"x"`
	Y          []float64 `cbor:"y"`
	Iterations int       `cbor:"iterations"`
}

// layoutConfig tunes the force-directed optimiser shared by t-SNE and UMAP.
type layoutConfig struct {
	neighbors    int
	minDist      float64
	negatives    int
	exaggeration float64
	// exaggerate is the fraction of iterations that scale attraction.
	exaggerate float64
	seed       uint64
}

type edge struct {
	i, j int
	w    float64
}

// Run advances a layout in batches of BatchSize iterations, emitting a copy
// of the positions after each batch. A Run streams once.
type Run struct {
	mu    sync.Mutex
	state RunState
	iter  int
	total int

	halt     chan struct{}
	haltOnce sync.Once

	cfg   layoutConfig
	edges []edge
	n     int
	// buf is the single working buffer, interleaved x,y.
	buf []float64
}

func newRun(ix *NeighborIndexResult, cfg layoutConfig, total int, env Env) (*Run, error) {
	if ix == nil {
		return nil, missing(NeighborIndex)
	}
	if total < 1 {
		return nil, invalidf("iteration budget must be at least 1, got %d", total)
	}
	nb, err := ix.Search(cfg.neighbors, env)
	if err != nil {
		return nil, err
	}
	r := &Run{
		total: total,
		halt:  make(chan struct{}),
		cfg:   cfg,
		n:     ix.NumCells(),
		edges: fuzzyEdges(nb),
		buf:   initialLayout(ix.Points),
	}
	return r, nil
}

// State returns the run's lifecycle state.
func (r *Run) State() RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Iteration returns the number of completed iterations.
func (r *Run) Iteration() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.iter
}

// Total returns the iteration budget.
func (r *Run) Total() int { return r.total }

// Stream starts the run and returns its snapshots in increasing iteration
// order. The channel closes once the run is Complete. Calling Stream on a run
// that has already started returns a closed channel.
func (r *Run) Stream() <-chan Snapshot {
	ch := make(chan Snapshot)
	r.mu.Lock()
	if r.state != Idle {
		r.mu.Unlock()
		close(ch)
		return ch
	}
	r.state = Running
	r.mu.Unlock()

	go func() {
		defer close(ch)
		for {
			select {
			case <-r.halt:
				return
			default:
			}
			r.mu.Lock()
			from := r.iter
			r.mu.Unlock()
			if from >= r.total {
				break
			}
			to := min(from+BatchSize, r.total)
			for e := from; e < to; e++ {
				r.epoch(e)
			}
			r.mu.Lock()
			r.iter = to
			if to == r.total {
				r.state = Complete
			}
			r.mu.Unlock()
			select {
			case ch <- r.snapshot(to):
			case <-r.halt:
				return
			}
		}
	}()
	return ch
}

// Stop abandons a streaming run. The stream closes without further
// snapshots and the run never reaches Complete unless it already had.
func (r *Run) Stop() {
	r.haltOnce.Do(func() { close(r.halt) })
}

// Result returns the final embedding once the run is Complete.
func (r *Run) Result() (*Embedding, bool) {
	if r.State() != Complete {
		return nil, false
	}
	s := r.snapshot(r.total)
	return &Embedding{X: s.X, Y: s.Y, Iterations: r.total}, true
}

// Drain streams r to completion, handing every snapshot to emit.
func Drain(r *Run, emit func(Snapshot)) (*Embedding, error) {
	defer r.Stop()
	for s := range r.Stream() {
		if emit != nil {
			emit(s)
		}
	}
	res, ok := r.Result()
	if !ok {
		return nil, invalidf("embedding run did not complete")
	}
	return res, nil
}

func (r *Run) snapshot(iter int) Snapshot {
	s := Snapshot{X: make([]float64, r.n), Y: make([]float64, r.n), Iteration: iter}
	for i := 0; i < r.n; i++ {
		s.X[i], s.Y[i] = r.buf[2*i], r.buf[2*i+1]
	}
	return s
}

// epoch applies one pass of attraction along edges and repulsion against
// sampled cells. The random stream depends only on the epoch index so a
// replay reproduces the same layout.
func (r *Run) epoch(e int) {
	rng := rand.New(rand.NewPCG(r.cfg.seed, uint64(e)))
	alpha := 1 - float64(e)/float64(r.total)
	attract := 1.0
	if float64(e) < r.cfg.exaggerate*float64(r.total) {
		attract = r.cfg.exaggeration
	}
	pos := r.buf
	for _, ed := range r.edges {
		i, j := ed.i, ed.j
		dx, dy := pos[2*i]-pos[2*j], pos[2*i+1]-pos[2*j+1]
		d2 := dx*dx + dy*dy
		coef := -2 * attract * ed.w / (1 + d2)
		gx, gy := clip(coef*dx), clip(coef*dy)
		pos[2*i] += alpha * gx
		pos[2*i+1] += alpha * gy
		pos[2*j] -= alpha * gx
		pos[2*j+1] -= alpha * gy

		for s := 0; s < r.cfg.negatives; s++ {
			k := rng.IntN(r.n)
			if k == i {
				continue
			}
			dx, dy := pos[2*i]-pos[2*k], pos[2*i+1]-pos[2*k+1]
			d2 := dx*dx + dy*dy
			coef := 2 / ((r.cfg.minDist + d2) * (1 + d2))
			pos[2*i] += alpha * clip(coef*dx)
			pos[2*i+1] += alpha * clip(coef*dy)
		}
	}
}

func clip(v float64) float64 {
	return math.Max(-4, math.Min(4, v))
}

// fuzzyEdges weights each kNN edge by exp(-(d - rho)/sigma), where rho is the
// cell's nearest-neighbor distance and sigma its mean excess distance.
func fuzzyEdges(nb Neighbors) []edge {
	var edges []edge
	for i, idx := range nb.Index {
		dist := nb.Distance[i]
		if len(dist) == 0 {
			continue
		}
		rho := dist[0]
		var sigma float64
		for _, d := range dist {
			sigma += d - rho
		}
		sigma /= float64(len(dist))
		if sigma < 1e-3 {
			sigma = 1e-3
		}
		for q, j := range idx {
			edges = append(edges, edge{i: i, j: j, w: math.Exp(-(dist[q] - rho) / sigma)})
		}
	}
	return edges
}

// initialLayout seeds positions from the first two PCs scaled to [-10, 10].
func initialLayout(points Matrix) []float64 {
	n := points.Rows
	buf := make([]float64, 2*n)
	var scale float64
	for i := 0; i < n; i++ {
		buf[2*i] = points.At(i, 0)
		if points.Cols > 1 {
			buf[2*i+1] = points.At(i, 1)
		} else {
			buf[2*i+1] = float64(i%7) * 1e-2
		}
		scale = math.Max(scale, math.Max(math.Abs(buf[2*i]), math.Abs(buf[2*i+1])))
	}
	if scale > 0 {
		for i := range buf {
			buf[i] *= 10 / scale
		}
	}
	return buf
}
