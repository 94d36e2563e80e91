package stages

import (
	"golang.org/x/sync/errgroup"
)

// parallelFor splits [0, n) into contiguous chunks and runs fn on each with
// at most threads goroutines.
func parallelFor(threads, n int, fn func(lo, hi int) error) error {
	if n <= 0 {
		return nil
	}
	if threads < 1 {
		threads = 1
	}
	if threads > n {
		threads = n
	}
	if threads == 1 {
		return fn(0, n)
	}

	var g errgroup.Group
	g.SetLimit(threads)
	chunk := (n + threads - 1) / threads
	for lo := 0; lo < n; lo += chunk {
		lo, hi := lo, min(lo+chunk, n)
		g.Go(func() error { return fn(lo, hi) })
	}
	return g.Wait()
}
