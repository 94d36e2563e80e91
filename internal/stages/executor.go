package stages

// Params is a stage parameter snapshot compared by value.
type Params[P any] interface {
	Equal(other P) bool
}

// Executor caches one stage's result against the parameters that produced it.
type Executor[P Params[P], R any] struct {
	name   string
	params P
	result R
	valid  bool
}

// NewExecutor returns an empty executor for the named stage.
func NewExecutor[P Params[P], R any](name string) *Executor[P, R] {
	return &Executor[P, R]{name: name}
}

// Name returns the stage name.
func (e *Executor[P, R]) Name() string { return e.name }

// Valid reports whether a cached result is held.
func (e *Executor[P, R]) Valid() bool { return e.valid }

// Changed reports whether Execute(p, force, ...) would recompute.
func (e *Executor[P, R]) Changed(p P, force bool) bool {
	return force || !e.valid || !e.params.Equal(p)
}

// Execute returns the cached result with changed=false when p equals the
// cached parameters and force is false. Otherwise it calls compute and
// caches its result.
//
// A failed compute leaves the previous result in place only when nothing
// upstream changed; when forced, the cache is dropped so the next call
// recomputes.
func (e *Executor[P, R]) Execute(p P, force bool, compute func(P) (R, error)) (R, bool, error) {
	if !e.Changed(p, force) {
		return e.result, false, nil
	}
	r, err := compute(p)
	if err != nil {
		if force {
			e.Free()
		}
		var zero R
		return zero, true, &Error{Stage: e.name, Err: err}
	}
	e.params, e.result, e.valid = p, r, true
	return r, true, nil
}

// Result returns the cached result.
func (e *Executor[P, R]) Result() (R, bool) { return e.result, e.valid }

// Params returns the parameters of the cached result.
func (e *Executor[P, R]) Params() (P, bool) { return e.params, e.valid }

// Restore installs a previously computed result.
func (e *Executor[P, R]) Restore(p P, r R) {
	e.params, e.result, e.valid = p, r, true
}

// Free drops the cached result.
func (e *Executor[P, R]) Free() {
	var zp P
	var zr R
	e.params, e.result, e.valid = zp, zr, false
}
