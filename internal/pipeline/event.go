package pipeline

// EventKind distinguishes the events a run emits per stage.
type EventKind int

const (
	EventStart EventKind = iota
	EventCache
	EventData
	EventIter
)

// Event reports stage progress. Payload is nil for start and cache events.
// Iteration is set on iter events and on cache events of embedding stages.
type Event struct {
	Stage     string
	Kind      EventKind
	Payload   any
	Iteration int
}

// Type returns the wire name of the event, e.g. "pca_DATA" or "umap_iter".
func (e Event) Type() string {
	switch e.Kind {
	case EventStart:
		return e.Stage + "_START"
	case EventCache:
		return e.Stage + "_CACHE"
	case EventIter:
		return e.Stage + "_iter"
	default:
		return e.Stage + "_DATA"
	}
}

// Sink receives events in emission order.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

type discard struct{}

func (discard) Emit(Event) {}

func orDiscard(s Sink) Sink {
	if s == nil {
		return discard{}
	}
	return s
}
