package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"kana-backend/internal/artifacts"
	"kana-backend/internal/pipeline"
	"kana-backend/internal/records"
	"kana-backend/internal/references"
	"kana-backend/internal/shared/failure"
	"kana-backend/internal/shared/metrics"
	"kana-backend/internal/shared/telemetry"
	"kana-backend/internal/stages"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("worker closed")

const queueSize = 64

// Deps are the collaborators a worker uses. Artifacts and Records may be nil,
// in which case SAVE, REMOVE and kanadb loads fail.
type Deps struct {
	Env        stages.Env
	References references.Source
	Artifacts  *artifacts.Service
	Records    *records.Service
	// Ping checks the records database during INIT.
	Ping func(ctx context.Context) error
}

type job struct {
	ctx  context.Context
	cmd  Command
	sink Sink
}

// Worker owns one analysis state and serves commands against it in arrival
// order on a single goroutine.
type Worker struct {
	deps Deps
	orch *pipeline.Orchestrator

	queue  chan job
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool

	// ready is nil until the first INIT and closed when initialisation ends.
	ready   chan struct{}
	initErr error
}

// NewWorker starts a worker.
func NewWorker(deps Deps) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		deps:   deps,
		orch:   pipeline.New(deps.Env, deps.References),
		queue:  make(chan job, queueSize),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go w.loop()
	return w
}

// Submit queues cmd. Responses are delivered to sink.
func (w *Worker) Submit(ctx context.Context, cmd Command, sink Sink) error {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrClosed
	}
	// ctx bounds the wait for a queue slot only. A queued command runs to
	// completion even if the caller goes away.
	select {
	case w.queue <- job{ctx: context.WithoutCancel(ctx), cmd: cmd, sink: sink}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do submits cmd and waits for its final response. Non-final responses are
// passed to onEvent when it is non-nil.
func (w *Worker) Do(ctx context.Context, cmd Command, onEvent func(Response)) (Response, error) {
	final := make(chan Response, 1)
	sink := SinkFunc(func(r Response) {
		if r.Final {
			final <- r
			return
		}
		if onEvent != nil {
			onEvent(r)
		}
	})
	if err := w.Submit(ctx, cmd, sink); err != nil {
		return Response{}, err
	}
	select {
	case r := <-final:
		return r, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Close stops accepting commands, waits for queued ones to finish and frees
// the analysis state.
func (w *Worker) Close() {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.queue)
		w.mu.Unlock()
		<-w.done
		w.cancel()
		if w.ready != nil {
			<-w.ready
		}
		w.orch.Free()
	})
}

func (w *Worker) loop() {
	defer close(w.done)
	for j := range w.queue {
		w.serve(j)
	}
}

func (w *Worker) serve(j job) {
	start := time.Now()
	cmd := j.cmd
	metrics.IncCommand(cmd.Type)

	var finals int
	send := func(r Response) {
		r.CommandID = cmd.ID
		if r.Final {
			if finals > 0 {
				return
			}
			finals++
		}
		j.sink.Send(r)
	}
	defer func() {
		if rec := recover(); rec != nil {
			telemetry.Error("gateway.command.panic", map[string]any{"command_id": cmd.ID, "type": cmd.Type, "panic": fmt.Sprint(rec)})
			send(errorResponse(cmd, failure.StageExecution(cmd.Type, fmt.Errorf("panic: %v", rec))))
		}
	}()

	if cmd.Type == TypeInit {
		w.startInit(cmd, send)
		return
	}

	h, ok := handlers[cmd.Type]
	if !ok {
		send(errorResponse(cmd, failure.Newf(failure.KindProtocol, "dispatch", "unknown command type %q", cmd.Type)))
		return
	}
	if h.needsInit {
		if err := w.awaitInit(j.ctx); err != nil {
			send(errorResponse(cmd, err))
			return
		}
	}

	final, err := h.fn(w, j.ctx, cmd, send)
	if err != nil {
		telemetry.Warn("gateway.command.failed", map[string]any{
			"command_id":  cmd.ID,
			"type":        cmd.Type,
			"kind":        failure.KindOf(err).String(),
			"err":         err,
			"duration_ms": metrics.SinceMillis(start),
		})
		send(errorResponse(cmd, err))
		return
	}
	final.Final = true
	send(final)
	telemetry.Info("gateway.command.complete", map[string]any{
		"command_id":  cmd.ID,
		"type":        cmd.Type,
		"duration_ms": metrics.SinceMillis(start),
	})
}

// awaitInit blocks until initialisation ends.
func (w *Worker) awaitInit(ctx context.Context) error {
	if w.ready == nil {
		return failure.Newf(failure.KindInitialization, "init", "worker has not been initialised")
	}
	select {
	case <-w.ready:
	case <-ctx.Done():
		return failure.Initialization("init", ctx.Err())
	}
	return w.initErr
}

// startInit begins initialisation in the background. A repeated INIT after a
// successful one just reports success again; after a failure it retries.
func (w *Worker) startInit(cmd Command, send func(Response)) {
	if w.ready != nil {
		<-w.ready
		if w.initErr == nil {
			send(Response{Type: TypeInit, Msg: "Success: worker ready", Final: true})
			return
		}
	}
	ready := make(chan struct{})
	w.ready = ready
	w.initErr = nil

	go func() {
		start := time.Now()
		g, ctx := errgroup.WithContext(w.ctx)
		if warmer, ok := w.deps.References.(interface{ Warm(context.Context) error }); ok {
			g.Go(func() error { return warmer.Warm(ctx) })
		}
		if w.deps.Ping != nil {
			g.Go(func() error { return w.deps.Ping(ctx) })
		}
		var state *pipeline.State
		g.Go(func() error {
			state = pipeline.NewState()
			return nil
		})

		if err := g.Wait(); err != nil {
			w.initErr = failure.Initialization("init", err)
			telemetry.Error("gateway.init.failed", map[string]any{"err": err, "duration_ms": metrics.SinceMillis(start)})
			send(errorResponse(cmd, w.initErr))
		} else {
			w.orch.Replace(state)
			telemetry.Info("gateway.init.complete", map[string]any{"duration_ms": metrics.SinceMillis(start)})
			send(Response{Type: TypeInit, Msg: "Success: worker ready", Final: true})
		}
		close(ready)
	}()
}
