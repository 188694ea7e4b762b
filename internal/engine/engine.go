// Package engine implements the Activate/Run/Deactivate driver (C5/C6)
// that ties the graph, compiler, executor, PreProcessor and Broadcaster
// into one runnable unit (§4.5, §4.6, §4.7, §4.8).
//
// Grounded on the teacher's state.go run loop (idle/active states driving
// a Flow's consume/provide channels) simplified from that loop's full
// Ready/Running/Pausing/Paused lattice (pausing is a non-goal here — the
// graph is always either not yet activated or running) to a three-state
// Ready → Active → Stopped machine, and on phono's Option-constructed
// Pipe for the functional-options Options type.
package engine

import (
	"fmt"
	"sync"

	"github.com/rs/xid"

	"ingen.audio/ingen/internal/atom"
	"ingen.audio/ingen/internal/broadcast"
	"ingen.audio/ingen/internal/buffer"
	"ingen.audio/ingen/internal/compile"
	"ingen.audio/ingen/internal/event"
	"ingen.audio/ingen/internal/graph"
	"ingen.audio/ingen/internal/ingenerr"
	"ingen.audio/ingen/internal/ingenlog"
	"ingen.audio/ingen/internal/path"
	"ingen.audio/ingen/internal/runctx"
	"ingen.audio/ingen/internal/store"
)

type state int

const (
	stateReady state = iota
	stateActive
	stateStopped
)

func (s state) String() string {
	switch s {
	case stateActive:
		return "active"
	case stateStopped:
		return "stopped"
	default:
		return "ready"
	}
}

// Engine owns the whole realtime graph engine: the root Graph, the
// buffer Factory it allocates from, the path Store, the Task executor,
// the PreProcessor queue and the Broadcaster.
type Engine struct {
	opts Options
	log  ingenlog.Logger

	factory     *buffer.Factory
	root        *graph.Graph
	store       *store.Store
	exec        *compile.Executor
	queue       *event.Queue
	broadcaster *broadcast.Broadcaster

	mu    sync.Mutex
	st    state
	frame int64
	cycle uint64
	wg    sync.WaitGroup
}

// New constructs an Engine in the Ready state; call Activate before the
// first Cycle.
func New(log ingenlog.Logger, opts ...Option) *Engine {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}

	factory := buffer.NewFactory()
	root := graph.NewRootGraph(factory, o.Polyphony)
	s := store.New(root)
	exec := compile.NewExecutor(o.NThreads)
	bc := broadcast.New(log, o.QueueSize)
	q := event.NewQueue(s, event.Warner(log), o.QueueSize)

	e := &Engine{
		opts: o, log: log,
		factory: factory, root: root, store: s,
		exec: exec, queue: q, broadcaster: bc,
	}
	e.installRunFn(root)
	e.recompile(root)
	return e
}

// installRunFn wires g to run whatever CompiledGraph is currently
// installed on it, avoiding an import cycle between graph and compile
// (SetRunFn's closure is the only place the two packages meet).
func (e *Engine) installRunFn(g *graph.Graph) {
	g.SetRunFn(func(ctx *runctx.RunContext) {
		if cg, ok := g.Compiled().(*compile.CompiledGraph); ok {
			cg.Run(ctx, e.exec)
		}
	})
}

// recompile installs a fresh CompiledGraph on g, substituting Empty on a
// Feedback rejection (§4.4, §7) and dumping the task tree when tracing is
// enabled (SUPPLEMENTED FEATURES item 1).
func (e *Engine) recompile(g *graph.Graph) {
	cg, err := compile.Compile(g)
	if err != nil {
		if fe, ok := err.(*compile.FeedbackError); ok {
			e.log.Warnf("feedback: %v", fe)
		} else {
			e.log.Warnf("compile failed for %s: %v", g.Path(), err)
		}
		cg = compile.Empty(string(g.Path()))
	}
	if e.opts.Trace {
		e.log.Debug(cg.Dump())
	}
	g.SetCompiled(cg)
}

// Recompile rebuilds the root graph's CompiledGraph from its current
// topology. Client-driven structural events (Create/Delete/Connect/...)
// recompile automatically as part of Execute; Recompile is for graphs
// built by direct API calls before Activate, or from a driver's own
// maintenance code.
func (e *Engine) Recompile() { e.recompile(e.root) }

// Root returns the engine's root graph.
func (e *Engine) Root() *graph.Graph { return e.root }

// Store returns the path resolver used to validate client requests.
func (e *Engine) Store() *store.Store { return e.store }

// Factory returns the buffer factory blocks allocate from.
func (e *Engine) Factory() *buffer.Factory { return e.factory }

// RegisterClient adds c to the set of clients the Broadcaster forwards
// messages to.
func (e *Engine) RegisterClient(c broadcast.Client) { e.broadcaster.Register(c) }

// UnregisterClient removes c from the broadcast set.
func (e *Engine) UnregisterClient(c broadcast.Client) { e.broadcaster.Unregister(c) }

// NextID mints a client-request or bundle id, the teacher's
// phono.UID-over-xid pattern applied to Ingen's event envelope ids.
func (e *Engine) NextID() string { return xid.New().String() }

// Submit enqueues a single client-originated event for pre_processing.
// Returns false if the PreProcessor's submit queue is full.
func (e *Engine) Submit(ev event.Event) bool { return e.queue.Submit(ev) }

// SubmitBundle enqueues a client-correlated group of events (§4.7, §6).
func (e *Engine) SubmitBundle(bundleID string, evs []event.Event) error {
	return e.queue.SubmitBundle(bundleID, evs)
}

// Create builds and submits a Create event for a new block at subject.
func (e *Engine) Create(subject path.Path, kind graph.Kind, pluginURI string, polyphony int, ports []graph.PortSpec, props atom.PropertyBag) (id string, ok bool) {
	id = e.NextID()
	ev := event.NewCreate(id, subject, kind, pluginURI, polyphony, ports, props, event.Warner(e.log))
	return id, e.Submit(ev)
}

// Delete builds and submits a Delete event for subject.
func (e *Engine) Delete(subject path.Path) (id string, ok bool) {
	id = e.NextID()
	return id, e.Submit(event.NewDelete(id, subject, event.Warner(e.log)))
}

// Connect builds and submits a Connect event from tail to head.
func (e *Engine) Connect(tail, head path.Path) (id string, ok bool) {
	id = e.NextID()
	return id, e.Submit(event.NewConnect(id, tail, head, event.Warner(e.log)))
}

// Disconnect builds and submits a Disconnect event from tail to head.
func (e *Engine) Disconnect(tail, head path.Path) (id string, ok bool) {
	id = e.NextID()
	return id, e.Submit(event.NewDisconnect(id, tail, head, event.Warner(e.log)))
}

// Activate starts the PreProcessor and Broadcaster goroutines (C7/C8).
// The non-realtime consumer loops must be running before Cycle is called.
func (e *Engine) Activate() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.st != stateReady {
		return ingenerr.New(ingenerr.BadRequest, "", fmt.Errorf("engine: Activate called from state %s", e.st))
	}
	e.wg.Add(2)
	go func() { defer e.wg.Done(); e.broadcaster.Run() }()
	go func() { defer e.wg.Done(); e.queue.Run() }()
	e.st = stateActive
	return nil
}

// Cycle runs exactly one audio cycle: drains the PreProcessor's ready
// queue, Executes each event in submission order, runs the root's
// compiled task tree, then advances the cycle counter the Broadcaster
// uses to gate deferred reclamation (§4.5-§4.8). Intended to be called by
// an external realtime driver once per block; driving a real sound card
// is out of scope (§1), so Engine never schedules its own timer.
func (e *Engine) Cycle() {
	e.mu.Lock()
	active := e.st == stateActive
	e.mu.Unlock()
	if !active {
		return
	}

	ctx := &runctx.RunContext{
		Start: e.frame, NFrames: int64(e.opts.BlockSize),
		SampleRate: e.opts.SampleRate, Realtime: true, Sink: e,
	}

	for _, ev := range e.queue.Drain(e.opts.MaxEventsPerCycle) {
		e.executeOne(ctx, ev)
	}

	if cg, ok := e.root.Compiled().(*compile.CompiledGraph); ok {
		cg.Run(ctx, e.exec)
	}

	e.frame += ctx.NFrames
	e.cycle++
	e.broadcaster.AdvanceCycle(e.cycle)
}

func (e *Engine) executeOne(ctx *runctx.RunContext, ev event.Event) {
	if ev.Err() == nil {
		if err := ev.Execute(ctx); err != nil {
			e.log.Warnf("execute %s %s: %v", ev.Kind(), ev.Subject(), err)
		}
	}
	e.afterExecute(ev)

	cycle := e.cycle
	e.broadcaster.Post(func(b broadcast.Broadcast) {
		ev.PostProcess(&event.Outcome{
			Broadcast: b,
			Retire: func(release func()) bool {
				return e.broadcaster.Retire(cycle, release)
			},
		})
	})
}

// afterExecute registers or unregisters any nested Graph a Create/Copy/
// Delete event just attached to or removed from the live tree, so Store
// lookups beneath it resolve correctly on the next PreProcess.
func (e *Engine) afterExecute(ev event.Event) {
	switch te := ev.(type) {
	case *event.CreateEvent:
		if te.Err() != nil {
			return
		}
		if sg := te.Subgraph(); sg != nil {
			e.registerSubgraphTree(sg)
		}
	case *event.CopyEvent:
		if te.Err() != nil {
			return
		}
		if sg := te.Subgraph(); sg != nil {
			e.registerSubgraphTree(sg)
		}
	case *event.DeleteEvent:
		if te.Err() != nil {
			return
		}
		if blk := te.DeletedBlock(); blk != nil {
			if sg := blk.AsGraph(); sg != nil {
				e.store.UnregisterGraph(sg)
			}
		}
	}
}

// registerSubgraphTree indexes g (and, recursively, every nested Graph
// among its descendants) with the Store, installs the compiled-graph run
// closure, and compiles it. Create's subgraphs are always freshly empty,
// so the recursion is a no-op past the first level; Copy's duplicated
// subgraph can carry an arbitrary nested tree, which is why this walks
// down instead of only handling the top level.
func (e *Engine) registerSubgraphTree(g *graph.Graph) {
	e.store.RegisterGraph(g)
	e.installRunFn(g)
	e.recompile(g)
	for _, blk := range g.Blocks() {
		if sub := blk.AsGraph(); sub != nil {
			e.registerSubgraphTree(sub)
		}
	}
}

// Post implements runctx.Sink: a realtime→non-realtime message emitted
// while a cycle runs is logged without blocking the audio thread.
func (e *Engine) Post(msg interface{}) {
	e.log.Warnf("engine: realtime message: %v", msg)
}

// Deactivate stops the PreProcessor and Broadcaster goroutines and blocks
// until both have drained.
func (e *Engine) Deactivate() {
	e.mu.Lock()
	if e.st != stateActive {
		e.mu.Unlock()
		return
	}
	e.st = stateStopped
	e.mu.Unlock()

	e.queue.Stop()
	e.broadcaster.Stop()
	e.wg.Wait()
	e.exec.Stop()
}
