package event

import (
	"ingen.audio/ingen/internal/atom"
	"ingen.audio/ingen/internal/broadcast"
	"ingen.audio/ingen/internal/compile"
	"ingen.audio/ingen/internal/graph"
	"ingen.audio/ingen/internal/ingenerr"
	"ingen.audio/ingen/internal/path"
	"ingen.audio/ingen/internal/runctx"
	"ingen.audio/ingen/internal/store"
)

// --- Create -----------------------------------------------------------

// CreateEvent implements the client's Create request: a new Block
// (internal, plugin, or nested Graph) at Subject.
type CreateEvent struct {
	base
	BlockKind  graph.Kind
	PluginURI  string
	Polyphony  int
	Ports      []graph.PortSpec
	Properties atom.PropertyBag
	log        warner

	parent   *graph.Graph
	block    *graph.Block
	subgraph *graph.Graph
	compiled *compile.CompiledGraph
}

// NewCreate builds a Create event. id is the client-assigned request id.
func NewCreate(id string, subject path.Path, kind graph.Kind, pluginURI string, polyphony int, ports []graph.PortSpec, props atom.PropertyBag, log warner) *CreateEvent {
	return &CreateEvent{
		base:       base{id: id, subject: subject},
		BlockKind:  kind,
		PluginURI:  pluginURI,
		Polyphony:  polyphony,
		Ports:      ports,
		Properties: props,
		log:        log,
	}
}

func (e *CreateEvent) Kind() Kind { return Create }

func (e *CreateEvent) PreProcess(s *store.Store) error {
	parent, err := s.RequireParentGraph(e.subject)
	if err != nil {
		e.fail(err)
		return err
	}
	if err := s.RequireFree(e.subject); err != nil {
		e.fail(err)
		return err
	}
	if !path.IsValidSymbol(e.subject.Symbol()) {
		err := ingenerr.New(ingenerr.BadRequest, string(e.subject), nil)
		e.fail(err)
		return err
	}
	e.parent = parent

	if e.BlockKind == graph.KindGraph {
		sg, err := graph.NewDetachedSubgraph(parent, e.subject.Symbol(), e.Polyphony)
		if err != nil {
			e.fail(err)
			return err
		}
		e.subgraph = sg
		e.block = sg.AsBlock()
	} else {
		blk, err := graph.NewBlock(parent.Factory(), parent, e.subject.Symbol(), e.BlockKind, e.PluginURI, e.Polyphony)
		if err != nil {
			e.fail(err)
			return err
		}
		for _, spec := range e.Ports {
			blk.AddPort(spec)
		}
		e.block = blk
	}

	snap := parent.Snapshot()
	snap.AddBlock(e.block)
	e.compiled = recompile(snap, e.log)
	return nil
}

func (e *CreateEvent) Execute(ctx *runctx.RunContext) error {
	if err := e.parent.Attach(e.block); err != nil {
		e.fail(err)
		return err
	}
	e.parent.SetCompiled(e.compiled)
	return nil
}

func (e *CreateEvent) PostProcess(o *Outcome) {
	e.respond(o, broadcast.Success)
	if e.err == nil {
		o.Broadcast.Send(broadcast.PutMsg(e.subject, e.Properties))
	}
}

// Subgraph exposes the detached Graph this event created, for the engine
// to register with the Store once Execute has attached it.
func (e *CreateEvent) Subgraph() *graph.Graph { return e.subgraph }

// CreatedBlock exposes the Block this event attached, for the engine to
// install a run function on when it is a plain internal/plugin block.
func (e *CreateEvent) CreatedBlock() *graph.Block { return e.block }

// --- Delete -------------------------------------------------------------

// DeleteEvent implements the client's Delete request: removes the entity
// at Subject (a Block or nested Graph) and every arc touching it.
type DeleteEvent struct {
	base
	log warner

	parent   *graph.Graph
	block    *graph.Block
	compiled *compile.CompiledGraph
}

func NewDelete(id string, subject path.Path, log warner) *DeleteEvent {
	return &DeleteEvent{base: base{id: id, subject: subject}, log: log}
}

func (e *DeleteEvent) Kind() Kind { return Delete }

// DeletedBlock exposes the Block this event removed, for the engine to
// unregister from the Store when it was itself a nested Graph.
func (e *DeleteEvent) DeletedBlock() *graph.Block { return e.block }

func (e *DeleteEvent) PreProcess(s *store.Store) error {
	parent, err := s.RequireParentGraph(e.subject)
	if err != nil {
		e.fail(err)
		return err
	}
	blk, err := s.RequireBlock(e.subject)
	if err != nil {
		e.fail(err)
		return err
	}
	e.parent, e.block = parent, blk

	snap := parent.Snapshot()
	snap.RemoveBlock(blk)
	e.compiled = recompile(snap, e.log)
	return nil
}

func (e *DeleteEvent) Execute(ctx *runctx.RunContext) error {
	if err := e.parent.RemoveBlock(e.block); err != nil {
		e.fail(err)
		return err
	}
	e.parent.SetCompiled(e.compiled)
	return nil
}

func (e *DeleteEvent) PostProcess(o *Outcome) {
	e.respond(o, broadcast.Success)
	if e.err == nil {
		o.Broadcast.Send(broadcast.DelMsg(string(e.subject)))
		o.Retire(func() {})
	}
}

// --- Connect / Disconnect / DisconnectAll -------------------------------

// ConnectEvent implements the client's Connect(tail, head) request.
type ConnectEvent struct {
	base
	Tail, Head path.Path
	log        warner

	parent       *graph.Graph
	tailP, headP *graph.Port
	compiled     *compile.CompiledGraph
}

func NewConnect(id string, tail, head path.Path, log warner) *ConnectEvent {
	return &ConnectEvent{base: base{id: id, subject: head}, Tail: tail, Head: head, log: log}
}

func (e *ConnectEvent) Kind() Kind { return Connect }

func (e *ConnectEvent) PreProcess(s *store.Store) error {
	tailPort, err := s.RequirePort(e.Tail)
	if err != nil {
		e.fail(err)
		return err
	}
	headPort, err := s.RequirePort(e.Head)
	if err != nil {
		e.fail(err)
		return err
	}
	if !graph.TypesCompatible(tailPort.Type(), headPort.Type()) {
		err := ingenerr.New(ingenerr.TypeMismatch, string(e.Head), nil)
		e.fail(err)
		return err
	}
	headBlock, _ := e.Head.Parent()
	parent, err := s.RequireParentGraph(headBlock)
	if err != nil {
		e.fail(err)
		return err
	}
	e.parent, e.tailP, e.headP = parent, tailPort, headPort

	snap := parent.Snapshot()
	snap.Connect(tailPort, headPort)
	e.compiled = recompile(snap, e.log)
	return nil
}

func (e *ConnectEvent) Execute(ctx *runctx.RunContext) error {
	if _, err := e.parent.Connect(e.tailP, e.headP); err != nil {
		e.fail(err)
		return err
	}
	e.parent.SetCompiled(e.compiled)
	return nil
}

func (e *ConnectEvent) PostProcess(o *Outcome) {
	e.respond(o, broadcast.Success)
	if e.err == nil {
		o.Broadcast.Send(broadcast.ConnectMsg(e.Tail, e.Head))
	}
}

// DisconnectEvent implements the client's Disconnect(tail, head) request.
type DisconnectEvent struct {
	base
	Tail, Head path.Path
	log        warner

	parent       *graph.Graph
	tailP, headP *graph.Port
	compiled     *compile.CompiledGraph
}

func NewDisconnect(id string, tail, head path.Path, log warner) *DisconnectEvent {
	return &DisconnectEvent{base: base{id: id, subject: head}, Tail: tail, Head: head, log: log}
}

func (e *DisconnectEvent) Kind() Kind { return Disconnect }

func (e *DisconnectEvent) PreProcess(s *store.Store) error {
	tailPort, err := s.RequirePort(e.Tail)
	if err != nil {
		e.fail(err)
		return err
	}
	headPort, err := s.RequirePort(e.Head)
	if err != nil {
		e.fail(err)
		return err
	}
	headBlock, _ := e.Head.Parent()
	parent, err := s.RequireParentGraph(headBlock)
	if err != nil {
		e.fail(err)
		return err
	}
	e.parent, e.tailP, e.headP = parent, tailPort, headPort

	snap := parent.Snapshot()
	snap.Disconnect(tailPort, headPort)
	e.compiled = recompile(snap, e.log)
	return nil
}

func (e *DisconnectEvent) Execute(ctx *runctx.RunContext) error {
	if err := e.parent.Disconnect(e.tailP, e.headP); err != nil {
		e.fail(err)
		return err
	}
	e.parent.SetCompiled(e.compiled)
	return nil
}

func (e *DisconnectEvent) PostProcess(o *Outcome) {
	e.respond(o, broadcast.Success)
	if e.err == nil {
		o.Broadcast.Send(broadcast.DisconnectMsg(e.Tail, e.Head))
	}
}

// DisconnectAllEvent implements the client's DisconnectAll(parent, path)
// request: removes every arc touching the port/block at Subject.
type DisconnectAllEvent struct {
	base
	Parent path.Path
	log    warner

	parentGraph *graph.Graph
	port        *graph.Port
	compiled    *compile.CompiledGraph
}

func NewDisconnectAll(id string, parent, subject path.Path, log warner) *DisconnectAllEvent {
	return &DisconnectAllEvent{base: base{id: id, subject: subject}, Parent: parent, log: log}
}

func (e *DisconnectAllEvent) Kind() Kind { return DisconnectAll }

func (e *DisconnectAllEvent) PreProcess(s *store.Store) error {
	g, err := s.RequireGraph(e.Parent)
	if err != nil {
		e.fail(err)
		return err
	}
	port, err := s.RequirePort(e.subject)
	if err != nil {
		e.fail(err)
		return err
	}
	e.parentGraph, e.port = g, port

	snap := g.Snapshot()
	for _, a := range port.Arcs() {
		snap.Disconnect(a.Tail, a.Head)
	}
	e.compiled = recompile(snap, e.log)
	return nil
}

func (e *DisconnectAllEvent) Execute(ctx *runctx.RunContext) error {
	e.parentGraph.DisconnectAll(e.port)
	e.parentGraph.SetCompiled(e.compiled)
	return nil
}

func (e *DisconnectAllEvent) PostProcess(o *Outcome) {
	e.respond(o, broadcast.Success)
	if e.err == nil {
		o.Broadcast.Send(broadcast.DisconnectAllMsg(e.Parent, e.subject))
	}
}

// --- Move ----------------------------------------------------------------

// MoveEvent implements the client's Move(from, to) request. The new path
// must share the old path's parent (§4.7); violations yield ParentDiffers.
type MoveEvent struct {
	base
	To path.Path

	block *graph.Block
	owner *graph.Graph
}

func NewMove(id string, from, to path.Path) *MoveEvent {
	return &MoveEvent{base: base{id: id, subject: from}, To: to}
}

func (e *MoveEvent) Kind() Kind { return Move }

func (e *MoveEvent) PreProcess(s *store.Store) error {
	fromParent, ok1 := e.subject.Parent()
	toParent, ok2 := e.To.Parent()
	if !ok1 || !ok2 || fromParent != toParent {
		err := ingenerr.New(ingenerr.ParentDiffers, string(e.subject), nil)
		e.fail(err)
		return err
	}
	owner, err := s.RequireParentGraph(e.subject)
	if err != nil {
		e.fail(err)
		return err
	}
	blk, err := s.RequireBlock(e.subject)
	if err != nil {
		e.fail(err)
		return err
	}
	if err := s.RequireFree(e.To); err != nil {
		e.fail(err)
		return err
	}
	e.owner, e.block = owner, blk
	return nil
}

func (e *MoveEvent) Execute(ctx *runctx.RunContext) error {
	if err := e.owner.Rename(e.block, e.To.Symbol()); err != nil {
		e.fail(err)
		return err
	}
	return nil
}

func (e *MoveEvent) PostProcess(o *Outcome) {
	e.respond(o, broadcast.Success)
	if e.err == nil {
		o.Broadcast.Send(broadcast.MoveMsg(e.subject, e.To))
	}
}

// --- Copy ------------------------------------------------------------

// CopyEvent implements the client's Copy(from, to) request: duplicates a
// block (preserving port values and inner arcs for a nested Graph) at a
// new path within the same parent scope. Unlike the original's
// ClashAvoider (§ SUPPLEMENTED FEATURES item 7), a colliding destination
// path is rejected with Exists rather than auto-renamed.
type CopyEvent struct {
	base
	To  path.Path
	log warner

	parent   *graph.Graph
	src      *graph.Block
	copy     *graph.Block
	subgraph *graph.Graph
	compiled *compile.CompiledGraph
}

func NewCopy(id string, from, to path.Path, log warner) *CopyEvent {
	return &CopyEvent{base: base{id: id, subject: from}, To: to, log: log}
}

func (e *CopyEvent) Kind() Kind { return Copy }

func (e *CopyEvent) PreProcess(s *store.Store) error {
	fromParent, ok1 := e.subject.Parent()
	toParent, ok2 := e.To.Parent()
	if !ok1 || !ok2 || fromParent != toParent {
		err := ingenerr.New(ingenerr.ParentDiffers, string(e.subject), nil)
		e.fail(err)
		return err
	}
	parent, err := s.RequireParentGraph(e.subject)
	if err != nil {
		e.fail(err)
		return err
	}
	src, err := s.RequireBlock(e.subject)
	if err != nil {
		e.fail(err)
		return err
	}
	if err := s.RequireFree(e.To); err != nil {
		e.fail(err)
		return err
	}
	e.parent, e.src = parent, src

	cp, err := duplicateBlock(parent, src, e.To.Symbol())
	if err != nil {
		e.fail(err)
		return err
	}
	e.copy = cp
	if src.Kind() == graph.KindGraph {
		e.subgraph = cp.AsGraph()
	}

	snap := parent.Snapshot()
	snap.AddBlock(cp)
	e.compiled = recompile(snap, e.log)
	return nil
}

func (e *CopyEvent) Execute(ctx *runctx.RunContext) error {
	if err := e.parent.Attach(e.copy); err != nil {
		e.fail(err)
		return err
	}
	e.parent.SetCompiled(e.compiled)
	return nil
}

func (e *CopyEvent) PostProcess(o *Outcome) {
	e.respond(o, broadcast.Success)
	if e.err == nil {
		o.Broadcast.Send(broadcast.CopyMsg(e.subject, e.To))
	}
}

// Subgraph exposes the duplicated Graph when the copied block was itself a
// nested Graph, for the engine to register (recursively, along with any
// grand-children) with the Store once Execute has attached it.
func (e *CopyEvent) Subgraph() *graph.Graph { return e.subgraph }

// --- SetProperty / Get -----------------------------------------------

// SetPropertyEvent implements the client's SetProperty(subject, key,
// value) request.
type SetPropertyEvent struct {
	base
	Key   string
	Value atom.Atom

	props atom.PropertyBag
}

func NewSetProperty(id string, subject path.Path, key string, value atom.Atom) *SetPropertyEvent {
	return &SetPropertyEvent{base: base{id: id, subject: subject}, Key: key, Value: value}
}

func (e *SetPropertyEvent) Kind() Kind { return SetProperty }

func (e *SetPropertyEvent) PreProcess(s *store.Store) error {
	if _, err := s.RequireBlock(e.subject); err != nil {
		if _, perr := s.RequirePort(e.subject); perr != nil {
			e.fail(err)
			return err
		}
	}
	return nil
}

func (e *SetPropertyEvent) Execute(ctx *runctx.RunContext) error {
	if e.props == nil {
		e.props = atom.PropertyBag{}
	}
	e.props.Set(e.Key, e.Value)
	return nil
}

func (e *SetPropertyEvent) PostProcess(o *Outcome) {
	e.respond(o, broadcast.Success)
	if e.err == nil {
		o.Broadcast.Send(broadcast.SetPropertyMsg(string(e.subject), e.Key, e.Value))
	}
}

// GetEvent implements the client's Get(uri) request: a read-only query
// that never mutates the graph, so Execute is a no-op and the response is
// assembled entirely from what PreProcess resolved.
type GetEvent struct {
	base

	found bool
}

func NewGet(id string, subject path.Path) *GetEvent {
	return &GetEvent{base: base{id: id, subject: subject}}
}

func (e *GetEvent) Kind() Kind { return Get }

func (e *GetEvent) PreProcess(s *store.Store) error {
	if s.Exists(e.subject) {
		e.found = true
		return nil
	}
	err := ingenerr.New(ingenerr.NotFound, string(e.subject), nil)
	e.fail(err)
	return err
}

func (e *GetEvent) Execute(ctx *runctx.RunContext) error { return nil }

func (e *GetEvent) PostProcess(o *Outcome) {
	e.respond(o, broadcast.Success)
	if e.found {
		o.Broadcast.Send(broadcast.GetMsg(string(e.subject)))
	}
}

// --- Undo / Redo / Bundles --------------------------------------------

// UndoEvent implements the client's Undo request: re-applies the inverse
// of the most recently executed event from the engine's undo stack.
// Inversion itself is the engine's responsibility (it owns the history
// stack, per L1/L2's algebraic laws); UndoEvent only carries the inverse
// Event to run and reports its outcome.
type UndoEvent struct {
	base
	Inverse Event
}

func NewUndo(id string, inverse Event) *UndoEvent {
	subject := path.Root
	if inverse != nil {
		subject = inverse.Subject()
	}
	return &UndoEvent{base: base{id: id, subject: subject}, Inverse: inverse}
}

func (e *UndoEvent) Kind() Kind { return Undo }

func (e *UndoEvent) PreProcess(s *store.Store) error {
	if e.Inverse == nil {
		err := ingenerr.New(ingenerr.BadRequest, "", nil)
		e.fail(err)
		return err
	}
	err := e.Inverse.PreProcess(s)
	if err != nil {
		e.fail(err)
	}
	return err
}

func (e *UndoEvent) Execute(ctx *runctx.RunContext) error {
	err := e.Inverse.Execute(ctx)
	if err != nil {
		e.fail(err)
	}
	return err
}

func (e *UndoEvent) PostProcess(o *Outcome) {
	e.respond(o, broadcast.Success)
	o.Broadcast.Send(broadcast.UndoMsg())
}

// RedoEvent mirrors UndoEvent, re-running a previously undone event.
type RedoEvent struct {
	base
	Replay Event
}

func NewRedo(id string, replay Event) *RedoEvent {
	subject := path.Root
	if replay != nil {
		subject = replay.Subject()
	}
	return &RedoEvent{base: base{id: id, subject: subject}, Replay: replay}
}

func (e *RedoEvent) Kind() Kind { return Redo }

func (e *RedoEvent) PreProcess(s *store.Store) error {
	if e.Replay == nil {
		err := ingenerr.New(ingenerr.BadRequest, "", nil)
		e.fail(err)
		return err
	}
	err := e.Replay.PreProcess(s)
	if err != nil {
		e.fail(err)
	}
	return err
}

func (e *RedoEvent) Execute(ctx *runctx.RunContext) error {
	err := e.Replay.Execute(ctx)
	if err != nil {
		e.fail(err)
	}
	return err
}

func (e *RedoEvent) PostProcess(o *Outcome) {
	e.respond(o, broadcast.Success)
	o.Broadcast.Send(broadcast.RedoMsg())
}

// BundleBeginEvent / BundleEndEvent bracket a batch of events submitted
// together (§4.7): they carry no graph mutation of their own, only the
// client-visible markers a transport uses to group responses.
type BundleBeginEvent struct {
	base
	BundleID string
}

func NewBundleBegin(id, bundleID string) *BundleBeginEvent {
	return &BundleBeginEvent{base: base{id: id}, BundleID: bundleID}
}

func (e *BundleBeginEvent) Kind() Kind                           { return BundleBegin }
func (e *BundleBeginEvent) PreProcess(s *store.Store) error      { return nil }
func (e *BundleBeginEvent) Execute(ctx *runctx.RunContext) error { return nil }
func (e *BundleBeginEvent) PostProcess(o *Outcome) {
	o.Broadcast.Send(broadcast.BundleBeginMsg(e.BundleID))
}

type BundleEndEvent struct {
	base
	BundleID string
}

func NewBundleEnd(id, bundleID string) *BundleEndEvent {
	return &BundleEndEvent{base: base{id: id}, BundleID: bundleID}
}

func (e *BundleEndEvent) Kind() Kind                           { return BundleEnd }
func (e *BundleEndEvent) PreProcess(s *store.Store) error      { return nil }
func (e *BundleEndEvent) Execute(ctx *runctx.RunContext) error { return nil }
func (e *BundleEndEvent) PostProcess(o *Outcome) {
	o.Broadcast.Send(broadcast.BundleEndMsg(e.BundleID))
}
