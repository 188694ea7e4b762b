package graph

import (
	"fmt"

	"ingen.audio/ingen/internal/atom"
	"ingen.audio/ingen/internal/buffer"
	"ingen.audio/ingen/internal/path"
	"ingen.audio/ingen/internal/runctx"
)

// Mark is a tri-state visitation flag used by the compiler's depth-first
// walk to detect feedback cycles among sibling blocks.
type Mark int

const (
	Unvisited Mark = iota
	Visiting
	Visited
)

// PortSpec describes one port to create on a block, supplied by a
// Processor at construction time.
type PortSpec struct {
	Symbol    string
	Direction Direction
	Type      buffer.Type
	ValueType atom.Kind
	Capacity  int
	Default   atom.Atom
	Broadcast bool
}

// Processor is the behavior a concrete block implementation (an internal
// block, a plugin wrapper, or a Graph) attaches to a Block. Hooks run in
// the three phases of an audio cycle.
type Processor interface {
	// PreProcess runs before Process, for state that must be prepared
	// once per cycle regardless of dependency order (e.g. MIDI input
	// blocks latching pending events).
	PreProcess(ctx *runctx.RunContext)
	// Process computes this block's outputs from its (already-mixed)
	// inputs.
	Process(ctx *runctx.RunContext)
	// PostProcess runs after Process, for non-audio side effects (e.g.
	// broadcasting a port's peak value).
	PostProcess(ctx *runctx.RunContext)
}

// noopProcessor is installed on a Block until a concrete Processor is
// attached, so construction and wiring can happen before implementation.
type noopProcessor struct{}

func (noopProcessor) PreProcess(*runctx.RunContext)  {}
func (noopProcessor) Process(*runctx.RunContext)     {}
func (noopProcessor) PostProcess(*runctx.RunContext) {}

// Kind identifies where a Block's behavior comes from.
type Kind int

const (
	KindInternal Kind = iota
	KindPlugin
	KindGraph
)

// Block is one node in the graph: an internal block, an external plugin
// instance, or a nested Graph (Graph embeds Block).
type Block struct {
	factory   *buffer.Factory
	path      path.Path
	symbol    string
	kind      Kind
	pluginURI string
	polyphony int
	parent    *Graph

	ports []*Port

	impl Processor
	mark Mark
}

// NewBlock constructs a block under parent with the given symbol,
// polyphony and behavior. Ports are attached afterward via AddPort, since
// a block's polyphony must be final before its ports allocate voices.
func NewBlock(f *buffer.Factory, parent *Graph, symbol string, kind Kind, pluginURI string, polyphony int) (*Block, error) {
	if !path.IsValidSymbol(symbol) {
		return nil, fmt.Errorf("graph: invalid symbol %q", symbol)
	}
	if polyphony < 1 {
		polyphony = 1
	}
	var p path.Path
	if parent == nil {
		p = path.Root
	} else {
		p = parent.path.Child(symbol)
	}
	b := &Block{
		factory:   f,
		path:      p,
		symbol:    symbol,
		kind:      kind,
		pluginURI: pluginURI,
		polyphony: polyphony,
		parent:    parent,
		impl:      noopProcessor{},
	}
	return b, nil
}

// SetProcessor attaches the block's concrete behavior.
func (b *Block) SetProcessor(p Processor) { b.impl = p }

// AsGraph returns the Graph this block implements, if its Processor is a
// nested Graph (Kind == KindGraph), or nil for internal/plugin blocks.
// Symmetric to Graph.AsBlock.
func (b *Block) AsGraph() *Graph {
	g, _ := b.impl.(*Graph)
	return g
}

// AddPort creates and appends a port per spec, with voices sized to the
// block's polyphony.
func (b *Block) AddPort(spec PortSpec) *Port {
	p := newPort(b, spec.Symbol, len(b.ports), spec.Direction, spec.Type, spec.ValueType, spec.Capacity)
	p.SetDefault(spec.Default)
	p.SetBroadcast(spec.Broadcast)
	b.ports = append(b.ports, p)
	return p
}

// Port looks up a port by symbol.
func (b *Block) Port(symbol string) (*Port, bool) {
	for _, p := range b.ports {
		if p.symbol == symbol {
			return p, true
		}
	}
	return nil, false
}

// Ports returns the block's ports in declaration order.
func (b *Block) Ports() []*Port { return b.ports }

// Path returns the block's absolute path.
func (b *Block) Path() path.Path { return b.path }

// Symbol returns the block's symbol within its parent graph.
func (b *Block) Symbol() string { return b.symbol }

// Kind reports whether this is an internal block, a plugin, or a graph.
func (b *Block) Kind() Kind { return b.kind }

// PluginURI returns the plugin URI for KindPlugin blocks, empty otherwise.
func (b *Block) PluginURI() string { return b.pluginURI }

// Polyphony returns the block's voice count.
func (b *Block) Polyphony() int { return b.polyphony }

// Parent returns the enclosing graph, or nil for the root.
func (b *Block) Parent() *Graph { return b.parent }

// SetPolyphony changes a block's voice count, reallocating every port's
// voice buffers. Only legal for blocks whose polyphony tracks the parent
// graph (poly-capable blocks); the caller enforces that invariant.
func (b *Block) SetPolyphony(voices int) {
	if voices < 1 {
		voices = 1
	}
	b.polyphony = voices
	for _, p := range b.ports {
		p.allocateVoices(b.factory, voices)
	}
}

// PendingPoly is a not-yet-applied polyphony change: new per-port voice
// buffers allocated ahead of a cycle boundary, so the audio thread only
// ever sees the old array or the new one, never a resize in flight.
// Grounded on MidiNoteNode.cpp's prepare_poly/apply_poly split.
type PendingPoly struct {
	voices   int
	portBufs map[*Port][]*buffer.Buffer
}

// PreparePoly allocates a full set of new per-port voice buffers at the
// given voice count without touching b's live ports. Safe to call from a
// non-realtime thread (e.g. an event's PreProcess phase).
func (b *Block) PreparePoly(voices int) *PendingPoly {
	if voices < 1 {
		voices = 1
	}
	pp := &PendingPoly{voices: voices, portBufs: make(map[*Port][]*buffer.Buffer, len(b.ports))}
	for _, p := range b.ports {
		bufs := make([]*buffer.Buffer, voices)
		for i := range bufs {
			bufs[i] = b.factory.Get(p.typ, p.valueType, p.capacity)
		}
		pp.portBufs[p] = bufs
	}
	return pp
}

// ApplyPoly swaps in a previously prepared voice array in one step and
// derefs the old buffers. Must run on the audio thread during execute.
func (b *Block) ApplyPoly(pp *PendingPoly) {
	b.polyphony = pp.voices
	for p, bufs := range pp.portBufs {
		old := p.voices
		p.voices = bufs
		for _, o := range old {
			o.Deref()
		}
	}
}

// PreProcess, Process and PostProcess delegate to the attached Processor.
func (b *Block) PreProcess(ctx *runctx.RunContext)  { b.impl.PreProcess(ctx) }
func (b *Block) Process(ctx *runctx.RunContext)     { b.impl.Process(ctx) }
func (b *Block) PostProcess(ctx *runctx.RunContext) { b.impl.PostProcess(ctx) }

// MixInputs recomputes every input port's buffers from its arcs, for each
// of the block's voices. Called by the executor immediately before
// Process.
func (b *Block) MixInputs(ctx *runctx.RunContext) {
	bctx := buffer.Context{Offset: ctx.Offset, NFrames: ctx.NFrames}
	for _, p := range b.ports {
		if p.direction != Input {
			continue
		}
		for v := 0; v < len(p.voices); v++ {
			p.Mix(v, bctx)
		}
	}
}

func (b *Block) String() string { return string(b.path) }
