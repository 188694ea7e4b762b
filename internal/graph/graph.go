package graph

import (
	"fmt"

	"ingen.audio/ingen/internal/buffer"
	"ingen.audio/ingen/internal/ingenerr"
	"ingen.audio/ingen/internal/path"
	"ingen.audio/ingen/internal/runctx"
)

// Graph is a container of child Blocks (including nested Graphs) and the
// Arcs between their ports. A Graph is itself a Block inside its parent
// Graph (§3); the root Graph has no parent.
type Graph struct {
	*Block

	polyphony int
	factory   *buffer.Factory

	blocks   []*Block
	byPath   map[path.Path]*Block
	bySymbol map[string]*Block

	arcs []*Arc

	providers  map[*Block]map[*Block]struct{}
	dependants map[*Block]map[*Block]struct{}

	compiled interface{} // *compile.CompiledGraph, set by the engine; opaque here to avoid an import cycle
	runFn    func(*runctx.RunContext)
}

// NewRootGraph constructs the engine's root graph, which has no parent.
func NewRootGraph(f *buffer.Factory, polyphony int) *Graph {
	if polyphony < 1 {
		polyphony = 1
	}
	blk, _ := NewBlock(f, nil, "root", KindGraph, "", 1)
	g := &Graph{
		Block:      blk,
		polyphony:  polyphony,
		factory:    f,
		byPath:     make(map[path.Path]*Block),
		bySymbol:   make(map[string]*Block),
		providers:  make(map[*Block]map[*Block]struct{}),
		dependants: make(map[*Block]map[*Block]struct{}),
	}
	blk.SetProcessor(g)
	return g
}

// NewSubgraph constructs a nested Graph as a child block of parent.
func NewSubgraph(parent *Graph, symbol string, polyphony int) (*Graph, error) {
	blk, err := NewBlock(parent.factory, parent, symbol, KindGraph, "", polyphony)
	if err != nil {
		return nil, err
	}
	if polyphony < 1 {
		polyphony = parent.polyphony
	}
	g := &Graph{
		Block:      blk,
		polyphony:  polyphony,
		factory:    parent.factory,
		byPath:     make(map[path.Path]*Block),
		bySymbol:   make(map[string]*Block),
		providers:  make(map[*Block]map[*Block]struct{}),
		dependants: make(map[*Block]map[*Block]struct{}),
	}
	blk.SetProcessor(g)
	if err := parent.Attach(blk); err != nil {
		return nil, err
	}
	return g, nil
}

// AsBlock returns the Block this Graph embeds (its identity as a node
// within its own parent graph).
func (g *Graph) AsBlock() *Block { return g.Block }

// Factory returns the buffer factory this graph's blocks allocate from.
func (g *Graph) Factory() *buffer.Factory { return g.factory }

// NewDetachedSubgraph builds a nested Graph as a child of parent without
// attaching it: the graph and its embedded Block exist and can be
// compiled against (via Snapshot.AddBlock) but are not visible to parent
// until parent.Attach(detached.AsBlock()) is called. Used by Create's
// pre_process phase to do all allocation and validation off the audio
// thread, per §4.7.
func NewDetachedSubgraph(parent *Graph, symbol string, polyphony int) (*Graph, error) {
	blk, err := NewBlock(parent.factory, parent, symbol, KindGraph, "", polyphony)
	if err != nil {
		return nil, err
	}
	if polyphony < 1 {
		polyphony = parent.polyphony
	}
	g := &Graph{
		Block:      blk,
		polyphony:  polyphony,
		factory:    parent.factory,
		byPath:     make(map[path.Path]*Block),
		bySymbol:   make(map[string]*Block),
		providers:  make(map[*Block]map[*Block]struct{}),
		dependants: make(map[*Block]map[*Block]struct{}),
	}
	blk.SetProcessor(g)
	return g, nil
}

// Polyphony returns the graph's voice count (distinct from Block.Polyphony,
// which for a Graph-as-block is its voice count *within its parent*).
func (g *Graph) Polyphony() int { return g.polyphony }

// SetPolyphony changes the graph's polyphony. Per invariant 4, existing
// children whose polyphony tracks the parent are reallocated; children
// pinned at polyphony 1 are untouched.
func (g *Graph) SetPolyphony(voices int) error {
	if voices < 1 {
		return ingenerr.New(ingenerr.BadRequest, string(g.Path()), fmt.Errorf("polyphony must be >= 1"))
	}
	g.polyphony = voices
	for _, b := range g.blocks {
		if b.Polyphony() > 1 {
			b.SetPolyphony(voices)
		}
	}
	return nil
}

// Attach registers a detached blk (built via NewBlock/NewDetachedSubgraph
// with g as parent, but not yet made a live child) under g, enforcing
// path uniqueness (invariant 1) and the polyphony invariant (invariant
// 4). Structural events call this during Execute, after PreProcess has
// already built the detached Block/Graph and validated the prospective
// compile off the audio thread.
func (g *Graph) Attach(blk *Block) error {
	if _, exists := g.byPath[blk.path]; exists {
		return ingenerr.New(ingenerr.Exists, string(blk.path), nil)
	}
	if _, exists := g.bySymbol[blk.symbol]; exists {
		return ingenerr.New(ingenerr.Exists, string(blk.path), nil)
	}
	if blk.polyphony != 1 && blk.polyphony != g.polyphony {
		return ingenerr.New(ingenerr.BadRequest, string(blk.path),
			fmt.Errorf("polyphony %d does not match parent graph polyphony %d", blk.polyphony, g.polyphony))
	}
	g.blocks = append(g.blocks, blk)
	g.byPath[blk.path] = blk
	g.bySymbol[blk.symbol] = blk
	g.providers[blk] = make(map[*Block]struct{})
	g.dependants[blk] = make(map[*Block]struct{})
	return nil
}

// Rename changes blk's symbol (and so its path) within g, the structural
// mutation behind a client Move request (§4.7: Move only ever changes the
// final path segment within the same parent scope; ParentDiffers is
// rejected before Execute by the caller). If blk is itself a nested Graph,
// every descendant's path is recomputed to match.
func (g *Graph) Rename(blk *Block, newSymbol string) error {
	if !path.IsValidSymbol(newSymbol) {
		return ingenerr.New(ingenerr.BadRequest, string(blk.path), fmt.Errorf("invalid symbol %q", newSymbol))
	}
	newPath := g.Path().Child(newSymbol)
	if _, exists := g.byPath[newPath]; exists {
		return ingenerr.New(ingenerr.Exists, string(newPath), nil)
	}
	if _, exists := g.bySymbol[newSymbol]; exists {
		return ingenerr.New(ingenerr.Exists, string(newPath), nil)
	}

	delete(g.byPath, blk.path)
	delete(g.bySymbol, blk.symbol)
	blk.symbol = newSymbol
	blk.path = newPath
	g.byPath[newPath] = blk
	g.bySymbol[newSymbol] = blk

	if blk.kind == KindGraph {
		if sub, ok := blk.impl.(*Graph); ok {
			sub.reparentPaths(newPath)
		}
	}
	return nil
}

// reparentPaths recomputes the path of every descendant of g after g's own
// Block.path has already been updated by the caller (Rename).
func (g *Graph) reparentPaths(newBase path.Path) {
	newByPath := make(map[path.Path]*Block, len(g.byPath))
	for _, blk := range g.blocks {
		blk.path = newBase.Child(blk.symbol)
		newByPath[blk.path] = blk
		if blk.kind == KindGraph {
			if sub, ok := blk.impl.(*Graph); ok {
				sub.reparentPaths(blk.path)
			}
		}
	}
	g.byPath = newByPath
}

// AddBlock constructs and registers a plain (internal or plugin) block.
func (g *Graph) AddBlock(symbol string, kind Kind, pluginURI string, polyphony int) (*Block, error) {
	blk, err := NewBlock(g.factory, g, symbol, kind, pluginURI, polyphony)
	if err != nil {
		return nil, err
	}
	if err := g.Attach(blk); err != nil {
		return nil, err
	}
	return blk, nil
}

// RemoveBlock deletes blk and every arc touching it, clearing its entry
// from the provider/dependant sets (invariant 5).
func (g *Graph) RemoveBlock(blk *Block) error {
	if _, ok := g.byPath[blk.path]; !ok {
		return ingenerr.New(ingenerr.NotFound, string(blk.path), nil)
	}
	for _, a := range g.arcsOf(blk) {
		g.disconnect(a)
	}
	delete(g.byPath, blk.path)
	delete(g.bySymbol, blk.symbol)
	delete(g.providers, blk)
	delete(g.dependants, blk)
	for _, set := range g.providers {
		delete(set, blk)
	}
	for _, set := range g.dependants {
		delete(set, blk)
	}
	for i, b := range g.blocks {
		if b == blk {
			g.blocks = append(g.blocks[:i], g.blocks[i+1:]...)
			break
		}
	}
	return nil
}

// FindBlock looks up a direct child by symbol.
func (g *Graph) FindBlock(symbol string) (*Block, bool) {
	b, ok := g.bySymbol[symbol]
	return b, ok
}

// BlockByPath looks up a direct child by full path.
func (g *Graph) BlockByPath(p path.Path) (*Block, bool) {
	b, ok := g.byPath[p]
	return b, ok
}

// Blocks returns the graph's direct children in insertion order.
func (g *Graph) Blocks() []*Block { return g.blocks }

// Arcs returns every arc within this graph.
func (g *Graph) Arcs() []*Arc { return g.arcs }

func (g *Graph) arcsOf(blk *Block) []*Arc {
	var out []*Arc
	for _, a := range g.arcs {
		if a.Tail.block == blk || a.Head.block == blk {
			out = append(out, a)
		}
	}
	return out
}

// sameScope reports whether tail and head are ports of sibling blocks
// within g, or of g itself and one of its children (graph-boundary ports,
// invariant 2).
func (g *Graph) sameScope(tail, head *Port) bool {
	inScope := func(p *Port) bool {
		if p.block == g.Block {
			return true
		}
		_, ok := g.byPath[p.block.path]
		return ok
	}
	return inScope(tail) && inScope(head)
}

// Connect adds an arc from tail to head, enforcing invariants 2 and 3.
func (g *Graph) Connect(tail, head *Port) (*Arc, error) {
	if tail.direction != Output {
		return nil, ingenerr.New(ingenerr.BadRequest, string(tail.Path()), fmt.Errorf("tail is not an output port"))
	}
	if head.direction != Input {
		return nil, ingenerr.New(ingenerr.BadRequest, string(head.Path()), fmt.Errorf("head is not an input port"))
	}
	if !g.sameScope(tail, head) {
		return nil, ingenerr.New(ingenerr.BadRequest, string(head.Path()), fmt.Errorf("tail and head are not in the same parent graph scope"))
	}
	if !TypesCompatible(tail.typ, head.typ) {
		return nil, ingenerr.New(ingenerr.TypeMismatch, string(head.Path()),
			fmt.Errorf("%s is not compatible with %s", tail.typ, head.typ))
	}
	for _, a := range g.arcs {
		if a.Tail == tail && a.Head == head {
			return nil, ingenerr.New(ingenerr.Exists, string(head.Path()), fmt.Errorf("arc already exists"))
		}
	}
	a := &Arc{Tail: tail, Head: head}
	g.arcs = append(g.arcs, a)
	head.arcs = append(head.arcs, a)
	tail.arcs = append(tail.arcs, a)
	g.addDependency(tail.block, head.block)
	return a, nil
}

// Disconnect removes the arc from tail to head, if present.
func (g *Graph) Disconnect(tail, head *Port) error {
	for _, a := range g.arcs {
		if a.Tail == tail && a.Head == head {
			g.disconnect(a)
			return nil
		}
	}
	return ingenerr.New(ingenerr.NotFound, string(head.Path()), fmt.Errorf("no such arc"))
}

// DisconnectAll removes every arc touching port.
func (g *Graph) DisconnectAll(p *Port) {
	for _, a := range g.arcsOf(p.block) {
		if a.Tail == p || a.Head == p {
			g.disconnect(a)
		}
	}
}

func (g *Graph) disconnect(a *Arc) {
	remove := func(arcs []*Arc, target *Arc) []*Arc {
		for i, x := range arcs {
			if x == target {
				return append(arcs[:i], arcs[i+1:]...)
			}
		}
		return arcs
	}
	a.Head.arcs = remove(a.Head.arcs, a)
	a.Tail.arcs = remove(a.Tail.arcs, a)
	g.arcs = remove(g.arcs, a)
	g.recomputeDependency(a.Tail.block, a.Head.block)
}

// addDependency records that tail provides to head (invariant 5), unless
// tail == head (arcs within one block, e.g. a graph-boundary passthrough,
// never create a self-loop in the provider/dependant graph).
func (g *Graph) addDependency(tail, head *Block) {
	if tail == head {
		return
	}
	if g.providers[head] == nil {
		g.providers[head] = make(map[*Block]struct{})
	}
	if g.dependants[tail] == nil {
		g.dependants[tail] = make(map[*Block]struct{})
	}
	g.providers[head][tail] = struct{}{}
	g.dependants[tail][head] = struct{}{}
}

// recomputeDependency drops the tail->head provider/dependant edge if no
// other arc between the same pair of blocks remains.
func (g *Graph) recomputeDependency(tail, head *Block) {
	if tail == head {
		return
	}
	for _, a := range g.arcs {
		if a.Tail.block == tail && a.Head.block == head {
			return // another arc still links these blocks
		}
	}
	delete(g.providers[head], tail)
	delete(g.dependants[tail], head)
}

// Providers returns the set of sibling blocks with an output arc feeding
// one of blk's inputs.
func (g *Graph) Providers(blk *Block) []*Block {
	return setSlice(g.providers[blk])
}

// Dependants returns the set of sibling blocks with an input arc fed from
// one of blk's outputs.
func (g *Graph) Dependants(blk *Block) []*Block {
	return setSlice(g.dependants[blk])
}

func setSlice(set map[*Block]struct{}) []*Block {
	out := make([]*Block, 0, len(set))
	for b := range set {
		out = append(out, b)
	}
	return out
}

// SetCompiled installs the engine-owned CompiledGraph for this scope. The
// field is typed interface{} to avoid an import cycle between graph and
// compile; the callers (the engine and the structural events' Execute)
// always pass a *compile.CompiledGraph.
func (g *Graph) SetCompiled(c interface{}) { g.compiled = c }

// Compiled returns the currently installed CompiledGraph, or nil.
func (g *Graph) Compiled() interface{} { return g.compiled }

// SetRunFn installs the closure the engine uses to run this graph's
// CompiledGraph each cycle, avoiding an import cycle between graph and
// compile (the engine, which imports both, is the only caller).
func (g *Graph) SetRunFn(fn func(*runctx.RunContext)) { g.runFn = fn }

// PreProcess, Process and PostProcess implement Processor for a Graph
// used as a block within its parent: Process runs whatever CompiledGraph
// the engine last installed via SetRunFn. A graph with nothing installed
// yet (or an empty CompiledGraph after a Feedback rejection) is a silent
// no-op.
func (g *Graph) PreProcess(ctx *runctx.RunContext) {}
func (g *Graph) Process(ctx *runctx.RunContext) {
	if g.runFn != nil {
		g.runFn(ctx)
	}
}
func (g *Graph) PostProcess(ctx *runctx.RunContext) {}
