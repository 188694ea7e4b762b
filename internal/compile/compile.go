package compile

import (
	"fmt"
	"strings"

	"ingen.audio/ingen/internal/graph"
	"ingen.audio/ingen/internal/path"
	"ingen.audio/ingen/internal/runctx"
)

// DependencyGraph is the block-level topology a compile pass walks: the
// live graph.Graph during a plain recompile, or a graph.Snapshot when an
// event's pre_process phase is compiling a not-yet-applied edit.
type DependencyGraph interface {
	Path() path.Path
	Blocks() []*graph.Block
	Providers(*graph.Block) []*graph.Block
	Dependants(*graph.Block) []*graph.Block
}

// CompiledGraph is an immutable Task tree compiled from a graph.Graph for
// one scheduling epoch (§4.4). It is replaced wholesale by atomic pointer
// swap when the graph is edited; the old one is released to deferred
// reclamation (§5, §4.7).
type CompiledGraph struct {
	path   string
	master *Task
}

// Empty returns a CompiledGraph with no work, the result of a rejected
// (feedback-containing) compile: "the graph continues to run but performs
// no work" (§4.4).
func Empty(path string) *CompiledGraph {
	return &CompiledGraph{path: path, master: newTask(Sequential)}
}

// Run executes the compiled task tree for one cycle.
func (c *CompiledGraph) Run(ctx *runctx.RunContext, exec *Executor) {
	c.master.Run(ctx, exec)
}

// Dump renders the compiled tree as an s-expression-shaped trace string,
// the way CompiledGraph::dump does when the `trace` option is set.
func (c *CompiledGraph) Dump() string {
	var b strings.Builder
	b.WriteString("(compiled-graph ")
	b.WriteString(c.path)
	b.WriteString("\n")
	c.master.dump(&b, 1)
	b.WriteString(")\n")
	return b.String()
}

// FeedbackError reports a directed cycle with no delay block found during
// compilation (§4.4, §7). It names both the block that closed the cycle
// and the root block being compiled when known, per
// CompiledGraph.cpp's two-argument "Feedback compiling %1% from %2%".
type FeedbackError struct {
	Node string
	Root string // empty if unknown
}

func (e *FeedbackError) Error() string {
	if e.Root != "" {
		return fmt.Sprintf("feedback compiling %s from %s", e.Node, e.Root)
	}
	return fmt.Sprintf("feedback compiling %s", e.Node)
}

// compiler holds the mutable state of one compilation pass: each block's
// tri-state mark plus the provider/dependant accessors of the graph being
// compiled.
type compiler struct {
	g    DependencyGraph
	mark map[*graph.Block]graph.Mark
}

// Compile reduces g into a CompiledGraph following the algorithm in
// spec.md §4.4 / CompiledGraph::compile_graph. A cycle with no delay block
// yields (nil, *FeedbackError); the callers (the engine's and the events'
// recompile) log it and substitute Empty(path).
func Compile(g DependencyGraph) (*CompiledGraph, error) {
	c := &compiler{g: g, mark: make(map[*graph.Block]graph.Mark)}

	blocks := g.Blocks()
	for _, b := range blocks {
		c.mark[b] = graph.Unvisited
	}

	master := newTask(Sequential)

	// Step 1-2: seed with sources (no providers), compile into a PARALLEL
	// task appended to master.
	seeds := make([]*graph.Block, 0, len(blocks))
	for _, b := range blocks {
		if len(g.Providers(b)) == 0 {
			seeds = append(seeds, b)
		}
	}

	next, err := c.compileWave(seeds, master)
	if err != nil {
		return nil, err
	}

	// Step 3: repeat with each new working set until empty.
	for len(next) > 0 {
		wave := next
		next, err = c.compileWave(wave, master)
		if err != nil {
			return nil, err
		}
	}

	// Step 4: any block still Unvisited belongs to a disconnected,
	// cycle-free island (or an unreachable cycle); compile it directly
	// into master in iteration order.
	for _, b := range blocks {
		if c.mark[b] == graph.Unvisited {
			if err := c.compileBlock(b, master, &[]*graph.Block{}); err != nil {
				return nil, err
			}
		}
	}

	simplified := master.simplify()
	return &CompiledGraph{path: string(g.Path()), master: simplified}, nil
}

// compileWave compiles one working set into a PARALLEL task appended to
// master, each seed the start of its own SEQUENTIAL child, collecting the
// next wave's blocks.
func (c *compiler) compileWave(blocks []*graph.Block, master *Task) ([]*graph.Block, error) {
	if len(blocks) == 0 {
		return nil, nil
	}
	wave := newTask(Parallel)
	var next []*graph.Block
	for _, b := range blocks {
		seq := newTask(Sequential)
		if err := c.compileBlock(b, seq, &next); err != nil {
			return nil, err
		}
		wave.push(seq)
	}
	master.push(wave)
	return next, nil
}

// compileBlock implements CompiledGraph::compile_block: mark n Visiting,
// append SINGLE(n), recurse into its dependants, mark Visited.
func (c *compiler) compileBlock(n *graph.Block, task *Task, next *[]*graph.Block) error {
	switch c.mark[n] {
	case graph.Visiting:
		return &FeedbackError{Node: string(n.Path())}
	case graph.Visited:
		return nil
	}

	c.mark[n] = graph.Visiting
	task.push(&Task{Mode: Single, Block: n})

	deps := c.g.Dependants(n)
	if len(deps) < 2 {
		for _, d := range deps {
			if err := c.compileDependant(n, d, task, next); err != nil {
				return err
			}
		}
	} else {
		par := newTask(Parallel)
		for _, d := range deps {
			if err := c.compileDependant(n, d, par, next); err != nil {
				return err
			}
		}
		task.push(par)
	}

	c.mark[n] = graph.Visited
	return nil
}

// compileDependant implements CompiledGraph::compile_dependant: a
// dependant with more than one provider starts a new wave (after a
// feedback check); otherwise it is appended to the current task, opening
// a new SEQUENTIAL child if task is itself PARALLEL.
func (c *compiler) compileDependant(root, d *graph.Block, task *Task, next *[]*graph.Block) error {
	if len(c.g.Providers(d)) > 1 {
		if err := c.checkFeedback(root, d); err != nil {
			return err
		}
		*next = append(*next, d)
		return nil
	}
	if task.Mode == Parallel {
		seq := newTask(Sequential)
		if err := c.compileBlock(d, seq, next); err != nil {
			return err
		}
		task.push(seq)
		return nil
	}
	return c.compileBlock(d, task, next)
}

// checkFeedback implements check_feedback: DFS from dependant through its
// own dependants; reaching root again (directly, or via a node still
// marked Visiting) means the graph has a cycle.
func (c *compiler) checkFeedback(root, dependant *graph.Block) error {
	if dependant == root {
		return &FeedbackError{Node: string(root.Path())}
	}
	for _, d := range c.g.Dependants(dependant) {
		mark := c.mark[d]
		switch mark {
		case graph.Unvisited:
			c.mark[d] = graph.Visiting
			if err := c.checkFeedback(root, d); err != nil {
				return err
			}
			c.mark[d] = mark
		case graph.Visiting:
			return &FeedbackError{Node: string(d.Path()), Root: string(root.Path())}
		case graph.Visited:
		}
	}
	return nil
}
