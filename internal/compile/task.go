// Package compile reduces a graph.Graph into a schedulable Task tree
// respecting data dependencies (§4.4), and runs that tree each audio
// cycle (§4.5).
//
// Grounded on _examples/original_source/src/server/CompiledGraph.{hpp,cpp}
// for the compilation algorithm, and on the teacher's internal/execution
// package (execution.go/line.go/link.go: a line of linked runners fanned
// out across goroutines) for the Task.Run worker-pool shape, adapted from
// a fixed pump→processor→sink pipeline to a data-dependency tree of
// arbitrary block fan-out/fan-in.
package compile

import (
	"strings"

	"ingen.audio/ingen/internal/graph"
	"ingen.audio/ingen/internal/runctx"
)

// Mode identifies how a Task's children relate to each other.
type Mode int

const (
	// Single wraps exactly one block; Children is empty.
	Single Mode = iota
	// Sequential runs children in order on the current goroutine.
	Sequential
	// Parallel fans children out to the worker pool, awaiting completion.
	Parallel
)

func (m Mode) String() string {
	switch m {
	case Single:
		return "single"
	case Sequential:
		return "sequential"
	default:
		return "parallel"
	}
}

// Task is one node of the compiled execution tree.
type Task struct {
	Mode     Mode
	Block    *graph.Block // set iff Mode == Single
	Children []*Task
}

func newTask(mode Mode) *Task { return &Task{Mode: mode} }

func (t *Task) push(child *Task) { t.Children = append(t.Children, child) }

// simplify collapses single-child Sequential/Parallel nodes to that
// child, and flattens nested tasks of the same mode into their parent,
// per spec.md §4.4 step 5 / CompiledGraph::simplify.
func (t *Task) simplify() *Task {
	for i, c := range t.Children {
		t.Children[i] = c.simplify()
	}
	if t.Mode != Single && len(t.Children) == 1 {
		return t.Children[0]
	}
	if t.Mode == Sequential || t.Mode == Parallel {
		flat := make([]*Task, 0, len(t.Children))
		for _, c := range t.Children {
			if c.Mode == t.Mode {
				flat = append(flat, c.Children...)
			} else {
				flat = append(flat, c)
			}
		}
		t.Children = flat
	}
	return t
}

// Run executes the task tree against ctx. Single blocks invoke the three
// process-phase hooks; Sequential runs children in order on the caller's
// goroutine; Parallel fans children out through the Executor.
func (t *Task) Run(ctx *runctx.RunContext, exec *Executor) {
	switch t.Mode {
	case Single:
		if t.Block == nil {
			return
		}
		t.Block.MixInputs(ctx)
		t.Block.PreProcess(ctx)
		t.Block.Process(ctx)
		t.Block.PostProcess(ctx)
	case Sequential:
		for _, c := range t.Children {
			c.Run(ctx, exec)
		}
	case Parallel:
		exec.runParallel(ctx, t.Children)
	}
}

// dump renders the task tree as an s-expression-shaped string, the way
// CompiledGraph::dump does for the `trace` option.
func (t *Task) dump(b *strings.Builder, depth int) {
	b.WriteString(strings.Repeat("  ", depth))
	switch t.Mode {
	case Single:
		b.WriteString("(single ")
		if t.Block != nil {
			b.WriteString(string(t.Block.Path()))
		}
		b.WriteString(")\n")
	default:
		b.WriteString("(")
		b.WriteString(t.Mode.String())
		b.WriteString("\n")
		for _, c := range t.Children {
			c.dump(b, depth+1)
		}
		b.WriteString(strings.Repeat("  ", depth))
		b.WriteString(")\n")
	}
}
