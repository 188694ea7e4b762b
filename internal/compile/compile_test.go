package compile

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingen.audio/ingen/internal/buffer"
	"ingen.audio/ingen/internal/graph"
	"ingen.audio/ingen/internal/runctx"
)

// recorder is a Processor that appends its block's path to a shared,
// mutex-guarded order slice each time it runs, so tests can assert on
// dependency ordering without inspecting the Task tree directly.
type recorder struct {
	mu    *sync.Mutex
	order *[]string
	path  string
}

func (r *recorder) PreProcess(*runctx.RunContext)  {}
func (r *recorder) PostProcess(*runctx.RunContext) {}
func (r *recorder) Process(*runctx.RunContext) {
	r.mu.Lock()
	*r.order = append(*r.order, r.path)
	r.mu.Unlock()
}

func attachRecorder(t *testing.T, g *graph.Graph, symbol string, mu *sync.Mutex, order *[]string) *graph.Block {
	t.Helper()
	blk, err := g.AddBlock(symbol, graph.KindInternal, "", 1)
	require.NoError(t, err)
	blk.SetProcessor(&recorder{mu: mu, order: order, path: symbol})
	return blk
}

func audioPorts(t *testing.T, out, in *graph.Block) (*graph.Port, *graph.Port) {
	t.Helper()
	op := out.AddPort(graph.PortSpec{Symbol: "out", Direction: graph.Output, Type: buffer.Audio, Capacity: 4})
	ip := in.AddPort(graph.PortSpec{Symbol: "in", Direction: graph.Input, Type: buffer.Audio, Capacity: 4})
	return op, ip
}

func indexOf(order []string, s string) int {
	for i, v := range order {
		if v == s {
			return i
		}
	}
	return -1
}

func TestCompileLinearChainRespectsOrder(t *testing.T) {
	f := buffer.NewFactory()
	g := graph.NewRootGraph(f, 1)

	var mu sync.Mutex
	var order []string
	a := attachRecorder(t, g, "a", &mu, &order)
	b := attachRecorder(t, g, "b", &mu, &order)
	c := attachRecorder(t, g, "c", &mu, &order)

	aOut, bIn := audioPorts(t, a, b)
	_, err := g.Connect(aOut, bIn)
	require.NoError(t, err)
	bOut, cIn := audioPorts(t, b, c)
	_, err = g.Connect(bOut, cIn)
	require.NoError(t, err)

	cg, err := Compile(g)
	require.NoError(t, err)

	exec := NewExecutor(2)
	cg.Run(&runctx.RunContext{NFrames: 4}, exec)

	require.Len(t, order, 3)
	assert.Less(t, indexOf(order, "a"), indexOf(order, "b"))
	assert.Less(t, indexOf(order, "b"), indexOf(order, "c"))
}

func TestCompileParallelBranchesBothRun(t *testing.T) {
	f := buffer.NewFactory()
	g := graph.NewRootGraph(f, 1)

	var mu sync.Mutex
	var order []string
	a := attachRecorder(t, g, "a", &mu, &order)
	b1 := attachRecorder(t, g, "b1", &mu, &order)
	b2 := attachRecorder(t, g, "b2", &mu, &order)

	aOut1 := a.AddPort(graph.PortSpec{Symbol: "out1", Direction: graph.Output, Type: buffer.Audio, Capacity: 4})
	aOut2 := a.AddPort(graph.PortSpec{Symbol: "out2", Direction: graph.Output, Type: buffer.Audio, Capacity: 4})
	b1In := b1.AddPort(graph.PortSpec{Symbol: "in", Direction: graph.Input, Type: buffer.Audio, Capacity: 4})
	b2In := b2.AddPort(graph.PortSpec{Symbol: "in", Direction: graph.Input, Type: buffer.Audio, Capacity: 4})

	_, err := g.Connect(aOut1, b1In)
	require.NoError(t, err)
	_, err = g.Connect(aOut2, b2In)
	require.NoError(t, err)

	cg, err := Compile(g)
	require.NoError(t, err)

	exec := NewExecutor(2)
	cg.Run(&runctx.RunContext{NFrames: 4}, exec)

	require.Len(t, order, 3)
	assert.Less(t, indexOf(order, "a"), indexOf(order, "b1"))
	assert.Less(t, indexOf(order, "a"), indexOf(order, "b2"))
}

func TestCompileDisconnectedIslandsBothRun(t *testing.T) {
	f := buffer.NewFactory()
	g := graph.NewRootGraph(f, 1)

	var mu sync.Mutex
	var order []string
	attachRecorder(t, g, "island1", &mu, &order)
	attachRecorder(t, g, "island2", &mu, &order)

	cg, err := Compile(g)
	require.NoError(t, err)

	exec := NewExecutor(1)
	cg.Run(&runctx.RunContext{NFrames: 4}, exec)

	assert.ElementsMatch(t, []string{"island1", "island2"}, order)
}

func TestCompileDetectsDirectFeedback(t *testing.T) {
	f := buffer.NewFactory()
	g := graph.NewRootGraph(f, 1)

	a, err := g.AddBlock("a", graph.KindInternal, "", 1)
	require.NoError(t, err)
	b, err := g.AddBlock("b", graph.KindInternal, "", 1)
	require.NoError(t, err)

	aOut := a.AddPort(graph.PortSpec{Symbol: "out", Direction: graph.Output, Type: buffer.Audio, Capacity: 4})
	aIn := a.AddPort(graph.PortSpec{Symbol: "in", Direction: graph.Input, Type: buffer.Audio, Capacity: 4})
	bOut := b.AddPort(graph.PortSpec{Symbol: "out", Direction: graph.Output, Type: buffer.Audio, Capacity: 4})
	bIn := b.AddPort(graph.PortSpec{Symbol: "in", Direction: graph.Input, Type: buffer.Audio, Capacity: 4})

	_, err = g.Connect(aOut, bIn)
	require.NoError(t, err)
	_, err = g.Connect(bOut, aIn)
	require.NoError(t, err)

	_, err = Compile(g)
	require.Error(t, err)
	var fe *FeedbackError
	require.ErrorAs(t, err, &fe)
}

func TestEmptyGraphCompilesToNoOp(t *testing.T) {
	cg := Empty("/")
	exec := NewExecutor(1)
	assert.NotPanics(t, func() {
		cg.Run(&runctx.RunContext{NFrames: 4}, exec)
	})
}

func TestSimplifyCollapsesSingleChildNesting(t *testing.T) {
	leaf := &Task{Mode: Single}
	mid := &Task{Mode: Sequential, Children: []*Task{leaf}}
	top := &Task{Mode: Sequential, Children: []*Task{mid}}

	got := top.simplify()
	assert.Same(t, leaf, got)
}

func TestSimplifyFlattensSameModeNesting(t *testing.T) {
	a := &Task{Mode: Single}
	b := &Task{Mode: Single}
	c := &Task{Mode: Single}
	inner := &Task{Mode: Sequential, Children: []*Task{a, b}}
	top := &Task{Mode: Sequential, Children: []*Task{inner, c}}

	got := top.simplify()
	require.Equal(t, Sequential, got.Mode)
	assert.Equal(t, []*Task{a, b, c}, got.Children)
}

func TestExecutorRunsMoreChildrenThanPoolSize(t *testing.T) {
	exec := NewExecutor(2)
	assert.Equal(t, 2, exec.Size())

	children := make([]*Task, 0, 5)
	for i := 0; i < 5; i++ {
		children = append(children, &Task{Mode: Single})
	}
	par := &Task{Mode: Parallel, Children: children}
	assert.NotPanics(t, func() {
		par.Run(&runctx.RunContext{NFrames: 4}, exec)
	})
}
