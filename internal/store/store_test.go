package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingen.audio/ingen/internal/buffer"
	"ingen.audio/ingen/internal/graph"
	"ingen.audio/ingen/internal/ingenerr"
	"ingen.audio/ingen/internal/path"
)

func mustPath(t *testing.T, s string) path.Path {
	t.Helper()
	p, err := path.New(s)
	require.NoError(t, err)
	return p
}

func TestStoreResolvesBlockAndPort(t *testing.T) {
	f := buffer.NewFactory()
	root := graph.NewRootGraph(f, 1)
	s := New(root)

	blk, err := root.AddBlock("osc", graph.KindInternal, "", 1)
	require.NoError(t, err)
	blk.AddPort(graph.PortSpec{Symbol: "out", Direction: graph.Output, Type: buffer.Audio, Capacity: 4})

	got, err := s.RequireBlock(mustPath(t, "/osc"))
	require.NoError(t, err)
	assert.Same(t, blk, got)

	port, err := s.RequirePort(mustPath(t, "/osc/out"))
	require.NoError(t, err)
	assert.Equal(t, "out", port.Symbol())
}

func TestStoreRequireBlockNotFound(t *testing.T) {
	f := buffer.NewFactory()
	root := graph.NewRootGraph(f, 1)
	s := New(root)

	_, err := s.RequireBlock(mustPath(t, "/missing"))
	require.Error(t, err)
	var ierr *ingenerr.Error
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, ingenerr.NotFound, ierr.Kind)
}

func TestStoreRequireFreeRejectsExisting(t *testing.T) {
	f := buffer.NewFactory()
	root := graph.NewRootGraph(f, 1)
	s := New(root)

	_, err := root.AddBlock("osc", graph.KindInternal, "", 1)
	require.NoError(t, err)

	err = s.RequireFree(mustPath(t, "/osc"))
	require.Error(t, err)
	var ierr *ingenerr.Error
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, ingenerr.Exists, ierr.Kind)

	assert.NoError(t, s.RequireFree(mustPath(t, "/gain")))
}

func TestStoreRegisterAndUnregisterSubgraph(t *testing.T) {
	f := buffer.NewFactory()
	root := graph.NewRootGraph(f, 1)
	s := New(root)

	sub, err := graph.NewSubgraph(root, "sub", 1)
	require.NoError(t, err)
	s.RegisterGraph(sub)

	got, err := s.RequireGraph(mustPath(t, "/sub"))
	require.NoError(t, err)
	assert.Same(t, sub, got)

	parent, err := s.RequireParentGraph(mustPath(t, "/sub/inner"))
	require.NoError(t, err)
	assert.Same(t, sub, parent)

	s.UnregisterGraph(sub)
	_, err = s.RequireGraph(mustPath(t, "/sub"))
	require.Error(t, err)
}

func TestStoreParentGraphOfRootFails(t *testing.T) {
	f := buffer.NewFactory()
	root := graph.NewRootGraph(f, 1)
	s := New(root)

	_, err := s.RequireParentGraph(mustPath(t, "/"))
	require.Error(t, err)
}
