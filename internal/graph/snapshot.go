package graph

import "ingen.audio/ingen/internal/path"

// Snapshot is a detached, mutable copy of a Graph's block list and arcs,
// used to compute a prospective provider/dependant topology (and from it
// a prospective CompiledGraph) during an event's non-realtime pre_process
// phase, without touching the live Graph the audio thread may be running
// against concurrently (§4.7: "recompute the parent graph's CompiledGraph
// during pre_process, producing a replacement that is atomically swapped
// during execute").
//
// Blocks and Arcs are the same pointers the live Graph holds — Snapshot
// only detaches the *membership* lists, not the entities themselves, so a
// pending Create's brand-new Block (built but not yet attached) can be
// added to a Snapshot and compiled against before it is ever visible to
// the live Graph.
type Snapshot struct {
	path   path.Path
	blocks []*Block
	arcs   []*Arc
}

// Snapshot detaches a copy of g's current block list and arcs.
func (g *Graph) Snapshot() *Snapshot {
	s := &Snapshot{path: g.Path()}
	s.blocks = append(s.blocks, g.blocks...)
	s.arcs = append(s.arcs, g.arcs...)
	return s
}

// Path satisfies compile.DependencyGraph.
func (s *Snapshot) Path() path.Path { return s.path }

// Blocks satisfies compile.DependencyGraph.
func (s *Snapshot) Blocks() []*Block { return s.blocks }

// Providers satisfies compile.DependencyGraph: every block with an arc
// feeding blk, scanned from the snapshot's detached arc list.
func (s *Snapshot) Providers(blk *Block) []*Block {
	seen := make(map[*Block]struct{})
	var out []*Block
	for _, a := range s.arcs {
		if a.Head.block == blk && a.Tail.block != blk {
			if _, ok := seen[a.Tail.block]; !ok {
				seen[a.Tail.block] = struct{}{}
				out = append(out, a.Tail.block)
			}
		}
	}
	return out
}

// Dependants satisfies compile.DependencyGraph: every block fed by an arc
// sourced from blk.
func (s *Snapshot) Dependants(blk *Block) []*Block {
	seen := make(map[*Block]struct{})
	var out []*Block
	for _, a := range s.arcs {
		if a.Tail.block == blk && a.Head.block != blk {
			if _, ok := seen[a.Head.block]; !ok {
				seen[a.Head.block] = struct{}{}
				out = append(out, a.Head.block)
			}
		}
	}
	return out
}

// AddBlock adds a not-yet-attached block to the snapshot, for a pending
// Create.
func (s *Snapshot) AddBlock(b *Block) { s.blocks = append(s.blocks, b) }

// RemoveBlock removes a block and every arc touching it, for a pending
// Delete.
func (s *Snapshot) RemoveBlock(b *Block) {
	blocks := s.blocks[:0]
	for _, blk := range s.blocks {
		if blk != b {
			blocks = append(blocks, blk)
		}
	}
	s.blocks = blocks

	arcs := s.arcs[:0]
	for _, a := range s.arcs {
		if a.Tail.block != b && a.Head.block != b {
			arcs = append(arcs, a)
		}
	}
	s.arcs = arcs
}

// Connect adds a pending arc, for a pending Connect.
func (s *Snapshot) Connect(tail, head *Port) {
	s.arcs = append(s.arcs, &Arc{Tail: tail, Head: head})
}

// Disconnect removes a pending arc, for a pending Disconnect.
func (s *Snapshot) Disconnect(tail, head *Port) {
	arcs := s.arcs[:0]
	for _, a := range s.arcs {
		if !(a.Tail == tail && a.Head == head) {
			arcs = append(arcs, a)
		}
	}
	s.arcs = arcs
}
