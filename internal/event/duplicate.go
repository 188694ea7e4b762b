package event

import "ingen.audio/ingen/internal/graph"

// duplicateBlock builds a detached copy of src under parent, named symbol.
// For an internal or plugin block this is just a port-for-port clone; for a
// nested Graph it recurses through duplicateGraphContents so the copy's
// inner blocks and arcs mirror the original, per the client Copy request's
// "preserving port values and inner arcs for a nested Graph" contract.
func duplicateBlock(parent *graph.Graph, src *graph.Block, symbol string) (*graph.Block, error) {
	if src.Kind() == graph.KindGraph {
		sg, err := graph.NewDetachedSubgraph(parent, symbol, src.Polyphony())
		if err != nil {
			return nil, err
		}
		copyPorts(sg.AsBlock(), src)
		if err := duplicateGraphContents(src.AsGraph(), sg); err != nil {
			return nil, err
		}
		return sg.AsBlock(), nil
	}

	blk, err := graph.NewBlock(parent.Factory(), parent, symbol, src.Kind(), src.PluginURI(), src.Polyphony())
	if err != nil {
		return nil, err
	}
	copyPorts(blk, src)
	return blk, nil
}

// copyPorts clones src's port list onto dst, in declaration order.
func copyPorts(dst, src *graph.Block) {
	for _, p := range src.Ports() {
		dst.AddPort(graph.PortSpec{
			Symbol:    p.Symbol(),
			Direction: p.Direction(),
			Type:      p.Type(),
			ValueType: p.ValueType(),
			Capacity:  p.Buffer(0).Capacity(),
			Default:   p.Default(),
			Broadcast: p.Broadcast(),
		})
	}
}

// duplicateGraphContents recursively duplicates src's child blocks and arcs
// into dst, which must already carry a port-for-port clone of src's own
// boundary ports. Children are attached to dst as they're built (dst is
// itself still detached from its own parent, so this never touches the
// live tree), then arcs are re-created once every port has a counterpart.
func duplicateGraphContents(src, dst *graph.Graph) error {
	ports := make(map[*graph.Port]*graph.Port)

	srcPorts, dstPorts := src.Ports(), dst.Ports()
	for i, p := range srcPorts {
		ports[p] = dstPorts[i]
	}

	for _, childSrc := range src.Blocks() {
		childDst, err := duplicateBlock(dst, childSrc, childSrc.Symbol())
		if err != nil {
			return err
		}
		if err := dst.Attach(childDst); err != nil {
			return err
		}
		srcChildPorts, dstChildPorts := childSrc.Ports(), childDst.Ports()
		for i, p := range srcChildPorts {
			ports[p] = dstChildPorts[i]
		}
	}

	for _, a := range src.Arcs() {
		tail, head := ports[a.Tail], ports[a.Head]
		if tail == nil || head == nil {
			continue
		}
		if _, err := dst.Connect(tail, head); err != nil {
			return err
		}
	}
	return nil
}
