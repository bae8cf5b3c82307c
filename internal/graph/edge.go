package graph

import "gonum.org/v1/gonum/graph"

// depEdge is the gonum graph.Edge implementation backing a DepEdge. Edge
// direction is dependent -> dependency: AddDependency(parent, child, kind)
// creates an edge from parent to child, matching the teacher's
// batch.go convention (g.SetEdge(g.NewEdge(n, d)) when n depends on d) so
// that g.To(x) enumerates x's dependents and g.From(x) enumerates x's
// dependencies.
type depEdge struct {
	f, t *Node
	kind EdgeKind
}

func (e depEdge) From() graph.Node { return e.f }
func (e depEdge) To() graph.Node   { return e.t }
func (e depEdge) ReversedEdge() graph.Edge {
	return depEdge{f: e.t, t: e.f, kind: e.kind}
}
