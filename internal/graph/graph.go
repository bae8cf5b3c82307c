package graph

import (
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/forgebuild/forge/internal/fingerprint"
	"github.com/forgebuild/forge/internal/forgeerr"
)

// Graph owns the Node arena and the dependency edges between them. It is
// owned exclusively by the coordinator thread (spec §5): callers must not
// mutate a Graph concurrently from multiple goroutines, mirroring the
// teacher's single-threaded-mutation discipline in internal/batch.go.
type Graph struct {
	mu     sync.Mutex // guards construction only; traversal during a build is single-threaded by contract
	g      *simple.DirectedGraph
	byName map[string]*Node
	nextID int64
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{
		g:      simple.NewDirectedGraph(),
		byName: make(map[string]*Node),
	}
}

// Canonicalize normalizes a Node name: trims whitespace, converts path
// separators to the platform-native form, and lower-cases the name on
// platforms whose filesystem is case-insensitive (spec §3 invariant).
func Canonicalize(name string) string {
	name = strings.TrimSpace(name)
	name = filepath.FromSlash(name)
	if caseInsensitiveFS() {
		name = strings.ToLower(name)
	}
	return name
}

func caseInsensitiveFS() bool {
	switch runtime.GOOS {
	case "windows", "darwin":
		return true
	default:
		return false
	}
}

// FindOrCreate returns the Node named name, creating it with the given
// type and config if it does not yet exist. If it already exists with a
// different Type or Config, that is a ConfigError (spec §4.2).
func (gr *Graph) FindOrCreate(name string, typ Type, config []byte) (*Node, error) {
	gr.mu.Lock()
	defer gr.mu.Unlock()

	name = Canonicalize(name)
	if n, ok := gr.byName[name]; ok {
		if n.Type != typ {
			return nil, forgeerr.New(forgeerr.ConfigError, name,
				xerrors.Errorf("node %q redeclared with type %v, want %v", name, typ, n.Type))
		}
		return n, nil
	}
	n := &Node{
		id:           gr.nextID,
		Name:         name,
		Type:         typ,
		Config:       config,
		State:        NotProcessed,
		OutputStamps: make(map[string]fingerprint.Stamp),
	}
	gr.nextID++
	gr.byName[name] = n
	gr.g.AddNode(n)
	return n, nil
}

// Lookup returns the Node named name, if it exists.
func (gr *Graph) Lookup(name string) (*Node, bool) {
	gr.mu.Lock()
	defer gr.mu.Unlock()
	n, ok := gr.byName[Canonicalize(name)]
	return n, ok
}

// Nodes returns every Node in the graph, in arbitrary order.
func (gr *Graph) Nodes() []*Node {
	gr.mu.Lock()
	defer gr.mu.Unlock()
	out := make([]*Node, 0, len(gr.byName))
	for _, n := range gr.byName {
		out = append(out, n)
	}
	return out
}

// wouldCycle reports whether adding an edge parent->child would create a
// cycle, i.e. whether child can already reach parent.
func (gr *Graph) wouldCycle(parent, child *Node) bool {
	if parent == child {
		return true
	}
	visited := make(map[int64]bool)
	var stack []*Node
	stack = append(stack, child)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur.ID() == parent.ID() {
			return true
		}
		if visited[cur.ID()] {
			continue
		}
		visited[cur.ID()] = true
		to := gr.g.From(cur.ID())
		for to.Next() {
			stack = append(stack, to.Node().(*Node))
		}
	}
	return false
}

// AddDependency records that parent depends on child via an edge of the
// given kind. It rejects the addition if it would create a cycle
// (spec §3 invariant: "Dependency sets are acyclic. The loader must reject
// cycles").
func (gr *Graph) AddDependency(parent, child *Node, kind EdgeKind) error {
	gr.mu.Lock()
	defer gr.mu.Unlock()
	if gr.wouldCycle(parent, child) {
		return forgeerr.New(forgeerr.GraphError, parent.Name,
			xerrors.Errorf("adding dependency %s -> %s (%v) would create a cycle", parent.Name, child.Name, kind))
	}
	gr.g.SetEdge(depEdge{f: parent, t: child, kind: kind})
	return nil
}

// CheckAcyclic runs a full topological sort over the graph (mirrors the
// teacher's use of topo.Sort in batch.Ctx.Build). depdb.Load does not call
// it; Load re-adds edges through AddDependency, which checks each edge.
func (gr *Graph) CheckAcyclic() error {
	gr.mu.Lock()
	defer gr.mu.Unlock()
	if _, err := topo.Sort(gr.g); err != nil {
		return forgeerr.New(forgeerr.GraphError, "", xerrors.Errorf("cycle detected: %w", err))
	}
	return nil
}

// Deps returns parent's direct dependencies of the given kind, in
// insertion order is not guaranteed (gonum iteration order).
func (gr *Graph) Deps(parent *Node, kind EdgeKind) []*Node {
	gr.mu.Lock()
	defer gr.mu.Unlock()
	var out []*Node
	it := gr.g.From(parent.ID())
	for it.Next() {
		child := it.Node().(*Node)
		e := gr.g.Edge(parent.ID(), child.ID()).(depEdge)
		if e.kind == kind {
			out = append(out, child)
		}
	}
	return out
}

// AllDeps returns parent's direct dependencies of any kind.
func (gr *Graph) AllDeps(parent *Node) []*Node {
	gr.mu.Lock()
	defer gr.mu.Unlock()
	var out []*Node
	it := gr.g.From(parent.ID())
	for it.Next() {
		out = append(out, it.Node().(*Node))
	}
	return out
}

// Dependents returns the Nodes that directly depend on n.
func (gr *Graph) Dependents(n *Node) []*Node {
	gr.mu.Lock()
	defer gr.mu.Unlock()
	var out []*Node
	it := gr.g.To(n.ID())
	for it.Next() {
		out = append(out, it.Node().(*Node))
	}
	return out
}

// RemoveDynamicDeps clears every Dynamic-kind outgoing edge from n, in
// preparation for atomically replacing them with a freshly discovered set
// (spec §4.2 "Dynamic dependencies": "The graph replaces the previous
// dynamic dep set atomically").
func (gr *Graph) RemoveDynamicDeps(n *Node) {
	gr.mu.Lock()
	defer gr.mu.Unlock()
	it := gr.g.From(n.ID())
	var toRemove []int64
	for it.Next() {
		child := it.Node().(*Node)
		e := gr.g.Edge(n.ID(), child.ID()).(depEdge)
		if e.kind == Dynamic {
			toRemove = append(toRemove, child.ID())
		}
	}
	for _, id := range toRemove {
		gr.g.RemoveEdge(n.ID(), id)
	}
}

// MarkDirty clears up-to-date status transitively for n and every Node
// that (directly or transitively) depends on it (spec §4.2).
func (gr *Graph) MarkDirty(n *Node) {
	gr.mu.Lock()
	defer gr.mu.Unlock()
	visited := make(map[int64]bool)
	queue := []*Node{n}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur.ID()] {
			continue
		}
		visited[cur.ID()] = true
		cur.State = NotProcessed
		it := gr.g.To(cur.ID())
		for it.Next() {
			queue = append(queue, it.Node().(*Node))
		}
	}
}
