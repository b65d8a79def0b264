// Package graph builds the dependency graph of one invocation by expanding
// analyzer dependency sets breadth-first from a declared root.
//
// The graph may contain cycles; CyclicComponents reports them and the
// executor refuses to run a cyclic graph. Everything else in the engine may
// assume acyclicity.
package graph

import (
	"sort"

	"github.com/pkg/errors"

	"taskweave/internal/core"
)

// DepsFunc returns the direct dependencies of one task. It is supplied by
// the analyzer (or a test double).
type DepsFunc func(d *core.Descriptor) ([]*core.Descriptor, error)

// Node is an immutable graph node.
type Node struct {
	Desc           *core.Descriptor
	canonicalIndex int
}

// Name returns the node's qualified task name.
func (n *Node) Name() string { return n.Desc.QualifiedName() }

// Graph maps each reachable task to its direct dependencies and dependents.
//
// Determinism: nodes are held in canonical order (sorted qualified name) and
// adjacency lists are sorted by canonical index, so every traversal is
// independent of map iteration order.
type Graph struct {
	nodes  []*Node
	byName map[string]*Node

	deps       [][]int // by canonical index: direct dependencies
	dependents [][]int // by canonical index: reverse edges

	root int
}

// Build expands the graph from root via BFS over depsOf. Only tasks
// transitively reachable from the root are included. Cycles are allowed
// here; detection is CyclicComponents' job.
func Build(root *core.Descriptor, depsOf DepsFunc) (*Graph, error) {
	if root == nil {
		return nil, errors.New("nil root descriptor")
	}
	if depsOf == nil {
		return nil, errors.New("nil dependency function")
	}

	descs := map[string]*core.Descriptor{root.QualifiedName(): root}
	adj := map[string][]string{}

	queue := []*core.Descriptor{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		name := cur.QualifiedName()
		if _, done := adj[name]; done {
			continue
		}

		deps, err := depsOf(cur)
		if err != nil {
			return nil, errors.Wrapf(err, "expanding dependencies of %s", name)
		}

		// Dependency sets are plain sets; canonicalize to sorted unique names.
		seen := map[string]bool{}
		names := make([]string, 0, len(deps))
		for _, dep := range deps {
			dn := dep.QualifiedName()
			if seen[dn] {
				continue
			}
			seen[dn] = true
			names = append(names, dn)
			if _, known := descs[dn]; !known {
				descs[dn] = dep
				queue = append(queue, dep)
			}
		}
		sort.Strings(names)
		adj[name] = names
	}

	g := &Graph{byName: make(map[string]*Node, len(descs))}

	ordered := make([]string, 0, len(descs))
	for name := range descs {
		ordered = append(ordered, name)
	}
	sort.Strings(ordered)
	for i, name := range ordered {
		n := &Node{Desc: descs[name], canonicalIndex: i}
		g.nodes = append(g.nodes, n)
		g.byName[name] = n
	}

	g.deps = make([][]int, len(g.nodes))
	g.dependents = make([][]int, len(g.nodes))
	for name, depNames := range adj {
		u := g.byName[name].canonicalIndex
		for _, dn := range depNames {
			v := g.byName[dn].canonicalIndex
			g.deps[u] = append(g.deps[u], v)
			g.dependents[v] = append(g.dependents[v], u)
		}
	}
	for i := range g.deps {
		sort.Ints(g.deps[i])
	}
	for i := range g.dependents {
		sort.Ints(g.dependents[i])
	}

	g.root = g.byName[root.QualifiedName()].canonicalIndex
	return g, nil
}

// Root returns the qualified name of the declared root.
func (g *Graph) Root() string { return g.nodes[g.root].Name() }

// Len returns the number of reachable tasks.
func (g *Graph) Len() int { return len(g.nodes) }

// Names returns every reachable task name in canonical order.
func (g *Graph) Names() []string {
	out := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = n.Name()
	}
	return out
}

// Has reports whether name is a reachable task.
func (g *Graph) Has(name string) bool {
	_, ok := g.byName[name]
	return ok
}

// Node returns the node for name.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.byName[name]
	return n, ok
}

// DependenciesFor returns the direct dependencies of name in canonical order.
func (g *Graph) DependenciesFor(name string) []string {
	return g.neighbors(name, g.deps)
}

// DependentsFor returns the direct dependents of name in canonical order.
func (g *Graph) DependentsFor(name string) []string {
	return g.neighbors(name, g.dependents)
}

func (g *Graph) neighbors(name string, adj [][]int) []string {
	n, ok := g.byName[name]
	if !ok {
		return nil
	}
	idxs := adj[n.canonicalIndex]
	out := make([]string, len(idxs))
	for i, idx := range idxs {
		out[i] = g.nodes[idx].Name()
	}
	return out
}

// Leaves returns the tasks with empty dependency sets, in canonical order.
func (g *Graph) Leaves() []string {
	out := make([]string, 0)
	for i, n := range g.nodes {
		if len(g.deps[i]) == 0 {
			out = append(out, n.Name())
		}
	}
	return out
}

// Edges returns every (task, dependency) pair in canonical order.
func (g *Graph) Edges() [][2]string {
	out := make([][2]string, 0)
	for u := range g.deps {
		for _, v := range g.deps[u] {
			out = append(out, [2]string{g.nodes[u].Name(), g.nodes[v].Name()})
		}
	}
	return out
}
