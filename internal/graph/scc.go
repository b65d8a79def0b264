package graph

import "sort"

// CyclicComponents returns every strongly connected component of size >= 2,
// plus every self-loop, as sorted name lists. An empty result means the
// graph is safe to execute.
//
// Determinism: Tarjan's algorithm is run over canonical indices with sorted
// adjacency, and both the components and their members are sorted, so the
// diagnostic is stable across runs.
func (g *Graph) CyclicComponents() [][]string {
	n := len(g.nodes)

	index := make([]int, n)
	lowlink := make([]int, n)
	onStack := make([]bool, n)
	for i := range index {
		index[i] = -1
	}

	var stack []int
	next := 0
	var components [][]int

	var strongconnect func(v int)
	strongconnect = func(v int) {
		index[v] = next
		lowlink[v] = next
		next++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.deps[v] {
			if index[w] == -1 {
				strongconnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] {
				if index[w] < lowlink[v] {
					lowlink[v] = index[w]
				}
			}
		}

		if lowlink[v] == index[v] {
			var comp []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				comp = append(comp, w)
				if w == v {
					break
				}
			}
			components = append(components, comp)
		}
	}

	for v := 0; v < n; v++ {
		if index[v] == -1 {
			strongconnect(v)
		}
	}

	var out [][]string
	for _, comp := range components {
		if len(comp) == 1 && !g.hasSelfLoop(comp[0]) {
			continue
		}
		names := make([]string, len(comp))
		for i, idx := range comp {
			names[i] = g.nodes[idx].Name()
		}
		sort.Strings(names)
		out = append(out, names)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

func (g *Graph) hasSelfLoop(v int) bool {
	for _, w := range g.deps[v] {
		if w == v {
			return true
		}
	}
	return false
}
