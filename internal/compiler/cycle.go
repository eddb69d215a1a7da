package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/blockflow/internal/ir"
)

// CycleWarning represents a potential feedback loop between blocks.
//
// Cycles are warnings, not errors: a loop whose blocks stop emitting, or
// that runs through an onCall block, settles on its own. The pass clock
// keeps any block from running twice in one pass.
type CycleWarning struct {
	Path    []string `json:"path"`    // Cycle path: ["calc.a", "calc.b", "calc.a"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning" or "info"
}

// AnalyzeCycles performs static cycle analysis on a flow document.
//
// The algorithm:
//  1. Build a block → dependent block graph from binding paths
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or self-loops as a potential cycle warning
//
// Only paths relative to a block's parent ("##.x") or the flow ("###.x")
// create edges; bindings into #global or through plain values cannot be
// resolved statically.
func AnalyzeCycles(name string, doc map[string]any) []CycleWarning {
	graph := make(dependencyGraph)
	buildDependencyGraph(name, name, doc, graph)

	sccs := tarjanSCC(graph)

	var warnings []CycleWarning
	for _, scc := range sccs {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}
	sort.Slice(warnings, func(i, j int) bool {
		return strings.Join(warnings[i].Path, ".") < strings.Join(warnings[j].Path, ".")
	})
	return warnings
}

// dependencyGraph maps block path → blocks that re-run when it changes.
type dependencyGraph map[string][]string

// buildDependencyGraph adds an edge source → block for every binding of a
// block inside doc that resolves to a sibling (or flow-level) block.
func buildDependencyGraph(flow, path string, doc map[string]any, graph dependencyGraph) {
	for _, k := range ir.SortedKeys(doc) {
		child, ok := doc[k].(map[string]any)
		if !ok || !ir.IsBlockDoc(child) {
			continue
		}
		childPath := path + "." + k
		if graph[childPath] == nil {
			graph[childPath] = []string{}
		}
		for _, ck := range ir.SortedKeys(child) {
			if _, binding := ir.SplitKey(ck); !binding {
				continue
			}
			target, _ := child[ck].(string)
			if src, ok := bindingSource(flow, path, childPath, target); ok {
				graph[src] = append(graph[src], childPath)
			}
		}
		buildDependencyGraph(flow, childPath, child, graph)
	}
}

// bindingSource resolves the block a binding of the block at self reads
// from. parent is the path of self's parent.
func bindingSource(flow, parent, self, target string) (string, bool) {
	segs := strings.Split(target, ".")
	base := self
	switch segs[0] {
	case "#":
		segs = segs[1:]
	case "##":
		base, segs = parent, segs[1:]
	case "###":
		base, segs = flow, segs[1:]
	}
	if len(segs) == 0 {
		return "", false
	}
	if len(segs) == 1 {
		// a field of base itself; only outputs of self loop back
		if base == flow || (base == self && !strings.HasPrefix(segs[0], "#")) {
			return "", false
		}
		return base, true
	}
	if strings.HasPrefix(segs[0], "#") {
		return "", false
	}
	return base + "." + segs[0], true
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph dependencyGraph) bool {
	for _, neighbor := range graph[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Single-node SCCs without self-loops are NOT cycles.
func tarjanSCC(graph dependencyGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	// visit in sorted order so the output is deterministic
	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

// cycleSCCToWarning converts an SCC to a CycleWarning.
func cycleSCCToWarning(scc []string, graph dependencyGraph) CycleWarning {
	if len(scc) == 1 {
		node := scc[0]
		return CycleWarning{
			Path:    []string{node, node},
			Message: fmt.Sprintf("Block binds to its own output: %s → %s", node, node),
			Level:   "warning",
		}
	}

	sort.Strings(scc)
	path := reconstructCyclePath(scc, graph)
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("Potential feedback loop: %s", strings.Join(path, " → ")),
		Level:   "warning",
	}
}

// reconstructCyclePath follows edges within the SCC from its first member
// until it returns to the start.
func reconstructCyclePath(scc []string, graph dependencyGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	sccSet := make(map[string]bool)
	for _, node := range scc {
		sccSet[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if sccSet[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		if next == "" {
			break
		}

		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}

	return path
}
