package model

import (
	"errors"
	"log"
	"os"
	"sort"

	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Node is the dependency-graph record for one derivation.
type Node struct {
	Root Drv

	// Deps are the direct dependencies of Root (edges out).
	Deps map[Drv]bool

	// RequiredOutputs are the output names consumers of Root declared
	// they need (e.g. {"out", "dev"}).
	RequiredOutputs map[string]bool

	// RequiredOutputPaths are the concrete store paths backing
	// RequiredOutputs; their on-disk existence is the evidence that Root
	// is already built.
	RequiredOutputPaths map[string]bool
}

func newNode(root Drv) *Node {
	return &Node{
		Root:                root,
		Deps:                map[Drv]bool{},
		RequiredOutputs:     map[string]bool{},
		RequiredOutputPaths: map[string]bool{},
	}
}

// DrvFileReader resolves a derivation's on-disk declaration into its direct
// dependencies (each with the output names requested of it) and its own
// declared outputs (name -> store path). It is implemented by
// internal/aterm and injected here so this package stays free of I/O and
// grammar concerns.
type DrvFileReader interface {
	ParseDrvFile(d Drv) (deps map[Drv][]string, outputs map[string]string, err error)
}

// Graph is the dependency DAG over derivations.
type Graph struct {
	Nodes     map[Drv]*Node
	TreeRoots map[Drv]bool
}

// NewGraph returns an empty, ready-to-use Graph.
func NewGraph() *Graph {
	return &Graph{
		Nodes:     map[Drv]*Node{},
		TreeRoots: map[Drv]bool{},
	}
}

// Insert inserts d and its transitive dependencies into the graph by
// reading their on-disk derivation declarations through reader, then
// recomputes roots from scratch. It is a no-op if d is already known.
//
// Failure to parse or locate d's declaration aborts only d's insertion (it
// is logged, not propagated): the caller sees d as not-in-graph, and any
// target closure computed through d will be partial.
func (g *Graph) Insert(d Drv, reader DrvFileReader) {
	g.insertRecursive(d, nil, reader)
	g.RecalculateRoots()
}

func (g *Graph) insertRecursive(d Drv, requiredOutputs []string, reader DrvFileReader) {
	if _, ok := g.Nodes[d]; ok {
		return
	}

	deps, outputs, err := reader.ParseDrvFile(d)
	if err != nil {
		log.Printf("model: insert %s: %v", d, err)
		return
	}

	for dep, depOutputs := range deps {
		g.insertRecursive(dep, depOutputs, reader)
	}

	if len(requiredOutputs) == 0 {
		requiredOutputs = []string{"out"}
	}

	node := newNode(d)
	for dep := range deps {
		node.Deps[dep] = true
	}
	for _, name := range requiredOutputs {
		node.RequiredOutputs[name] = true
		if path, ok := outputs[name]; ok && path != "" {
			node.RequiredOutputPaths[path] = true
		}
	}
	g.Nodes[d] = node
}

// RecalculateRoots recomputes TreeRoots = Nodes − ⋃ node.Deps, an O(E) scan
// over the whole graph. The graph tops out at a few thousand nodes, so
// incremental bookkeeping is not warranted.
func (g *Graph) RecalculateRoots() {
	hasParent := map[Drv]bool{}
	for _, n := range g.Nodes {
		for dep := range n.Deps {
			hasParent[dep] = true
		}
	}
	roots := map[Drv]bool{}
	for d := range g.Nodes {
		if !hasParent[d] {
			roots[d] = true
		}
	}
	g.TreeRoots = roots
}

// IsAlreadyBuilt reports whether every path in d's RequiredOutputPaths
// exists on disk — the evidence that d needs no further work. A node
// with no required output paths reports false.
func (g *Graph) IsAlreadyBuilt(d Drv) bool {
	n, ok := g.Nodes[d]
	if !ok {
		return false
	}
	if len(n.RequiredOutputPaths) == 0 {
		return false
	}
	for p := range n.RequiredOutputPaths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// TransitiveClosure returns every Drv reachable from root (root included)
// by following Deps edges, guarding against cycles with a visited set: a
// cyclic dependency set is a producer bug, but must not hang us.
func (g *Graph) TransitiveClosure(root Drv) map[Drv]bool {
	closure := map[Drv]bool{}
	visited := map[Drv]bool{}
	var walk func(d Drv)
	walk = func(d Drv) {
		if visited[d] {
			return
		}
		visited[d] = true
		closure[d] = true
		n, ok := g.Nodes[d]
		if !ok {
			return
		}
		for dep := range n.Deps {
			walk(dep)
		}
	}
	walk(root)
	return closure
}

// SortedDrvs returns every known Drv in deterministic (hash, name) order,
// for stable output.
func (g *Graph) SortedDrvs() []Drv {
	out := make([]Drv, 0, len(g.Nodes))
	for d := range g.Nodes {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return slices.Clip(out)
}

// SortedRoots returns TreeRoots in deterministic order.
func (g *Graph) SortedRoots() []Drv {
	out := make([]Drv, 0, len(g.TreeRoots))
	for d := range g.TreeRoots {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// asSimpleGraph builds a gonum directed graph mirroring g, used by
// HasCycle's topological-sort check: a malformed producer can in
// principle emit a cyclic dependency set, and we would rather report
// it than discover it as mysterious partial closures later.
func (g *Graph) asSimpleGraph() (*simple.DirectedGraph, map[int64]Drv, map[Drv]int64) {
	sg := simple.NewDirectedGraph()
	ids := make(map[Drv]int64, len(g.Nodes))
	rev := make(map[int64]Drv, len(g.Nodes))
	var next int64
	idOf := func(d Drv) int64 {
		if id, ok := ids[d]; ok {
			return id
		}
		id := next
		next++
		ids[d] = id
		rev[id] = d
		sg.AddNode(simpleNode(id))
		return id
	}
	for d, n := range g.Nodes {
		from := idOf(d)
		for dep := range n.Deps {
			to := idOf(dep)
			if from == to {
				continue
			}
			sg.SetEdge(sg.NewEdge(simpleNode(from), simpleNode(to)))
		}
	}
	return sg, rev, ids
}

type simpleNode int64

func (n simpleNode) ID() int64 { return int64(n) }

// HasCycle reports whether the graph currently contains a cycle. The
// aggregator runs it after every insertion and logs on detection;
// traversals themselves (TransitiveClosure, treeview) tolerate cycles
// via visited sets, so this is a diagnostic, not a gate.
func (g *Graph) HasCycle() bool {
	sg, _, _ := g.asSimpleGraph()
	_, err := topo.Sort(sg)
	if err == nil {
		return false
	}
	var unordered topo.Unorderable
	return errors.As(err, &unordered)
}
