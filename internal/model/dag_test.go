package model

import "testing"

// fakeReader implements DrvFileReader over an in-memory map, standing in
// for internal/aterm in tests.
type fakeReader struct {
	deps    map[Drv]map[Drv][]string
	outputs map[Drv]map[string]string
}

func (f *fakeReader) ParseDrvFile(d Drv) (map[Drv][]string, map[string]string, error) {
	return f.deps[d], f.outputs[d], nil
}

func TestGraphInsertAndRoots(t *testing.T) {
	leaf := Drv{Hash: "11111111111111111111111111111111", Name: "leaf"}
	mid := Drv{Hash: "22222222222222222222222222222222", Name: "mid"}
	root := Drv{Hash: "33333333333333333333333333333333", Name: "root"}

	reader := &fakeReader{
		deps: map[Drv]map[Drv][]string{
			root: {mid: {"out"}},
			mid:  {leaf: {"out"}},
			leaf: {},
		},
		outputs: map[Drv]map[string]string{
			leaf: {"out": "/build/distri/pkg/leafout"},
			mid:  {"out": "/build/distri/pkg/midout"},
			root: {"out": "/build/distri/pkg/rootout"},
		},
	}

	g := NewGraph()
	g.Insert(root, reader)

	if len(g.Nodes) != 3 {
		t.Fatalf("got %d nodes, want 3", len(g.Nodes))
	}
	// tree_roots = nodes - union(deps)
	if !g.TreeRoots[root] || len(g.TreeRoots) != 1 {
		t.Fatalf("roots = %v, want just %v", g.TreeRoots, root)
	}

	closure := g.TransitiveClosure(root)
	for _, d := range []Drv{root, mid, leaf} {
		if !closure[d] {
			t.Errorf("closure missing %v", d)
		}
	}
}

func TestGraphInsertIdempotent(t *testing.T) {
	d := Drv{Hash: "11111111111111111111111111111111", Name: "leaf"}
	reader := &fakeReader{
		deps:    map[Drv]map[Drv][]string{d: {}},
		outputs: map[Drv]map[string]string{},
	}
	g := NewGraph()
	g.Insert(d, reader)
	g.Insert(d, reader)
	if len(g.Nodes) != 1 {
		t.Fatalf("insert should be a no-op the second time, got %d nodes", len(g.Nodes))
	}
}

func TestGraphCycleToleratedByClosure(t *testing.T) {
	a := Drv{Hash: "11111111111111111111111111111111", Name: "a"}
	b := Drv{Hash: "22222222222222222222222222222222", Name: "b"}
	g := NewGraph()
	g.Nodes[a] = &Node{Root: a, Deps: map[Drv]bool{b: true}, RequiredOutputs: map[string]bool{}, RequiredOutputPaths: map[string]bool{}}
	g.Nodes[b] = &Node{Root: b, Deps: map[Drv]bool{a: true}, RequiredOutputs: map[string]bool{}, RequiredOutputPaths: map[string]bool{}}

	closure := g.TransitiveClosure(a)
	if len(closure) != 2 {
		t.Fatalf("closure over a cycle should still terminate and contain both nodes, got %v", closure)
	}
	if !g.HasCycle() {
		t.Error("HasCycle should detect the a<->b cycle")
	}
}

func TestIsAlreadyBuiltMissingPath(t *testing.T) {
	d := Drv{Hash: "11111111111111111111111111111111", Name: "leaf"}
	g := NewGraph()
	g.Nodes[d] = &Node{
		Root:                 d,
		Deps:                 map[Drv]bool{},
		RequiredOutputs:      map[string]bool{"out": true},
		RequiredOutputPaths:  map[string]bool{"/nonexistent/path/for/test": true},
	}
	if g.IsAlreadyBuilt(d) {
		t.Error("IsAlreadyBuilt should be false when the output path doesn't exist")
	}
}
