// Package treeview is a pure function from daemon state to a forest of
// UI-facing tree nodes, with pruning/collapse modes and a version-keyed
// cache so a view layer polling every frame doesn't pay for a fresh DAG
// walk when nothing changed.
package treeview

import (
	"fmt"
	"sort"

	"golang.org/x/exp/slices"

	"github.com/distr1/buildtop/internal/model"
)

// PruneMode selects how aggressively the builder collapses inactive
// parts of the dependency tree.
type PruneMode int

const (
	// PruneNone shows every node under every root.
	PruneNone PruneMode = iota
	// PruneNormal keeps only subtrees that expose at least one active
	// leaf, deduplicating leaves that appear under more than one sibling.
	PruneNormal
	// PruneAggressive further flattens surviving subtrees to a list of
	// active nodes only, collapsing linear (single-child) wrapper chains
	// down to their first visible descendant.
	PruneAggressive
)

// Node is one entry in the rendered tree. ID embeds the ancestor-index
// path so the same derivation appearing under two different parents
// gets two distinct UI identities, e.g. "t3/0/2" is the third child of
// the first child of target 3's root.
type Node struct {
	ID       string
	Drv      model.Drv
	Status   model.JobStatus
	Children []*Node
}

// TargetTree is one target's rendered root plus the target it came
// from (so the view layer can show the target's own aggregate status
// alongside its tree).
type TargetTree struct {
	Target model.BuildTarget
	Root   *Node
}

// Forest is the full output of one Build call: per-target trees first,
// then any DAG roots that belong to no target.
type Forest struct {
	Targets     []TargetTree
	OrphanRoots []*Node
}

// Source is the narrow read-only view of daemon state Build needs.
// internal/state.State satisfies it; treeview imports only
// internal/model, not state, so the view layer (the only consumer of
// this package) can wire the two together without either importing
// the other.
type Source interface {
	Targets() []model.BuildTarget
	Jobs() []model.BuildJob
	Nodes() map[model.Drv]*model.Node
	Roots() []model.Drv
	AlreadyBuilt(model.Drv) bool
	Version() uint64
}

// Builder caches the last Forest it produced, keyed by (state version,
// prune mode), so repeated calls from a view layer redrawing at a
// fixed frame rate skip the DAG walk entirely between mutations.
type Builder struct {
	cached map[PruneMode]cacheEntry
}

type cacheEntry struct {
	version uint64
	forest  Forest
}

// NewBuilder returns a ready-to-use Builder.
func NewBuilder() *Builder {
	return &Builder{cached: map[PruneMode]cacheEntry{}}
}

// Build returns the forest for src's current state under mode, reusing
// the cached result if src's version hasn't changed since the last
// call with the same mode. Not safe for concurrent use by multiple
// goroutines; a single view-layer goroutine is expected to own a
// Builder.
func (b *Builder) Build(src Source, mode PruneMode) Forest {
	version := src.Version()
	if entry, ok := b.cached[mode]; ok && entry.version == version {
		return entry.forest
	}
	forest := build(src, mode)
	b.cached[mode] = cacheEntry{version: version, forest: forest}
	return forest
}

// build does the actual, uncached work.
func build(src Source, mode PruneMode) Forest {
	nodes := src.Nodes()
	roots := src.Roots()
	alreadyBuilt := alreadyBuiltSet(src, nodes)

	jobsByID, drvToJobs := indexJobs(src.Jobs())
	targets := src.Targets()
	sort.Slice(targets, func(i, j int) bool { return targets[i].Id < targets[j].Id })

	owned := map[model.Drv]bool{}
	var out Forest
	for _, t := range targets {
		t := t
		owned[t.RootDrv] = true
		ctx := &buildCtx{nodes: nodes, jobsByID: jobsByID, drvToJobs: drvToJobs, alreadyBuilt: alreadyBuilt, target: &t}
		root := ctx.walk(t.RootDrv, fmt.Sprintf("t%d", t.Id), map[model.Drv]bool{})
		root = prune(root, mode)
		if root == nil {
			continue
		}
		out.Targets = append(out.Targets, TargetTree{Target: t, Root: root})
	}

	sortedRoots := append([]model.Drv(nil), roots...)
	sort.Slice(sortedRoots, func(i, j int) bool { return sortedRoots[i].Less(sortedRoots[j]) })
	for i, d := range sortedRoots {
		if owned[d] {
			continue
		}
		ctx := &buildCtx{nodes: nodes, jobsByID: jobsByID, drvToJobs: drvToJobs, alreadyBuilt: alreadyBuilt, target: nil}
		root := ctx.walk(d, fmt.Sprintf("orphan%d", i), map[model.Drv]bool{})
		root = prune(root, mode)
		if root == nil {
			continue
		}
		out.OrphanRoots = append(out.OrphanRoots, root)
	}
	return out
}

func alreadyBuiltSet(src Source, nodes map[model.Drv]*model.Node) map[model.Drv]bool {
	out := make(map[model.Drv]bool, len(nodes))
	for d := range nodes {
		if src.AlreadyBuilt(d) {
			out[d] = true
		}
	}
	return out
}

func indexJobs(jobs []model.BuildJob) (map[model.JobId]*model.BuildJob, map[model.Drv]map[model.JobId]bool) {
	byID := make(map[model.JobId]*model.BuildJob, len(jobs))
	byDrv := map[model.Drv]map[model.JobId]bool{}
	for i := range jobs {
		j := &jobs[i]
		byID[j.Jid] = j
		if byDrv[j.Drv] == nil {
			byDrv[j.Drv] = map[model.JobId]bool{}
		}
		byDrv[j.Drv][j.Jid] = true
	}
	return byID, byDrv
}

type buildCtx struct {
	nodes        map[model.Drv]*model.Node
	jobsByID     map[model.JobId]*model.BuildJob
	drvToJobs    map[model.Drv]map[model.JobId]bool
	alreadyBuilt map[model.Drv]bool
	target       *model.BuildTarget // nil for orphan roots, which have no owning target context
}

// walk builds the full (unpruned) subtree rooted at d. id is this
// node's ancestor-path identifier; visited guards against a malformed,
// cyclic producer recursing forever.
func (c *buildCtx) walk(d model.Drv, id string, visited map[model.Drv]bool) *Node {
	if visited[d] {
		return &Node{ID: id, Drv: d, Status: model.NotEnoughInfo()}
	}
	visited = cloneVisited(visited)
	visited[d] = true

	n := &Node{ID: id, Drv: d, Status: c.statusOf(d)}
	node, ok := c.nodes[d]
	if !ok {
		return n
	}
	deps := make([]model.Drv, 0, len(node.Deps))
	for dep := range node.Deps {
		deps = append(deps, dep)
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].Less(deps[j]) })
	for i, dep := range deps {
		n.Children = append(n.Children, c.walk(dep, fmt.Sprintf("%s/%d", id, i), visited))
	}
	return n
}

func (c *buildCtx) statusOf(d model.Drv) model.JobStatus {
	_, inGraph := c.nodes[d]
	if c.target == nil {
		// Orphan roots have no owning target/requester to resolve a job
		// against; report built-vs-not from the evidence we do have.
		if c.alreadyBuilt[d] {
			return model.AlreadyBuilt()
		}
		if inGraph {
			return model.Queued()
		}
		return model.NotEnoughInfo()
	}
	return model.DrvStatusForTarget(d, c.target, c.jobsByID, c.drvToJobs, c.alreadyBuilt, inGraph)
}

func cloneVisited(v map[model.Drv]bool) map[model.Drv]bool {
	out := make(map[model.Drv]bool, len(v)+1)
	for k := range v {
		out[k] = true
	}
	return out
}

// prune applies mode to a freshly-built (unpruned) tree, returning nil
// if nothing survives.
func prune(root *Node, mode PruneMode) *Node {
	switch mode {
	case PruneNone:
		return root
	case PruneNormal:
		return pruneNormal(root, map[model.Drv]bool{})
	case PruneAggressive:
		flat := flattenActive(root)
		if len(flat) == 0 {
			return nil
		}
		root := &Node{ID: flat[0].ID, Drv: flat[0].Drv, Status: flat[0].Status}
		for _, n := range flat[1:] {
			root.Children = append(root.Children, &Node{ID: n.ID, Drv: n.Drv, Status: n.Status})
		}
		return root
	default:
		return root
	}
}

// pruneNormal keeps a node if it or any descendant is active, and
// dedupes leaf children that repeat a Drv already kept as a leaf under
// the same parent.
func pruneNormal(n *Node, seenLeaf map[model.Drv]bool) *Node {
	if len(n.Children) == 0 {
		if !n.Status.IsActive() {
			return nil
		}
		if seenLeaf[n.Drv] {
			return nil
		}
		seenLeaf[n.Drv] = true
		return &Node{ID: n.ID, Drv: n.Drv, Status: n.Status}
	}

	var kept []*Node
	childSeen := map[model.Drv]bool{}
	for _, c := range n.Children {
		if pc := pruneNormal(c, childSeen); pc != nil {
			kept = append(kept, pc)
		}
	}
	if len(kept) == 0 && !n.Status.IsActive() {
		return nil
	}
	return &Node{ID: n.ID, Drv: n.Drv, Status: n.Status, Children: kept}
}

// flattenActive walks the full tree depth-first and returns every
// active node, collapsing runs of single-child, non-active "wrapper"
// nodes so only the first active descendant of such a chain surfaces.
func flattenActive(root *Node) []*Node {
	var out []*Node
	var walk func(n *Node)
	walk = func(n *Node) {
		cur := n
		for len(cur.Children) == 1 && !cur.Status.IsActive() {
			cur = cur.Children[0]
		}
		if cur.Status.IsActive() {
			out = append(out, cur)
		}
		for _, c := range cur.Children {
			walk(c)
		}
	}
	walk(root)
	return dedupeByID(out)
}

func dedupeByID(nodes []*Node) []*Node {
	seen := map[string]bool{}
	out := nodes[:0]
	for _, n := range nodes {
		if seen[n.ID] {
			continue
		}
		seen[n.ID] = true
		out = append(out, n)
	}
	return slices.Clip(out)
}
