package treeview

import (
	"testing"

	"github.com/distr1/buildtop/internal/model"
)

type fakeSource struct {
	targets      []model.BuildTarget
	jobs         []model.BuildJob
	nodes        map[model.Drv]*model.Node
	roots        []model.Drv
	alreadyBuilt map[model.Drv]bool
	version      uint64
}

func (f *fakeSource) Targets() []model.BuildTarget { return f.targets }
func (f *fakeSource) Jobs() []model.BuildJob { return f.jobs }
func (f *fakeSource) Nodes() map[model.Drv]*model.Node { return f.nodes }
func (f *fakeSource) Roots() []model.Drv { return f.roots }
func (f *fakeSource) AlreadyBuilt(d model.Drv) bool { return f.alreadyBuilt[d] }
func (f *fakeSource) Version() uint64 { return f.version }

func d(hash string) model.Drv { return model.Drv{Hash: hash, Name: "pkg"} }

// buildChain: root -> mid -> leaf, a linear three-node chain, used by
// both the None/Normal tests (full shape) and the Aggressive test
// (wrapper-chain collapse).
func buildChain(leafActive bool) *fakeSource {
	root := d("00000000000000000000000000000000")
	mid := d("11111111111111111111111111111111")
	leaf := d("22222222222222222222222222222222")

	nodes := map[model.Drv]*model.Node{
		root: {Root: root, Deps: map[model.Drv]bool{mid: true}, RequiredOutputs: map[string]bool{"out": true}},
		mid:  {Root: mid, Deps: map[model.Drv]bool{leaf: true}, RequiredOutputs: map[string]bool{"out": true}},
		leaf: {Root: leaf, Deps: map[model.Drv]bool{}, RequiredOutputs: map[string]bool{"out": true}},
	}

	var jobs []model.BuildJob
	if leafActive {
		jobs = append(jobs, model.BuildJob{Jid: 1, Rid: 1, Drv: leaf, Status: model.BuildPhase("configure")})
	}

	target := model.BuildTarget{
		Id: 1, Reference: "proj#pkg", RootDrv: root, RequesterId: 1,
		TransitiveClosure: map[model.Drv]bool{root: true, mid: true, leaf: true},
	}
	target.Status = target.ComputeStatus(indexJobsForTest(jobs), drvToJobsForTest(jobs), map[model.Drv]bool{})

	return &fakeSource{
		targets: []model.BuildTarget{target},
		jobs:    jobs,
		nodes:   nodes,
		roots:   []model.Drv{root},
		version: 1,
	}
}

func indexJobsForTest(jobs []model.BuildJob) map[model.JobId]*model.BuildJob {
	out := map[model.JobId]*model.BuildJob{}
	for i := range jobs {
		out[jobs[i].Jid] = &jobs[i]
	}
	return out
}

func drvToJobsForTest(jobs []model.BuildJob) map[model.Drv]map[model.JobId]bool {
	out := map[model.Drv]map[model.JobId]bool{}
	for _, j := range jobs {
		if out[j.Drv] == nil {
			out[j.Drv] = map[model.JobId]bool{}
		}
		out[j.Drv][j.Jid] = true
	}
	return out
}

func TestPruneNoneKeepsFullChain(t *testing.T) {
	src := buildChain(true)
	f := NewBuilder().Build(src, PruneNone)

	if len(f.Targets) != 1 {
		t.Fatalf("targets = %d, want 1", len(f.Targets))
	}
	root := f.Targets[0].Root
	if len(root.Children) != 1 || len(root.Children[0].Children) != 1 {
		t.Fatalf("root = %+v, want a 3-deep linear chain", root)
	}
	leaf := root.Children[0].Children[0]
	if leaf.Status.Kind != model.StatusBuildPhase {
		t.Fatalf("leaf status = %+v, want BuildPhase", leaf.Status)
	}
}

func TestPruneNormalDropsInactiveSubtree(t *testing.T) {
	src := buildChain(false) // no jobs at all: every node is Queued, not active
	f := NewBuilder().Build(src, PruneNormal)

	if len(f.Targets) != 0 {
		t.Fatalf("targets = %+v, want none (nothing active survives Normal pruning)", f.Targets)
	}
}

func TestPruneNormalKeepsActiveBranch(t *testing.T) {
	src := buildChain(true)
	f := NewBuilder().Build(src, PruneNormal)

	if len(f.Targets) != 1 {
		t.Fatalf("targets = %d, want 1", len(f.Targets))
	}
	root := f.Targets[0].Root
	if root == nil || len(root.Children) != 1 {
		t.Fatalf("root = %+v, want the chain down to the active leaf kept", root)
	}
}

func TestPruneAggressiveCollapsesWrapperChain(t *testing.T) {
	src := buildChain(true)
	f := NewBuilder().Build(src, PruneAggressive)

	if len(f.Targets) != 1 {
		t.Fatalf("targets = %d, want 1", len(f.Targets))
	}
	root := f.Targets[0].Root
	if root.Status.Kind != model.StatusBuildPhase {
		t.Fatalf("aggressive root = %+v, want the collapsed active leaf surfaced directly", root)
	}
}

func TestBuildCachesByVersion(t *testing.T) {
	src := buildChain(true)
	b := NewBuilder()

	first := b.Build(src, PruneNormal)
	second := b.Build(src, PruneNormal)
	if &first.Targets[0] == &second.Targets[0] {
		// Forest is returned by value, so this isn't a meaningful pointer
		// check; the real assertion is that re-building after bumping
		// version changes the result below.
	}

	src.version = 2
	src.jobs = nil // clear the active job: a fresh build should now prune it all away under Normal
	third := b.Build(src, PruneNormal)
	if len(third.Targets) != 0 {
		t.Fatalf("after version bump, targets = %+v, want none", third.Targets)
	}
}

func TestOrphanRootsFollowTargets(t *testing.T) {
	owned := d("00000000000000000000000000000000")
	orphan := d("99999999999999999999999999999999")
	nodes := map[model.Drv]*model.Node{
		owned:  {Root: owned, Deps: map[model.Drv]bool{}, RequiredOutputs: map[string]bool{"out": true}},
		orphan: {Root: orphan, Deps: map[model.Drv]bool{}, RequiredOutputs: map[string]bool{"out": true}},
	}
	target := model.BuildTarget{Id: 1, RootDrv: owned, RequesterId: 1, TransitiveClosure: map[model.Drv]bool{owned: true}}
	src := &fakeSource{
		targets: []model.BuildTarget{target},
		nodes:   nodes,
		roots:   []model.Drv{owned, orphan},
		version: 1,
	}

	f := NewBuilder().Build(src, PruneNone)
	if len(f.Targets) != 1 {
		t.Fatalf("targets = %d, want 1", len(f.Targets))
	}
	if len(f.OrphanRoots) != 1 || f.OrphanRoots[0].Drv != orphan {
		t.Fatalf("orphan roots = %+v, want [%v]", f.OrphanRoots, orphan)
	}
}
