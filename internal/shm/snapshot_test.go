package shm

import (
	"fmt"
	"os"
	"testing"

	"github.com/distr1/buildtop/internal/model"
)

type fakeState struct {
	jobs  []model.BuildJob
	nodes map[model.Drv]*model.Node
	roots []model.Drv
}

func (f *fakeState) Jobs() []model.BuildJob { return f.jobs }
func (f *fakeState) Nodes() map[model.Drv]*model.Node { return f.nodes }
func (f *fakeState) Roots() []model.Drv { return f.roots }

func snapName(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("buildtop-snap-test-%s-%d", t.Name(), os.Getpid())
}

func TestSnapshotRoundTrips(t *testing.T) {
	root := model.Drv{Hash: "11111111111111111111111111111111", Name: "app"}
	dep := model.Drv{Hash: "22222222222222222222222222222222", Name: "lib"}

	fs := &fakeState{
		jobs: []model.BuildJob{{Jid: 1, Rid: 9, Drv: root, Status: model.Starting()}},
		nodes: map[model.Drv]*model.Node{
			root: {Root: root, Deps: map[model.Drv]bool{dep: true}, RequiredOutputs: map[string]bool{"out": true}},
			dep:  {Root: dep, Deps: map[model.Drv]bool{}, RequiredOutputs: map[string]bool{"out": true}},
		},
		roots: []model.Drv{root},
	}

	name := snapName(t)
	snap, err := WriteSnapshot(name, fs, 42)
	if err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	defer snap.Close()

	jobs, nodes, roots, snapSeq, err := ReadSnapshot(snap.Name(), snap.TotalLen())
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}

	if snapSeq != 42 {
		t.Fatalf("snapSeq = %d, want 42", snapSeq)
	}
	if len(jobs) != 1 || jobs[0].Jid != 1 || jobs[0].Drv != root {
		t.Fatalf("jobs = %+v, want one job for root", jobs)
	}
	if len(roots) != 1 || roots[0] != root {
		t.Fatalf("roots = %+v, want [root]", roots)
	}
	if len(nodes) != 2 {
		t.Fatalf("nodes = %+v, want 2 entries", nodes)
	}
	if n, ok := nodes[root]; !ok || !n.Deps[dep] || !n.RequiredOutputs["out"] {
		t.Fatalf("nodes[root] = %+v, want Deps={dep} RequiredOutputs={out}", n)
	}
}

func TestSnapshotRejectsBadMagic(t *testing.T) {
	name := snapName(t)
	m, err := Create(name, 64)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer m.Unlink()
	defer m.Close()
	storeU64(m.Bytes(), snapHdrOffMagic, 0xdeadbeef)

	if _, _, _, _, err := ReadSnapshot(name, 64); err == nil {
		t.Fatal("ReadSnapshot with corrupt magic: want error, got nil")
	}
}

// A snapshot taken after 3 JobNew updates carries snap_seq matching
// the ring's write_seq at that instant, so a reader that syncs to it
// sees exactly the next (fourth) update and nothing from before.
func TestSnapshotThenRingHandoff(t *testing.T) {
	writer, _, waiter := newTestRing(t, 4096)

	for i := 1; i <= 3; i++ {
		j := &model.BuildJob{Jid: model.JobId(i), Drv: drv(fmt.Sprintf("%032d", i))}
		if _, err := writer.WriteUpdate(model.JobNewUpdate(j)); err != nil {
			t.Fatalf("WriteUpdate %d: %v", i, err)
		}
	}

	fs := &fakeState{nodes: map[model.Drv]*model.Node{}}
	name := snapName(t)
	snap, err := WriteSnapshot(name, fs, writer.WriteSeq())
	if err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	defer snap.Close()

	reader, err := AttachRing(writer.Name(), writer.TotalLen(), waiter)
	if err != nil {
		t.Fatalf("AttachRing: %v", err)
	}
	defer reader.Close()
	reader.SyncToSnapshot(snap.SnapSeq())

	if res, _, _, _, err := reader.TryRead(); err != nil || res != ReadNone {
		t.Fatalf("TryRead right after sync = %v, %v, want ReadNone", res, err)
	}

	fourth := &model.BuildJob{Jid: 4, Drv: drv("44444444444444444444444444444444")}
	if _, err := writer.WriteUpdate(model.JobNewUpdate(fourth)); err != nil {
		t.Fatalf("WriteUpdate 4: %v", err)
	}

	res, got, _, _, err := reader.TryRead()
	if err != nil {
		t.Fatalf("TryRead: %v", err)
	}
	if res != ReadUpdate || got.Job == nil || got.Job.Jid != 4 {
		t.Fatalf("got = %v %+v, want ReadUpdate for jid 4", res, got)
	}
}
