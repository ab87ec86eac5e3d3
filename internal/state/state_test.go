package state

import (
	"testing"

	"github.com/distr1/buildtop/internal/model"
)

type fakeReader struct {
	deps    map[model.Drv]map[model.Drv][]string
	outputs map[model.Drv]map[string]string
}

func (f *fakeReader) ParseDrvFile(d model.Drv) (map[model.Drv][]string, map[string]string, error) {
	return f.deps[d], f.outputs[d], nil
}

type fakeClock struct{ now uint64 }

func (c *fakeClock) NowNs() uint64 { return c.now }

type recordingPublisher struct{ updates []model.Update }

func (p *recordingPublisher) Publish(u model.Update) { p.updates = append(p.updates, u) }

func TestReplaceJobAndMutateJob(t *testing.T) {
	d := model.Drv{Hash: "11111111111111111111111111111111", Name: "app"}
	reader := &fakeReader{deps: map[model.Drv]map[model.Drv][]string{d: {}}, outputs: map[model.Drv]map[string]string{}}
	pub := &recordingPublisher{}
	s := New(reader, pub, &fakeClock{now: 100})

	s.ReplaceJob(1, 9, d, model.Starting())
	jobs := s.Jobs()
	if len(jobs) != 1 || jobs[0].Status.Kind != model.StatusStarting {
		t.Fatalf("jobs = %+v, want one Starting job", jobs)
	}

	s.MutateJob(1, func(model.JobStatus) model.JobStatus { return model.BuildPhase("configure") })
	jobs = s.Jobs()
	if jobs[0].Status.Kind != model.StatusBuildPhase || jobs[0].Status.Phase != "configure" {
		t.Fatalf("jobs[0] = %+v, want BuildPhase(configure)", jobs[0])
	}

	if len(pub.updates) != 3 {
		t.Fatalf("got %d updates, want 3 (DepGraphUpdate, JobNew, JobUpdate)", len(pub.updates))
	}
}

func TestCachedBuildScenario(t *testing.T) {
	// An info message announces the top-level drv, then an Unknown
	// "evaluating derivation" event creates the target (with its
	// progress-visibility Evaluating job, stopped when evaluation
	// finishes), and the connection closes without any Build job —
	// expect target Cached.
	root := model.Drv{Hash: "11111111111111111111111111111111", Name: "app"}
	reader := &fakeReader{deps: map[model.Drv]map[model.Drv][]string{root: {}}, outputs: map[model.Drv]map[string]string{}}
	s := New(reader, nil, &fakeClock{})

	s.RegisterRequester(1)
	s.InsertIdleDrvForRequester(root, 1)
	s.ReplaceJob(5, 1, model.Drv{}, model.Evaluating())
	target := s.CreateTarget("proj#app", root, 1)
	if target.Status != model.TargetQueued {
		t.Fatalf("target status before cleanup = %v, want Queued (nothing built yet)", target.Status)
	}

	s.StopJob(5)
	s.CleanupRequester(1)

	got, ok := s.Target(target.Id)
	if !ok {
		t.Fatal("target missing after cleanup")
	}
	if got.Status != model.TargetCached {
		t.Fatalf("target status after cleanup = %v, want Cached", got.Status)
	}
}

func TestActiveBuildThenCancellation(t *testing.T) {
	root := model.Drv{Hash: "11111111111111111111111111111111", Name: "app"}
	reader := &fakeReader{deps: map[model.Drv]map[model.Drv][]string{root: {}}, outputs: map[model.Drv]map[string]string{}}
	s := New(reader, nil, &fakeClock{now: 10})

	s.RegisterRequester(1)
	target := s.CreateTarget("proj#app", root, 1)
	s.ReplaceJob(7, 1, root, model.Starting())
	s.MutateJob(7, func(model.JobStatus) model.JobStatus { return model.BuildPhase("buildPhase") })

	got, _ := s.Target(target.Id)
	if got.Status != model.TargetActive {
		t.Fatalf("target status = %v, want Active", got.Status)
	}

	s.CleanupRequester(1)

	jobs := s.Jobs()
	if jobs[0].Status.Kind != model.StatusCancelled || jobs[0].StopTimeNs == nil {
		t.Fatalf("job after cleanup = %+v, want Cancelled with stop time", jobs[0])
	}
	got, _ = s.Target(target.Id)
	if got.Status != model.TargetCancelled {
		t.Fatalf("target status after cleanup = %v, want Cancelled", got.Status)
	}
}

func TestFreezeCapturesConsistentView(t *testing.T) {
	root := model.Drv{Hash: "11111111111111111111111111111111", Name: "app"}
	reader := &fakeReader{deps: map[model.Drv]map[model.Drv][]string{root: {}}, outputs: map[model.Drv]map[string]string{}}
	s := New(reader, nil, &fakeClock{now: 10})
	s.ReplaceJob(1, 1, root, model.Starting())

	frozen, seq := s.Freeze(func() uint64 { return 99 })
	if seq != 99 {
		t.Fatalf("seq = %d, want the value seqFn returned under the lock", seq)
	}
	if len(frozen.Jobs()) != 1 || len(frozen.Nodes()) != 1 || len(frozen.Roots()) != 1 {
		t.Fatalf("frozen = %d jobs %d nodes %d roots, want 1/1/1", len(frozen.Jobs()), len(frozen.Nodes()), len(frozen.Roots()))
	}

	// Mutations after Freeze must not leak into the copy.
	s.MutateJob(1, func(model.JobStatus) model.JobStatus { return model.BuildPhase("configure") })
	if frozen.Jobs()[0].Status.Kind != model.StatusStarting {
		t.Fatalf("frozen job status = %v, want the pre-mutation Starting", frozen.Jobs()[0].Status)
	}
}

func TestCleanupRequesterIdempotent(t *testing.T) {
	root := model.Drv{Hash: "11111111111111111111111111111111", Name: "app"}
	reader := &fakeReader{deps: map[model.Drv]map[model.Drv][]string{root: {}}, outputs: map[model.Drv]map[string]string{}}
	s := New(reader, nil, &fakeClock{now: 10})
	s.RegisterRequester(1)
	s.CreateTarget("proj#app", root, 1)
	s.ReplaceJob(7, 1, root, model.Starting())

	s.CleanupRequester(1)
	v1 := s.Version()
	jobs1 := s.Jobs()

	s.CleanupRequester(1)
	jobs2 := s.Jobs()

	if jobs1[0].Status != jobs2[0].Status || *jobs1[0].StopTimeNs != *jobs2[0].StopTimeNs {
		t.Fatalf("second cleanup changed job state: %+v vs %+v", jobs1[0], jobs2[0])
	}
	_ = v1
}
