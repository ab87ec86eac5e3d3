package state

import "github.com/distr1/buildtop/internal/model"

// Jobs returns a snapshot slice of every current job.
func (s *State) Jobs() []model.BuildJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.BuildJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	return out
}

// Nodes returns a snapshot of the dependency DAG's nodes, keyed by drv.
func (s *State) Nodes() map[model.Drv]*model.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.Drv]*model.Node, len(s.graph.Nodes))
	for d, n := range s.graph.Nodes {
		cp := *n
		out[d] = &cp
	}
	return out
}

// Roots returns a snapshot of the DAG's current tree roots.
func (s *State) Roots() []model.Drv {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Drv, 0, len(s.graph.TreeRoots))
	for d := range s.graph.TreeRoots {
		out = append(out, d)
	}
	return out
}

// Frozen is a point-in-time copy of the state's externally-visible
// model, taken under a single read lock so jobs, nodes and roots all
// come from the same instant. It satisfies the snapshot encoder's
// source interface (internal/shm's stateSnapshot).
type Frozen struct {
	jobs  []model.BuildJob
	nodes map[model.Drv]*model.Node
	roots []model.Drv
}

func (f *Frozen) Jobs() []model.BuildJob { return f.jobs }
func (f *Frozen) Nodes() map[model.Drv]*model.Node { return f.nodes }
func (f *Frozen) Roots() []model.Drv { return f.roots }

// Freeze copies the current model under one read lock and captures
// seqFn's value while still holding it. Every ring publish happens
// under the write lock, so the returned sequence exactly matches the
// last update reflected in the copy — the property a snapshot's
// snap_seq needs for readers to resume without gaps or duplicates.
func (s *State) Freeze(seqFn func() uint64) (*Frozen, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f := &Frozen{
		jobs:  make([]model.BuildJob, 0, len(s.jobs)),
		nodes: make(map[model.Drv]*model.Node, len(s.graph.Nodes)),
		roots: make([]model.Drv, 0, len(s.graph.TreeRoots)),
	}
	for _, j := range s.jobs {
		f.jobs = append(f.jobs, *j)
	}
	for d, n := range s.graph.Nodes {
		cp := *n
		f.nodes[d] = &cp
	}
	for d := range s.graph.TreeRoots {
		f.roots = append(f.roots, d)
	}
	var seq uint64
	if seqFn != nil {
		seq = seqFn()
	}
	return f, seq
}

// AlreadyBuilt reports whether d is known already built.
func (s *State) AlreadyBuilt(d model.Drv) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alreadyBuilt[d]
}

// StartHeartbeat publishes a Heartbeat Update every tick until stop is
// closed, bounding how long an idle ring reader can block between
// wake-ups.
func (s *State) StartHeartbeat(stop <-chan struct{}, tick <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-tick:
			s.mu.Lock()
			s.heartbeats++
			s.pub.Publish(model.HeartbeatUpdate(s.heartbeats))
			s.mu.Unlock()
		}
	}
}
