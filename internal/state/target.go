package state

import "github.com/distr1/buildtop/internal/model"

// CreateTarget assigns the next id, computes the transitive closure via
// the DAG (the closure is frozen at creation time; edges discovered
// later show only in the DAG), indexes it, and sets the initial status
// to Evaluating.
func (s *State) CreateTarget(reference string, rootDrv model.Drv, rid model.RequesterId) *model.BuildTarget {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createTargetLocked(reference, rootDrv, rid)
}

func (s *State) createTargetLocked(reference string, rootDrv model.Drv, rid model.RequesterId) *model.BuildTarget {
	s.insertDrvLocked(rootDrv)

	s.nextTargetID++
	id := s.nextTargetID
	closure := s.graph.TransitiveClosure(rootDrv)

	t := &model.BuildTarget{
		Id:                id,
		Reference:         reference,
		RootDrv:           rootDrv,
		TransitiveClosure: closure,
		RequesterId:       rid,
		Status:            model.TargetEvaluating,
	}
	s.targets[id] = t

	for d := range closure {
		if s.drvToTargets[d] == nil {
			s.drvToTargets[d] = map[model.BuildTargetId]bool{}
		}
		s.drvToTargets[d][id] = true
		// Already-built detection is recomputed lazily once a target's
		// closure is known; the graph is the source of truth,
		// alreadyBuilt only caches its verdict.
		if !s.alreadyBuilt[d] && s.graph.IsAlreadyBuilt(d) {
			s.alreadyBuilt[d] = true
		}
	}
	if s.requesterTargets[rid] == nil {
		s.requesterTargets[rid] = map[model.BuildTargetId]bool{}
	}
	s.requesterTargets[rid][id] = true

	t.Status = t.ComputeStatus(s.jobs, s.drvToJobs, s.alreadyBuilt)
	s.version++
	return t
}

// CreateTargetForReference launches resolve in its own goroutine (the
// CLI lookup it performs is opportunistic I/O, never held under s.mu)
// and, on success, creates the resulting target. The lookup is
// opportunistic: failures are logged and otherwise ignored.
func (s *State) CreateTargetForReference(reference string, rid model.RequesterId, resolve func() (model.Drv, error)) {
	go func() {
		root, err := resolve()
		if err != nil {
			logResolveFailure(reference, err)
			return
		}
		s.CreateTarget(reference, root, rid)
	}()
}

// Target returns a copy of tid's current BuildTarget (the pointed-to
// value, not live state), and whether it exists.
func (s *State) Target(tid model.BuildTargetId) (model.BuildTarget, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.targets[tid]
	if !ok {
		return model.BuildTarget{}, false
	}
	return *t, true
}

// Targets returns a snapshot slice of every current target.
func (s *State) Targets() []model.BuildTarget {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.BuildTarget, 0, len(s.targets))
	for _, t := range s.targets {
		out = append(out, *t)
	}
	return out
}
