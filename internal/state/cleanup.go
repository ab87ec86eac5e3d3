package state

import "github.com/distr1/buildtop/internal/model"

// CleanupRequester distinguishes "client disconnected because the
// build finished and the log socket closed normally" from "client was
// interrupted mid-build":
//
//  1. Collect the target ids owned by rid.
//  2. Decide whether any job was ever created for rid, and whether any
//     is still non-terminal.
//  3. Cancel every still-active job of rid, stamping its stop time.
//  4. For each owned target: if no job was ever created, or none is
//     still active, or every drv in its closure is already built,
//     treat it as completed from cache and add its whole closure to
//     already_built. Otherwise leave it — the jobs already marked
//     Cancelled in step 3 make recompute land on Cancelled.
//  5. Recompute every owned target's status.
//  6. Bump state.version.
//
// Idempotent: a second call finds no more active jobs to cancel and
// already_built is a set union, so job and target state do not change;
// state.version is still bumped on every call.
func (s *State) CleanupRequester(rid model.RequesterId) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.liveRequesters, rid)

	targetIDs := s.requesterTargets[rid]
	jobIDs := s.requesterJobs[rid]

	anyJobEver := len(jobIDs) > 0
	anyActive := false
	for jid := range jobIDs {
		if job, ok := s.jobs[jid]; ok && job.Status.IsActive() {
			anyActive = true
			break
		}
	}

	now := uint64(0)
	if s.clock != nil {
		now = s.clock.NowNs()
	}
	for jid := range jobIDs {
		job, ok := s.jobs[jid]
		if !ok || !job.Status.IsActive() {
			continue
		}
		job.Cancel(now)
		s.pub.Publish(model.JobFinishUpdate(jid, now))
	}

	for tid := range targetIDs {
		t, ok := s.targets[tid]
		if !ok {
			continue
		}
		closureAllBuilt := true
		for d := range t.TransitiveClosure {
			if !s.alreadyBuilt[d] {
				closureAllBuilt = false
				break
			}
		}
		if !anyJobEver || !anyActive || closureAllBuilt {
			for d := range t.TransitiveClosure {
				s.alreadyBuilt[d] = true
			}
		}
	}

	for tid := range targetIDs {
		t, ok := s.targets[tid]
		if !ok {
			continue
		}
		t.Status = t.ComputeStatus(s.jobs, s.drvToJobs, s.alreadyBuilt)
	}

	s.version++
}
