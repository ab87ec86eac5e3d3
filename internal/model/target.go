package model

// BuildTargetId is the monotone id assigned to each created target.
type BuildTargetId uint64

// TargetStatus is the derived, display-authoritative status of a target.
type TargetStatus int

const (
	TargetEvaluating TargetStatus = iota
	TargetQueued
	TargetActive
	TargetCompleted
	TargetCached
	TargetCancelled
)

func (s TargetStatus) String() string {
	switch s {
	case TargetEvaluating:
		return "evaluating"
	case TargetQueued:
		return "queued"
	case TargetActive:
		return "active"
	case TargetCompleted:
		return "completed"
	case TargetCached:
		return "cached"
	case TargetCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// BuildTarget is a user-level build request, resolved to a root
// derivation and its transitive closure.
type BuildTarget struct {
	Id                BuildTargetId
	Reference         string
	RootDrv           Drv
	TransitiveClosure map[Drv]bool
	RequesterId       RequesterId
	Status            TargetStatus
}

// ComputeStatus gathers every job whose (drv, rid) matches t's closure
// and requester, then classifies.
func (t *BuildTarget) ComputeStatus(jobs map[JobId]*BuildJob, drvToJobs map[Drv]map[JobId]bool, alreadyBuilt map[Drv]bool) TargetStatus {
	var matching []*BuildJob
	for drv := range t.TransitiveClosure {
		for jid := range drvToJobs[drv] {
			job, ok := jobs[jid]
			if !ok || job.Rid != t.RequesterId {
				continue
			}
			matching = append(matching, job)
		}
	}

	if len(matching) == 0 {
		if len(t.TransitiveClosure) == 0 {
			return TargetQueued
		}
		for drv := range t.TransitiveClosure {
			if !alreadyBuilt[drv] {
				return TargetQueued
			}
		}
		return TargetCached
	}

	for _, j := range matching {
		if j.Status.Kind == StatusEvaluating || j.Status.Kind == StatusFetchingTree {
			return TargetEvaluating
		}
	}
	for _, j := range matching {
		if j.Status.IsActive() {
			return TargetActive
		}
	}
	for _, j := range matching {
		if j.Status.Kind == StatusCancelled {
			return TargetCancelled
		}
	}
	allCompleted := true
	for _, j := range matching {
		if !j.Status.IsCompleted() {
			allCompleted = false
			break
		}
	}
	if allCompleted {
		return TargetCompleted
	}
	return TargetQueued
}

// DrvStatusForTarget resolves a per-drv status in the context of one
// target, so two concurrent builds of the same derivation show
// independent progress. It is exposed here (rather than folded silently
// into target status) because a view layer needs it per tree node.
func DrvStatusForTarget(d Drv, t *BuildTarget, jobs map[JobId]*BuildJob, drvToJobs map[Drv]map[JobId]bool, alreadyBuilt map[Drv]bool, inGraph bool) JobStatus {
	for jid := range drvToJobs[d] {
		job, ok := jobs[jid]
		if ok && job.Rid == t.RequesterId {
			return job.Status
		}
	}
	if alreadyBuilt[d] {
		return AlreadyBuilt()
	}
	if t.Status == TargetCancelled {
		return Cancelled()
	}
	if inGraph {
		return Queued()
	}
	return NotEnoughInfo()
}
