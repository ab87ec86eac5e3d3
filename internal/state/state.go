// Package state implements the daemon's sole write-locked aggregator:
// every mutation the log-protocol mapper (internal/logproto) or the
// RPC layer wants to make goes through here, under one RWMutex, and
// every accepted mutation publishes an internal/model.Update to the
// ring buffer through the Publisher interface.
package state

import (
	"log"
	"sync"

	"github.com/distr1/buildtop/internal/model"
	"github.com/distr1/buildtop/internal/trace"
)

// Publisher receives every Update the aggregator produces, for
// forwarding to the ring buffer. internal/shm's RingWriter implements
// this; state never imports internal/shm, avoiding an import cycle.
type Publisher interface {
	Publish(model.Update)
}

// NopPublisher discards every update; useful in tests and before the
// ring is wired up.
type NopPublisher struct{}

func (NopPublisher) Publish(model.Update) {}

// Clock abstracts "now" as a nanosecond timestamp so tests can supply a
// deterministic clock; cmd/buildtopd wires in time.Now's monotonic
// reading against a process-global origin.
type Clock interface {
	NowNs() uint64
}

// State is the daemon's single source of truth: targets, jobs, the
// dependency DAG, cache evidence, and the version counter view caches
// key on.
type State struct {
	mu sync.RWMutex

	graph  *model.Graph
	reader model.DrvFileReader
	pub    Publisher
	clock  Clock

	jobs          map[model.JobId]*model.BuildJob
	drvToJobs     map[model.Drv]map[model.JobId]bool
	requesterJobs map[model.RequesterId]map[model.JobId]bool

	targets          map[model.BuildTargetId]*model.BuildTarget
	drvToTargets     map[model.Drv]map[model.BuildTargetId]bool
	requesterTargets map[model.RequesterId]map[model.BuildTargetId]bool
	nextTargetID     model.BuildTargetId

	alreadyBuilt   map[model.Drv]bool
	liveRequesters map[model.RequesterId]bool

	version       uint64
	heartbeats    uint64
	nextRequester model.RequesterId
}

// New returns an empty State. reader is used to parse newly-discovered
// derivations into the DAG; pub receives every Update; clock supplies
// "now" for job start/stop stamps.
func New(reader model.DrvFileReader, pub Publisher, clock Clock) *State {
	if pub == nil {
		pub = NopPublisher{}
	}
	return &State{
		graph:            model.NewGraph(),
		reader:           reader,
		pub:              pub,
		clock:            clock,
		jobs:             map[model.JobId]*model.BuildJob{},
		drvToJobs:        map[model.Drv]map[model.JobId]bool{},
		requesterJobs:    map[model.RequesterId]map[model.JobId]bool{},
		targets:          map[model.BuildTargetId]*model.BuildTarget{},
		drvToTargets:     map[model.Drv]map[model.BuildTargetId]bool{},
		requesterTargets: map[model.RequesterId]map[model.BuildTargetId]bool{},
		alreadyBuilt:     map[model.Drv]bool{},
		liveRequesters:   map[model.RequesterId]bool{},
	}
}

// Version returns the current mutation counter, used by the view layer
// to cache its derived tree.
func (s *State) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// RegisterRequester marks rid as a live, connected log session. Call it
// when a requester connects so CleanupRequester has something to clear
// on disconnect.
func (s *State) RegisterRequester(rid model.RequesterId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveRequesters[rid] = true
}

// NextRequesterId assigns the next monotone RequesterId and marks it
// live in one step. internal/ingest calls this once per accepted
// connection rather than managing its own counter, since requester
// identity is state's to own.
func (s *State) NextRequesterId() model.RequesterId {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRequester++
	rid := s.nextRequester
	s.liveRequesters[rid] = true
	return rid
}

func (s *State) insertDrvLocked(d model.Drv) {
	if d == (model.Drv{}) {
		return
	}
	if _, ok := s.graph.Nodes[d]; ok {
		return
	}
	// Non-canonical synthetic hashes (tree fetches) never have an on-disk
	// derivation to parse; they pass through the job model but stay out
	// of the DAG. Download drvs carry the real hash taken from their URL,
	// so they reach Insert, which logs the missing .drv file and adds
	// nothing.
	if !d.IsCanonical() {
		return
	}
	ev := trace.Event("insert "+d.Name, 0)
	s.graph.Insert(d, s.reader)
	ev.Done()
	// A cyclic dependency set means the producer's derivation files are
	// corrupt; traversals tolerate it via visited sets, but it is worth
	// shouting about the moment it appears.
	if s.graph.HasCycle() {
		log.Printf("state: dependency graph contains a cycle after inserting %s", d)
	}
	if n, ok := s.graph.Nodes[d]; ok {
		deps := make([]model.Drv, 0, len(n.Deps))
		for dep := range n.Deps {
			deps = append(deps, dep)
		}
		s.pub.Publish(model.DepGraphUpdateOf(d, deps))
	}
}

// InsertIdleDrv inserts d into the dependency DAG without attaching any
// job to it, e.g. for a derivation merely announced by a "this
// derivation will be built" log message.
func (s *State) InsertIdleDrv(d model.Drv) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertDrvLocked(d)
	s.version++
}

// InsertIdleDrvForRequester records a top-level derivation announced by
// rid's "will be built" log message: the announcement supersedes any
// cache evidence for d, and d is parsed into the DAG so the target that
// rid's evaluation is about to create finds its closure ready.
func (s *State) InsertIdleDrvForRequester(d model.Drv, rid model.RequesterId) {
	if !d.IsCanonical() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.alreadyBuilt, d)
	s.insertDrvLocked(d)
	s.version++
}

// ReplaceJob creates jid (or overwrites it if already present) with the
// given drv and status, inserting drv into the DAG first if needed.
func (s *State) ReplaceJob(jid model.JobId, rid model.RequesterId, drv model.Drv, status model.JobStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.insertDrvLocked(drv)
	// A new job on drv supersedes any cache evidence we had for it.
	delete(s.alreadyBuilt, drv)

	now := uint64(0)
	if s.clock != nil {
		now = s.clock.NowNs()
	}
	job := &model.BuildJob{Jid: jid, Rid: rid, Drv: drv, Status: status, StartTimeNs: now}
	s.jobs[jid] = job

	if drv != (model.Drv{}) {
		if s.drvToJobs[drv] == nil {
			s.drvToJobs[drv] = map[model.JobId]bool{}
		}
		s.drvToJobs[drv][jid] = true
	}
	if s.requesterJobs[rid] == nil {
		s.requesterJobs[rid] = map[model.JobId]bool{}
	}
	s.requesterJobs[rid][jid] = true

	s.version++
	s.pub.Publish(model.JobNewUpdate(job))
	s.recomputeTargetsForDrvLocked(drv)
}

// MutateJob applies fn to jid's current status, if jid exists. Unknown
// job ids are logged and otherwise ignored — the log protocol is best
// effort, and a result for a job we never saw must not wedge anything.
func (s *State) MutateJob(jid model.JobId, fn func(model.JobStatus) model.JobStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jid]
	if !ok {
		log.Printf("state: MutateJob: unknown job %d", jid)
		return
	}
	job.Status = fn(job.Status)
	s.version++
	s.pub.Publish(model.JobUpdateUpdate(jid, job.Status))
	s.recomputeTargetsForDrvLocked(job.Drv)
}

// StopJob marks jid's status complete and stamps its stop time.
func (s *State) StopJob(jid model.JobId) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jid]
	if !ok {
		log.Printf("state: StopJob: unknown job %d", jid)
		return
	}
	now := uint64(0)
	if s.clock != nil {
		now = s.clock.NowNs()
	}
	job.Stop(now)
	s.version++
	s.pub.Publish(model.JobFinishUpdate(jid, now))
	s.recomputeTargetsForDrvLocked(job.Drv)
}

// recomputeTargetsForDrvLocked recomputes the status of every target
// whose closure contains drv. Callers must hold s.mu for writing.
func (s *State) recomputeTargetsForDrvLocked(drv model.Drv) {
	for tid := range s.drvToTargets[drv] {
		t := s.targets[tid]
		t.Status = t.ComputeStatus(s.jobs, s.drvToJobs, s.alreadyBuilt)
	}
}

func logResolveFailure(reference string, err error) {
	log.Printf("state: resolving reference %q: %v", reference, err)
}

// GetDrvStatusForTarget wraps model.DrvStatusForTarget with the current
// state, for the view layer and the RPC debug surface.
func (s *State) GetDrvStatusForTarget(d model.Drv, tid model.BuildTargetId) model.JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.targets[tid]
	if !ok {
		return model.NotEnoughInfo()
	}
	_, inGraph := s.graph.Nodes[d]
	return model.DrvStatusForTarget(d, t, s.jobs, s.drvToJobs, s.alreadyBuilt, inGraph)
}
