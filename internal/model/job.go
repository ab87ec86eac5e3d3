package model

import "fmt"

// JobId is the monotone activity id assigned by the log source.
type JobId uint64

// RequesterId identifies a connected log-source session (build session).
type RequesterId uint64

// StatusKind tags the variant held by JobStatus.
type StatusKind int

const (
	StatusStarting StatusKind = iota
	StatusEvaluating
	StatusQuerying
	StatusDownloading
	StatusSubstituting
	StatusCopying
	StatusCopyingSource
	StatusFetchingTree
	StatusBuildPhase
	StatusWaitingForLock
	StatusPostBuildHook
	StatusCompleted
	StatusAlreadyBuilt
	StatusQueued
	StatusCancelled
	StatusNotEnoughInfo
)

// CompletedKind names which active variant a Completed status descends
// from, so the UI can still say "downloaded" vs. "built" after the fact.
type CompletedKind int

const (
	CompletedBuild CompletedKind = iota
	CompletedQuery
	CompletedDownload
	CompletedSubstitute
	CompletedCopy
	CompletedEvaluation
	CompletedSourceCopy
)

func (k CompletedKind) String() string {
	switch k {
	case CompletedBuild:
		return "built"
	case CompletedQuery:
		return "query done"
	case CompletedDownload:
		return "downloaded"
	case CompletedSubstitute:
		return "substituted"
	case CompletedCopy:
		return "copied"
	case CompletedEvaluation:
		return "evaluated"
	case CompletedSourceCopy:
		return "source copied"
	default:
		return "completed"
	}
}

// JobStatus is a tagged variant. Only the fields relevant to Kind are
// meaningful; it is a plain struct (not an interface) so it round-trips
// through CBOR without custom (de)serialization logic.
type JobStatus struct {
	Kind StatusKind

	Cache    string // Querying
	URL      string // Downloading, FetchingTree
	Path     string // Substituting, Copying
	Done     uint64 // Downloading, Copying
	Total    uint64 // Downloading, Copying
	Phase    string // BuildPhaseType
	Complete CompletedKind
}

func Starting() JobStatus { return JobStatus{Kind: StatusStarting} }
func Evaluating() JobStatus { return JobStatus{Kind: StatusEvaluating} }
func Querying(cache string) JobStatus { return JobStatus{Kind: StatusQuerying, Cache: cache} }
func Downloading(url string) JobStatus { return JobStatus{Kind: StatusDownloading, URL: url} }
func Substituting(path, cache string) JobStatus {
	return JobStatus{Kind: StatusSubstituting, Path: path, Cache: cache}
}
func Copying(path string) JobStatus { return JobStatus{Kind: StatusCopying, Path: path} }
func CopyingSource() JobStatus { return JobStatus{Kind: StatusCopyingSource} }
func FetchingTree(url string) JobStatus { return JobStatus{Kind: StatusFetchingTree, URL: url} }
func BuildPhase(phase string) JobStatus { return JobStatus{Kind: StatusBuildPhase, Phase: phase} }
func WaitingForLock() JobStatus { return JobStatus{Kind: StatusWaitingForLock} }
func PostBuildHook() JobStatus { return JobStatus{Kind: StatusPostBuildHook} }
func AlreadyBuilt() JobStatus { return JobStatus{Kind: StatusAlreadyBuilt} }
func Queued() JobStatus { return JobStatus{Kind: StatusQueued} }
func Cancelled() JobStatus { return JobStatus{Kind: StatusCancelled} }
func NotEnoughInfo() JobStatus { return JobStatus{Kind: StatusNotEnoughInfo} }

// IsActive holds during any in-progress work.
func (s JobStatus) IsActive() bool {
	switch s.Kind {
	case StatusStarting, StatusEvaluating, StatusQuerying, StatusDownloading,
		StatusSubstituting, StatusCopying, StatusCopyingSource,
		StatusFetchingTree, StatusBuildPhase, StatusWaitingForLock,
		StatusPostBuildHook:
		return true
	default:
		return false
	}
}

// IsCompleted reports whether s is a terminal success/cache status.
func (s JobStatus) IsCompleted() bool {
	return s.Kind == StatusCompleted || s.Kind == StatusAlreadyBuilt
}

// MarkComplete maps an active variant to its Completed* analogue.
// Non-active variants (Queued, Cancelled, NotEnoughInfo, already
// Completed/AlreadyBuilt) are returned unchanged.
func (s JobStatus) MarkComplete() JobStatus {
	switch s.Kind {
	case StatusStarting, StatusBuildPhase, StatusPostBuildHook:
		return JobStatus{Kind: StatusCompleted, Complete: CompletedBuild}
	case StatusQuerying:
		return JobStatus{Kind: StatusCompleted, Complete: CompletedQuery}
	case StatusDownloading, StatusFetchingTree:
		return JobStatus{Kind: StatusCompleted, Complete: CompletedDownload}
	case StatusSubstituting:
		return JobStatus{Kind: StatusCompleted, Complete: CompletedSubstitute}
	case StatusCopying:
		return JobStatus{Kind: StatusCompleted, Complete: CompletedCopy}
	case StatusEvaluating:
		return JobStatus{Kind: StatusCompleted, Complete: CompletedEvaluation}
	case StatusCopyingSource:
		return JobStatus{Kind: StatusCompleted, Complete: CompletedSourceCopy}
	default:
		return s
	}
}

func (s JobStatus) String() string {
	switch s.Kind {
	case StatusStarting:
		return "starting"
	case StatusEvaluating:
		return "evaluating"
	case StatusQuerying:
		return fmt.Sprintf("querying %s", s.Cache)
	case StatusDownloading:
		if s.Total > 0 {
			return fmt.Sprintf("downloading %.1f%% (%d/%d)", 100*float64(s.Done)/float64(s.Total), s.Done, s.Total)
		}
		return fmt.Sprintf("downloading %s (%d)", s.URL, s.Done)
	case StatusSubstituting:
		return fmt.Sprintf("substituting from %s", s.Cache)
	case StatusCopying:
		if s.Total > 0 {
			return fmt.Sprintf("copying %.1f%% (%d/%d)", 100*float64(s.Done)/float64(s.Total), s.Done, s.Total)
		}
		return fmt.Sprintf("copying (%d)", s.Done)
	case StatusCopyingSource:
		return "copying source"
	case StatusFetchingTree:
		return fmt.Sprintf("fetching %s", s.URL)
	case StatusBuildPhase:
		return fmt.Sprintf("building: %s", s.Phase)
	case StatusWaitingForLock:
		return "waiting for lock"
	case StatusPostBuildHook:
		return "post-build hook"
	case StatusCompleted:
		return s.Complete.String()
	case StatusAlreadyBuilt:
		return "already built"
	case StatusQueued:
		return "queued"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// BuildJob is one tracked activity from a build session's log stream.
type BuildJob struct {
	Jid         JobId
	Rid         RequesterId
	Drv         Drv
	Status      JobStatus
	StartTimeNs uint64
	StopTimeNs  *uint64 // nil until stopped
}

// Runtime returns stop-start, saturating at zero, using nowNs when the job
// hasn't stopped yet.
func (j *BuildJob) Runtime(nowNs uint64) uint64 {
	end := nowNs
	if j.StopTimeNs != nil {
		end = *j.StopTimeNs
	}
	if end < j.StartTimeNs {
		return 0
	}
	return end - j.StartTimeNs
}

// Stop sets Status to its completed analogue and stamps StopTimeNs.
func (j *BuildJob) Stop(nowNs uint64) {
	j.Status = j.Status.MarkComplete()
	stop := nowNs
	j.StopTimeNs = &stop
}

// Cancel force-sets Status to Cancelled and stamps StopTimeNs, used by
// requester cleanup to distinguish a mid-build disconnect from a
// normal one (which goes through Stop/MarkComplete instead).
func (j *BuildJob) Cancel(nowNs uint64) {
	j.Status = Cancelled()
	stop := nowNs
	j.StopTimeNs = &stop
}
