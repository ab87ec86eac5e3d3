package logproto

import (
	"fmt"
	"log"
	"regexp"
	"strings"

	"golang.org/x/xerrors"

	"github.com/distr1/buildtop/internal/model"
)

// Sink receives the state mutations a Mapper derives from the log
// stream. internal/state.State implements this; logproto never imports
// internal/state directly, avoiding an import cycle (the same inversion
// internal/model uses for DrvFileReader).
type Sink interface {
	ReplaceJob(jid model.JobId, rid model.RequesterId, drv model.Drv, status model.JobStatus)
	MutateJob(jid model.JobId, fn func(model.JobStatus) model.JobStatus)
	StopJob(jid model.JobId)
	InsertIdleDrv(d model.Drv)
	InsertIdleDrvForRequester(d model.Drv, rid model.RequesterId)
	CreateTargetForReference(reference string, rid model.RequesterId, resolve func() (model.Drv, error))
}

// Resolver performs the two opportunistic CLI lookups the mapper needs:
// turning an output store path into its producing derivation, and
// turning a flake-style reference into a root derivation. Both failures
// are non-fatal; a nil Resolver makes both resolutions no-ops, which is
// enough to exercise every other mapping rule in tests.
type Resolver interface {
	ResolveOutputDrv(storeOutput model.StoreOutput) (model.Drv, error)
	ResolveReference(reference string) (model.Drv, error)
}

// Mapper translates parsed Records into Sink mutations. One Mapper
// instance is used per connected requester.
type Mapper struct {
	StorePrefix string
	Rid         model.RequesterId
	Sink        Sink
	Resolve     Resolver // may be nil
}

var (
	singleBuildRe = regexp.MustCompile(`this derivation will be built: (\S+)`)
	multiBuildRe  = regexp.MustCompile(`these (?:\d+ )?derivations will be built:\s*(.+)`)
	evalRe        = regexp.MustCompile(`^evaluating derivation '([^']+)'`)
	copyingRe     = regexp.MustCompile(`^copying`)
)

// Apply folds one parsed Record into m.Sink.
func (m *Mapper) Apply(r Record) {
	switch r.Action {
	case "start":
		m.applyStart(r)
	case "stop":
		m.Sink.StopJob(model.JobId(r.StopID))
	case "result":
		m.applyResult(r)
	case "msg":
		m.applyMsg(r)
	case "setPhase":
		// Handled via result{SetPhase}; a bare setPhase line carries no
		// extra information at this layer.
	}
}

func (m *Mapper) applyStart(r Record) {
	jid := model.JobId(r.StartID)
	switch r.ActType {
	case ActivityBuild:
		path, ok := fieldString(r.StartFields, 0)
		if !ok {
			return
		}
		drv, ok := m.resolveToDrv(path)
		if !ok {
			return
		}
		m.Sink.ReplaceJob(jid, m.Rid, drv, model.Starting())

	case ActivityQueryPathInfo:
		path, _ := fieldString(r.StartFields, 0)
		cache, _ := fieldString(r.StartFields, 1)
		drv, ok := m.resolveToDrv(path)
		if !ok {
			return
		}
		m.Sink.ReplaceJob(jid, m.Rid, drv, model.Querying(cache))

	case ActivitySubstitute:
		path, _ := fieldString(r.StartFields, 0)
		cache, _ := fieldString(r.StartFields, 1)
		drv, ok := m.resolveToDrv(path)
		if !ok {
			return
		}
		m.Sink.ReplaceJob(jid, m.Rid, drv, model.Substituting(path, cache))

	case ActivityCopyPath:
		path, ok := fieldString(r.StartFields, 0)
		if !ok {
			return
		}
		drv, ok := m.resolveToDrv(path)
		if !ok {
			return
		}
		m.Sink.ReplaceJob(jid, m.Rid, drv, model.Copying(path))

	case ActivityFileTransfer:
		url, ok := fieldString(r.StartFields, 0)
		if !ok {
			return
		}
		hash, err := model.ExtractURLHash(url)
		if err != nil {
			log.Printf("logproto: FileTransfer %q: %v", url, err)
			return
		}
		drv := model.Drv{Hash: hash, Name: "download"}
		m.Sink.ReplaceJob(jid, m.Rid, drv, model.Downloading(url))

	case ActivityBuildWaiting:
		path, ok := fieldString(r.StartFields, 0)
		if !ok {
			return
		}
		drv, ok := m.resolveToDrv(path)
		if !ok {
			return
		}
		m.Sink.ReplaceJob(jid, m.Rid, drv, model.WaitingForLock())

	case ActivityPostBuildHook:
		path, ok := fieldString(r.StartFields, 0)
		if !ok {
			return
		}
		drv, ok := m.resolveToDrv(path)
		if !ok {
			return
		}
		m.Sink.ReplaceJob(jid, m.Rid, drv, model.PostBuildHook())

	case ActivityFetchTree:
		url, ok := fieldString(r.StartFields, 0)
		if !ok {
			url = r.Text
		}
		// No concrete derivation backs a tree fetch; a synthetic hash
		// derived from the activity id keeps it unique in the model while
		// Drv.IsCanonical keeps it away from the build manager's CLI.
		drv := model.Drv{Hash: fmt.Sprintf("%016x", r.StartID), Name: "fetch-tree"}
		m.Sink.ReplaceJob(jid, m.Rid, drv, model.FetchingTree(url))

	case ActivityUnknown:
		if mm := evalRe.FindStringSubmatch(r.Text); mm != nil {
			reference := mm[1]
			m.Sink.CreateTargetForReference(reference, m.Rid, func() (model.Drv, error) {
				if m.Resolve == nil {
					return model.Drv{}, errNoResolver
				}
				return m.Resolve.ResolveReference(reference)
			})
			m.Sink.ReplaceJob(jid, m.Rid, model.Drv{}, model.Evaluating())
			return
		}
		if copyingRe.MatchString(r.Text) {
			m.Sink.ReplaceJob(jid, m.Rid, model.Drv{}, model.CopyingSource())
		}
	}
}

func (m *Mapper) applyResult(r Record) {
	jid := model.JobId(r.ResultID)
	switch r.ResType {
	case ResultSetPhase:
		phase, ok := fieldString(r.ResultFields, 0)
		if !ok {
			return
		}
		m.Sink.MutateJob(jid, func(model.JobStatus) model.JobStatus { return model.BuildPhase(phase) })

	case ResultProgress:
		done, ok1 := fieldInt(r.ResultFields, 0)
		expected, ok2 := fieldInt(r.ResultFields, 1)
		if !ok1 || !ok2 {
			return
		}
		m.Sink.MutateJob(jid, func(s model.JobStatus) model.JobStatus {
			if s.Kind != model.StatusDownloading && s.Kind != model.StatusCopying {
				return s
			}
			s.Done = done
			s.Total = expected
			return s
		})
	}
}

func (m *Mapper) applyMsg(r Record) {
	if r.MsgLevel != VerbosityInfo {
		return
	}
	var paths []string
	if mm := singleBuildRe.FindStringSubmatch(r.Msg); mm != nil {
		paths = []string{mm[1]}
	} else if mm := multiBuildRe.FindStringSubmatch(r.Msg); mm != nil {
		paths = strings.Fields(mm[1])
	} else {
		return
	}
	if len(paths) == 0 {
		return
	}
	top := paths[len(paths)-1]
	drv, _, isDrv, err := model.ParseStorePath(m.StorePrefix, top)
	if err != nil || !isDrv {
		log.Printf("logproto: msg announced non-drv top-level path %q", top)
		return
	}
	m.Sink.InsertIdleDrvForRequester(drv, m.Rid)
}

// resolveToDrv parses path as a store path; if it names an output
// rather than a .drv directly, it asks the Resolver (when present) to
// find the producing derivation.
func (m *Mapper) resolveToDrv(path string) (model.Drv, bool) {
	drv, out, isDrv, err := model.ParseStorePath(m.StorePrefix, path)
	if err != nil {
		log.Printf("logproto: %v", err)
		return model.Drv{}, false
	}
	if isDrv {
		return drv, true
	}
	if m.Resolve == nil {
		return model.Drv{}, false
	}
	drv, err = m.Resolve.ResolveOutputDrv(out)
	if err != nil {
		log.Printf("logproto: resolving output %v: %v", out, err)
		return model.Drv{}, false
	}
	return drv, true
}

var errNoResolver = xerrors.New("logproto: no resolver configured")
