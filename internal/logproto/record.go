package logproto

import (
	"encoding/json"

	"golang.org/x/xerrors"
)

// Record is one decoded log line. Exactly one of the typed fields below
// is meaningful, selected by Action.
type Record struct {
	Action string

	// start
	StartID     uint64
	Level       VerbosityLevel
	Parent      uint64
	Text        string
	ActType     ActivityType
	StartFields []Field

	// stop
	StopID uint64

	// result
	ResultID     uint64
	ResType      ResultType
	ResultFields []Field

	// msg
	MsgLevel VerbosityLevel
	Msg      string
	RawMsg   string
	Line     uint64
	Column   uint64
	File     string
	Trace    string

	// setPhase
	Phase string
}

// wireRecord mirrors the JSON shape exactly; Parse translates it into a
// Record, keeping JSON-tag bookkeeping out of the rest of the package.
type wireRecord struct {
	Action string `json:"action"`

	ID     *uint64 `json:"id"`
	Level  *uint32 `json:"level"`
	Parent *uint64 `json:"parent"`
	Text   string  `json:"text"`
	Type   *uint32 `json:"type"`
	Fields []Field `json:"fields"`

	Msg    string `json:"msg"`
	RawMsg string `json:"raw_msg"`
	Line   uint64 `json:"line"`
	Column uint64 `json:"column"`
	File   string `json:"file"`
	Trace  string `json:"trace"`

	Phase string `json:"phase"`
}

// Parse decodes a single JSON log line into a Record.
func Parse(line []byte) (Record, error) {
	var w wireRecord
	if err := json.Unmarshal(line, &w); err != nil {
		return Record{}, xerrors.Errorf("logproto: %w", err)
	}

	r := Record{Action: w.Action}
	switch w.Action {
	case "start":
		if w.ID == nil {
			return Record{}, xerrors.New("logproto: start record missing id")
		}
		r.StartID = *w.ID
		if w.Level != nil {
			r.Level = VerbosityLevel(*w.Level)
		}
		if w.Parent != nil {
			r.Parent = *w.Parent
		}
		r.Text = w.Text
		if w.Type != nil {
			r.ActType = ActivityType(*w.Type)
			if r.ActType < ActivityCopyPath || r.ActType > ActivityFetchTree {
				r.ActType = ActivityUnknown
			}
		}
		r.StartFields = w.Fields
	case "stop":
		if w.ID == nil {
			return Record{}, xerrors.New("logproto: stop record missing id")
		}
		r.StopID = *w.ID
	case "result":
		if w.ID == nil {
			return Record{}, xerrors.New("logproto: result record missing id")
		}
		r.ResultID = *w.ID
		if w.Type != nil {
			r.ResType = ResultType(*w.Type)
		}
		r.ResultFields = w.Fields
	case "msg":
		if w.Level != nil {
			r.MsgLevel = VerbosityLevel(*w.Level)
		}
		r.Msg = w.Msg
		r.RawMsg = w.RawMsg
		r.Line = w.Line
		r.Column = w.Column
		r.File = w.File
		r.Trace = w.Trace
	case "setPhase":
		r.Phase = w.Phase
	default:
		return Record{}, xerrors.Errorf("logproto: unknown action %q", w.Action)
	}
	return r, nil
}

// fieldString and fieldInt demand the expected tag on a field at index
// i, returning ok=false (never panicking) if it's absent or mistyped.
func fieldString(fields []Field, i int) (string, bool) {
	if i < 0 || i >= len(fields) {
		return "", false
	}
	return fields[i].String()
}

func fieldInt(fields []Field, i int) (uint64, bool) {
	if i < 0 || i >= len(fields) {
		return 0, false
	}
	return fields[i].Int()
}
