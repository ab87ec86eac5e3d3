// Package logproto decodes the build manager's structured log protocol:
// one JSON object per line, tagged by "action", carrying activities,
// results, and messages for the state aggregator to fold in.
package logproto

import (
	"encoding/json"

	"golang.org/x/xerrors"
)

// Field is a dynamically-typed log field: either a string or an integer.
// Modeled as a tagged union rather than interface{} so callers must
// demand the tag they expect (see String/Int below) instead of doing
// ad-hoc type assertions all over the mapping rules.
type Field struct {
	isInt bool
	str   string
	num   uint64
}

func StringField(s string) Field { return Field{str: s} }
func IntField(n uint64) Field { return Field{isInt: true, num: n} }

// String returns f's string value and true, or "" and false if f holds
// an integer.
func (f Field) String() (string, bool) {
	if f.isInt {
		return "", false
	}
	return f.str, true
}

// Int returns f's integer value and true, or 0 and false if f holds a
// string.
func (f Field) Int() (uint64, bool) {
	if !f.isInt {
		return 0, false
	}
	return f.num, true
}

func (f *Field) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = Field{str: s}
		return nil
	}
	var n uint64
	if err := json.Unmarshal(b, &n); err == nil {
		*f = Field{isInt: true, num: n}
		return nil
	}
	return xerrors.Errorf("logproto: field %s is neither a string nor an integer", b)
}

func (f Field) MarshalJSON() ([]byte, error) {
	if f.isInt {
		return json.Marshal(f.num)
	}
	return json.Marshal(f.str)
}
