// Package model holds the daemon's core data types: derivation identity,
// the dependency DAG, jobs, and build targets.
package model

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/xerrors"
)

// canonicalHash matches the 32-character base32 hash a real store path
// carries, e.g. "m3g5p...".
var canonicalHash = regexp.MustCompile(`^[a-z0-9]{32}$`)

// Drv identifies a derivation by the (hash, name) pair parsed out of a
// ".drv" store path. Two Drvs are equal iff both fields match; ordering is
// lexicographic, first by hash then by name.
type Drv struct {
	Hash string
	Name string
}

func (d Drv) String() string {
	return fmt.Sprintf("%s-%s.drv", d.Hash, d.Name)
}

// Less reports whether d sorts before o, used for BTree-style ordering of
// nodes so iteration (and hence the UI) is deterministic.
func (d Drv) Less(o Drv) bool {
	if d.Hash != o.Hash {
		return d.Hash < o.Hash
	}
	return d.Name < o.Name
}

// IsCanonical reports whether d's hash is a real 32-character base32 store
// hash, as opposed to a synthetic hash fabricated by the log parser for
// activities that have no concrete derivation (see ParseStorePath and
// logproto's FetchTree handling). Only canonical Drvs may be used to
// query the build manager's CLI.
func (d Drv) IsCanonical() bool {
	return canonicalHash.MatchString(d.Hash)
}

// StoreOutput identifies a built output path (a store path without the
// ".drv" suffix). It is a sibling kind to Drv and may be resolved to the
// producing Drv via the build manager's CLI (see internal/resolve).
type StoreOutput struct {
	Hash string
	Name string
}

func (s StoreOutput) String() string {
	return fmt.Sprintf("%s-%s", s.Hash, s.Name)
}

// DrvParseError is returned by ParseStorePath when s does not look like a
// store path at all (no "-" separator after the prefix is stripped).
type DrvParseError struct {
	Input string
}

func (e *DrvParseError) Error() string {
	return fmt.Sprintf("model: %q is not a valid store path", e.Input)
}

// ParseStorePath strips storePrefix (e.g. "/build/distri/pkg" or
// "/nix/store") from s, splits the remainder on the first "-" into
// (hash, rest), and classifies rest: a ".drv" suffix yields a Drv, anything
// else a StoreOutput. Whitespace around s is trimmed first.
//
// A short, non-canonical hash is accepted here (synthetic Drvs constructed
// by the log parser use one) — callers must consult Drv.IsCanonical before
// using the result to query the build manager.
func ParseStorePath(storePrefix, s string) (drv Drv, out StoreOutput, isDrv bool, err error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, strings.TrimSuffix(storePrefix, "/")+"/")
	idx := strings.IndexByte(s, '-')
	if idx < 0 {
		return Drv{}, StoreOutput{}, false, &DrvParseError{Input: s}
	}
	hash, rest := s[:idx], s[idx+1:]
	if rest == "" {
		return Drv{}, StoreOutput{}, false, &DrvParseError{Input: s}
	}
	if strings.HasSuffix(rest, ".drv") {
		return Drv{Hash: hash, Name: strings.TrimSuffix(rest, ".drv")}, StoreOutput{}, true, nil
	}
	return Drv{}, StoreOutput{Hash: hash, Name: rest}, false, nil
}

// storeHashRe extracts a 32-character hash out of a cache URL, e.g.
// ".../abcdefghijklmnopqrstuvwxyz012345.narinfo".
var storeHashRe = regexp.MustCompile(`/([a-z0-9]{32})(\.narinfo|\.nar(\.[a-z0-9]+)?|$)`)

// ExtractURLHash extracts the 32-character store hash embedded in a cache
// transfer URL, used by the FileTransfer log-activity handler to synthesize
// a Drv for download progress tracking (see logproto).
func ExtractURLHash(url string) (string, error) {
	m := storeHashRe.FindStringSubmatch(url)
	if m == nil {
		return "", xerrors.Errorf("model: no store hash found in URL %q", url)
	}
	return m[1], nil
}
