// Package config writes and reads the daemon's small instance-discovery
// file: the RPC socket path, ring name/length, and store prefix a
// buildtopd instance is running with, so a probe client started
// without matching flags can still find it. The record is plain JSON,
// rewritten atomically via github.com/google/renameio so readers never
// observe a partial file.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"golang.org/x/xerrors"
)

// Instance is the discovery record one running buildtopd writes.
type Instance struct {
	Pid         int    `json:"pid"`
	SocketPath  string `json:"socket_path"`
	RingName    string `json:"ring_name"`
	RingLen     uint64 `json:"ring_len"`
	StorePrefix string `json:"store_prefix"`
}

// DefaultPath returns the instance file path for a daemon identified
// by name (cmd/buildtopd uses "buildtopd-<pid>"), under dir (e.g.
// $XDG_RUNTIME_DIR or /run/buildtop).
func DefaultPath(dir, name string) string {
	return filepath.Join(dir, name+".json")
}

// Write atomically rewrites path with inst's JSON encoding: render to
// a temp file in the same directory, then rename over the destination.
func Write(path string, inst Instance) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return xerrors.Errorf("config: mkdir %s: %w", filepath.Dir(path), err)
	}
	b, err := json.MarshalIndent(inst, "", "  ")
	if err != nil {
		return xerrors.Errorf("config: marshaling instance record: %w", err)
	}
	if err := renameio.WriteFile(path, b, 0o644); err != nil {
		return xerrors.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}

// Read loads the instance record written by Write.
func Read(path string) (Instance, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Instance{}, xerrors.Errorf("config: reading %s: %w", path, err)
	}
	var inst Instance
	if err := json.Unmarshal(b, &inst); err != nil {
		return Instance{}, xerrors.Errorf("config: decoding %s: %w", path, err)
	}
	return inst, nil
}

// Remove deletes the instance file, ignoring a not-exist error (the
// daemon calls this from its RunAtExit handler; a failed earlier write
// or a already-cleaned-up path is not itself an error).
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
