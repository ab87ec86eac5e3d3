// Package aterm parses the ATerm-encoded ".drv" files the build manager
// writes into its store, extracting the fields internal/model's DAG
// insertion needs: each input derivation (with the output names requested
// of it) and each declared output (with its concrete store path).
//
// The grammar is a small, well-known S-expression dialect:
// Derive(Outputs, InputDrvs, InputSrcs, System, Builder, Args, Env).
package aterm

import (
	"fmt"
	"os"

	"golang.org/x/xerrors"

	"github.com/distr1/buildtop/internal/model"
)

// Output is one declared output of a derivation.
type Output struct {
	Path string
}

// Derivation is the subset of a parsed ".drv" file the daemon needs.
type Derivation struct {
	Name      string
	System    string
	InputDrvs map[model.Drv][]string // dep -> requested output names
	Outputs   map[string]Output      // output name -> store path
}

// Reader implements model.DrvFileReader by reading and parsing ".drv"
// files directly off disk under StorePrefix.
type Reader struct {
	StorePrefix string
}

// ParseDrvFile reads d's ".drv" file and returns its direct dependencies
// (each with their requested output names) and its own declared outputs.
func (r *Reader) ParseDrvFile(d model.Drv) (map[model.Drv][]string, map[string]string, error) {
	path := fmt.Sprintf("%s/%s", trimSlash(r.StorePrefix), d.String())
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, xerrors.Errorf("aterm: reading %s: %w", path, err)
	}
	drv, err := Parse(contents)
	if err != nil {
		return nil, nil, xerrors.Errorf("aterm: parsing %s: %w", path, err)
	}

	deps := make(map[model.Drv][]string, len(drv.InputDrvs))
	for dep, outputs := range drv.InputDrvs {
		deps[dep] = outputs
	}
	outputs := make(map[string]string, len(drv.Outputs))
	for name, o := range drv.Outputs {
		outputs[name] = o.Path
	}
	return deps, outputs, nil
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
