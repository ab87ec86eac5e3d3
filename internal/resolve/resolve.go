// Package resolve implements the daemon's two opportunistic subprocess
// lookups: turning a flake-style reference into a root derivation, and
// turning an output store path into its producing derivation. Both
// shell out to the build manager's own CLI via exec.CommandContext
// with a context-scoped timeout rather than a bare exec.Command.
package resolve

import (
	"bufio"
	"context"
	"strings"
	"time"

	"golang.org/x/xerrors"

	"github.com/distr1/buildtop/internal/logproto"
	"github.com/distr1/buildtop/internal/model"
)

// Timeout bounds every subprocess invocation.
const Timeout = 5 * time.Second

// Runner abstracts process execution so tests can substitute a fake
// without forking a real CLI. *CLIResolver uses execRunner, which
// wraps os/exec.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout string, err error)
}

// CLIResolver implements logproto.Resolver by invoking the build
// manager's own command-line tool, configurable via Bin (e.g. "nix" or
// a distri-style equivalent) so the daemon never hard-codes a single
// upstream tool name.
type CLIResolver struct {
	Bin         string
	StorePrefix string
	Run         Runner
}

// NewCLIResolver returns a resolver that shells out to bin, reading
// store paths relative to storePrefix.
func NewCLIResolver(bin, storePrefix string) *CLIResolver {
	return &CLIResolver{Bin: bin, StorePrefix: storePrefix, Run: execRunner{}}
}

// ResolveOutputDrv resolves a built output store path to the
// derivation that produced it, e.g. via `<bin> derivation show-output
// <path>`. Failure is non-fatal; callers log and treat the drv as
// unresolvable.
func (r *CLIResolver) ResolveOutputDrv(out model.StoreOutput) (model.Drv, error) {
	ctx, cancel := context.WithTimeout(context.Background(), Timeout)
	defer cancel()
	path := r.StorePrefix + "/" + out.String()
	stdout, err := r.Run.Run(ctx, r.Bin, "derivation", "show-output", path)
	if err != nil {
		return model.Drv{}, xerrors.Errorf("resolve: show-output %s: %w", path, err)
	}
	return parseDrvLine(r.StorePrefix, stdout)
}

// ResolveReference resolves a user-visible reference (e.g. a flake URI
// or distri package reference) to its root derivation, e.g. via
// `<bin> eval --derivation <reference>`.
func (r *CLIResolver) ResolveReference(reference string) (model.Drv, error) {
	ctx, cancel := context.WithTimeout(context.Background(), Timeout)
	defer cancel()
	stdout, err := r.Run.Run(ctx, r.Bin, "eval", "--derivation", reference)
	if err != nil {
		return model.Drv{}, xerrors.Errorf("resolve: eval --derivation %s: %w", reference, err)
	}
	return parseDrvLine(r.StorePrefix, stdout)
}

// parseDrvLine takes the CLI's first non-empty output line (the
// convention every build-manager subcommand this resolver shells out
// to follows: one store path per line on stdout) and parses it as a
// Drv.
func parseDrvLine(storePrefix, stdout string) (model.Drv, error) {
	sc := bufio.NewScanner(strings.NewReader(stdout))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		drv, _, isDrv, err := model.ParseStorePath(storePrefix, line)
		if err != nil {
			return model.Drv{}, err
		}
		if !isDrv {
			return model.Drv{}, xerrors.Errorf("resolve: %q is not a derivation path", line)
		}
		return drv, nil
	}
	return model.Drv{}, xerrors.New("resolve: empty CLI output")
}

var _ logproto.Resolver = (*CLIResolver)(nil)
