package resolve

import (
	"context"
	"testing"

	"github.com/distr1/buildtop/internal/model"
)

type fakeRunner struct {
	stdout string
	err    error
}

func (f fakeRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	return f.stdout, f.err
}

func TestResolveReference(t *testing.T) {
	r := &CLIResolver{
		Bin:         "nix",
		StorePrefix: "/store",
		Run:         fakeRunner{stdout: "/store/11111111111111111111111111111111-app.drv\n"},
	}
	drv, err := r.ResolveReference("proj#app")
	if err != nil {
		t.Fatalf("ResolveReference: %v", err)
	}
	want := model.Drv{Hash: "11111111111111111111111111111111", Name: "app"}
	if drv != want {
		t.Errorf("ResolveReference = %v, want %v", drv, want)
	}
}

func TestResolveOutputDrvNonDrvOutput(t *testing.T) {
	r := &CLIResolver{
		Bin:         "nix",
		StorePrefix: "/store",
		Run:         fakeRunner{stdout: "/store/22222222222222222222222222222222-app-1.0\n"},
	}
	if _, err := r.ResolveOutputDrv(model.StoreOutput{Hash: "22222222222222222222222222222222", Name: "app-1.0"}); err == nil {
		t.Error("ResolveOutputDrv should fail when the CLI returns a non-derivation path")
	}
}

func TestResolveReferenceCLIFailure(t *testing.T) {
	r := &CLIResolver{Bin: "nix", StorePrefix: "/store", Run: fakeRunner{err: context.DeadlineExceeded}}
	if _, err := r.ResolveReference("proj#app"); err == nil {
		t.Error("ResolveReference should propagate the CLI's error")
	}
}
