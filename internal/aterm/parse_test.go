package aterm

import (
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/distr1/buildtop/internal/model"
)

func TestParseDerivation(t *testing.T) {
	input := `Derive([("out","/build/distri/pkg/abcdefabcdefabcdefabcdefabcdefab-app","","")],[("/build/distri/pkg/11111111111111111111111111111111-dep1.drv",["out"]),("/build/distri/pkg/22222222222222222222222222222222-dep2.drv",["out","dev"])],["/build/distri/pkg/src.tar"],"x86_64-linux","/build/distri/pkg/bash/bin/bash",["-c","true"],[("PATH","/bin")])`

	drv, err := Parse([]byte(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if drv.System != "x86_64-linux" {
		t.Errorf("System = %q, want x86_64-linux", drv.System)
	}
	if len(drv.Outputs) != 1 {
		t.Fatalf("got %d outputs, want 1", len(drv.Outputs))
	}
	out, ok := drv.Outputs["out"]
	if !ok || out.Path != "/build/distri/pkg/abcdefabcdefabcdefabcdefabcdefab-app" {
		t.Errorf("Outputs[out] = %+v, ok=%v", out, ok)
	}
	if len(drv.InputDrvs) != 2 {
		t.Fatalf("got %d input drvs, want 2", len(drv.InputDrvs))
	}
	for d, names := range drv.InputDrvs {
		switch d.Hash {
		case "11111111111111111111111111111111":
			if len(names) != 1 || names[0] != "out" {
				t.Errorf("input 1 names = %v, want [out]", names)
			}
		case "22222222222222222222222222222222":
			if len(names) != 2 || names[0] != "out" || names[1] != "dev" {
				t.Errorf("input 2 names = %v, want [out dev]", names)
			}
		default:
			t.Errorf("unexpected input drv %v", d)
		}
	}
}

func TestParseEmptyLists(t *testing.T) {
	input := `Derive([],[],[],"x86_64-linux","/bin/sh",[],[])`
	drv, err := Parse([]byte(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(drv.Outputs) != 0 || len(drv.InputDrvs) != 0 {
		t.Errorf("expected empty outputs/inputDrvs, got %+v", drv)
	}
}

func TestParseDrvFileReadsFromStore(t *testing.T) {
	store := t.TempDir()
	d := model.Drv{Hash: "abcdefabcdefabcdefabcdefabcdefab", Name: "app"}
	contents := `Derive([("out","` + store + `/abcdefabcdefabcdefabcdefabcdefab-app","","")],[("` + store + `/11111111111111111111111111111111-dep1.drv",["out"])],[],"x86_64-linux","/bin/sh",[],[])`
	if err := os.WriteFile(store+"/"+d.String(), []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	r := &Reader{StorePrefix: store}
	deps, outputs, err := r.ParseDrvFile(d)
	if err != nil {
		t.Fatalf("ParseDrvFile: %v", err)
	}
	wantDeps := map[model.Drv][]string{
		{Hash: "11111111111111111111111111111111", Name: "dep1"}: {"out"},
	}
	if diff := cmp.Diff(wantDeps, deps); diff != "" {
		t.Errorf("deps: diff (-want +got):\n%s", diff)
	}
	wantOutputs := map[string]string{"out": store + "/abcdefabcdefabcdefabcdefabcdefab-app"}
	if diff := cmp.Diff(wantOutputs, outputs); diff != "" {
		t.Errorf("outputs: diff (-want +got):\n%s", diff)
	}
}

func TestParseMissingPrefix(t *testing.T) {
	if _, err := Parse([]byte(`NotDerive()`)); err == nil {
		t.Error("expected error for missing Derive( prefix")
	}
}

func TestParseNonDrvInput(t *testing.T) {
	input := `Derive([],[("/build/distri/pkg/abcdefabcdefabcdefabcdefabcdefab-notadrv.tar",["out"])],[],"x86_64-linux","/bin/sh",[],[])`
	if _, err := Parse([]byte(input)); err == nil {
		t.Error("expected error when an input_drv entry isn't a .drv path")
	}
}
