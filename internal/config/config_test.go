package config

import (
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestWriteReadRoundTrips(t *testing.T) {
	path := DefaultPath(t.TempDir(), "buildtopd-1234")
	want := Instance{
		Pid:         1234,
		SocketPath:  "/run/buildtop/control.sock",
		RingName:    "buildtop-ring-1234",
		RingLen:     1 << 20,
		StorePrefix: "/build/distri/pkg",
	}
	if err := Write(path, want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("instance record: diff (-want +got):\n%s", diff)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	path := DefaultPath(t.TempDir(), "buildtopd-1")
	if err := Write(path, Instance{Pid: 1}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := Remove(path); err != nil {
		t.Fatalf("first Remove: %v", err)
	}
	if err := Remove(path); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("instance file still present after Remove: %v", err)
	}
}
