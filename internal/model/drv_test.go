package model

import "testing"

func TestParseStorePath(t *testing.T) {
	tests := []struct {
		in     string
		wantOK bool
		isDrv  bool
		hash   string
		name   string
	}{
		{
			in:     "/build/distri/pkg/abcdefghijklmnopqrstuvwxyz012345-app-1.0.drv",
			wantOK: true,
			isDrv:  true,
			hash:   "abcdefghijklmnopqrstuvwxyz012345",
			name:   "app-1.0",
		},
		{
			in:     "/build/distri/pkg/abcdefghijklmnopqrstuvwxyz012345-app-1.0",
			wantOK: true,
			isDrv:  false,
			hash:   "abcdefghijklmnopqrstuvwxyz012345",
			name:   "app-1.0",
		},
		{
			in:     "  /build/distri/pkg/abcdefghijklmnopqrstuvwxyz012345-app-1.0.drv  ",
			wantOK: true,
			isDrv:  true,
			hash:   "abcdefghijklmnopqrstuvwxyz012345",
			name:   "app-1.0",
		},
		{
			in:     "/build/distri/pkg/nohyphen",
			wantOK: false,
		},
	}
	for _, tt := range tests {
		drv, out, isDrv, err := ParseStorePath("/build/distri/pkg", tt.in)
		if tt.wantOK && err != nil {
			t.Errorf("ParseStorePath(%q) = error %v, want success", tt.in, err)
			continue
		}
		if !tt.wantOK {
			if err == nil {
				t.Errorf("ParseStorePath(%q) = success, want error", tt.in)
			}
			continue
		}
		if isDrv != tt.isDrv {
			t.Errorf("ParseStorePath(%q) isDrv = %v, want %v", tt.in, isDrv, tt.isDrv)
		}
		if isDrv {
			if drv.Hash != tt.hash || drv.Name != tt.name {
				t.Errorf("ParseStorePath(%q) = %+v, want hash=%q name=%q", tt.in, drv, tt.hash, tt.name)
			}
		} else {
			if out.Hash != tt.hash || out.Name != tt.name {
				t.Errorf("ParseStorePath(%q) = %+v, want hash=%q name=%q", tt.in, out, tt.hash, tt.name)
			}
		}
	}
}

func TestParseStorePathRoundTrip(t *testing.T) {
	// Parsing a Drv's own string form must round-trip.
	d := Drv{Hash: "abcdefghijklmnopqrstuvwxyz012345", Name: "app-1.0"}
	got, _, isDrv, err := ParseStorePath("/build/distri/pkg", "/build/distri/pkg/"+d.String())
	if err != nil {
		t.Fatalf("ParseStorePath: %v", err)
	}
	if !isDrv || got != d {
		t.Fatalf("round trip = %+v (isDrv=%v), want %+v", got, isDrv, d)
	}
}

func TestIsCanonical(t *testing.T) {
	if !(Drv{Hash: "abcdefghijklmnopqrstuvwxyz012345"}).IsCanonical() {
		t.Error("32-char base32 hash should be canonical")
	}
	if (Drv{Hash: "shorthash"}).IsCanonical() {
		t.Error("short synthetic hash should not be canonical")
	}
}

func TestExtractURLHash(t *testing.T) {
	got, err := ExtractURLHash("https://cache.example/abcdefghijklmnopqrstuvwxyz012345.narinfo")
	if err != nil {
		t.Fatal(err)
	}
	if got != "abcdefghijklmnopqrstuvwxyz012345" {
		t.Errorf("ExtractURLHash = %q", got)
	}
	if _, err := ExtractURLHash("https://cache.example/nothing-here"); err == nil {
		t.Error("expected error for URL without a hash")
	}
}
