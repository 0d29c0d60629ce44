// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package isolation

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/opentofu/hotbundle/internal/bundlefs"
)

func TestIdentityKey(t *testing.T) {
	tests := []struct {
		id   Identity
		want string
	}{
		{Identity{}, "hotbundle_unknown_production_"},
		{Identity{AppVersion: "1.2.0"}, "hotbundle_1.2.0_production_"},
		{Identity{AppVersion: "1.2.0", Channel: "beta"}, "hotbundle_1.2.0_beta_"},
		{Identity{AppVersion: "1.2.0", Fingerprint: "f00d", Channel: "beta"}, "hotbundle_f00d_1.2.0_beta_"},
		{Identity{AppVersion: " 1.2.0 ", Fingerprint: "  "}, "hotbundle_1.2.0_production_"},
	}

	for _, test := range tests {
		t.Run(test.want, func(t *testing.T) {
			if got := test.id.Key(); got != test.want {
				t.Errorf("wrong key\ngot:  %s\nwant: %s", got, test.want)
			}
		})
	}
}

type staticPeeker struct {
	key string
	ok  bool
}

func (p staticPeeker) PeekIsolationKey() (string, bool) {
	return p.key, p.ok
}

func seedStore(t *testing.T) *bundlefs.FS {
	t.Helper()
	base := afero.NewMemMapFs()
	for _, dir := range []string{"/store/A", "/store/B", "/store/C.tmp"} {
		if err := base.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	for _, name := range []string{"/store/A/index.android.bundle", "/store/B/index.android.bundle", "/store/C.tmp/x"} {
		if err := afero.WriteFile(base, name, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	for _, name := range []string{"/store/metadata.json", "/store/crashed-history.json"} {
		if err := afero.WriteFile(base, name, []byte("{}"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return bundlefs.New(base)
}

func TestGuardCheck(t *testing.T) {
	const current = "hotbundle_2.0.0_production_"

	tests := map[string]struct {
		peeker      staticPeeker
		wantRemoved int
	}{
		"no metadata":  {staticPeeker{}, 0},
		"same key":     {staticPeeker{current, true}, 0},
		"key changed":  {staticPeeker{"hotbundle_1.0.0_production_", true}, 3},
		"empty stored": {staticPeeker{"", true}, 3},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			fs := seedStore(t)
			removed, err := NewGuard(fs, "/store", current, test.peeker, nil).Check()
			if err != nil {
				t.Fatalf("unexpected error: %s", err)
			}
			if removed != test.wantRemoved {
				t.Errorf("removed %d directories; want %d", removed, test.wantRemoved)
			}
			if !fs.IsFile("/store/metadata.json") || !fs.IsFile("/store/crashed-history.json") {
				t.Errorf("guard removed a file")
			}
			if test.wantRemoved > 0 && fs.Exists("/store/A") {
				t.Errorf("bundle directory survived the wipe")
			}
		})
	}
}

// failingRemoveFs refuses to remove one directory.
type failingRemoveFs struct {
	afero.Fs
	deny string
}

func (fs failingRemoveFs) RemoveAll(path string) error {
	if strings.HasSuffix(path, fs.deny) {
		return &os.PathError{Op: "remove", Path: path, Err: errors.New("busy")}
	}
	return fs.Fs.RemoveAll(path)
}

func TestGuardCheck_continuesAfterFailure(t *testing.T) {
	seeded := seedStore(t)
	fs := bundlefs.New(failingRemoveFs{seeded.Afero(), "/A"})

	removed, err := NewGuard(fs, "/store", "new", staticPeeker{"old", true}, nil).Check()
	if err == nil {
		t.Fatalf("expected an error for the undeletable directory")
	}
	if removed != 2 {
		t.Errorf("removed %d directories; want 2", removed)
	}
	if fs.Exists("/store/B") {
		t.Errorf("sweep stopped at the first failure")
	}
}
