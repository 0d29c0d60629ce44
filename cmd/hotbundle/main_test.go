// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"github.com/spf13/afero"
)

const testConfigPath = "/etc/hotbundle.hcl"

// testMeta returns a Meta whose configuration points at a fresh bundle
// store under t.TempDir.
func testMeta(t *testing.T, extra string) (Meta, string) {
	t.Helper()
	storeDir := filepath.Join(t.TempDir(), "bundle-store")
	fs := afero.NewMemMapFs()
	src := fmt.Sprintf("bundle_store_dir = %q\napp_version = \"1.0.0\"\n%s", storeDir, extra)
	if err := afero.WriteFile(fs, testConfigPath, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	return Meta{
		Logger:     hclog.NewNullLogger(),
		ConfigPath: testConfigPath,
		FS:         fs,
	}, storeDir
}

func run(t *testing.T, meta Meta, name string, args ...string) (int, string, string) {
	t.Helper()
	ui := cli.NewMockUi()
	meta.Ui = ui
	factory, ok := initCommands(meta)[name]
	if !ok {
		t.Fatalf("no command %q", name)
	}
	cmd, err := factory()
	if err != nil {
		t.Fatal(err)
	}
	code := cmd.Run(args)
	return code, strings.TrimSpace(ui.OutputWriter.String()), strings.TrimSpace(ui.ErrorWriter.String())
}

func testArchive(t *testing.T) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range map[string]string{
		"index.android.bundle": "console.log('hello');",
		"assets/logo.png":      "png",
	} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	sum := sha256.Sum256(buf.Bytes())
	return buf.Bytes(), hex.EncodeToString(sum[:])
}

func testServer(t *testing.T, archive []byte) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(archive)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestUpdateThenPromote(t *testing.T) {
	meta, storeDir := testMeta(t, "")
	archive, digest := testArchive(t)
	server := testServer(t, archive)

	code, out, errOut := run(t, meta, "update", "-hash="+digest, "B", server.URL+"/b.zip")
	if code != 0 {
		t.Fatalf("update failed with %d: %s", code, errOut)
	}
	if !strings.Contains(out, "Bundle B is staged") {
		t.Errorf("wrong output:\n%s", out)
	}
	if !strings.Contains(out, "Progress: 100%") {
		t.Errorf("progress was not reported:\n%s", out)
	}

	_, out, _ = run(t, meta, "status")
	if !strings.Contains(out, "staging-unverified") {
		t.Errorf("wrong status after update:\n%s", out)
	}

	_, out, _ = run(t, meta, "url")
	want := filepath.Join(storeDir, "B", "index.android.bundle")
	if out != want {
		t.Errorf("wrong url %q; want %q", out, want)
	}

	_, out, _ = run(t, meta, "ready", "B")
	if out != `{"status":"PROMOTED"}` {
		t.Errorf("wrong ready result %s", out)
	}

	_, out, _ = run(t, meta, "status")
	if !strings.Contains(out, "State:     stable") || !strings.Contains(out, "Stable:    B") {
		t.Errorf("wrong status after promotion:\n%s", out)
	}

	_, out, _ = run(t, meta, "base-url")
	if out != "file://"+filepath.Join(storeDir, "B") {
		t.Errorf("wrong base url %q", out)
	}
}

func TestUnconfirmedLaunchRollsBack(t *testing.T) {
	meta, _ := testMeta(t, "")
	archive, _ := testArchive(t)
	server := testServer(t, archive)

	if code, _, errOut := run(t, meta, "update", "-quiet", "B", server.URL+"/b.zip"); code != 0 {
		t.Fatalf("update failed with %d: %s", code, errOut)
	}

	// The first launch tries B and never reports ready.
	run(t, meta, "url")

	_, out, _ := run(t, meta, "url")
	if out != "assets://index.android.bundle" {
		t.Errorf("wrong url after crash %q", out)
	}

	_, out, _ = run(t, meta, "crash-history")
	if out != "B" {
		t.Errorf("wrong crash history %q", out)
	}

	code, _, errOut := run(t, meta, "update", "B", server.URL+"/b.zip")
	if code != 1 || !strings.Contains(errOut, "BUNDLE_IN_CRASHED_HISTORY") {
		t.Errorf("crashed bundle was not refused: %d %s", code, errOut)
	}

	if code, out, _ := run(t, meta, "clear-crash-history"); code != 0 || out != "Crash history cleared." {
		t.Errorf("wrong clear result %d %q", code, out)
	}
	if _, out, _ := run(t, meta, "crash-history"); out != "" {
		t.Errorf("history not cleared: %q", out)
	}
}

func TestReadyWithOtherBundleKeepsStaging(t *testing.T) {
	meta, _ := testMeta(t, "")
	archive, _ := testArchive(t)
	server := testServer(t, archive)

	if code, _, errOut := run(t, meta, "update", "-quiet", "B", server.URL+"/b.zip"); code != 0 {
		t.Fatalf("update failed with %d: %s", code, errOut)
	}

	_, out, _ := run(t, meta, "ready", "C")
	if out != `{"status":"STABLE"}` {
		t.Errorf("wrong ready result %s", out)
	}
	_, out, _ = run(t, meta, "status")
	if !strings.Contains(out, "Staging:   B") {
		t.Errorf("staged bundle was dropped:\n%s", out)
	}
	if _, out, _ := run(t, meta, "crash-history"); out != "" {
		t.Errorf("unexpected crash history %q", out)
	}
}

func TestUpdateErrors(t *testing.T) {
	meta, _ := testMeta(t, "")
	archive, _ := testArchive(t)
	server := testServer(t, archive)

	tests := map[string]struct {
		args []string
		want string
	}{
		"invalid url": {
			args: []string{"B", "ftp://example.com/b.zip"},
			want: "INVALID_FILE_URL",
		},
		"wrong digest": {
			args: []string{"-hash=" + strings.Repeat("0", 64), "B", server.URL + "/b.zip"},
			want: "SIGNATURE_VERIFICATION_FAILED",
		},
		"no arguments": {
			want: "expects a bundle id",
		},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			code, _, errOut := run(t, meta, "update", test.args...)
			if code != 1 {
				t.Errorf("wrong exit code %d", code)
			}
			if !strings.Contains(errOut, test.want) {
				t.Errorf("missing %q in error output:\n%s", test.want, errOut)
			}
		})
	}
}

func TestReadyWithoutBundle(t *testing.T) {
	meta, _ := testMeta(t, "")
	code, out, _ := run(t, meta, "ready")
	if code != 0 || out != `{"status":"STABLE"}` {
		t.Errorf("wrong result %d %s", code, out)
	}
}

func TestBadConfiguration(t *testing.T) {
	meta, _ := testMeta(t, `disk_space_policy = "sometimes"`)
	code, _, errOut := run(t, meta, "url")
	if code != 1 || !strings.Contains(errOut, "Invalid disk_space_policy") {
		t.Errorf("wrong result %d:\n%s", code, errOut)
	}

	code, _, errOut = run(t, meta, "url", "-config=/missing.hcl")
	if code != 1 || !strings.Contains(errOut, "Failed to read configuration") {
		t.Errorf("wrong result %d:\n%s", code, errOut)
	}
}

func TestRedisURL(t *testing.T) {
	tests := map[string]string{
		"localhost:6379":            "redis://localhost:6379",
		"redis://localhost:6379/2":  "redis://localhost:6379/2",
		"rediss://cache.local:6380": "rediss://cache.local:6380",
	}
	for in, want := range tests {
		if got := redisURL(in); got != want {
			t.Errorf("redisURL(%q) = %q; want %q", in, got, want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	if newLogger("").IsError() {
		t.Error("empty level should discard everything")
	}
	if !newLogger("debug").IsDebug() {
		t.Error("debug level was not applied")
	}
}
