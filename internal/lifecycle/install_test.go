// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/opentofu/hotbundle/internal/bundlefs"
	"github.com/opentofu/hotbundle/internal/bundlemeta"
	"github.com/opentofu/hotbundle/internal/extract"
	"github.com/opentofu/hotbundle/internal/integrity"
	"github.com/opentofu/hotbundle/internal/transfer"
)

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestUpdateBundle_verifiedArchive(t *testing.T) {
	h := newHarness(t, nil)
	archive := validBundle(t)
	h.transfer.archives[testURL] = archive

	if err := h.engine.UpdateBundle(t.Context(), "B", testURL, sha256Hex(archive), nil); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if got := h.metadata(t); got.StagingBundleID != "B" || !got.VerificationPending {
		t.Errorf("bundle not staged: %#v", got)
	}
}

func TestUpdateBundle_failuresLeaveNoScratch(t *testing.T) {
	notZip := []byte(strings.Repeat("not a zip archive ", 4))
	noBundleFile := buildBundle(t, map[string]string{"main.jsbundle": "x"})

	tests := map[string]struct {
		archive    []byte
		credential string
		transfer   error
		wantErr    error
	}{
		"download fails": {
			transfer: transfer.ErrDownloadFailed,
			wantErr:  transfer.ErrDownloadFailed,
		},
		"truncated download": {
			transfer: &transfer.IncompleteDownloadError{Expected: 100, Actual: 10},
			wantErr:  &transfer.IncompleteDownloadError{},
		},
		"hash mismatch": {
			archive:    validBundle(t),
			credential: strings.Repeat("ab", 32),
			wantErr:    integrity.ErrHashMismatch,
		},
		"not a zip archive": {
			archive: notZip,
			wantErr: extract.ErrExtractionFormat,
		},
		"no bundle file": {
			archive: noBundleFile,
			wantErr: extract.ErrInvalidBundle,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.installDir(t, "A")
			h.saveMetadata(t, metadata("A", "", false))
			h.transfer.err = test.transfer
			if test.archive != nil {
				h.transfer.archives[testURL] = test.archive
			}
			var failures []error
			h.opts.Events = &Events{UpdateFailure: func(_ string, err error) {
				failures = append(failures, err)
			}}
			h.restart(t)

			err := h.engine.UpdateBundle(t.Context(), "B", testURL, test.credential, nil)
			if err == nil {
				t.Fatal("expected an error")
			}
			var incomplete *transfer.IncompleteDownloadError
			if errors.As(test.wantErr, &incomplete) {
				if !errors.As(err, &incomplete) {
					t.Errorf("wrong error %q; want an incomplete download", err)
				}
			} else if !errors.Is(err, test.wantErr) {
				t.Errorf("wrong error %q; want %q", err, test.wantErr)
			}

			if diff := cmp.Diff([]string{"A"}, h.dirs(t)); diff != "" {
				t.Errorf("failed install left directories behind\n%s", diff)
			}
			if diff := cmp.Diff(metadata("A", "", false), *h.metadata(t)); diff != "" {
				t.Errorf("failed install changed metadata\n%s", diff)
			}
			if len(failures) != 1 {
				t.Errorf("wrong number of failure events %d; want 1", len(failures))
			}
		})
	}
}

func TestUpdateBundle_crashedBundleRejectedWithoutIO(t *testing.T) {
	var rejected []string
	h := newHarness(t, func(o *Options) {
		o.Events = &Events{UpdateRejected: func(id string) { rejected = append(rejected, id) }}
	})
	history := bundlemeta.NewHistoryStore(h.fs, testStore, nil)
	if err := history.Save(&bundlemeta.CrashedHistory{Bundles: []bundlemeta.CrashedBundle{
		{BundleID: "B", CrashedAt: testNow.UnixMilli()},
	}}); err != nil {
		t.Fatal(err)
	}
	h.transfer.archives[testURL] = validBundle(t)

	err := h.engine.UpdateBundle(t.Context(), "B", testURL, "", nil)
	if !errors.Is(err, ErrBundleInCrashedHistory) {
		t.Fatalf("wrong error %v; want %q", err, ErrBundleInCrashedHistory)
	}
	if got := h.transfer.calls.Load(); got != 0 {
		t.Errorf("transfer used %d times; want 0", got)
	}
	if h.fs.Exists(filepath.Join(testStore, bundlemeta.MetadataFileName)) {
		t.Error("rejected install created metadata")
	}
	if got := h.dirs(t); len(got) != 0 {
		t.Errorf("rejected install created directories: %v", got)
	}
	if diff := cmp.Diff([]string{"B"}, rejected); diff != "" {
		t.Errorf("wrong rejection events\n%s", diff)
	}
}

func TestUpdateBundle_insufficientDiskSpace(t *testing.T) {
	fs := bundlefs.New(afero.NewMemMapFs(), bundlefs.WithFreeSpaceFunc(func(string) (uint64, error) {
		return 1500, nil
	}))
	h := newHarnessFS(t, fs, nil)
	h.transfer.archives[testURL] = validBundle(t)
	h.transfer.declared = 1000

	err := h.engine.UpdateBundle(t.Context(), "B", testURL, "", nil)
	var spaceErr *InsufficientDiskSpaceError
	if !errors.As(err, &spaceErr) {
		t.Fatalf("wrong error %v; want insufficient disk space", err)
	}
	if diff := cmp.Diff(&InsufficientDiskSpaceError{Required: 2000, Available: 1500}, spaceErr); diff != "" {
		t.Errorf("wrong error details\n%s", diff)
	}
	if got := h.dirs(t); len(got) != 0 {
		t.Errorf("failed install left directories behind: %v", got)
	}
}

func TestUpdateBundle_freeSpaceUnknown(t *testing.T) {
	tests := map[string]struct {
		policy  DiskSpacePolicy
		wantErr error
	}{
		"fail closed": {
			policy:  FailClosed,
			wantErr: ErrDirectoryCreation,
		},
		"proceed": {
			policy: Proceed,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			fs := bundlefs.New(afero.NewMemMapFs(), bundlefs.WithFreeSpaceFunc(func(string) (uint64, error) {
				return 0, errors.New("statfs unavailable")
			}))
			h := newHarnessFS(t, fs, func(o *Options) {
				o.DiskSpacePolicy = test.policy
			})
			h.transfer.archives[testURL] = validBundle(t)

			err := h.engine.UpdateBundle(t.Context(), "B", testURL, "", nil)
			if test.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %s", err)
				}
				return
			}
			if !errors.Is(err, test.wantErr) {
				t.Fatalf("wrong error %v; want %q", err, test.wantErr)
			}
			if got := h.dirs(t); len(got) != 0 {
				t.Errorf("failed install left directories behind: %v", got)
			}
		})
	}
}

func TestUpdateBundle_reusesInstalledBundle(t *testing.T) {
	var reused []string
	h := newHarness(t, func(o *Options) {
		o.Events = &Events{UpdateReused: func(id string) { reused = append(reused, id) }}
	})
	h.installDir(t, "A")
	path := h.installDir(t, "B")
	h.installDir(t, "C")
	h.saveMetadata(t, metadata("A", "", false))

	var last float64
	if err := h.engine.UpdateBundle(t.Context(), "B", testURL, "", func(p float64) { last = p }); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if got := h.transfer.calls.Load(); got != 0 {
		t.Errorf("transfer used %d times; want 0", got)
	}
	if last != 1 {
		t.Errorf("wrong final progress %v; want 1", last)
	}
	if diff := cmp.Diff(metadata("A", "B", false), *h.metadata(t)); diff != "" {
		t.Errorf("wrong metadata\n%s", diff)
	}
	if got := h.cachedURL(t); got != path {
		t.Errorf("wrong cached bundle URL %q; want %q", got, path)
	}
	if diff := cmp.Diff([]string{"A", "B"}, h.dirs(t)); diff != "" {
		t.Errorf("wrong bundle directories\n%s", diff)
	}
	if diff := cmp.Diff([]string{"B"}, reused); diff != "" {
		t.Errorf("wrong reuse events\n%s", diff)
	}
}

func TestUpdateBundle_redownloadsBrokenInstall(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.fs.WriteFileAtomic(filepath.Join(testStore, "B", "assets", "logo.png"), []byte("png")); err != nil {
		t.Fatal(err)
	}
	h.transfer.archives[testURL] = validBundle(t)

	if err := h.engine.UpdateBundle(t.Context(), "B", testURL, "", nil); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if got := h.transfer.calls.Load(); got != 1 {
		t.Errorf("transfer used %d times; want 1", got)
	}
	if !h.fs.IsFile(filepath.Join(testStore, "B", "index.android.bundle")) {
		t.Error("bundle file missing after reinstall")
	}
}

func TestUpdateBundle_initialMetadataFromPreference(t *testing.T) {
	h := newHarness(t, nil)
	path := h.installDir(t, "A")
	h.prefs.SetItem(testKey+BundleURLPreference, &path)
	h.transfer.archives[testURL] = validBundle(t)

	if err := h.engine.UpdateBundle(t.Context(), "B", testURL, "", nil); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if diff := cmp.Diff(metadata("A", "B", false), *h.metadata(t)); diff != "" {
		t.Errorf("wrong metadata\n%s", diff)
	}
	if diff := cmp.Diff([]string{"A", "B"}, h.dirs(t)); diff != "" {
		t.Errorf("wrong bundle directories\n%s", diff)
	}
}

func TestUpdateBundle_reset(t *testing.T) {
	var resets []string
	h := newHarness(t, func(o *Options) {
		o.Events = &Events{Reset: func(id string) { resets = append(resets, id) }}
	})
	path := h.installDir(t, "A")
	h.installDir(t, "B")
	h.installDir(t, "C")
	h.prefs.SetItem(testKey+BundleURLPreference, &path)
	h.saveMetadata(t, metadata("A", "B", true))

	if err := h.engine.UpdateBundle(t.Context(), "C", "", "", nil); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if diff := cmp.Diff(metadata("", "", false), *h.metadata(t)); diff != "" {
		t.Errorf("wrong metadata\n%s", diff)
	}
	if got := h.cachedURL(t); got != "" {
		t.Errorf("cached bundle URL not cleared: %q", got)
	}
	if diff := cmp.Diff([]string{"C"}, h.dirs(t)); diff != "" {
		t.Errorf("wrong bundle directories\n%s", diff)
	}
	if got := h.engine.BundleURL(); got != DefaultFallbackBundleURL {
		t.Errorf("wrong bundle URL %q; want the fallback", got)
	}
	if diff := cmp.Diff([]string{"C"}, resets); diff != "" {
		t.Errorf("wrong reset events\n%s", diff)
	}
	if got := h.transfer.calls.Load(); got != 0 {
		t.Errorf("reset used the transfer %d times", got)
	}
}

func TestUpdateBundle_invalidBundleID(t *testing.T) {
	tests := map[string]error{
		"":           ErrMissingBundleID,
		"../evil":    ErrInvalidBundleID,
		`a\b`:        ErrInvalidBundleID,
		"..":         ErrInvalidBundleID,
		".downloads": ErrInvalidBundleID,
		"B.tmp":      ErrInvalidBundleID,
	}

	for id, want := range tests {
		t.Run(id, func(t *testing.T) {
			h := newHarness(t, nil)
			err := h.engine.UpdateBundle(t.Context(), id, testURL, "", nil)
			if !errors.Is(err, want) {
				t.Errorf("wrong error %v; want %q", err, want)
			}
			if got := h.transfer.calls.Load(); got != 0 {
				t.Errorf("transfer used %d times; want 0", got)
			}
		})
	}
}

func TestUpdateBundle_moveFails(t *testing.T) {
	final := filepath.Join(testStore, "B")
	fs := bundlefs.New(noMoveFs{Fs: afero.NewMemMapFs(), dst: final}, bundlefs.WithFreeSpaceFunc(func(string) (uint64, error) {
		return 1 << 40, nil
	}))
	h := newHarnessFS(t, fs, nil)
	h.transfer.archives[testURL] = validBundle(t)

	err := h.engine.UpdateBundle(t.Context(), "B", testURL, "", nil)
	if !errors.Is(err, ErrMoveOperationFailed) {
		t.Fatalf("wrong error %v; want %q", err, ErrMoveOperationFailed)
	}
	if got := h.dirs(t); len(got) != 0 {
		t.Errorf("failed install left directories behind: %v", got)
	}
	if got := h.metadata(t); got == nil || got.StagingBundleID != "" {
		t.Errorf("failed install staged a bundle: %#v", got)
	}
}

// noMoveFs refuses to rename anything onto dst or create files under it.
type noMoveFs struct {
	afero.Fs
	dst string
}

func (fs noMoveFs) Rename(oldname, newname string) error {
	if newname == fs.dst {
		return errors.New("cross-device link")
	}
	return fs.Fs.Rename(oldname, newname)
}

func (fs noMoveFs) Create(name string) (afero.File, error) {
	if strings.HasPrefix(name, fs.dst+"/") {
		return nil, errors.New("read-only file system")
	}
	return fs.Fs.Create(name)
}

func TestUpdateBundle_coalescesSameBundle(t *testing.T) {
	h := newHarness(t, nil)
	h.transfer.archives[testURL] = validBundle(t)
	h.transfer.block = make(chan struct{})

	const callers = 3
	var wg sync.WaitGroup
	errs := make([]error, callers)
	finals := make([]float64, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = h.engine.UpdateBundle(t.Context(), "B", testURL, "", func(p float64) {
				finals[i] = p
			})
		}()
	}

	// Hold the download until every caller has joined it.
	deadline := time.Now().Add(5 * time.Second)
	for {
		h.engine.flightMu.Lock()
		f := h.engine.flights["B"]
		joined := f != nil && f.refs == callers
		h.engine.flightMu.Unlock()
		if joined {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("callers never joined the same install")
		}
		time.Sleep(time.Millisecond)
	}
	close(h.transfer.block)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: unexpected error: %s", i, err)
		}
	}
	if got := h.transfer.calls.Load(); got != 1 {
		t.Errorf("bundle downloaded %d times; want 1", got)
	}
	if diff := cmp.Diff([]float64{1, 1, 1}, finals); diff != "" {
		t.Errorf("not every caller saw the install finish\n%s", diff)
	}
}

func TestUpdateBundle_cancelled(t *testing.T) {
	h := newHarness(t, nil)
	h.transfer.archives[testURL] = validBundle(t)
	h.transfer.block = make(chan struct{})

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	err := h.engine.UpdateBundle(ctx, "B", testURL, "", nil)
	if !errors.Is(err, transfer.ErrDownloadInterrupted) {
		t.Fatalf("wrong error %v; want %q", err, transfer.ErrDownloadInterrupted)
	}
	if got := h.dirs(t); len(got) != 0 {
		t.Errorf("cancelled install left directories behind: %v", got)
	}
}

func TestArchiveName(t *testing.T) {
	tests := map[string]string{
		"https://cdn.example.com/bundles/B.zip":         "B.zip",
		"https://cdn.example.com/bundles/B.zip?sig=abc": "B.zip",
		"https://cdn.example.com/":                      archiveFallback,
		"https://cdn.example.com":                       archiveFallback,
		"https://cdn.example.com/bundles/..":            archiveFallback,
		"https://cdn.example.com/bundles/.hidden":       archiveFallback,
		"::not a url": archiveFallback,
	}
	for input, want := range tests {
		if got := archiveName(input); got != want {
			t.Errorf("archiveName(%q) = %q; want %q", input, got, want)
		}
	}
}
