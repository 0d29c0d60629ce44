// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package transfer

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/spf13/afero"

	"github.com/opentofu/hotbundle/internal/bundlefs"
)

const testDest = "/store/.downloads/1234/bundle.zip"

func testManager(t *testing.T) (*Manager, *bundlefs.FS) {
	t.Helper()
	fs := bundlefs.New(afero.NewMemMapFs())
	return New(fs, Options{Retries: 0}), fs
}

func TestDownload(t *testing.T) {
	body := bytes.Repeat([]byte("0123456789"), 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	m, fs := testManager(t)

	var declared int64
	var progress []float64
	err := m.Download(t.Context(), srv.URL+"/bundle.zip", testDest,
		func(n int64) error { declared = n; return nil },
		func(p float64) { progress = append(progress, p) },
	)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if declared != int64(len(body)) {
		t.Errorf("wrong declared size %d; want %d", declared, len(body))
	}
	got, err := fs.ReadFile(testDest)
	if err != nil {
		t.Fatalf("download not written: %s", err)
	}
	if !bytes.Equal(got, body) {
		t.Errorf("downloaded content differs from served content")
	}

	if len(progress) == 0 {
		t.Fatalf("no progress reported")
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Fatalf("progress went backwards: %v", progress)
		}
	}
	if last := progress[len(progress)-1]; last != 1 {
		t.Errorf("final progress %v; want 1", last)
	}
	for _, p := range progress {
		if p < 0 || p > 1 {
			t.Fatalf("progress out of range: %v", progress)
		}
	}
}

func TestDownload_unknownLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.(http.Flusher).Flush() // forces chunked encoding
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	m, fs := testManager(t)
	sizeCalled := false
	var progress []float64
	err := m.Download(t.Context(), srv.URL, testDest,
		func(int64) error { sizeCalled = true; return nil },
		func(p float64) { progress = append(progress, p) },
	)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if sizeCalled {
		t.Errorf("size callback called without a declared length")
	}
	if len(progress) != 1 || progress[0] != 1 {
		t.Errorf("wrong progress %v; want [1]", progress)
	}
	if !fs.IsFile(testDest) {
		t.Errorf("download not written")
	}
}

func TestDownload_httpStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	m, fs := testManager(t)
	err := m.Download(t.Context(), srv.URL, testDest, nil, nil)

	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("wrong error %v; want *HTTPStatusError", err)
	}
	if statusErr.StatusCode != http.StatusNotFound {
		t.Errorf("wrong status %d", statusErr.StatusCode)
	}
	if !errors.Is(err, ErrDownloadFailed) {
		t.Errorf("status error does not match ErrDownloadFailed")
	}
	if fs.Exists(testDest) {
		t.Errorf("destination created for failed request")
	}
}

func TestDownload_sizeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "4")
		_, _ = w.Write([]byte("data"))
	}))
	defer srv.Close()

	tooBig := errors.New("too big")
	m, fs := testManager(t)
	err := m.Download(t.Context(), srv.URL, testDest, func(int64) error { return tooBig }, nil)
	if !errors.Is(err, tooBig) {
		t.Fatalf("wrong error %v; want the size callback's error", err)
	}
	if fs.Exists(testDest) {
		t.Errorf("destination created after size was rejected")
	}
}

func TestDownload_truncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		_, _ = w.Write([]byte("only ten b"))
	}))
	defer srv.Close()

	m, fs := testManager(t)
	err := m.Download(t.Context(), srv.URL, testDest, nil, nil)

	var incomplete *IncompleteDownloadError
	if !errors.As(err, &incomplete) {
		t.Fatalf("wrong error %v; want *IncompleteDownloadError", err)
	}
	if incomplete.Expected != 100 || incomplete.Actual != 10 {
		t.Errorf("wrong sizes %#v", incomplete)
	}
	if fs.Exists(testDest) {
		t.Errorf("partial download left behind")
	}
}

func TestDownload_cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		_, _ = w.Write(make([]byte, 100))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	m, fs := testManager(t)
	err := m.Download(ctx, srv.URL, testDest, nil, func(float64) { cancel() })
	if !errors.Is(err, ErrDownloadInterrupted) {
		t.Fatalf("wrong error %v; want ErrDownloadInterrupted", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("context error not wrapped: %v", err)
	}
	if fs.Exists(testDest) {
		t.Errorf("partial download left behind")
	}
}

func TestDownload_unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	m, _ := testManager(t)
	err := m.Download(t.Context(), url, testDest, nil, nil)
	if !errors.Is(err, ErrDownloadFailed) {
		t.Fatalf("wrong error %v; want ErrDownloadFailed", err)
	}
}
