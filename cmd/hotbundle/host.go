// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"github.com/opentofu/hotbundle/internal/bridge"
	"github.com/opentofu/hotbundle/internal/bundlefs"
	"github.com/opentofu/hotbundle/internal/config"
	"github.com/opentofu/hotbundle/internal/extract"
	"github.com/opentofu/hotbundle/internal/integrity"
	"github.com/opentofu/hotbundle/internal/lifecycle"
	"github.com/opentofu/hotbundle/internal/metrics"
	"github.com/opentofu/hotbundle/internal/prefs"
	"github.com/opentofu/hotbundle/internal/transfer"
)

const (
	// preferencesFileName is created next to the bundle store when the
	// file backend has no explicit path.
	preferencesFileName = "hotbundle-preferences.json"

	metricsNamespace       = "hotbundle"
	metricsShutdownTimeout = 5 * time.Second
)

// host is one engine built from a configuration, with the resources it
// holds open.
type host struct {
	engine  *lifecycle.Engine
	module  *bridge.Module
	closers []func() error
}

func newHost(ctx context.Context, cfg *config.Config, cfgFS afero.Fs, logger hclog.Logger) (_ *host, err error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	h := &host{}
	defer func() {
		if err != nil {
			err = errors.Join(err, h.Close())
		}
	}()

	fs := bundlefs.NewOS(bundlefs.WithLogger(logger.Named("fs")))

	bundleFileName := cfg.BundleFileName
	if bundleFileName == "" {
		bundleFileName = lifecycle.DefaultBundleFileName
	}

	publicKey, err := cfg.ResolvePublicKey(cfgFS)
	if err != nil {
		return nil, err
	}

	store, err := h.openPreferences(cfg, fs)
	if err != nil {
		return nil, err
	}

	var events *lifecycle.Events
	if cfg.Metrics != nil {
		events, err = h.serveMetrics(ctx, cfg.Metrics.Listen, logger.Named("metrics"))
		if err != nil {
			return nil, err
		}
	}

	transferOpts := cfg.TransferOptions()
	transferOpts.Logger = logger.Named("transfer")

	engine, err := lifecycle.New(lifecycle.Options{
		StoreDir:     cfg.BundleStoreDir,
		IsolationKey: cfg.Identity().Key(),
		FS:           fs,
		Prefs:        store,
		Transfer:     transfer.New(fs, transferOpts),
		Extractor: extract.New(fs, extract.Options{
			RequiredEntry: bundleFileName,
			Logger:        logger.Named("extract"),
		}),
		Verifier: integrity.NewVerifier(fs, integrity.Options{
			PublicKey:         publicKey,
			RequireCredential: cfg.RequireCredential,
			Logger:            logger.Named("integrity"),
		}),
		Logger:            logger.Named("lifecycle"),
		Events:            events,
		BundleFileName:    bundleFileName,
		FallbackBundleURL: cfg.FallbackBundleURL,
		DiskSpacePolicy:   cfg.Policy(),
	})
	if err != nil {
		return nil, err
	}
	h.engine = engine
	h.module = bridge.New(engine, logger.Named("bridge"))
	return h, nil
}

func (h *host) openPreferences(cfg *config.Config, fs *bundlefs.FS) (prefs.Store, error) {
	switch cfg.PreferenceBackend() {
	case config.BackendMemory:
		return prefs.NewMemoryStore(), nil
	case config.BackendRedis:
		store, err := prefs.NewRedisStore(redisURL(cfg.Preferences.RedisAddr))
		if err != nil {
			return nil, err
		}
		h.closers = append(h.closers, store.Close)
		return store, nil
	default:
		path := ""
		if cfg.Preferences != nil {
			path = cfg.Preferences.Path
		}
		if path == "" {
			path = filepath.Join(filepath.Dir(filepath.Clean(cfg.BundleStoreDir)), preferencesFileName)
		}
		return prefs.NewFileStore(fs, path), nil
	}
}

// serveMetrics starts the Prometheus endpoint and returns the engine
// events that feed it. The listener stays open until the host is closed.
func (h *host) serveMetrics(ctx context.Context, listen string, logger hclog.Logger) (*lifecycle.Events, error) {
	reg := prometheus.NewRegistry()
	prom, err := metrics.NewProm(metricsNamespace, reg)
	if err != nil {
		return nil, err
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", listen)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for metrics on %s: %w", listen, err)
	}
	srv := &http.Server{
		Handler:           metrics.Handler(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())

	h.closers = append(h.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		return srv.Shutdown(ctx)
	})
	return prom.Events(nil), nil
}

// Close releases everything the host opened, in reverse order.
func (h *host) Close() error {
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		errs = append(errs, h.closers[i]())
	}
	h.closers = nil
	return errors.Join(errs...)
}

// redisURL accepts either a redis:// URL or a bare host:port.
func redisURL(addr string) string {
	if strings.Contains(addr, "://") {
		return addr
	}
	return "redis://" + addr
}
