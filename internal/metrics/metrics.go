// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

// Package metrics exports bundle lifecycle events as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opentofu/hotbundle/internal/bridge"
	"github.com/opentofu/hotbundle/internal/lifecycle"
)

// Install results used as the "result" label.
const (
	ResultInstalled = "installed"
	ResultReused    = "reused"
	ResultRejected  = "rejected"
	ResultFailed    = "failed"
)

// Prom records lifecycle events in Prometheus collectors.
type Prom struct {
	installs        *prometheus.CounterVec
	failures        *prometheus.CounterVec
	promotions      prometheus.Counter
	rollbacks       *prometheus.CounterVec
	resets          prometheus.Counter
	gcRemovals      prometheus.Counter
	isolationWipes  prometheus.Counter
	bundleBytes     prometheus.Histogram
	installDuration prometheus.Histogram
}

// NewProm creates the collectors and registers them with reg.
func NewProm(namespace string, reg prometheus.Registerer) (*Prom, error) {
	p := &Prom{
		installs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bundle_installs_total",
			Help:      "Bundle install requests by result",
		}, []string{"result"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bundle_install_failures_total",
			Help:      "Failed bundle installs by error code",
		}, []string{"code"}),
		promotions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bundle_promotions_total",
			Help:      "Staged bundles promoted to stable",
		}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bundle_rollbacks_total",
			Help:      "Staged bundles rolled back by reason",
		}, []string{"reason"}),
		resets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bundle_resets_total",
			Help:      "Resets to the shipped bundle",
		}),
		gcRemovals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bundle_gc_removed_total",
			Help:      "Directories removed by bundle store garbage collection",
		}),
		isolationWipes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bundle_isolation_wiped_total",
			Help:      "Bundles removed because the app identity changed",
		}),
		bundleBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bundle_extracted_bytes",
			Help:      "Extracted size of installed bundles",
			Buckets:   prometheus.ExponentialBuckets(64*1024, 4, 8),
		}),
		installDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bundle_install_duration_seconds",
			Help:      "Time from starting an install to staging the bundle",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
	}

	for _, c := range []prometheus.Collector{
		p.installs, p.failures, p.promotions, p.rollbacks, p.resets,
		p.gcRemovals, p.isolationWipes, p.bundleBytes, p.installDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Events returns lifecycle callbacks that update p. chain, if not nil, is
// called after each of them.
func (p *Prom) Events(chain *lifecycle.Events) *lifecycle.Events {
	next := lifecycle.Events{}
	if chain != nil {
		next = *chain
	}
	return &lifecycle.Events{
		UpdateBegin: next.UpdateBegin,
		UpdateRejected: func(id string) {
			p.installs.WithLabelValues(ResultRejected).Inc()
			if next.UpdateRejected != nil {
				next.UpdateRejected(id)
			}
		},
		UpdateReused: func(id string) {
			p.installs.WithLabelValues(ResultReused).Inc()
			if next.UpdateReused != nil {
				next.UpdateReused(id)
			}
		},
		UpdateSuccess: func(id string, bundleBytes int64, elapsed time.Duration) {
			p.installs.WithLabelValues(ResultInstalled).Inc()
			p.bundleBytes.Observe(float64(bundleBytes))
			p.installDuration.Observe(elapsed.Seconds())
			if next.UpdateSuccess != nil {
				next.UpdateSuccess(id, bundleBytes, elapsed)
			}
		},
		UpdateFailure: func(id string, err error) {
			p.installs.WithLabelValues(ResultFailed).Inc()
			p.failures.WithLabelValues(string(bridge.ErrorCode(err))).Inc()
			if next.UpdateFailure != nil {
				next.UpdateFailure(id, err)
			}
		},
		Reset: func(id string) {
			p.resets.Inc()
			if next.Reset != nil {
				next.Reset(id)
			}
		},
		Promoted: func(id string) {
			p.promotions.Inc()
			if next.Promoted != nil {
				next.Promoted(id)
			}
		},
		RolledBack: func(id, reason string) {
			p.rollbacks.WithLabelValues(reason).Inc()
			if next.RolledBack != nil {
				next.RolledBack(id, reason)
			}
		},
		GarbageCollected: func(removed []string) {
			p.gcRemovals.Add(float64(len(removed)))
			if next.GarbageCollected != nil {
				next.GarbageCollected(removed)
			}
		},
		IsolationWipe: func(removed int) {
			p.isolationWipes.Add(float64(removed))
			if next.IsolationWipe != nil {
				next.IsolationWipe(removed)
			}
		},
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
