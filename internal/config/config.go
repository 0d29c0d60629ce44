// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

// Package config describes the configuration file used to host a bundle
// lifecycle engine.
package config

import (
	"time"

	"github.com/hashicorp/hcl/v2"

	"github.com/opentofu/hotbundle/internal/isolation"
	"github.com/opentofu/hotbundle/internal/lifecycle"
	"github.com/opentofu/hotbundle/internal/transfer"
)

// Config is the top-level configuration. The fields match the HCL
// structure directly.
type Config struct {
	BundleStoreDir    string `hcl:"bundle_store_dir"`
	BundleFileName    string `hcl:"bundle_file_name,optional"`
	FallbackBundleURL string `hcl:"fallback_bundle_url,optional"`

	AppVersion      string `hcl:"app_version,optional"`
	FingerprintHash string `hcl:"fingerprint_hash,optional"`
	Channel         string `hcl:"channel,optional"`

	PublicKey         string `hcl:"public_key,optional"`
	PublicKeyFile     string `hcl:"public_key_file,optional"`
	RequireCredential bool   `hcl:"require_credential,optional"`

	DiskSpacePolicy string `hcl:"disk_space_policy,optional"`

	Download    *DownloadConfig    `hcl:"download,block"`
	Preferences *PreferencesConfig `hcl:"preferences,block"`
	Metrics     *MetricsConfig     `hcl:"metrics,block"`

	DeclRange hcl.Range
}

// DownloadConfig describes the download block.
type DownloadConfig struct {
	Retries *int   `hcl:"retries,optional"`
	Timeout string `hcl:"timeout,optional"`
}

// Preference backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// PreferencesConfig describes the preferences block, which selects where
// the bundle preference is stored.
type PreferencesConfig struct {
	Backend   string `hcl:"backend,optional"`
	Path      string `hcl:"path,optional"`
	RedisAddr string `hcl:"redis_addr,optional"`
}

// MetricsConfig describes the metrics block.
type MetricsConfig struct {
	Listen string `hcl:"listen"`
}

// Identity returns the app identity used to partition the bundle store.
func (c *Config) Identity() isolation.Identity {
	return isolation.Identity{
		AppVersion:  c.AppVersion,
		Fingerprint: c.FingerprintHash,
		Channel:     c.Channel,
	}
}

// Policy returns the configured disk space policy. The value was checked
// when the configuration was decoded.
func (c *Config) Policy() lifecycle.DiskSpacePolicy {
	p, _ := lifecycle.ParseDiskSpacePolicy(c.DiskSpacePolicy)
	return p
}

// TransferOptions returns the download settings, leaving unset values to
// the transfer package's defaults.
func (c *Config) TransferOptions() transfer.Options {
	ret := transfer.Options{Retries: -1}
	if c.Download == nil {
		return ret
	}
	if c.Download.Retries != nil {
		ret.Retries = *c.Download.Retries
	}
	if c.Download.Timeout != "" {
		// Checked when decoded.
		ret.Timeout, _ = time.ParseDuration(c.Download.Timeout)
	}
	return ret
}

// PreferenceBackend returns the configured backend name, defaulting to
// the file backend.
func (c *Config) PreferenceBackend() string {
	if c.Preferences == nil || c.Preferences.Backend == "" {
		return BackendFile
	}
	return c.Preferences.Backend
}
