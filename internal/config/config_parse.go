// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"

	"github.com/opentofu/hotbundle/internal/lifecycle"
)

// DecodeConfig takes a hcl.Body and decodes it into a Config struct,
// checking the values that gohcl cannot.
func DecodeConfig(body hcl.Body, rng hcl.Range) (*Config, hcl.Diagnostics) {
	cfg := &Config{DeclRange: rng}

	diags := gohcl.DecodeBody(body, nil, cfg)
	if diags.HasErrors() {
		return nil, diags
	}

	if cfg.BundleStoreDir == "" {
		diags = append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Missing bundle store directory",
			Detail:   "bundle_store_dir must not be empty",
			Subject:  rng.Ptr(),
		})
	}

	if cfg.PublicKey != "" && cfg.PublicKeyFile != "" {
		diags = append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Conflicting public key settings",
			Detail:   "Only one of public_key or public_key_file may be specified",
			Subject:  rng.Ptr(),
		})
	}

	if cfg.RequireCredential && cfg.PublicKey == "" && cfg.PublicKeyFile == "" {
		diags = append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagWarning,
			Summary:  "No public key configured",
			Detail:   "require_credential is enabled without a public key, so only hash credentials can be verified",
			Subject:  rng.Ptr(),
		})
	}

	if _, err := lifecycle.ParseDiskSpacePolicy(cfg.DiskSpacePolicy); err != nil {
		diags = append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid disk_space_policy",
			Detail:   err.Error(),
			Subject:  rng.Ptr(),
		})
	}

	if d := cfg.Download; d != nil {
		if d.Retries != nil && *d.Retries < 0 {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid download retries",
				Detail:   fmt.Sprintf("download > retries must not be negative, got %d", *d.Retries),
				Subject:  rng.Ptr(),
			})
		}
		if d.Timeout != "" {
			if timeout, err := time.ParseDuration(d.Timeout); err != nil || timeout <= 0 {
				diags = append(diags, &hcl.Diagnostic{
					Severity: hcl.DiagError,
					Summary:  "Invalid download timeout",
					Detail:   fmt.Sprintf("download > timeout must be a positive duration such as \"90s\", got %q", d.Timeout),
					Subject:  rng.Ptr(),
				})
			}
		}
	}

	if p := cfg.Preferences; p != nil {
		switch p.Backend {
		case "", BackendFile, BackendMemory:
		case BackendRedis:
			if p.RedisAddr == "" {
				diags = append(diags, &hcl.Diagnostic{
					Severity: hcl.DiagError,
					Summary:  "Missing Redis address",
					Detail:   "preferences > redis_addr is required when backend is \"redis\"",
					Subject:  rng.Ptr(),
				})
			}
		default:
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Unsupported preferences backend",
				Detail:   fmt.Sprintf("preferences > backend must be one of %q, %q or %q, got %q", BackendFile, BackendMemory, BackendRedis, p.Backend),
				Subject:  rng.Ptr(),
			})
		}
	}

	if diags.HasErrors() {
		return nil, diags
	}
	return cfg, diags
}
