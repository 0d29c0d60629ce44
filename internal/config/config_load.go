// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/hashicorp/hcl/v2/json"
	"github.com/spf13/afero"
)

// LoadConfigFromString loads a configuration from a string, in the JSON
// syntax if it starts with "{" and the native syntax otherwise. The
// sourceName is used to identify the source of the configuration in error
// messages.
func LoadConfigFromString(sourceName string, rawInput string) (*Config, hcl.Diagnostics) {
	var diags hcl.Diagnostics
	var file *hcl.File

	if strings.HasPrefix(strings.TrimSpace(rawInput), "{") {
		file, diags = json.Parse([]byte(rawInput), sourceName)
	} else {
		file, diags = hclsyntax.ParseConfig([]byte(rawInput), sourceName, hcl.Pos{Byte: 0, Line: 1, Column: 1})
	}
	if diags.HasErrors() {
		return nil, diags
	}

	cfg, cfgDiags := DecodeConfig(file.Body, hcl.Range{Filename: sourceName})
	diags = append(diags, cfgDiags...)

	return cfg, diags
}

// LoadConfigFile loads the configuration file at path.
func LoadConfigFile(fs afero.Fs, path string) (*Config, hcl.Diagnostics) {
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, hcl.Diagnostics{{
			Severity: hcl.DiagError,
			Summary:  "Failed to read configuration",
			Detail:   fmt.Sprintf("Cannot read %s: %s", path, err),
		}}
	}
	return LoadConfigFromString(path, string(raw))
}

// ResolvePublicKey returns the public key configured inline or in
// public_key_file, or the empty string if neither is set.
func (c *Config) ResolvePublicKey(fs afero.Fs) (string, error) {
	if c.PublicKeyFile == "" {
		return c.PublicKey, nil
	}
	raw, err := afero.ReadFile(fs, c.PublicKeyFile)
	if err != nil {
		return "", fmt.Errorf("failed to read public key file: %w", err)
	}
	return string(raw), nil
}
