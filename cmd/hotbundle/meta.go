// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/hcl/v2"
	"github.com/mitchellh/cli"
	"github.com/spf13/afero"

	"github.com/opentofu/hotbundle/internal/config"
)

// Meta holds what every command shares.
type Meta struct {
	Ui     cli.Ui
	Logger hclog.Logger
	Ctx    context.Context

	// ConfigPath is the configuration file used when -config is not given.
	ConfigPath string

	// FS is where the configuration and public key files are read from.
	// Nil means the operating system file system.
	FS afero.Fs

	configPath string
}

// defaultFlagSet creates a flag set for a command with the options that
// every command accepts.
func (m *Meta) defaultFlagSet(name string) *flag.FlagSet {
	f := flag.NewFlagSet(name, flag.ContinueOnError)
	f.SetOutput(io.Discard)
	f.StringVar(&m.configPath, "config", m.ConfigPath, "path to the configuration file")
	return f
}

func (m *Meta) context() context.Context {
	if m.Ctx == nil {
		return context.Background()
	}
	return m.Ctx
}

func (m *Meta) fs() afero.Fs {
	if m.FS == nil {
		return afero.NewOsFs()
	}
	return m.FS
}

// openHost loads the configuration and starts an engine for it. It
// reports any problem to the UI and returns nil in that case.
func (m *Meta) openHost() *host {
	path := m.configPath
	if path == "" {
		path = m.ConfigPath
	}
	cfg, diags := config.LoadConfigFile(m.fs(), path)
	m.showDiagnostics(diags)
	if diags.HasErrors() {
		return nil
	}

	h, err := newHost(m.context(), cfg, m.fs(), m.Logger)
	if err != nil {
		m.Ui.Error(fmt.Sprintf("Failed to start the bundle engine: %s", err))
		return nil
	}
	return h
}

func (m *Meta) showDiagnostics(diags hcl.Diagnostics) {
	if len(diags) == 0 {
		return
	}
	var buf strings.Builder
	wr := hcl.NewDiagnosticTextWriter(&buf, nil, 78, false)
	if err := wr.WriteDiagnostics(diags); err != nil {
		m.Ui.Error(diags.Error())
		return
	}
	if diags.HasErrors() {
		m.Ui.Error(strings.TrimSpace(buf.String()))
	} else {
		m.Ui.Warn(strings.TrimSpace(buf.String()))
	}
}

// parseFlags parses args with f and reports failures the way every
// command does.
func (m *Meta) parseFlags(f *flag.FlagSet, args []string, help string) bool {
	f.Usage = func() { m.Ui.Error(help) }
	if err := f.Parse(args); err != nil {
		m.Ui.Error(fmt.Sprintf("Error parsing command-line flags: %s\n", err))
		f.Usage()
		return false
	}
	return true
}
