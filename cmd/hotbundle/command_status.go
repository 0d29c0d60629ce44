// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"strings"
	"time"
)

// StatusCommand is a Command implementation that describes the bundle
// store.
type StatusCommand struct {
	Meta
}

func (c *StatusCommand) Help() string {
	return strings.TrimSpace(`
Usage: hotbundle status [options]

  Shows the lifecycle state of the bundle store and the bundles it holds.

Options:

  -config=path   Configuration file.
`)
}

func (c *StatusCommand) Synopsis() string {
	return "Show the state of the bundle store"
}

func (c *StatusCommand) Run(args []string) int {
	if !c.parseFlags(c.Meta.defaultFlagSet("status"), args, c.Help()) {
		return 1
	}
	h := c.openHost()
	if h == nil {
		return 1
	}
	defer h.Close()

	snap, err := h.engine.Status()
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Failed to read the bundle store: %s", err))
		return 1
	}

	c.Ui.Output(fmt.Sprintf("State:     %s", snap.State))
	if m := snap.Metadata; m != nil {
		c.Ui.Output(fmt.Sprintf("Stable:    %s", orNone(m.StableBundleID)))
		c.Ui.Output(fmt.Sprintf("Staging:   %s", orNone(m.StagingBundleID)))
		if m.VerificationAttemptedAt != 0 {
			at := time.UnixMilli(m.VerificationAttemptedAt).UTC().Format(time.RFC3339)
			c.Ui.Output(fmt.Sprintf("Launched:  %s", at))
		}
	}
	c.Ui.Output(fmt.Sprintf("Installed: %s", orNone(strings.Join(snap.Installed, ", "))))
	return 0
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
