// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"strings"
)

// CrashHistoryCommand is a Command implementation that lists the bundles
// that were rolled back.
type CrashHistoryCommand struct {
	Meta
}

func (c *CrashHistoryCommand) Help() string {
	return strings.TrimSpace(`
Usage: hotbundle crash-history [options]

  Lists the ids of bundles that failed to launch, one per line. Updates to
  these ids are refused until the history is cleared.

Options:

  -config=path   Configuration file.
`)
}

func (c *CrashHistoryCommand) Synopsis() string {
	return "List bundles that failed to launch"
}

func (c *CrashHistoryCommand) Run(args []string) int {
	if !c.parseFlags(c.Meta.defaultFlagSet("crash-history"), args, c.Help()) {
		return 1
	}
	h := c.openHost()
	if h == nil {
		return 1
	}
	defer h.Close()

	for _, id := range h.module.GetCrashHistory() {
		c.Ui.Output(id)
	}
	return 0
}

// ClearCrashHistoryCommand is a Command implementation that forgets every
// crashed bundle.
type ClearCrashHistoryCommand struct {
	Meta
}

func (c *ClearCrashHistoryCommand) Help() string {
	return strings.TrimSpace(`
Usage: hotbundle clear-crash-history [options]

  Forgets every bundle in the crash history so that it can be installed
  again.

Options:

  -config=path   Configuration file.
`)
}

func (c *ClearCrashHistoryCommand) Synopsis() string {
	return "Forget bundles that failed to launch"
}

func (c *ClearCrashHistoryCommand) Run(args []string) int {
	if !c.parseFlags(c.Meta.defaultFlagSet("clear-crash-history"), args, c.Help()) {
		return 1
	}
	h := c.openHost()
	if h == nil {
		return 1
	}
	defer h.Close()

	if !h.module.ClearCrashHistory() {
		c.Ui.Error("Failed to clear the crash history.")
		return 1
	}
	c.Ui.Output("Crash history cleared.")
	return 0
}
