// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"encoding/json"
	"fmt"
	"strings"
)

// URLCommand is a Command implementation that prints the bundle the app
// should load.
type URLCommand struct {
	Meta
}

func (c *URLCommand) Help() string {
	return strings.TrimSpace(`
Usage: hotbundle url [options]

  Prints the location of the bundle to load on this launch.

Options:

  -config=path   Configuration file.
`)
}

func (c *URLCommand) Synopsis() string {
	return "Print the bundle to load"
}

func (c *URLCommand) Run(args []string) int {
	if !c.parseFlags(c.Meta.defaultFlagSet("url"), args, c.Help()) {
		return 1
	}
	h := c.openHost()
	if h == nil {
		return 1
	}
	defer h.Close()

	c.Ui.Output(h.module.GetBundleURL())
	return 0
}

// BaseURLCommand is a Command implementation that prints the directory of
// the active bundle.
type BaseURLCommand struct {
	Meta
}

func (c *BaseURLCommand) Help() string {
	return strings.TrimSpace(`
Usage: hotbundle base-url [options]

  Prints the file URL of the directory holding the active bundle, or
  nothing when the built-in bundle is in use.

Options:

  -config=path   Configuration file.
`)
}

func (c *BaseURLCommand) Synopsis() string {
	return "Print the active bundle's directory"
}

func (c *BaseURLCommand) Run(args []string) int {
	if !c.parseFlags(c.Meta.defaultFlagSet("base-url"), args, c.Help()) {
		return 1
	}
	h := c.openHost()
	if h == nil {
		return 1
	}
	defer h.Close()

	if base := h.module.GetBaseURL(); base != "" {
		c.Ui.Output(base)
	}
	return 0
}

// ReadyCommand is a Command implementation that reports a completed
// launch.
type ReadyCommand struct {
	Meta
}

func (c *ReadyCommand) Help() string {
	return strings.TrimSpace(`
Usage: hotbundle ready [options] [BUNDLE_ID]

  Reports that the app launched with BUNDLE_ID and is ready. A staged
  bundle is promoted when it is the one that launched. Otherwise the
  staged bundle is left alone; it is rolled back only if a later launch
  finds it was tried and never confirmed. Prints the result as JSON.

Options:

  -config=path   Configuration file.
`)
}

func (c *ReadyCommand) Synopsis() string {
	return "Report that the app launched successfully"
}

func (c *ReadyCommand) Run(args []string) int {
	cmdFlags := c.Meta.defaultFlagSet("ready")
	if !c.parseFlags(cmdFlags, args, c.Help()) {
		return 1
	}
	args = cmdFlags.Args()
	if len(args) > 1 {
		c.Ui.Error("The ready command expects at most one argument: the bundle id that launched.\n")
		c.Ui.Error(c.Help())
		return 1
	}
	bundleID := ""
	if len(args) == 1 {
		bundleID = args[0]
	}

	h := c.openHost()
	if h == nil {
		return 1
	}
	defer h.Close()

	out, err := json.Marshal(h.module.NotifyAppReady(bundleID))
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Failed to encode the result: %s", err))
		return 1
	}
	c.Ui.Output(string(out))
	return 0
}
