// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/opentofu/hotbundle/internal/bridge"
)

// UpdateCommand is a Command implementation that downloads and stages a
// bundle, or resets to the built-in bundle when no URL is given.
type UpdateCommand struct {
	Meta
}

func (c *UpdateCommand) Help() string {
	return strings.TrimSpace(updateCommandHelp)
}

func (c *UpdateCommand) Synopsis() string {
	return "Download and stage a bundle"
}

func (c *UpdateCommand) Run(args []string) int {
	cmdFlags := c.Meta.defaultFlagSet("update")
	var fileHash string
	var quiet bool
	cmdFlags.StringVar(&fileHash, "hash", "", "archive digest or sig:<base64> signature")
	cmdFlags.BoolVar(&quiet, "quiet", false, "do not report progress")
	if !c.parseFlags(cmdFlags, args, c.Help()) {
		return 1
	}

	args = cmdFlags.Args()
	if len(args) < 1 || len(args) > 2 {
		c.Ui.Error("The update command expects a bundle id and an optional archive URL.\n")
		c.Ui.Error(c.Help())
		return 1
	}
	params := bridge.UpdateParams{BundleID: args[0], FileHash: fileHash}
	if len(args) == 2 {
		params.FileURL = args[1]
	}

	h := c.openHost()
	if h == nil {
		return 1
	}
	defer func() {
		if err := h.Close(); err != nil {
			c.Logger.Warn("failed to release resources", "error", err)
		}
	}()

	var onProgress func(float64)
	if !quiet && params.FileURL != "" {
		onProgress = c.progressReporter()
	}

	if err := h.module.UpdateBundle(c.context(), params, onProgress); err != nil {
		var bErr *bridge.Error
		if errors.As(err, &bErr) {
			c.Ui.Error(fmt.Sprintf("Error: %s (%s)", bErr.Message, bErr.Code))
		} else {
			c.Ui.Error(fmt.Sprintf("Error: %s", err))
		}
		return 1
	}

	if params.FileURL == "" {
		c.Ui.Output("Reset to the built-in bundle.")
		return 0
	}
	c.Ui.Output(fmt.Sprintf("Bundle %s is staged and will be used on the next launch.", params.BundleID))
	return 0
}

// progressReporter prints a line each time another tenth of the install
// completes.
func (c *UpdateCommand) progressReporter() func(float64) {
	var mu sync.Mutex
	last := -1
	return func(p float64) {
		step := int(p * 10)
		mu.Lock()
		defer mu.Unlock()
		if step <= last {
			return
		}
		last = step
		c.Ui.Info(fmt.Sprintf("Progress: %d%%", step*10))
	}
}

const updateCommandHelp = `
Usage: hotbundle update [options] BUNDLE_ID [URL]

  Downloads the bundle archive at URL, checks it and stages it as
  BUNDLE_ID. The staged bundle is used on the next launch and becomes
  stable once that launch reports it is ready.

  Without URL, the built-in bundle is selected again.

Options:

  -config=path   Configuration file. Defaults to $HOTBUNDLE_CONFIG, or
                 hotbundle.hcl.

  -hash=value    Credential for the archive: a hex SHA-256 or SHA-512
                 digest, or sig:<base64> for a detached signature.

  -quiet         Do not report progress.
`
