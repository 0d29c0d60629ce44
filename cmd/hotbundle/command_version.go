// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/opentofu/hotbundle/version"
)

// VersionCommand is a Command implementation that prints the version.
type VersionCommand struct {
	Meta
}

func (c *VersionCommand) Help() string {
	return strings.TrimSpace(`
Usage: hotbundle version

  Displays the version of hotbundle and the libraries that handle bundle
  downloads.
`)
}

func (c *VersionCommand) Synopsis() string {
	return "Show the current hotbundle version"
}

func (c *VersionCommand) Run(args []string) int {
	c.Ui.Output(fmt.Sprintf("hotbundle v%s", version.String()))
	c.Ui.Output(fmt.Sprintf("on %s_%s", runtime.GOOS, runtime.GOARCH))
	for _, dep := range version.InterestingDependencies() {
		c.Ui.Output(fmt.Sprintf("+ %s %s", dep.Path, dep.Version))
	}
	return 0
}
