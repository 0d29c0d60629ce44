// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/opentofu/hotbundle/internal/tracing"
	"github.com/opentofu/hotbundle/version"
)

const (
	// EnvLog selects the log level written to stderr. Logging is off when
	// it is unset.
	EnvLog = "HOTBUNDLE_LOG"

	// EnvConfig names the configuration file used when -config is not
	// given.
	EnvConfig = "HOTBUNDLE_CONFIG"

	defaultConfigPath = "hotbundle.hcl"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	ui := &cli.BasicUi{
		Reader:      os.Stdin,
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
	}

	ctx, err := tracing.OpenTelemetryInit(context.Background())
	if err != nil {
		ui.Error(fmt.Sprintf("Could not initialize telemetry: %s", err))
		ui.Error(fmt.Sprintf("Unset environment variable %s if you don't intend to collect telemetry from hotbundle.", tracing.OTELExporterEnvVar))
		return 1
	}
	defer tracing.ForceFlush(5 * time.Second)

	ctx, span := tracing.Tracer().Start(ctx, "hotbundle")
	defer span.End()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	logger := newLogger(os.Getenv(EnvLog))
	logger.Info("hotbundle version", "version", version.String(), "go", runtime.Version())
	if logger.IsDebug() {
		for _, depMod := range version.InterestingDependencies() {
			logger.Debug("using dependency", "path", depMod.Path, "version", depMod.Version)
		}
	}

	args := os.Args[1:]
	// We shortcut "--version" and "-v" to just show the version
	for _, arg := range args {
		if arg == "-v" || arg == "-version" || arg == "--version" {
			args = []string{"version"}
			break
		}
	}

	meta := Meta{
		Ui:         ui,
		Logger:     logger,
		Ctx:        ctx,
		ConfigPath: configPathFromEnv(),
	}
	runner := &cli.CLI{
		Name:       "hotbundle",
		Version:    version.String(),
		Args:       args,
		Commands:   initCommands(meta),
		HelpFunc:   cli.BasicHelpFunc("hotbundle"),
		HelpWriter: os.Stdout,
	}

	exitCode, err := runner.Run()
	if err != nil {
		ui.Error(fmt.Sprintf("Error executing CLI: %s", err))
		return 1
	}
	return exitCode
}

// newLogger returns the root logger for the level named in level, or a
// logger that discards everything when level is empty or unknown.
func newLogger(level string) hclog.Logger {
	lvl := hclog.LevelFromString(strings.TrimSpace(level))
	if lvl == hclog.NoLevel {
		return hclog.NewNullLogger()
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   "hotbundle",
		Level:  lvl,
		Output: os.Stderr,
	})
}

func configPathFromEnv() string {
	if path := os.Getenv(EnvConfig); path != "" {
		return path
	}
	return defaultConfigPath
}
