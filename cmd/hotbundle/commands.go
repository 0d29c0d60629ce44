// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"github.com/mitchellh/cli"
)

func initCommands(meta Meta) map[string]cli.CommandFactory {
	return map[string]cli.CommandFactory{
		"update": func() (cli.Command, error) {
			return &UpdateCommand{Meta: meta}, nil
		},
		"url": func() (cli.Command, error) {
			return &URLCommand{Meta: meta}, nil
		},
		"base-url": func() (cli.Command, error) {
			return &BaseURLCommand{Meta: meta}, nil
		},
		"ready": func() (cli.Command, error) {
			return &ReadyCommand{Meta: meta}, nil
		},
		"crash-history": func() (cli.Command, error) {
			return &CrashHistoryCommand{Meta: meta}, nil
		},
		"clear-crash-history": func() (cli.Command, error) {
			return &ClearCrashHistoryCommand{Meta: meta}, nil
		},
		"status": func() (cli.Command, error) {
			return &StatusCommand{Meta: meta}, nil
		},
		"version": func() (cli.Command, error) {
			return &VersionCommand{Meta: meta}, nil
		},
	}
}
