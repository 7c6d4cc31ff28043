// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

// Command-line entrypoint for nixdeploy.
//
// Usage:
//
//	go run . [flags] [host...]
//	./nixdeploy --all -a boot
//
// See --help for options.
package main

import (
	"os"

	"github.com/toeirei/nixdeploy/internal/logging"
	"github.com/toeirei/nixdeploy/ui/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		logging.Errorf("%v", err)
		os.Exit(1)
	}
}
