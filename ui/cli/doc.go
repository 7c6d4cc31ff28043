// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.
//
// Package cli implements the nixdeploy command line using Cobra. It loads
// and resolves configuration, then hands off to the inventory, archive,
// trust and deploy packages. Commands stay thin: anything worth testing
// without a terminal lives in those packages.
package cli
