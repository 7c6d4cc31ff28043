//go:build !windows
// +build !windows

// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package testutil

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/ssh/agent"
)

// ServeAgent exposes ag on a unix socket and points SSH_AUTH_SOCK at it for
// the duration of the test.
func ServeAgent(t *testing.T, ag agent.Agent) string {
	t.Helper()
	// Keep the path short; unix socket paths are limited to ~100 bytes.
	dir, err := os.MkdirTemp("", "nd-agent")
	if err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	sock := filepath.Join(dir, "agent.sock")
	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("listen %s: %v", sock, err)
	}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				_ = agent.ServeAgent(ag, c)
			}()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		_ = os.RemoveAll(dir)
	})
	t.Setenv("SSH_AUTH_SOCK", sock)
	return sock
}
