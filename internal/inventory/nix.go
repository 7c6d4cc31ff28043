// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/toeirei/nixdeploy/internal/logging"
)

// HostsAttribute is the flake output evaluated for the inventory.
const HostsAttribute = "deploy.hosts"

// nixEval runs `nix eval --json <ref>` and returns stdout. Replaced in tests.
var nixEval = func(ctx context.Context, ref string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "nix", "eval", "--json", ref)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

// NixSource evaluates `<Dir>#deploy.hosts` with the nix CLI.
type NixSource struct {
	Dir string
}

func (s NixSource) String() string { return s.ref() }

func (s NixSource) ref() string { return s.Dir + "#" + HostsAttribute }

// CheckFlake verifies that dir is a directory containing flake.nix.
func CheckFlake(dir string) error {
	fi, err := os.Stat(dir)
	if err != nil {
		return &ConfigError{Source: dir, Msg: "configuration directory not readable", Err: err}
	}
	if !fi.IsDir() {
		return &ConfigError{Source: dir, Msg: "not a directory"}
	}
	if _, err := os.Stat(filepath.Join(dir, "flake.nix")); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &ConfigError{Source: dir, Msg: "no `flake.nix` found in this directory"}
		}
		return &ConfigError{Source: dir, Msg: "cannot stat flake.nix", Err: err}
	}
	return nil
}

// Entries implements Source.
func (s NixSource) Entries(ctx context.Context) (map[string]Entry, error) {
	if err := CheckFlake(s.Dir); err != nil {
		return nil, err
	}
	logging.Debugf("inventory: nix eval --json %s", s.ref())
	out, err := nixEval(ctx, s.ref())
	if err != nil {
		return nil, &ConfigError{Source: s.ref(), Msg: "failed to get hosts", Err: err}
	}
	entries, err := decodeJSONHosts(out)
	if err != nil {
		return nil, &ConfigError{Source: s.ref(), Msg: "malformed host inventory", Err: err}
	}
	return entries, nil
}

func decodeJSONHosts(data []byte) (map[string]Entry, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var entries map[string]Entry
	if err := dec.Decode(&entries); err != nil {
		return nil, err
	}
	if entries == nil {
		return nil, errors.New("inventory is not an attribute set")
	}
	return entries, nil
}
