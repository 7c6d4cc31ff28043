// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

// Package model holds the plain data types shared across nixdeploy packages.
package model

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"time"
)

// DefaultPort is the SSH port used when the inventory does not name one.
const DefaultPort uint16 = 22

// Host is a deployment target as read from the inventory (e.g. web1 -> 10.0.0.5:22).
// It is immutable once loaded.
type Host struct {
	Name    string
	Address netip.Addr
	Port    uint16
	User    string
}

// Endpoint returns the address:port form used for dialing and as a trust alias.
func (h Host) Endpoint() string {
	return net.JoinHostPort(h.Address.String(), strconv.Itoa(int(h.Port)))
}

// Aliases returns the strings under which the host key may be recorded,
// canonical address first.
func (h Host) Aliases() []string {
	return []string{h.Address.String(), h.Endpoint()}
}

// String returns the user@endpoint representation.
func (h Host) String() string {
	return fmt.Sprintf("%s@%s", h.User, h.Endpoint())
}

// RebuildAction selects the nixos-rebuild subcommand run on the target.
type RebuildAction string

const (
	ActionSwitch RebuildAction = "switch"
	ActionBoot   RebuildAction = "boot"
	ActionTest   RebuildAction = "test"
)

// RebuildActions lists the accepted actions in display order.
var RebuildActions = []RebuildAction{ActionSwitch, ActionBoot, ActionTest}

// ParseRebuildAction validates s against the fixed set of actions.
func ParseRebuildAction(s string) (RebuildAction, error) {
	for _, a := range RebuildActions {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("invalid rebuild action %q (expected switch, boot or test)", s)
}

func (a RebuildAction) String() string { return string(a) }

// UnmarshalText lets config decoding and flag parsing share validation.
func (a *RebuildAction) UnmarshalText(b []byte) error {
	v, err := ParseRebuildAction(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Set implements pflag.Value.
func (a *RebuildAction) Set(s string) error { return a.UnmarshalText([]byte(s)) }

// Type implements pflag.Value.
func (a *RebuildAction) Type() string { return "action" }

// DeploymentStatus is the outcome stored for a host in the history.
type DeploymentStatus string

const (
	StatusSuccess DeploymentStatus = "success"
	StatusFailed  DeploymentStatus = "failed"
	StatusSkipped DeploymentStatus = "skipped"
)

// DeploymentRecord is one row of the deployment history.
type DeploymentRecord struct {
	ID            int
	Host          string
	Endpoint      string
	User          string
	Action        RebuildAction
	Status        DeploymentStatus
	FailedState   string
	Error         string
	ArchiveDigest string
	Output        string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Duration returns how long the deployment took.
func (r DeploymentRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
