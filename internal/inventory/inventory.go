// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

// Package inventory loads the set of deployable hosts, either by evaluating
// the flake's `deploy.hosts` attribute or from a static inventory file.
package inventory

import (
	"context"
	"fmt"
	"net/netip"
	"sort"

	"github.com/toeirei/nixdeploy/internal/model"
)

// ConfigError reports a missing or invalid configuration directory or a
// malformed inventory. It is always raised before any network activity.
type ConfigError struct {
	Source string
	Msg    string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Source, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Source, e.Msg)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// UnknownHostError reports a requested host that is absent from the inventory.
type UnknownHostError struct {
	Name string
}

func (e *UnknownHostError) Error() string {
	return fmt.Sprintf("unknown host %q", e.Name)
}

// Entry is one inventory record as written by the user.
type Entry struct {
	Host string `json:"host" yaml:"host" toml:"host"`
	Port *int   `json:"port,omitempty" yaml:"port,omitempty" toml:"port,omitempty"`
	User string `json:"user,omitempty" yaml:"user,omitempty" toml:"user,omitempty"`
}

// Source produces the raw inventory entries keyed by host name.
type Source interface {
	Entries(ctx context.Context) (map[string]Entry, error)
	String() string
}

// Inventory is the validated, immutable host set.
type Inventory struct {
	hosts map[string]model.Host
}

// Load reads src and validates every entry. Entries without a user get defaultUser.
func Load(ctx context.Context, src Source, defaultUser string) (*Inventory, error) {
	entries, err := src.Entries(ctx)
	if err != nil {
		return nil, err
	}
	return FromEntries(src.String(), entries, defaultUser)
}

// FromEntries validates raw entries. source names the origin in error messages.
func FromEntries(source string, entries map[string]Entry, defaultUser string) (*Inventory, error) {
	inv := &Inventory{hosts: make(map[string]model.Host, len(entries))}
	for name, e := range entries {
		h, err := e.toHost(name, defaultUser)
		if err != nil {
			return nil, &ConfigError{Source: source, Msg: fmt.Sprintf("host %q", name), Err: err}
		}
		inv.hosts[name] = h
	}
	return inv, nil
}

func (e Entry) toHost(name, defaultUser string) (model.Host, error) {
	if name == "" {
		return model.Host{}, fmt.Errorf("empty host name")
	}
	if e.Host == "" {
		return model.Host{}, fmt.Errorf("missing `host` address")
	}
	addr, err := netip.ParseAddr(e.Host)
	if err != nil {
		return model.Host{}, fmt.Errorf("invalid address %q: %w", e.Host, err)
	}
	port := model.DefaultPort
	if e.Port != nil {
		if *e.Port < 1 || *e.Port > 65535 {
			return model.Host{}, fmt.Errorf("port %d out of range", *e.Port)
		}
		port = uint16(*e.Port)
	}
	user := e.User
	if user == "" {
		user = defaultUser
	}
	if user == "" {
		return model.Host{}, fmt.Errorf("no user and no default user")
	}
	return model.Host{Name: name, Address: addr.Unmap(), Port: port, User: user}, nil
}

// Len returns the number of hosts.
func (inv *Inventory) Len() int { return len(inv.hosts) }

// Get returns the host called name.
func (inv *Inventory) Get(name string) (model.Host, bool) {
	h, ok := inv.hosts[name]
	return h, ok
}

// Names returns all host names, sorted.
func (inv *Inventory) Names() []string {
	names := make([]string, 0, len(inv.hosts))
	for n := range inv.hosts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Hosts returns all hosts sorted by name.
func (inv *Inventory) Hosts() []model.Host {
	names := inv.Names()
	out := make([]model.Host, 0, len(names))
	for _, n := range names {
		out = append(out, inv.hosts[n])
	}
	return out
}

// Select resolves the requested names. With all set every host is returned
// sorted by name and names is ignored. Otherwise the request order is kept,
// duplicates are dropped and every name must exist.
func Select(inv *Inventory, names []string, all bool) ([]model.Host, error) {
	if all {
		return inv.Hosts(), nil
	}
	seen := make(map[string]bool, len(names))
	out := make([]model.Host, 0, len(names))
	for _, n := range names {
		h, ok := inv.hosts[n]
		if !ok {
			return nil, &UnknownHostError{Name: n}
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, h)
	}
	return out, nil
}
