// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

// Package trust decides whether a host key presented during the SSH handshake
// matches what the operator previously recorded in a known_hosts style store.
package trust

import (
	"bytes"

	"golang.org/x/crypto/ssh"
)

// Verdict is the outcome of checking a presented key against the store.
type Verdict int

const (
	NotFound Verdict = iota
	Match
	Mismatch
	CheckFailure
)

func (v Verdict) String() string {
	switch v {
	case Match:
		return "match"
	case Mismatch:
		return "mismatch"
	case NotFound:
		return "not found"
	case CheckFailure:
		return "check failure"
	default:
		return "unknown"
	}
}

// Marker is the optional @-prefixed annotation of a known_hosts line, without the @.
type Marker string

const (
	MarkerNone          Marker = ""
	MarkerRevoked       Marker = "revoked"
	MarkerCertAuthority Marker = "cert-authority"
)

// Record is one key recorded for one or more host patterns.
type Record struct {
	Marker   Marker
	Patterns []string
	Key      ssh.PublicKey
}

// Store answers which records apply to a single alias.
type Store interface {
	Lookup(alias string) ([]Record, error)
}

// Verify checks presented against the records of every alias, in order.
// A match on any alias wins unless an earlier alias already produced a
// mismatch; a mismatch or a store error ends the loop immediately.
func Verify(store Store, aliases []string, presented ssh.PublicKey) Verdict {
	want := presented.Marshal()
	for _, alias := range aliases {
		records, err := store.Lookup(alias)
		if err != nil {
			return CheckFailure
		}
		if v := check(records, presented.Type(), want); v != NotFound {
			return v
		}
	}
	return NotFound
}

// check evaluates the records of a single alias. Revoked keys are checked
// first so that a revocation cannot be shadowed by a plain entry.
func check(records []Record, keyType string, want []byte) Verdict {
	for _, r := range records {
		if r.Marker == MarkerRevoked && bytes.Equal(r.Key.Marshal(), want) {
			return Mismatch
		}
	}
	mismatch := false
	for _, r := range records {
		if r.Marker == MarkerRevoked {
			continue
		}
		if bytes.Equal(r.Key.Marshal(), want) {
			return Match
		}
		if r.Key.Type() == keyType {
			mismatch = true
		}
	}
	if mismatch {
		return Mismatch
	}
	return NotFound
}
