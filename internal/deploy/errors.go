// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"errors"
	"fmt"

	"github.com/toeirei/nixdeploy/internal/model"
)

var (
	// ErrHostKeyRejected is returned to the SSH layer when the presented key
	// is not trusted; the real reason is kept on the job.
	ErrHostKeyRejected = errors.New("host key rejected")
	// ErrSomeFailed is returned by Run in continue mode when at least one host failed.
	ErrSomeFailed = errors.New("one or more hosts failed")

	// errNotTrusted marks a host skipped because its key is unknown.
	errNotTrusted = errors.New("host not found in known hosts")
)

// TrustMismatchError means the host presented a key that contradicts the
// trust store. It always aborts the run.
type TrustMismatchError struct {
	Host        string
	Fingerprint string
}

func (e *TrustMismatchError) Error() string {
	return fmt.Sprintf("known hosts mismatch for %s (presented %s)!!!", e.Host, e.Fingerprint)
}

// TrustCheckError means the trust store could not be consulted.
type TrustCheckError struct {
	Host string
	Err  error
}

func (e *TrustCheckError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("couldn't check known hosts for %s: %v", e.Host, e.Err)
	}
	return fmt.Sprintf("couldn't check known hosts for %s", e.Host)
}

func (e *TrustCheckError) Unwrap() error { return e.Err }

// AuthenticationError means no agent identity was accepted for the user.
type AuthenticationError struct {
	User string
	Err  error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication as %q failed: %v", e.User, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// TransportError wraps connection and handshake failures.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HostError attaches the host and the state it failed in.
type HostError struct {
	Host  model.Host
	State State
	Err   error
}

func (e *HostError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Host.Name, e.State, e.Err)
}

func (e *HostError) Unwrap() error { return e.Err }

// IsFatal reports whether err must abort the whole run regardless of the
// error policy.
func IsFatal(err error) bool {
	var mm *TrustMismatchError
	var tc *TrustCheckError
	return errors.As(err, &mm) || errors.As(err, &tc)
}
