// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

// State is a step of a host deployment.
type State int

const (
	StatePending State = iota
	StateConnecting
	StateVerifying
	StateAuthenticating
	StateUploading
	StateRebuilding
	StateCleaningUp
	StateDisconnected
	StateFailed
	StateSkipped
)

var stateNames = [...]string{
	StatePending:        "pending",
	StateConnecting:     "connecting",
	StateVerifying:      "verifying",
	StateAuthenticating: "authenticating",
	StateUploading:      "uploading",
	StateRebuilding:     "rebuilding",
	StateCleaningUp:     "cleaning up",
	StateDisconnected:   "disconnected",
	StateFailed:         "failed",
	StateSkipped:        "skipped",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}
