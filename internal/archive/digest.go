// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package archive

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Digest returns the hex BLAKE3-256 digest of an encoded archive. It is
// logged and stored with each deployment so runs can be correlated.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ShortDigest returns the first 12 hex characters of Digest.
func ShortDigest(data []byte) string {
	return Digest(data)[:12]
}
