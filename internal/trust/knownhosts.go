// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package trust

import (
	"bufio"
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ErrCorrupt is returned by Lookup when the store contained lines that could
// not be parsed. A half-read trust store must never be treated as "unknown".
var ErrCorrupt = errors.New("known_hosts store is corrupt")

// KnownHosts is a read-only snapshot of an OpenSSH known_hosts file.
type KnownHosts struct {
	path    string
	records []Record
	errs    []error
}

// DefaultPath returns ~/.ssh/known_hosts.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".ssh", "known_hosts"), nil
}

// Load reads path once. A missing file yields an empty snapshot; any other
// read error is returned.
func Load(path string) (*KnownHosts, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &KnownHosts{path: path}, nil
		}
		return nil, fmt.Errorf("failed to open known_hosts %s: %w", path, err)
	}
	defer f.Close()

	kh, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read known_hosts %s: %w", path, err)
	}
	kh.path = path
	return kh, nil
}

// Parse builds a snapshot from known_hosts content. Malformed lines do not
// fail the parse; they are kept and reported by every later Lookup.
func Parse(r io.Reader) (*KnownHosts, error) {
	kh := &KnownHosts{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		marker, hosts, key, _, _, err := ssh.ParseKnownHosts(line)
		if err != nil {
			kh.errs = append(kh.errs, fmt.Errorf("line %d: %w", lineNo, err))
			continue
		}
		if Marker(marker) == MarkerCertAuthority {
			continue
		}
		kh.records = append(kh.records, Record{Marker: Marker(marker), Patterns: hosts, Key: key})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return kh, nil
}

// Path returns the file the snapshot was loaded from, if any.
func (k *KnownHosts) Path() string { return k.path }

// Len returns the number of usable records.
func (k *KnownHosts) Len() int { return len(k.records) }

// Lookup returns every record whose host patterns accept alias.
func (k *KnownHosts) Lookup(alias string) ([]Record, error) {
	if len(k.errs) > 0 {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, k.path, errors.Join(k.errs...))
	}
	candidates := []string{alias}
	if n := knownhosts.Normalize(alias); n != alias {
		candidates = append(candidates, n)
	}
	var out []Record
	for _, r := range k.records {
		if matchesAny(r.Patterns, candidates) {
			out = append(out, r)
		}
	}
	return out, nil
}

func matchesAny(patterns, candidates []string) bool {
	for _, c := range candidates {
		if matchPatterns(patterns, c) {
			return true
		}
	}
	return false
}

// matchPatterns applies the OpenSSH pattern-list rules: a negated pattern
// that matches rejects the host outright.
func matchPatterns(patterns []string, host string) bool {
	matched := false
	for _, p := range patterns {
		negate := strings.HasPrefix(p, "!")
		if negate {
			p = p[1:]
		}
		var ok bool
		if strings.HasPrefix(p, "|1|") {
			ok = matchHashed(p, host)
		} else {
			ok = wildcardMatch(p, host)
		}
		if ok && negate {
			return false
		}
		if ok {
			matched = true
		}
	}
	return matched
}

// matchHashed checks a HashKnownHosts entry of the form |1|salt|hash.
func matchHashed(entry, host string) bool {
	parts := strings.Split(entry, "|")
	if len(parts) != 4 {
		return false
	}
	salt, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil {
		return false
	}
	mac := hmac.New(sha1.New, salt)
	mac.Write([]byte(host))
	return hmac.Equal(mac.Sum(nil), want)
}

// wildcardMatch supports the '*' and '?' wildcards of ssh patterns. Brackets
// are literal, so "[10.0.0.5]:2222" matches itself.
func wildcardMatch(pattern, s string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			for len(pattern) > 0 && pattern[0] == '*' {
				pattern = pattern[1:]
			}
			if pattern == "" {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if wildcardMatch(pattern, s[i:]) {
					return true
				}
			}
			return false
		case '?':
			if s == "" {
				return false
			}
		default:
			if s == "" || !strings.EqualFold(pattern[:1], s[:1]) {
				return false
			}
		}
		pattern = pattern[1:]
		s = s[1:]
	}
	return s == ""
}
