// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestFlattenYAML(t *testing.T) {
	m := map[string]interface{}{
		"deploy": map[string]interface{}{"done": "done!", "failed": "failed: %v"},
		"top":    "v",
	}
	keys := make(map[string]struct{})
	flattenYAML("", m, keys)
	for _, want := range []string{"deploy.done", "deploy.failed", "top"} {
		if _, ok := keys[want]; !ok {
			t.Fatalf("missing %s in %v", want, keys)
		}
	}
}

func TestLint(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "ui", "a.go"), `package ui
func f() {
	_ = i18n.T("deploy.done")
	_ = i18n.T("deploy.failed", err)
	_ = i18n.T("deploy.typo")
}`)
	write(t, filepath.Join(root, "ui", "a_test.go"), `_ = i18n.T("test.only")`)
	write(t, filepath.Join(root, "_examples", "x.go"), `_ = i18n.T("vendored.key")`)
	locales := filepath.Join(root, "locales")
	write(t, filepath.Join(locales, "en.yaml"), "deploy:\n  done: done!\n  failed: \"failed: %v\"\n  unused: x\n")
	write(t, filepath.Join(locales, "de.yaml"), "deploy:\n  done: fertig!\n  unused: x\n")

	r, err := lint(root, locales)
	if err != nil {
		t.Fatalf("lint: %v", err)
	}
	if len(r.Undefined) != 1 {
		t.Fatalf("undefined = %v", r.Undefined)
	}
	if loc, ok := r.Undefined["deploy.typo"]; !ok || loc.Line != 5 {
		t.Fatalf("undefined = %v", r.Undefined)
	}
	if !reflect.DeepEqual(r.Orphaned, []string{"deploy.unused"}) {
		t.Fatalf("orphaned = %v", r.Orphaned)
	}
	if !reflect.DeepEqual(r.Missing["de.yaml"], []string{"deploy.failed"}) {
		t.Fatalf("missing = %v", r.Missing)
	}
	if !r.failed() {
		t.Fatal("expected failure")
	}

	var buf bytes.Buffer
	printReport(&buf, r)
	for _, want := range []string{"undefined: deploy.typo", "missing in de.yaml: deploy.failed", "orphaned: deploy.unused"} {
		if !strings.Contains(buf.String(), want) {
			t.Fatalf("report missing %q:\n%s", want, buf.String())
		}
	}
}

// The shipped locales must stay in sync with the code.
func TestLint_Repository(t *testing.T) {
	root := filepath.Join("..", "..")
	r, err := lint(root, filepath.Join(root, "internal", "i18n", "locales"))
	if err != nil {
		t.Fatalf("lint: %v", err)
	}
	if r.failed() {
		var buf bytes.Buffer
		printReport(&buf, r)
		t.Fatalf("locales out of sync:\n%s", buf.String())
	}
}
