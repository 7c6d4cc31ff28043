// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package archive

import (
	"archive/tar"
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return root
}

func TestBuild_SkipsHiddenEntries(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.txt":            "a",
		".hidden/x.txt":    "x",
		"sub/b.txt":        "b",
		".gitignore":       "result",
		".git/HEAD":        "ref: refs/heads/main",
		"sub/.env":         "SECRET=1",
		"sub/deep/c.nix":   "{ }",
		"sub/.cache/d.nix": "{ }",
	})
	if err := os.Symlink(filepath.Join(root, "a.txt"), filepath.Join(root, "link.txt")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	a, err := Build(root)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	got := a.Names()
	sort.Strings(got)
	want := []string{"a.txt", "sub/b.txt", "sub/deep/c.nix"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected entries %v, want %v", got, want)
	}
	if a.Size() != 1+1+3 {
		t.Fatalf("unexpected size %d", a.Size())
	}
	if a.Root() != root || a.Len() != 3 {
		t.Fatalf("unexpected root/len: %q %d", a.Root(), a.Len())
	}
}

func TestBuild_FlakeLayout(t *testing.T) {
	root := writeTree(t, map[string]string{"a.txt": "1", ".hidden/x.txt": "2", "sub/b.txt": "3"})
	a, err := Build(root)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	got := map[string]bool{}
	for _, n := range a.Names() {
		got[n] = true
	}
	if len(got) != 2 || !got["a.txt"] || !got["sub/b.txt"] {
		t.Fatalf("expected exactly {a.txt, sub/b.txt}, got %v", a.Names())
	}
}

func TestBuild_FollowsSymlinkedRoot(t *testing.T) {
	real := writeTree(t, map[string]string{"flake.nix": "{ }", "sub/b.nix": "{ }", ".git/HEAD": "x"})
	link := filepath.Join(t.TempDir(), "nixos")
	if err := os.Symlink(real, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	a, err := Build(link)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	got := a.Names()
	sort.Strings(got)
	if strings.Join(got, ",") != "flake.nix,sub/b.nix" {
		t.Fatalf("unexpected entries %v", got)
	}
	if a.Root() != link {
		t.Fatalf("root = %q, want %q", a.Root(), link)
	}
}

func TestBuild_Errors(t *testing.T) {
	var ioErr *IOError
	if _, err := Build(filepath.Join(t.TempDir(), "missing")); !errors.As(err, &ioErr) {
		t.Fatalf("expected IOError for missing root, got %v", err)
	}
	file := filepath.Join(t.TempDir(), "flake.nix")
	if err := os.WriteFile(file, []byte("{}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Build(file); !errors.As(err, &ioErr) {
		t.Fatalf("expected IOError for file root, got %v", err)
	}
}

func readTar(t *testing.T, r io.Reader) map[string]string {
	t.Helper()
	out := map[string]string{}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("tar next: %v", err)
		}
		body, err := io.ReadAll(tr)
		if err != nil {
			t.Fatalf("tar read: %v", err)
		}
		out[hdr.Name] = string(body)
	}
}

func TestEncode_DecodesWithEveryCompression(t *testing.T) {
	root := writeTree(t, map[string]string{"flake.nix": "{ outputs = _: {}; }", "hosts/web1.nix": "{ }"})
	a, err := Build(root)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, c := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
		t.Run(c.String(), func(t *testing.T) {
			data, err := a.Encode(c)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			r, err := c.NewReader(bytes.NewReader(data))
			if err != nil {
				t.Fatalf("NewReader: %v", err)
			}
			files := readTar(t, r)
			if files["flake.nix"] != "{ outputs = _: {}; }" || files["hosts/web1.nix"] != "{ }" || len(files) != 2 {
				t.Fatalf("unexpected tar content: %v", files)
			}
		})
	}
}

func TestEncode_Reproducible(t *testing.T) {
	root := writeTree(t, map[string]string{"a": "1", "b/c": "2"})
	a1, _ := Build(root)
	a2, _ := Build(root)
	d1, _ := a1.Encode(CompressionNone)
	d2, _ := a2.Encode(CompressionNone)
	if Digest(d1) != Digest(d2) {
		t.Fatalf("expected identical digests for identical trees")
	}
	if len(Digest(d1)) != 64 || len(ShortDigest(d1)) != 12 {
		t.Fatalf("unexpected digest length")
	}
}

func TestCompression_Commands(t *testing.T) {
	if got := CompressionNone.ExtractCommand("/tmp/x"); got != "tar -C /tmp/x -xf -" {
		t.Fatalf("unexpected none command %q", got)
	}
	if got := CompressionZstd.ExtractCommand("/tmp/x"); got != "zstd -dc | tar -C /tmp/x -xf -" {
		t.Fatalf("unexpected zstd command %q", got)
	}
	if got := CompressionLZ4.ExtractFileCommand("/tmp/x", "/tmp/x/a.tar.lz4"); got != "lz4 -dc /tmp/x/a.tar.lz4 | tar -C /tmp/x -xf - && rm -f /tmp/x/a.tar.lz4" {
		t.Fatalf("unexpected lz4 file command %q", got)
	}
	if _, err := ParseCompression("gzip"); err == nil {
		t.Fatalf("expected error for unsupported compression")
	}
	var c Compression
	if err := c.Set(""); err != nil || c != CompressionNone {
		t.Fatalf("empty compression should mean none, got %q %v", c, err)
	}
}
