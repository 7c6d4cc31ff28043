// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

// Package archive packages a configuration directory into the tar stream
// that is extracted on every deployment target.
package archive

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// IOError reports a local filesystem failure while packaging.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("failed to package %s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Entry is a single regular file, named relative to the archive root with
// forward slashes.
type Entry struct {
	Name string
	Mode fs.FileMode
	Data []byte
}

// Archive is the immutable set of files built once per run.
type Archive struct {
	root    string
	entries []Entry
	size    int64
}

// Build walks root and collects every regular file. Entries whose name
// starts with a dot are skipped, and dot directories are pruned entirely.
// Entries come out in lexical walk order. A root that is a symlink is
// followed; links below it are not.
func Build(root string) (*Archive, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, &IOError{Path: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &IOError{Path: root, Err: fmt.Errorf("not a directory")}
	}
	// WalkDir does not descend into a symlinked root.
	dir, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, &IOError{Path: root, Err: err}
	}

	a := &Archive{root: root}
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return &IOError{Path: path, Err: walkErr}
		}
		if path == dir {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return &IOError{Path: path, Err: err}
		}
		fi, err := d.Info()
		if err != nil {
			return &IOError{Path: path, Err: err}
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return &IOError{Path: path, Err: err}
		}
		a.entries = append(a.entries, Entry{Name: filepath.ToSlash(rel), Mode: fi.Mode().Perm(), Data: data})
		a.size += int64(len(data))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Root returns the directory the archive was built from.
func (a *Archive) Root() string { return a.root }

// Len returns the number of files.
func (a *Archive) Len() int { return len(a.entries) }

// Size returns the total uncompressed payload size in bytes.
func (a *Archive) Size() int64 { return a.size }

// Names returns the relative paths of all entries.
func (a *Archive) Names() []string {
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Name)
	}
	return out
}

// epoch pins header timestamps so identical trees encode to identical bytes.
var epoch = time.Unix(1, 0).UTC()

// WriteTar writes the entries as a tar stream to w. Parent directories are
// created implicitly by tar on extraction.
func (a *Archive) WriteTar(w io.Writer) error {
	tw := tar.NewWriter(w)
	for _, e := range a.entries {
		hdr := &tar.Header{
			Typeflag: tar.TypeReg,
			Name:     e.Name,
			Mode:     int64(e.Mode),
			Size:     int64(len(e.Data)),
			ModTime:  epoch,
			Format:   tar.FormatPAX,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("tar header %s: %w", e.Name, err)
		}
		if _, err := tw.Write(e.Data); err != nil {
			return fmt.Errorf("tar body %s: %w", e.Name, err)
		}
	}
	return tw.Close()
}

// Encode returns the tar stream wrapped in the given compression.
func (a *Archive) Encode(c Compression) ([]byte, error) {
	var buf bytes.Buffer
	w, err := c.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if err := a.WriteTar(w); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%s close: %w", c, err)
	}
	return buf.Bytes(), nil
}
