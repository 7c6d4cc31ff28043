// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

// i18n-linter checks that every message id passed to i18n.T exists in the
// English locale and that every other locale carries the same ids.
//
// Usage:
//
//	go run ./tools/i18n-linter [-root .] [-locales internal/i18n/locales]
package main

import (
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const primaryLocale = "en.yaml"

// usedKeyRe matches i18n.T("id" with any arguments following.
var usedKeyRe = regexp.MustCompile(`i18n\.T\("([a-z0-9_]+(?:\.[a-z0-9_]+)+)"`)

// Location stores the file and line number of a found id.
type Location struct {
	Filepath string
	Line     int
}

// report is the outcome of one lint run.
type report struct {
	// Undefined ids are used in code but absent from the primary locale.
	Undefined map[string]Location
	// Orphaned ids are defined in the primary locale but never used.
	Orphaned []string
	// Missing maps a secondary locale file to the primary ids it lacks.
	Missing map[string][]string
}

func (r report) failed() bool {
	if len(r.Undefined) > 0 {
		return true
	}
	for _, keys := range r.Missing {
		if len(keys) > 0 {
			return true
		}
	}
	return false
}

func main() {
	root := flag.String("root", ".", "module root to scan")
	locales := flag.String("locales", filepath.Join("internal", "i18n", "locales"), "locale directory")
	flag.Parse()

	r, err := lint(*root, *locales)
	if err != nil {
		fmt.Fprintf(os.Stderr, "i18n-linter: %v\n", err)
		os.Exit(2)
	}
	printReport(os.Stdout, r)
	if r.failed() {
		os.Exit(1)
	}
}

func lint(root, localesDir string) (report, error) {
	r := report{Missing: map[string][]string{}}

	used, err := findUsedKeys(root)
	if err != nil {
		return r, fmt.Errorf("scanning sources: %w", err)
	}
	primary, err := loadKeysFromLocale(filepath.Join(localesDir, primaryLocale))
	if err != nil {
		return r, fmt.Errorf("loading %s: %w", primaryLocale, err)
	}

	r.Undefined = map[string]Location{}
	for key, loc := range used {
		if _, ok := primary[key]; !ok {
			r.Undefined[key] = loc
		}
	}
	for key := range primary {
		if _, ok := used[key]; !ok {
			r.Orphaned = append(r.Orphaned, key)
		}
	}
	sort.Strings(r.Orphaned)

	files, err := filepath.Glob(filepath.Join(localesDir, "*.yaml"))
	if err != nil {
		return r, err
	}
	for _, file := range files {
		if filepath.Base(file) == primaryLocale {
			continue
		}
		keys, err := loadKeysFromLocale(file)
		if err != nil {
			return r, fmt.Errorf("loading %s: %w", file, err)
		}
		var missing []string
		for key := range primary {
			if _, ok := keys[key]; !ok {
				missing = append(missing, key)
			}
		}
		sort.Strings(missing)
		r.Missing[filepath.Base(file)] = missing
	}
	return r, nil
}

func printReport(w io.Writer, r report) {
	if len(r.Undefined) == 0 {
		fmt.Fprintln(w, "undefined ids: none")
	}
	ids := make([]string, 0, len(r.Undefined))
	for id := range r.Undefined {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		loc := r.Undefined[id]
		fmt.Fprintf(w, "undefined: %s (%s:%d)\n", id, loc.Filepath, loc.Line)
	}

	locales := make([]string, 0, len(r.Missing))
	for l := range r.Missing {
		locales = append(locales, l)
	}
	sort.Strings(locales)
	for _, l := range locales {
		for _, id := range r.Missing[l] {
			fmt.Fprintf(w, "missing in %s: %s\n", l, id)
		}
	}

	for _, id := range r.Orphaned {
		fmt.Fprintf(w, "orphaned: %s\n", id)
	}
}

// findUsedKeys scans non-test .go files for i18n.T calls and records the
// first place each id is used.
func findUsedKeys(root string) (map[string]Location, error) {
	keys := make(map[string]Location)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (name == "tools" || strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		for i, line := range strings.Split(string(content), "\n") {
			for _, m := range usedKeyRe.FindAllStringSubmatch(line, -1) {
				if _, seen := keys[m[1]]; !seen {
					keys[m[1]] = Location{Filepath: path, Line: i + 1}
				}
			}
		}
		return nil
	})
	return keys, err
}

// loadKeysFromLocale reads a YAML file and returns a flat map of its keys.
func loadKeysFromLocale(path string) (map[string]struct{}, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var data map[string]interface{}
	if err := yaml.Unmarshal(content, &data); err != nil {
		return nil, err
	}

	keys := make(map[string]struct{})
	flattenYAML("", data, keys)
	return keys, nil
}

// flattenYAML converts a nested map into dot-separated leaf keys.
func flattenYAML(prefix string, node interface{}, keys map[string]struct{}) {
	switch v := node.(type) {
	case map[string]interface{}:
		for k, val := range v {
			next := k
			if prefix != "" {
				next = prefix + "." + k
			}
			flattenYAML(next, val, keys)
		}
	default:
		if prefix != "" {
			keys[prefix] = struct{}{}
		}
	}
}
