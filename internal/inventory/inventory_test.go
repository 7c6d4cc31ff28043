// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package inventory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func intp(i int) *int { return &i }

func TestFromEntries_Defaults(t *testing.T) {
	inv, err := FromEntries("test", map[string]Entry{
		"web1": {Host: "10.0.0.5"},
		"db":   {Host: "fd00::2", Port: intp(2222), User: "admin"},
	}, "alice")
	if err != nil {
		t.Fatalf("FromEntries: %v", err)
	}
	web, ok := inv.Get("web1")
	if !ok {
		t.Fatalf("web1 missing")
	}
	if web.Port != 22 || web.User != "alice" || web.Endpoint() != "10.0.0.5:22" {
		t.Fatalf("web1 = %+v", web)
	}
	db, _ := inv.Get("db")
	if db.Endpoint() != "[fd00::2]:2222" || db.User != "admin" {
		t.Fatalf("db = %+v endpoint %s", db, db.Endpoint())
	}
	if got := strings.Join(inv.Names(), ","); got != "db,web1" {
		t.Fatalf("Names = %s", got)
	}
}

func TestFromEntries_Malformed(t *testing.T) {
	cases := map[string]Entry{
		"missing host": {},
		"bad ip":       {Host: "web.example.com"},
		"port zero":    {Host: "10.0.0.1", Port: intp(0)},
		"port too big": {Host: "10.0.0.1", Port: intp(70000)},
	}
	for name, e := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromEntries("test", map[string]Entry{"h": e}, "alice")
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("err = %v, want ConfigError", err)
			}
		})
	}
}

func TestFromEntries_NoDefaultUser(t *testing.T) {
	_, err := FromEntries("test", map[string]Entry{"h": {Host: "10.0.0.1"}}, "")
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ConfigError", err)
	}
}

func TestSelect(t *testing.T) {
	inv, err := FromEntries("test", map[string]Entry{
		"c": {Host: "10.0.0.3"},
		"a": {Host: "10.0.0.1"},
		"b": {Host: "10.0.0.2"},
	}, "root")
	if err != nil {
		t.Fatalf("FromEntries: %v", err)
	}

	all, err := Select(inv, []string{"ignored"}, true)
	if err != nil || len(all) != 3 || all[0].Name != "a" || all[2].Name != "c" {
		t.Fatalf("Select(all) = %+v, %v", all, err)
	}

	some, err := Select(inv, []string{"c", "a", "c"}, false)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(some) != 2 || some[0].Name != "c" || some[1].Name != "a" {
		t.Fatalf("Select order = %+v", some)
	}

	_, err = Select(inv, []string{"a", "nope"}, false)
	var uh *UnknownHostError
	if !errors.As(err, &uh) || uh.Name != "nope" {
		t.Fatalf("err = %v, want UnknownHostError(nope)", err)
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestNixSource(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "flake.nix", "{}")

	var gotRef string
	orig := nixEval
	nixEval = func(ctx context.Context, ref string) ([]byte, error) {
		gotRef = ref
		return []byte(`{"web1":{"host":"10.0.0.5","system":"x86_64-linux"},"web2":{"host":"10.0.0.6","port":2200,"user":"ops","tags":["prod"]}}`), nil
	}
	defer func() { nixEval = orig }()

	inv, err := Load(context.Background(), NixSource{Dir: dir}, "alice")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if gotRef != dir+"#deploy.hosts" {
		t.Fatalf("ref = %q", gotRef)
	}
	h, _ := inv.Get("web2")
	if h.Endpoint() != "10.0.0.6:2200" || h.User != "ops" {
		t.Fatalf("web2 = %+v", h)
	}
	if h, _ := inv.Get("web1"); h.Endpoint() != "10.0.0.5:22" || h.User != "alice" {
		t.Fatalf("web1 = %+v", h)
	}
}

func TestNixSource_Errors(t *testing.T) {
	orig := nixEval
	defer func() { nixEval = orig }()
	called := false
	nixEval = func(context.Context, string) ([]byte, error) {
		called = true
		return []byte(`{"web1":{"hots":"10.0.0.5"}}`), nil
	}

	noFlake := t.TempDir()
	_, err := Load(context.Background(), NixSource{Dir: noFlake}, "alice")
	var ce *ConfigError
	if !errors.As(err, &ce) || !strings.Contains(err.Error(), "flake.nix") {
		t.Fatalf("err = %v, want missing flake ConfigError", err)
	}
	if called {
		t.Fatalf("nix must not run without flake.nix")
	}

	_, err = Load(context.Background(), NixSource{Dir: filepath.Join(noFlake, "missing")}, "alice")
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ConfigError for missing dir", err)
	}

	writeFile(t, noFlake, "flake.nix", "{}")
	_, err = Load(context.Background(), NixSource{Dir: noFlake}, "alice")
	if !errors.As(err, &ce) || !strings.Contains(err.Error(), "missing `host` address") {
		t.Fatalf("err = %v, want ConfigError for entry without host", err)
	}

	nixEval = func(context.Context, string) ([]byte, error) { return nil, errors.New("error: attribute missing") }
	_, err = Load(context.Background(), NixSource{Dir: noFlake}, "alice")
	if !errors.As(err, &ce) || !strings.Contains(err.Error(), "attribute missing") {
		t.Fatalf("err = %v, want eval ConfigError", err)
	}
}

func TestFileSource_Formats(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeFile(t, dir, "hosts.yaml", "hosts:\n  web1:\n    host: 10.0.0.5\n    port: 2222\n"),
		writeFile(t, dir, "hosts.toml", "[hosts.web1]\nhost = \"10.0.0.5\"\nport = 2222\n"),
		writeFile(t, dir, "hosts.jsonc", "{\n  // production\n  \"hosts\": {\"web1\": {\"host\": \"10.0.0.5\", \"port\": 2222,}},\n}\n"),
	}
	for _, p := range files {
		t.Run(filepath.Ext(p), func(t *testing.T) {
			inv, err := Load(context.Background(), FileSource{Path: p}, "alice")
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			h, ok := inv.Get("web1")
			if !ok || h.Endpoint() != "10.0.0.5:2222" || h.User != "alice" {
				t.Fatalf("web1 = %+v", h)
			}
		})
	}
}

func TestFileSource_Errors(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"noHosts.yaml": "servers: {}\n",
		"bad.ini":      "[hosts]\n",
		"typo.toml":    "[hosts.web1]\nhots = \"10.0.0.5\"\n",
		"broken.json":  "{\"hosts\": ",
	}
	for name, content := range cases {
		p := writeFile(t, dir, name, content)
		t.Run(name, func(t *testing.T) {
			_, err := Load(context.Background(), FileSource{Path: p}, "alice")
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("err = %v, want ConfigError", err)
			}
		})
	}
	_, err := Load(context.Background(), FileSource{Path: filepath.Join(dir, "absent.yaml")}, "alice")
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ConfigError", err)
	}
}
