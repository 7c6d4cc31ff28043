// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/goccy/go-yaml"
	"github.com/tidwall/jsonc"
)

// FileSource reads a static inventory file. The format is picked by
// extension: .yaml/.yml, .toml, .json or .jsonc. Hosts live under a
// top-level `hosts` key.
type FileSource struct {
	Path string
}

func (s FileSource) String() string { return s.Path }

type fileDoc struct {
	Hosts map[string]Entry `json:"hosts" yaml:"hosts" toml:"hosts"`
}

// Entries implements Source.
func (s FileSource) Entries(ctx context.Context) (map[string]Entry, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, &ConfigError{Source: s.Path, Msg: "cannot read inventory", Err: err}
	}

	var doc fileDoc
	switch ext := strings.ToLower(filepath.Ext(s.Path)); ext {
	case ".yaml", ".yml":
		err = yaml.UnmarshalWithOptions(data, &doc, yaml.Strict())
	case ".toml":
		var md toml.MetaData
		md, err = toml.Decode(string(data), &doc)
		if err == nil {
			if undec := md.Undecoded(); len(undec) > 0 {
				err = fmt.Errorf("unknown keys: %v", undec)
			}
		}
	case ".json", ".jsonc":
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		err = dec.Decode(&doc)
	default:
		return nil, &ConfigError{Source: s.Path, Msg: fmt.Sprintf("unsupported inventory format %q", ext)}
	}
	if err != nil {
		return nil, &ConfigError{Source: s.Path, Msg: "malformed host inventory", Err: err}
	}
	if doc.Hosts == nil {
		return nil, &ConfigError{Source: s.Path, Msg: "missing top-level `hosts` key"}
	}
	return doc.Hosts, nil
}
