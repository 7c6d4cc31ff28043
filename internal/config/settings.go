// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/toeirei/nixdeploy/internal/archive"
	"github.com/toeirei/nixdeploy/internal/db"
	"github.com/toeirei/nixdeploy/internal/deploy"
	"github.com/toeirei/nixdeploy/internal/inventory"
	"github.com/toeirei/nixdeploy/internal/model"
	"github.com/toeirei/nixdeploy/internal/trust"
)

// currentUser resolves the local OS user name. Replaced in tests.
var currentUser = func() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	return u.Username, nil
}

// Settings is the validated, immutable snapshot a run works from.
type Settings struct {
	// Dir is the absolute flake directory.
	Dir            string
	Inventory      inventory.Source
	KnownHostsPath string
	DefaultUser    string
	Options        deploy.Options
	History        HistorySettings
	Language       string
	LogLevel       string
}

// HistorySettings is the resolved history backend.
type HistorySettings struct {
	Enabled bool
	Type    string
	DSN     string
}

// Resolve validates c and fills in everything derived from the local
// environment: the default user, the known_hosts path and the history DSN.
func Resolve(c Config) (Settings, error) {
	s := Settings{Language: c.Language, LogLevel: c.LogLevel}

	dir := c.Path
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return s, &inventory.ConfigError{Source: dir, Msg: "invalid configuration directory", Err: err}
	}
	s.Dir = abs

	if c.Inventory != "" {
		s.Inventory = inventory.FileSource{Path: c.Inventory}
	} else {
		s.Inventory = inventory.NixSource{Dir: s.Dir}
	}

	s.DefaultUser = c.User
	if s.DefaultUser == "" {
		s.DefaultUser, err = defaultUser()
		if err != nil {
			return s, fmt.Errorf("could not determine local user name: %w", err)
		}
	}

	s.KnownHostsPath = c.KnownHosts
	if s.KnownHostsPath == "" {
		if s.KnownHostsPath, err = trust.DefaultPath(); err != nil {
			return s, err
		}
	}

	action := c.Action
	if action == "" {
		action = model.ActionSwitch
	}
	if _, err := model.ParseRebuildAction(string(action)); err != nil {
		return s, err
	}
	if c.Parallel < 1 {
		return s, fmt.Errorf("parallel must be at least 1, got %d", c.Parallel)
	}
	if c.ConnectTimeout < 0 || c.CommandTimeout < 0 {
		return s, fmt.Errorf("timeouts must not be negative")
	}
	var upload deploy.UploadMode
	if err := upload.UnmarshalText([]byte(c.Upload)); err != nil {
		return s, err
	}
	var policy deploy.ErrorPolicy
	if err := policy.UnmarshalText([]byte(c.OnError)); err != nil {
		return s, err
	}
	comp := c.Compression
	if comp == "" {
		comp = archive.CompressionNone
	}

	s.Options = deploy.Options{
		Action:         action,
		Quiet:          c.Quiet,
		Sudo:           !c.NoSudo,
		Upload:         upload,
		Compression:    comp,
		Parallel:       c.Parallel,
		OnError:        policy,
		ConnectTimeout: c.ConnectTimeout,
		CommandTimeout: c.CommandTimeout,
	}

	s.History = HistorySettings{Enabled: !c.History.Disabled && !c.NoHistory, Type: c.History.Type, DSN: c.History.DSN}
	if s.History.Type == "" {
		s.History.Type = db.TypeSQLite
	}
	if s.History.Enabled && s.History.DSN == "" {
		if s.History.Type != db.TypeSQLite {
			return s, fmt.Errorf("history.dsn is required for %s", s.History.Type)
		}
		if s.History.DSN, err = defaultHistoryPath(); err != nil {
			return s, err
		}
	}
	return s, nil
}

func defaultUser() (string, error) {
	name, err := currentUser()
	if err != nil || name == "" {
		for _, env := range []string{"USER", "USERNAME"} {
			if v := os.Getenv(env); v != "" {
				return v, nil
			}
		}
		if err == nil {
			err = fmt.Errorf("empty user name")
		}
		return "", err
	}
	// Windows reports DOMAIN\user.
	if i := strings.LastIndex(name, `\`); i >= 0 {
		name = name[i+1:]
	}
	return name, nil
}

func defaultHistoryPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not get user config directory: %w", err)
	}
	dir = filepath.Join(dir, AppName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "history.db"), nil
}
