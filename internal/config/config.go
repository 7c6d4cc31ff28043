// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

// Package config loads nixdeploy's configuration from files, the
// environment and command line flags, and resolves it into Settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/toeirei/nixdeploy/internal/archive"
	"github.com/toeirei/nixdeploy/internal/deploy"
	"github.com/toeirei/nixdeploy/internal/model"
)

// AppName names the config directory, file and environment prefix.
const AppName = "nixdeploy"

// Config mirrors nixdeploy.yaml. Keys match the command line flag names so
// that flags, environment variables and the file share one namespace.
type Config struct {
	Action         model.RebuildAction `mapstructure:"action" yaml:"action"`
	Path           string              `mapstructure:"path" yaml:"path"`
	Quiet          bool                `mapstructure:"quiet" yaml:"quiet"`
	Parallel       int                 `mapstructure:"parallel" yaml:"parallel"`
	OnError        deploy.ErrorPolicy  `mapstructure:"on-error" yaml:"on-error"`
	ConnectTimeout time.Duration       `mapstructure:"connect-timeout" yaml:"connect-timeout"`
	CommandTimeout time.Duration       `mapstructure:"command-timeout" yaml:"command-timeout"`
	KnownHosts     string              `mapstructure:"known-hosts" yaml:"known-hosts"`
	Inventory      string              `mapstructure:"inventory" yaml:"inventory"`
	User           string              `mapstructure:"user" yaml:"user"`
	Compression    archive.Compression `mapstructure:"compression" yaml:"compression"`
	Upload         deploy.UploadMode   `mapstructure:"upload" yaml:"upload"`
	NoSudo         bool                `mapstructure:"no-sudo" yaml:"no-sudo"`
	Language       string              `mapstructure:"lang" yaml:"lang"`
	LogLevel       string              `mapstructure:"log-level" yaml:"log-level"`
	History        HistoryConfig       `mapstructure:"history" yaml:"history"`
	// NoHistory is the --no-history flag; it is never written to the file.
	NoHistory bool `mapstructure:"no-history" yaml:"-"`
}

// HistoryConfig selects the deployment history backend.
type HistoryConfig struct {
	Disabled bool   `mapstructure:"disabled" yaml:"disabled"`
	Type     string `mapstructure:"type" yaml:"type"`
	DSN      string `mapstructure:"dsn" yaml:"dsn"`
}

// Defaults returns the built-in values, keyed like the config file.
func Defaults() map[string]any {
	return map[string]any{
		"action":           string(model.ActionSwitch),
		"path":             ".",
		"quiet":            false,
		"parallel":         1,
		"on-error":         string(deploy.PolicyAbort),
		"connect-timeout":  "10s",
		"command-timeout":  "0s",
		"known-hosts":      "",
		"inventory":        "",
		"user":             "",
		"compression":      string(archive.CompressionNone),
		"upload":           string(deploy.UploadStdin),
		"no-sudo":          false,
		"lang":             "en",
		"log-level":        "info",
		"history.disabled": false,
		"history.type":     "sqlite",
		"history.dsn":      "",
		"no-history":       false,
	}
}

// getConfigPath returns the full path for the configuration file.
func getConfigPath(system bool) (string, error) {
	var configDir string
	var err error

	if system {
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), AppName)
		default: // Linux, macOS, etc.
			configDir = "/etc/" + AppName
		}
	} else {
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, AppName)
	}

	return filepath.Join(configDir, AppName+".yaml"), nil
}

// UserConfigPath returns the per-user config file location.
func UserConfigPath() (string, error) { return getConfigPath(false) }

// LoadConfig layers defaults, the first config file found, NIXDEPLOY_*
// environment variables and the flags of cmd, then decodes into T.
// configFile, when set, replaces the search path. The returned string is
// the config file actually used, if any.
func LoadConfig[T any](cmd *cobra.Command, defaults map[string]any, configFile *string) (T, string, error) {
	var c T
	v := viper.New()

	// 1. Set defaults
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// 2. Set up file search paths
	v.SetConfigName(AppName)
	v.SetConfigType("yaml")
	if configFile != nil && *configFile != "" {
		v.SetConfigFile(*configFile)
	} else {
		if userConfigPath, err := getConfigPath(false); err == nil {
			v.AddConfigPath(filepath.Dir(userConfigPath))
		}
		if systemConfigPath, err := getConfigPath(true); err == nil {
			v.AddConfigPath(filepath.Dir(systemConfigPath))
		}
		v.AddConfigPath(".")
	}

	// 3. Read in the config file. Not finding one is fine.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return c, "", fmt.Errorf("error loading config: %w", err)
		}
	}

	// 4. Environment variables, e.g. NIXDEPLOY_CONNECT_TIMEOUT or NIXDEPLOY_HISTORY_DSN.
	v.SetEnvPrefix(AppName)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// 5. Command line flags
	if cmd != nil {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return c, "", err
		}
	}

	err := v.Unmarshal(&c, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	)))
	if err != nil {
		return c, "", fmt.Errorf("invalid configuration: %w", err)
	}
	return c, v.ConfigFileUsed(), nil
}

// WriteConfigFile writes c as YAML to path, or to the user (or system)
// config location when path is empty. It returns the path written.
func WriteConfigFile[T any](c *T, path string, system bool) (string, error) {
	if path == "" {
		var err error
		path, err = getConfigPath(system)
		if err != nil {
			return "", err
		}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return "", fmt.Errorf("could not create config directory %s: %w", configDir, err)
	}
	// 0600: the history DSN may carry database credentials.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// Marshal renders c as YAML.
func Marshal(c Config) ([]byte, error) {
	return yaml.Marshal(c)
}
