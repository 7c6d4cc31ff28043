// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/toeirei/nixdeploy/internal/config"
	"github.com/toeirei/nixdeploy/internal/i18n"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
	}

	var (
		system bool
		force  bool
		output string
	)
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the effective configuration to a config file",
		Long: `Writes the effective configuration (defaults, the current config file,
environment and flags) to the user config file, or the system one with
--system. An existing file is only replaced with --force.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := output
			if path == "" && !system {
				p, err := config.UserConfigPath()
				if err != nil {
					return err
				}
				path = p
			}
			if path != "" && !force {
				if _, err := os.Stat(path); err == nil {
					return errors.New(i18n.T("config.exists", path))
				}
			}
			c := a.cfg
			written, err := config.WriteConfigFile(&c, path, system)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, i18n.T("config.written", written))
			return nil
		},
	}
	initCmd.Flags().BoolVar(&system, "system", false, "write the system-wide config file")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	initCmd.Flags().StringVarP(&output, "output", "o", "", "write to this path instead")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfgUsed != "" {
				fmt.Fprintln(a.out, subtleStyle.Render("# "+a.cfgUsed))
			}
			data, err := config.Marshal(a.cfg)
			if err != nil {
				return err
			}
			_, err = a.out.Write(data)
			return err
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}
