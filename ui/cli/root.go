// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/toeirei/nixdeploy/internal/archive"
	"github.com/toeirei/nixdeploy/internal/config"
	"github.com/toeirei/nixdeploy/internal/deploy"
	"github.com/toeirei/nixdeploy/internal/i18n"
	"github.com/toeirei/nixdeploy/internal/inventory"
	"github.com/toeirei/nixdeploy/internal/logging"
	"github.com/toeirei/nixdeploy/internal/model"
	"github.com/toeirei/nixdeploy/internal/transport"
)

// app carries what PersistentPreRunE resolved to the command bodies.
type app struct {
	cfg      config.Config
	cfgUsed  string
	settings config.Settings
	out      io.Writer
}

// Execute runs the CLI entrypoint. The caller handles process exit.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

// getConfigPathFromCli returns the --config value if the user set one.
func getConfigPathFromCli(cmd *cobra.Command) (*string, error) {
	if !cmd.Flags().Changed("config") {
		return nil, nil
	}
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("could not read --config flag: %w", err)
	}
	if path == "" {
		return nil, nil
	}
	// Make sure the user-provided file exists to avoid silently running on defaults.
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file specified via --config flag not found or is not accessible: %w", err)
	}
	return &path, nil
}

// setup loads the layered configuration and resolves it into settings.
func (a *app) setup(cmd *cobra.Command) error {
	configPath, err := getConfigPathFromCli(cmd)
	if err != nil {
		return err
	}
	cfg, used, err := config.LoadConfig[config.Config](cmd, config.Defaults(), configPath)
	if err != nil {
		return err
	}
	if err := logging.SetLevel(cfg.LogLevel); err != nil {
		return err
	}
	i18n.Init(cfg.Language)
	if used != "" {
		logging.Debugf("using config file %s", used)
	}

	settings, err := config.Resolve(cfg)
	if err != nil {
		return err
	}
	a.cfg, a.cfgUsed, a.settings = cfg, used, settings
	if a.out == nil {
		a.out = cmd.OutOrStdout()
	}
	return nil
}

func isCompletionCmd(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Name() == "completion" || c.Name() == cobra.ShellCompRequestCmd {
			return true
		}
	}
	return false
}

// NewRootCmd creates and configures a new root cobra command. Every call
// returns an independent tree so tests can run commands in isolation.
func NewRootCmd() *cobra.Command {
	a := &app{}
	var (
		all, pick   bool
		action      = model.ActionSwitch
		compression = archive.CompressionNone
		upload      = deploy.UploadStdin
		onError     = deploy.PolicyAbort
	)

	cmd := &cobra.Command{
		Use:   "nixdeploy [flags] [host...]",
		Short: "Deploy a NixOS flake to remote hosts over SSH",
		Long: `nixdeploy packages a flake directory, copies it to each named host over
SSH and runs nixos-rebuild there against the copy.

Hosts come from the flake's deploy.hosts attribute (or --inventory) and are
only contacted when their host key is already present in known_hosts.`,
		Version:       compositeVersion(nil),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if isCompletionCmd(cmd) {
				return nil
			}
			a.out = cmd.OutOrStdout()
			return a.setup(cmd)
		},
		// Host names; a host named like a subcommand must be deployed via --pick or --all.
		Args:              cobra.ArbitraryArgs,
		ValidArgsFunction: a.completeHosts,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && !pick && len(args) == 0 {
				return errors.New(i18n.T("deploy.no_hosts"))
			}
			return a.deploy(cmd.Context(), args, all, pick)
		},
	}

	pf := cmd.PersistentFlags()
	pf.String("config", "", "config file (default is $XDG_CONFIG_HOME/nixdeploy/nixdeploy.yaml)")
	pf.StringP("path", "p", ".", "flake directory to deploy")
	pf.String("inventory", "", "read hosts from a YAML, TOML or JSON file instead of the flake")
	pf.String("user", "", "remote user for hosts without one (default is the local user)")
	pf.String("known-hosts", "", "known_hosts file (default is ~/.ssh/known_hosts)")
	pf.Duration("connect-timeout", transport.DefaultConnectionTimeout, "timeout for connecting and the SSH handshake")
	pf.Bool("no-history", false, "do not record this run in the deployment history")
	pf.String("lang", "en", `output language ("en", "de")`)
	pf.String("log-level", "info", "log level (debug, info, warn, error)")

	f := cmd.Flags()
	f.VarP(&action, "action", "a", "nixos-rebuild action (switch, boot, test)")
	f.BoolP("quiet", "q", false, "only print one status line per host")
	f.BoolVar(&all, "all", false, "deploy to every host in the inventory")
	f.BoolVar(&pick, "pick", false, "choose hosts interactively")
	f.Int("parallel", 1, "number of hosts to deploy to at once")
	f.Var(&onError, "on-error", "what to do when a host fails (abort, continue)")
	f.Duration("command-timeout", 0, "timeout for each remote command (0 disables)")
	f.Var(&compression, "compression", "archive compression (none, zstd, lz4)")
	f.Var(&upload, "upload", "how the archive reaches the host (stdin, sftp)")
	f.Bool("no-sudo", false, "run nixos-rebuild without sudo")
	cmd.MarkFlagsMutuallyExclusive("all", "pick")

	cmd.AddCommand(
		newHostsCmd(a),
		newFingerprintCmd(a),
		newHistoryCmd(a),
		newConfigCmd(a),
	)
	return cmd
}

// completeHosts offers inventory host names for shell completion.
func (a *app) completeHosts(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if err := a.setup(cmd); err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	inv, err := inventory.Load(ctx, a.settings.Inventory, a.settings.DefaultUser)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	seen := make(map[string]bool, len(args))
	for _, arg := range args {
		seen[arg] = true
	}
	var out []string
	for _, name := range inv.Names() {
		if !seen[name] {
			out = append(out, name)
		}
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}
