// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"net/netip"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/toeirei/nixdeploy/internal/i18n"
	"github.com/toeirei/nixdeploy/internal/inventory"
	"github.com/toeirei/nixdeploy/internal/model"
	"github.com/toeirei/nixdeploy/internal/transport"
	"github.com/toeirei/nixdeploy/internal/trust"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Hooks replaced in tests.
var (
	getRemoteHostKey = transport.GetRemoteHostKey
	writeClipboard   = clipboard.WriteAll
)

func newFingerprintCmd(a *app) *cobra.Command {
	var copyLine bool
	cmd := &cobra.Command{
		Use:   "fingerprint <host>",
		Short: "Show a host's key fingerprint and known_hosts status",
		Long: `Connects to a host just far enough to read its host key, then prints the
key fingerprint, what the known_hosts file currently says about it and the
line to add once the fingerprint has been compared out of band.

<host> is an inventory name or an IP address (optionally with a port).
The known_hosts file is never modified.`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: a.completeHosts,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := a.resolveHost(cmd, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, subtleStyle.Render(i18n.T("fingerprint.probing", h.Endpoint())))
			key, err := getRemoteHostKey(cmd.Context(), h.Endpoint(), a.settings.Options.ConnectTimeout)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, i18n.T("fingerprint.key", key.Type(), hostStyle.Render(ssh.FingerprintSHA256(key))))

			store, err := trust.Load(a.settings.KnownHostsPath)
			if err != nil {
				return err
			}
			verdict := trust.Verify(store, h.Aliases(), key)
			fmt.Fprintln(a.out, i18n.T("fingerprint.verdict", verdictStyle(verdict).Render(verdict.String())))
			if verdict == trust.Match {
				return nil
			}

			line := knownhosts.Line([]string{knownhosts.Normalize(h.Endpoint())}, key)
			fmt.Fprintln(a.out, i18n.T("fingerprint.line_hint"))
			fmt.Fprintln(a.out, line)
			if copyLine {
				if err := writeClipboard(line); err != nil {
					return fmt.Errorf("could not copy to clipboard: %w", err)
				}
				fmt.Fprintln(a.out, successStyle.Render(i18n.T("fingerprint.copied")))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&copyLine, "copy", false, "copy the known_hosts line to the clipboard")
	return cmd
}

// resolveHost finds arg in the inventory, falling back to a literal
// address so hosts can be checked before they are added.
func (a *app) resolveHost(cmd *cobra.Command, arg string) (model.Host, error) {
	inv, invErr := inventory.Load(cmd.Context(), a.settings.Inventory, a.settings.DefaultUser)
	if invErr == nil {
		if h, ok := inv.Get(arg); ok {
			return h, nil
		}
	}
	if ap, err := netip.ParseAddrPort(arg); err == nil {
		return model.Host{Name: arg, Address: ap.Addr(), Port: ap.Port(), User: a.settings.DefaultUser}, nil
	}
	if addr, err := netip.ParseAddr(arg); err == nil {
		return model.Host{Name: arg, Address: addr, Port: model.DefaultPort, User: a.settings.DefaultUser}, nil
	}
	if invErr != nil {
		return model.Host{}, invErr
	}
	return model.Host{}, &inventory.UnknownHostError{Name: arg}
}

func verdictStyle(v trust.Verdict) lipgloss.Style {
	switch v {
	case trust.Match:
		return successStyle
	case trust.NotFound:
		return warnStyle
	default:
		return errorStyle
	}
}
