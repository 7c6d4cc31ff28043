// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/toeirei/nixdeploy/internal/db"
	"github.com/toeirei/nixdeploy/internal/i18n"
	"github.com/toeirei/nixdeploy/internal/inventory"
	"github.com/toeirei/nixdeploy/internal/logging"
)

// now is replaced in tests so relative times are stable.
var now = time.Now

func newHostsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "hosts",
		Short: "List the hosts in the inventory",
		Long: `Lists every host the inventory defines, with the endpoint and user
nixdeploy would connect as, and when it was last deployed successfully.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			inv, err := inventory.Load(ctx, a.settings.Inventory, a.settings.DefaultUser)
			if err != nil {
				return err
			}
			if inv.Len() == 0 {
				fmt.Fprintln(a.out, i18n.T("hosts.none"))
				return nil
			}

			var history *db.Store
			if a.settings.History.Enabled {
				if history, err = db.Open(ctx, a.settings.History.Type, a.settings.History.DSN); err != nil {
					logging.Warnf("deployment history unavailable: %v", err)
				} else {
					defer history.Close()
				}
			}

			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, i18n.T("hosts.header"))
			for _, h := range inv.Hosts() {
				last := i18n.T("hosts.never")
				if history != nil {
					rec, err := history.LastSuccess(ctx, h.Name)
					if err != nil {
						return err
					}
					if rec != nil {
						last = humanize.RelTime(rec.FinishedAt, now(), "ago", "from now")
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", h.Name, h.Endpoint(), h.User, last)
			}
			return w.Flush()
		},
	}
}
