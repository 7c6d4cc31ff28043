// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/toeirei/nixdeploy/internal/db"
	"github.com/toeirei/nixdeploy/internal/i18n"
	"github.com/toeirei/nixdeploy/internal/model"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		host  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded deployments",
		Long:  `Lists deployments recorded in the history database, newest first.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.settings.History.Enabled {
				return errors.New(i18n.T("history.disabled"))
			}
			if limit < 0 {
				return fmt.Errorf("--limit must not be negative")
			}
			store, err := db.Open(cmd.Context(), a.settings.History.Type, a.settings.History.DSN)
			if err != nil {
				return err
			}
			defer store.Close()

			recs, err := store.List(cmd.Context(), db.Filter{Host: host, Limit: limit})
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Fprintln(a.out, i18n.T("history.none"))
				return nil
			}
			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, i18n.T("history.header"))
			for _, r := range recs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.StartedAt.Local().Format(time.DateTime),
					r.Host,
					r.Action,
					r.Status,
					r.Duration().Round(time.Millisecond),
					historyDetail(r),
				)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "only show deployments of this host")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of entries (0 for all)")
	return cmd
}

// historyDetail is the short trailing column: the failure, or the archive digest.
func historyDetail(r model.DeploymentRecord) string {
	switch r.Status {
	case model.StatusFailed:
		msg := r.Error
		if i := strings.IndexByte(msg, '\n'); i >= 0 {
			msg = msg[:i]
		}
		if r.FailedState != "" {
			return r.FailedState + ": " + msg
		}
		return msg
	case model.StatusSkipped:
		return r.Error
	default:
		if len(r.ArchiveDigest) > 12 {
			return r.ArchiveDigest[:12]
		}
		return r.ArchiveDigest
	}
}
