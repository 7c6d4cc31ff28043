// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/toeirei/nixdeploy/internal/archive"
	"github.com/toeirei/nixdeploy/internal/db"
	"github.com/toeirei/nixdeploy/internal/deploy"
	"github.com/toeirei/nixdeploy/internal/i18n"
	"github.com/toeirei/nixdeploy/internal/inventory"
	"github.com/toeirei/nixdeploy/internal/logging"
	"github.com/toeirei/nixdeploy/internal/remote"
	"github.com/toeirei/nixdeploy/internal/trust"
	"github.com/toeirei/nixdeploy/ui/tui"
	"golang.org/x/term"
)

// Hooks replaced in tests.
var (
	newTransport = func(connectTimeout time.Duration) deploy.Transport {
		return deploy.SSHTransport{ConnectTimeout: connectTimeout}
	}
	stdinIsTerminal = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }
	pickHosts       = func(items []tui.Item) ([]string, error) { return tui.Pick(items) }
)

// deploy runs one deployment. Everything that can fail locally (inventory,
// host selection, packaging, the trust store) is settled before the first
// connection is opened.
func (a *app) deploy(ctx context.Context, names []string, all, pick bool) error {
	s := a.settings

	inv, err := inventory.Load(ctx, s.Inventory, s.DefaultUser)
	if err != nil {
		return err
	}
	if pick {
		if names, err = a.pick(inv); err != nil {
			return err
		}
	}
	hosts, err := inventory.Select(inv, names, all)
	if err != nil {
		return err
	}
	if len(hosts) == 0 {
		return errors.New(i18n.T("deploy.no_hosts"))
	}

	arc, err := archive.Build(s.Dir)
	if err != nil {
		return err
	}
	payload, err := arc.Encode(s.Options.Compression)
	if err != nil {
		return err
	}
	digest := archive.Digest(payload)
	logging.Debugf("%s", i18n.T("deploy.archive_built", arc.Len(), arc.Root(),
		humanize.Bytes(uint64(arc.Size())), humanize.Bytes(uint64(len(payload))), archive.ShortDigest(payload)))

	store, err := trust.Load(s.KnownHostsPath)
	if err != nil {
		return err
	}
	if store.Len() == 0 {
		logging.Infof("%s", i18n.T("deploy.known_hosts_empty", store.Path()))
	} else {
		logging.Debugf("trust: %d known host keys in %s", store.Len(), store.Path())
	}

	// Status lines and live output share the sink; with several workers
	// they must also share its lock.
	out := a.out
	if s.Options.Parallel > 1 {
		out = remote.Locked(out)
	}
	rep := newReporter(out, s.Options)
	o := deploy.New(newTransport(s.Options.ConnectTimeout), store, payload, s.Options)
	o.Out = out
	o.Digest = digest
	o.Reporter = rep
	if s.History.Enabled {
		h, err := db.Open(ctx, s.History.Type, s.History.DSN)
		if err != nil {
			// History is a convenience; it never blocks a deployment.
			logging.Warnf("deployment history unavailable: %v", err)
		} else {
			defer h.Close()
			o.Recorder = h
		}
	}

	summary, err := o.Run(ctx, hosts)
	if len(hosts) > 1 {
		rep.summary(summary)
	}
	return err
}

// pick asks the operator to choose hosts from inv.
func (a *app) pick(inv *inventory.Inventory) ([]string, error) {
	if !stdinIsTerminal() {
		return nil, errors.New(i18n.T("deploy.picker_needs_tty"))
	}
	hosts := inv.Hosts()
	items := make([]tui.Item, 0, len(hosts))
	for _, h := range hosts {
		items = append(items, tui.Item{Name: h.Name, Detail: h.User + "@" + h.Endpoint()})
	}
	names, err := pickHosts(items)
	if errors.Is(err, tui.ErrCancelled) {
		return nil, errors.New(i18n.T("deploy.picker_cancelled"))
	}
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, errors.New(i18n.T("deploy.no_hosts"))
	}
	return names, nil
}
