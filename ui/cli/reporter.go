// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/toeirei/nixdeploy/internal/deploy"
	"github.com/toeirei/nixdeploy/internal/i18n"
	"github.com/toeirei/nixdeploy/internal/model"
)

var (
	hostStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("81")).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("40"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// reporter prints per-host status lines. In quiet sequential mode the
// "deploying <host>... " prefix and the verdict share one line; with
// several workers every event is a whole line of its own.
type reporter struct {
	mu       sync.Mutex
	w        io.Writer
	quiet    bool
	parallel bool
}

var _ deploy.Reporter = (*reporter)(nil)

func newReporter(w io.Writer, opts deploy.Options) *reporter {
	return &reporter{w: w, quiet: opts.Quiet, parallel: opts.Parallel > 1}
}

func (r *reporter) deploying(h model.Host) string {
	return i18n.T("deploy.deploying", hostStyle.Render(h.Name))
}

func (r *reporter) Started(h model.Host) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.quiet && r.parallel:
	case r.quiet:
		fmt.Fprint(r.w, r.deploying(h)+" ")
	default:
		fmt.Fprintln(r.w, r.deploying(h))
	}
}

func (r *reporter) Skipped(h model.Host) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verdict(h, warnStyle.Render(i18n.T("deploy.skipped")))
	fmt.Fprintln(r.w, warnStyle.Render(i18n.T("deploy.not_trusted", h.Name)))
}

func (r *reporter) Finished(h model.Host, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		r.verdict(h, successStyle.Render(i18n.T("deploy.done")))
		return
	}
	r.verdict(h, errorStyle.Render(i18n.T("deploy.failed", hostCause(err))))
}

// verdict completes the status line of h.
func (r *reporter) verdict(h model.Host, text string) {
	switch {
	case r.quiet && !r.parallel:
		fmt.Fprintln(r.w, text)
	case r.quiet:
		fmt.Fprintln(r.w, r.deploying(h)+" "+text)
	default:
		fmt.Fprintln(r.w, hostStyle.Render(h.Name)+": "+text)
	}
}

// summary prints the totals of a multi-host run.
func (r *reporter) summary(s deploy.Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.w, subtleStyle.Render(i18n.T("deploy.summary",
		s.Count(model.StatusSuccess), s.Count(model.StatusSkipped), s.Count(model.StatusFailed))))
}

// hostCause strips the host name from a HostError; the status line
// already names the host.
func hostCause(err error) error {
	var he *deploy.HostError
	if errors.As(err, &he) && he.Err != nil {
		return fmt.Errorf("%s: %w", he.State, he.Err)
	}
	return err
}
