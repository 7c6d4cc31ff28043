// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

// Package remote runs single commands on an authenticated remote session and
// turns their merged output and exit status into results or errors.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/toeirei/nixdeploy/internal/logging"
)

// ErrTransport marks failures of the channel itself (open, copy, missing
// exit status), as opposed to a command that ran and failed.
var ErrTransport = errors.New("remote transport failure")

// Mode selects what happens with a command's merged output.
type Mode int

const (
	// Capture buffers the output and returns it trimmed, without echo.
	Capture Mode = iota
	// Passthrough copies the output to the live writer as it arrives.
	Passthrough
	// Dual does both; every byte reaches the live writer and the buffer.
	Dual
)

func (m Mode) String() string {
	switch m {
	case Capture:
		return "capture"
	case Passthrough:
		return "passthrough"
	case Dual:
		return "dual"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func (m Mode) captures() bool { return m == Capture || m == Dual }

// Executor opens one command channel per call. stdout and stderr of the
// command are both written to output, which is safe for concurrent use.
// stdin is copied in full and followed by EOF. The returned status is the
// remote exit status; err is reserved for transport failures.
type Executor interface {
	Exec(ctx context.Context, command string, stdin io.Reader, output io.Writer) (int, error)
}

// CommandResult is what a finished command produced.
type CommandResult struct {
	ExitStatus int
	Output     string
}

// RemoteExecError reports a command that exited non-zero.
type RemoteExecError struct {
	Command  string
	Status   int
	Output   string
	Captured bool
}

func (e *RemoteExecError) Error() string {
	if e.Captured {
		return fmt.Sprintf("`%s` returned exit status %d\noutput: %s", e.Command, e.Status, e.Output)
	}
	return fmt.Sprintf("`%s` returned exit status %d", e.Command, e.Status)
}

// Runner executes commands against an Executor.
type Runner struct {
	// Live receives Passthrough and Dual output. Defaults to os.Stdout.
	Live io.Writer
	// Timeout bounds each command. Zero disables the limit.
	Timeout time.Duration
}

// NewRunner returns a Runner streaming live output to w.
func NewRunner(w io.Writer, timeout time.Duration) *Runner {
	return &Runner{Live: w, Timeout: timeout}
}

func (r *Runner) live() io.Writer {
	if r.Live == nil {
		return os.Stdout
	}
	return r.Live
}

// Run executes command on exec, feeding stdin, and handles output per mode.
func (r *Runner) Run(ctx context.Context, exec Executor, command string, stdin []byte, mode Mode) (CommandResult, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	var buf bytes.Buffer
	var sink io.Writer
	switch mode {
	case Capture:
		sink = &buf
	case Passthrough:
		sink = r.live()
	case Dual:
		sink = &dualWriter{live: r.live(), capture: &buf}
	default:
		return CommandResult{}, fmt.Errorf("unsupported output mode %v", mode)
	}

	logging.Debugf("remote: running `%s` (%s, %d bytes stdin)", command, mode, len(stdin))
	start := time.Now()
	status, err := exec.Exec(ctx, command, bytes.NewReader(stdin), &syncWriter{w: sink})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w (%v)", ctxErr, err)
		}
		return CommandResult{ExitStatus: status}, fmt.Errorf("`%s`: %w", command, err)
	}
	logging.Debugf("remote: `%s` exited %d after %s", command, status, time.Since(start).Round(time.Millisecond))

	res := CommandResult{ExitStatus: status}
	if mode.captures() {
		res.Output = strings.TrimSpace(buf.String())
	}
	if status != 0 {
		return res, &RemoteExecError{Command: command, Status: status, Output: res.Output, Captured: mode.captures()}
	}
	return res, nil
}
