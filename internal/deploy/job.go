// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/toeirei/nixdeploy/internal/logging"
	"github.com/toeirei/nixdeploy/internal/model"
	"github.com/toeirei/nixdeploy/internal/remote"
	"github.com/toeirei/nixdeploy/internal/transport"
	"github.com/toeirei/nixdeploy/internal/trust"
	"golang.org/x/crypto/ssh"
)

// uploadName is the archive file name used with UploadSFTP, inside the temp dir.
const uploadName = ".nixdeploy-archive"

// Job is the deployment of a single host. It is owned by one goroutine.
type Job struct {
	Host   model.Host
	State  State
	TmpDir string

	o       *Orchestrator
	runner  *remote.Runner
	conn    Conn
	session Session

	verdict       trust.Verdict
	trustErr      error
	authenticated bool
	failedIn      State
	output        string
}

func newJob(o *Orchestrator, h model.Host, runner *remote.Runner) *Job {
	return &Job{Host: h, State: StatePending, o: o, runner: runner}
}

func (j *Job) setState(s State) {
	logging.Debugf("%s: %s -> %s", j.Host.Name, j.State, s)
	j.State = s
}

// connect opens the TCP connection.
func (j *Job) connect(ctx context.Context) error {
	j.setState(StateConnecting)
	conn, err := j.o.Transport.Dial(ctx, j.Host.Endpoint())
	if err != nil {
		return &TransportError{Endpoint: j.Host.Endpoint(), Err: err}
	}
	j.conn = conn
	return nil
}

// verifyKey is the host key check run during the handshake.
func (j *Job) verifyKey(key ssh.PublicKey) error {
	j.setState(StateVerifying)
	j.verdict = trust.Verify(j.o.Trust, j.Host.Aliases(), key)
	switch j.verdict {
	case trust.Match:
		j.setState(StateAuthenticating)
		return nil
	case trust.Mismatch:
		j.trustErr = &TrustMismatchError{Host: j.Host.Name, Fingerprint: ssh.FingerprintSHA256(key)}
	case trust.NotFound:
		j.trustErr = errNotTrusted
	default:
		j.trustErr = &TrustCheckError{Host: j.Host.Name, Err: j.storeErr()}
	}
	return ErrHostKeyRejected
}

func (j *Job) storeErr() error {
	for _, alias := range j.Host.Aliases() {
		if _, err := j.o.Trust.Lookup(alias); err != nil {
			return err
		}
	}
	return nil
}

// authenticate runs the handshake. Verification happens inside it, before
// any credential is offered.
func (j *Job) authenticate(ctx context.Context) error {
	sess, err := j.conn.Handshake(ctx, j.Host.User, j.verifyKey)
	if err != nil {
		if j.trustErr != nil {
			return j.trustErr
		}
		if j.State == StateAuthenticating && transport.IsAuthError(err) {
			return &AuthenticationError{User: j.Host.User, Err: err}
		}
		return &TransportError{Endpoint: j.Host.Endpoint(), Err: err}
	}
	if j.verdict != trust.Match {
		// A Conn that skipped the host key check must never be used.
		_ = sess.Close()
		return &TrustCheckError{Host: j.Host.Name, Err: errors.New("host key was not verified")}
	}
	j.session = sess
	j.authenticated = true
	return nil
}

// upload creates the temp dir and unpacks the archive into it.
func (j *Job) upload(ctx context.Context) error {
	j.setState(StateUploading)
	res, err := j.runner.Run(ctx, j.session, "mktemp -d", nil, remote.Capture)
	if err != nil {
		return err
	}
	if res.Output == "" || strings.ContainsAny(res.Output, "\r\n") {
		return fmt.Errorf("`mktemp -d` returned unusable path %q", res.Output)
	}
	j.TmpDir = res.Output

	comp := j.o.Options.Compression
	dir := shellQuote(j.TmpDir)
	if j.o.Options.Upload == UploadSFTP {
		file := path.Join(j.TmpDir, uploadName+comp.Extension())
		if err := j.session.Upload(ctx, file, j.o.Payload); err != nil {
			return err
		}
		_, err = j.runner.Run(ctx, j.session, comp.ExtractFileCommand(dir, shellQuote(file)), nil, remote.Capture)
		return err
	}
	_, err = j.runner.Run(ctx, j.session, comp.ExtractCommand(dir), j.o.Payload, remote.Capture)
	return err
}

// RebuildCommand is the command run on the target for action and dir.
func RebuildCommand(action model.RebuildAction, dir string, sudo bool) string {
	cmd := fmt.Sprintf("nixos-rebuild %s --flake %s -L", action, shellQuote(dir))
	if sudo {
		return "sudo " + cmd
	}
	return cmd
}

// rebuild runs nixos-rebuild against the unpacked flake.
func (j *Job) rebuild(ctx context.Context) error {
	j.setState(StateRebuilding)
	mode := remote.Dual
	if j.o.Options.Quiet {
		mode = remote.Capture
	}
	res, err := j.runner.Run(ctx, j.session, RebuildCommand(j.o.Options.Action, j.TmpDir, j.o.Options.Sudo), nil, mode)
	j.output = res.Output
	return err
}

// cleanup removes the temp dir if one was created. It runs even when the
// run was cancelled.
func (j *Job) cleanup(ctx context.Context) error {
	if j.TmpDir == "" {
		return nil
	}
	j.setState(StateCleaningUp)
	_, err := j.runner.Run(context.WithoutCancel(ctx), j.session, "rm -r "+shellQuote(j.TmpDir), nil, remote.Capture)
	return err
}

// disconnect closes whatever is open.
func (j *Job) disconnect() {
	if j.session != nil {
		if err := j.session.Close(); err != nil {
			logging.Debugf("%s: close session: %v", j.Host.Name, err)
		}
		j.session = nil
		j.conn = nil
	}
	if j.conn != nil {
		_ = j.conn.Close()
		j.conn = nil
	}
	if j.State != StateFailed && j.State != StateSkipped {
		j.setState(StateDisconnected)
	}
}

func (j *Job) fail(err error) error {
	j.failedIn = j.State
	j.setState(StateFailed)
	return &HostError{Host: j.Host, State: j.failedIn, Err: err}
}

// Run drives the job through all states. A nil error with State
// StateSkipped means the host key was unknown.
func (j *Job) Run(ctx context.Context) error {
	defer j.disconnect()

	if err := j.connect(ctx); err != nil {
		return j.fail(err)
	}
	if err := j.authenticate(ctx); err != nil {
		if errors.Is(err, errNotTrusted) {
			j.setState(StateSkipped)
			return nil
		}
		return j.fail(err)
	}

	err := j.upload(ctx)
	if err == nil {
		err = j.rebuild(ctx)
	}
	failedIn := j.State
	if cerr := j.cleanup(ctx); cerr != nil {
		if err == nil {
			return j.fail(cerr)
		}
		logging.Warnf("%s: cleanup of %s failed: %v", j.Host.Name, j.TmpDir, cerr)
	}
	if err != nil {
		j.State = failedIn
		return j.fail(err)
	}
	return nil
}
