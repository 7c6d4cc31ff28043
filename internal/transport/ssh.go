// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

// Package transport is the SSH side of nixdeploy: it dials targets, runs the
// handshake with a caller-supplied host key check, authenticates through the
// local SSH agent and opens exec channels and SFTP sessions.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/toeirei/nixdeploy/internal/logging"
	"github.com/toeirei/nixdeploy/internal/remote"
	"golang.org/x/crypto/ssh"
)

const (
	// DefaultConnectionTimeout bounds TCP dial plus SSH handshake.
	DefaultConnectionTimeout = 10 * time.Second
	// DefaultHostKeyTimeout bounds a host key probe.
	DefaultHostKeyTimeout = 5 * time.Second
)

var (
	// ErrHostKeySuccessfullyRetrieved aborts a probe handshake once the key is known.
	ErrHostKeySuccessfullyRetrieved = errors.New("nixdeploy: successfully retrieved host key")
	// ErrNoAgent is reported alongside authentication failures when no agent was reachable.
	ErrNoAgent = errors.New("no ssh agent available (is SSH_AUTH_SOCK set?)")
)

// Package-level hooks, replaced in tests.
var (
	netDial        = (&net.Dialer{}).DialContext
	sshAgentGetter = getSSHAgent
	newSftpClient  = func(c *ssh.Client) (sftpClient, error) { return sftp.NewClient(c) }
)

// sftpClient is the subset of *sftp.Client used for uploads.
type sftpClient interface {
	OpenFile(path string, f int) (*sftp.File, error)
	Chmod(path string, mode os.FileMode) error
	Close() error
}

// HostKeyCheck decides about the key the server presented. Returning an
// error aborts the handshake before any authentication is attempted.
type HostKeyCheck func(key ssh.PublicKey) error

// Conn is an established TCP connection that has not been handshaken yet.
type Conn struct {
	addr    string
	nc      net.Conn
	timeout time.Duration
}

// Dial opens a TCP connection to addr ("ip:port").
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Conn, error) {
	if timeout <= 0 {
		timeout = DefaultConnectionTimeout
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	nc, err := netDial(dctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return &Conn{addr: addr, nc: nc, timeout: timeout}, nil
}

// Addr returns the dialed address.
func (c *Conn) Addr() string { return c.addr }

// Close releases the TCP connection. It is safe to call after Handshake
// failed; after a successful Handshake the Client owns the connection.
func (c *Conn) Close() error { return c.nc.Close() }

// Handshake runs the SSH key exchange, hands the presented host key to check
// and, if accepted, authenticates as user with the agent's identities.
func (c *Conn) Handshake(ctx context.Context, user string, check HostKeyCheck) (*Client, error) {
	ag, agentConn := sshAgentGetter()
	var auth []ssh.AuthMethod
	if ag != nil {
		auth = append(auth, ssh.PublicKeysCallback(ag.Signers))
	}

	config := &ssh.ClientConfig{
		User: user,
		Auth: auth,
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			return check(key)
		},
		Timeout: c.timeout,
	}

	// The deadline covers the whole handshake; ctx cancellation closes the socket.
	_ = c.nc.SetDeadline(time.Now().Add(c.timeout))
	stop := context.AfterFunc(ctx, func() { _ = c.nc.SetDeadline(time.Unix(1, 0)) })
	sc, chans, reqs, err := ssh.NewClientConn(c.nc, c.addr, config)
	stop()
	if err != nil {
		closeQuietly(agentConn)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ssh handshake with %s: %w", c.addr, ctx.Err())
		}
		if ag == nil && IsAuthError(err) {
			return nil, fmt.Errorf("ssh handshake with %s: %w: %w", c.addr, ErrNoAgent, err)
		}
		return nil, fmt.Errorf("ssh handshake with %s: %w", c.addr, err)
	}
	_ = c.nc.SetDeadline(time.Time{})

	return &Client{client: ssh.NewClient(sc, chans, reqs), addr: c.addr, agentConn: agentConn}, nil
}

// IsAuthError reports whether a handshake error was an authentication failure.
func IsAuthError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "unable to authenticate")
}

// Client is an authenticated SSH connection.
type Client struct {
	client    *ssh.Client
	addr      string
	agentConn io.Closer

	sftpOnce sync.Once
	sftp     sftpClient
	sftpErr  error
}

// Exec implements remote.Executor on top of an SSH session.
func (c *Client) Exec(ctx context.Context, command string, stdin io.Reader, output io.Writer) (int, error) {
	sess, err := c.client.NewSession()
	if err != nil {
		return -1, fmt.Errorf("%w: open session on %s: %v", remote.ErrTransport, c.addr, err)
	}
	defer sess.Close()

	sess.Stdin = stdin
	if output != nil {
		// stdout and stderr are copied by separate goroutines.
		output = remote.Locked(output)
		sess.Stdout = output
		sess.Stderr = output
	}
	if err := sess.Start(command); err != nil {
		return -1, fmt.Errorf("%w: start command on %s: %v", remote.ErrTransport, c.addr, err)
	}

	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGTERM)
		_ = sess.Close()
		<-done
		return -1, ctx.Err()
	}

	if err == nil {
		return 0, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}
	return -1, fmt.Errorf("%w: %s on %s: %v", remote.ErrTransport, command, c.addr, err)
}

// Upload writes data to a remote file through SFTP. The SFTP session is
// opened on first use and reused afterwards.
func (c *Client) Upload(ctx context.Context, remotePath string, data []byte) error {
	c.sftpOnce.Do(func() {
		c.sftp, c.sftpErr = newSftpClient(c.client)
	})
	if c.sftpErr != nil {
		return fmt.Errorf("%w: failed to create sftp client: %v", remote.ErrTransport, c.sftpErr)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := c.sftp.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("failed to create %s on remote: %w", remotePath, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s on remote: %w", remotePath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s on remote: %w", remotePath, err)
	}
	if err := c.sftp.Chmod(remotePath, 0o600); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", path.Base(remotePath), err)
	}
	return nil
}

// Close releases the SFTP session, the SSH connection and the agent socket.
// x/crypto/ssh has no way to send a disconnect reason, so closing the
// transport is the disconnect.
func (c *Client) Close() error {
	if c.sftp != nil {
		_ = c.sftp.Close()
	}
	closeQuietly(c.agentConn)
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// GetRemoteHostKey connects to addr just to retrieve its host key.
func GetRemoteHostKey(ctx context.Context, addr string, timeout time.Duration) (ssh.PublicKey, error) {
	if timeout <= 0 {
		timeout = DefaultHostKeyTimeout
	}
	conn, err := Dial(ctx, addr, timeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var key ssh.PublicKey
	config := &ssh.ClientConfig{
		// We don't need to authenticate for this, just start the handshake.
		User: "nixdeploy-probe",
		HostKeyCallback: func(_ string, _ net.Addr, k ssh.PublicKey) error {
			key = k
			return ErrHostKeySuccessfullyRetrieved
		},
		Timeout: timeout,
	}
	_ = conn.nc.SetDeadline(time.Now().Add(timeout))
	_, _, _, err = ssh.NewClientConn(conn.nc, addr, config)
	if key != nil {
		return key, nil
	}
	if err == nil {
		return nil, fmt.Errorf("ssh handshake with %s succeeded unexpectedly, could not retrieve key", addr)
	}
	return nil, fmt.Errorf("failed to retrieve host key from %s: %w", addr, err)
}

func closeQuietly(c io.Closer) {
	if c != nil {
		if err := c.Close(); err != nil {
			logging.Debugf("transport: close: %v", err)
		}
	}
}
