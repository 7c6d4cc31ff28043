// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"context"
	"time"

	"github.com/toeirei/nixdeploy/internal/remote"
	"github.com/toeirei/nixdeploy/internal/transport"
)

// Transport opens connections to deployment targets.
type Transport interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// Conn is a connected but not yet handshaken target. Handshake must call
// check with the presented host key before authenticating.
type Conn interface {
	Handshake(ctx context.Context, user string, check transport.HostKeyCheck) (Session, error)
	Close() error
}

// Session is an authenticated connection.
type Session interface {
	remote.Executor
	Upload(ctx context.Context, path string, data []byte) error
	Close() error
}

// SSHTransport is the production Transport built on the transport package.
type SSHTransport struct {
	ConnectTimeout time.Duration
}

// Dial implements Transport.
func (t SSHTransport) Dial(ctx context.Context, endpoint string) (Conn, error) {
	c, err := transport.Dial(ctx, endpoint, t.ConnectTimeout)
	if err != nil {
		return nil, err
	}
	return sshConn{c}, nil
}

type sshConn struct {
	*transport.Conn
}

func (c sshConn) Handshake(ctx context.Context, user string, check transport.HostKeyCheck) (Session, error) {
	client, err := c.Conn.Handshake(ctx, user, check)
	if err != nil {
		return nil, err
	}
	return client, nil
}
