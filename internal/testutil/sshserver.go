// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

// Package testutil provides an in-process SSH server and agent for tests.
package testutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// ExecHandler serves one exec request and returns its exit status.
type ExecHandler func(command string, stdin io.Reader, stdout, stderr io.Writer) int

// SSHServer is a minimal SSH server listening on 127.0.0.1. It accepts
// public key auth for the identities in its agent and serves exec requests
// and the sftp subsystem.
type SSHServer struct {
	Addr    string
	HostKey ssh.Signer
	User    string

	handler  ExecHandler
	listener net.Listener
	agent    agent.Agent
	clientPK ssh.PublicKey

	mu       sync.Mutex
	commands []string
	wg       sync.WaitGroup
}

// NewSignerT generates a fresh ed25519 signer.
func NewSignerT(t testing.TB) (ssh.Signer, ed25519.PrivateKey) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return signer, priv
}

// NewSSHServer starts a server that runs handler for every exec request.
// The server is stopped when the test ends.
func NewSSHServer(t testing.TB, handler ExecHandler) *SSHServer {
	t.Helper()
	hostKey, _ := NewSignerT(t)
	clientSigner, clientPriv := NewSignerT(t)

	keyring := agent.NewKeyring()
	if err := keyring.Add(agent.AddedKey{PrivateKey: clientPriv}); err != nil {
		t.Fatalf("agent add: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &SSHServer{
		Addr:     ln.Addr().String(),
		HostKey:  hostKey,
		User:     "deploy",
		handler:  handler,
		listener: ln,
		agent:    keyring,
		clientPK: clientSigner.PublicKey(),
	}

	s.wg.Add(1)
	go s.serve()
	t.Cleanup(func() {
		_ = ln.Close()
		s.wg.Wait()
	})
	return s
}

// Agent returns an agent holding the only identity the server accepts.
func (s *SSHServer) Agent() agent.Agent { return s.agent }

// Commands returns the exec commands received so far, in order.
func (s *SSHServer) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *SSHServer) serve() {
	defer s.wg.Done()
	config := &ssh.ServerConfig{
		PublicKeyCallback: func(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if meta.User() == s.User && string(key.Marshal()) == string(s.clientPK.Marshal()) {
				return nil, nil
			}
			return nil, errUnauthorized
		},
	}
	config.AddHostKey(s.HostKey)

	for {
		nc, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(nc, config)
		}()
	}
}

func (s *SSHServer) handleConn(nc net.Conn, config *ssh.ServerConfig) {
	defer nc.Close()
	sc, chans, reqs, err := ssh.NewServerConn(nc, config)
	if err != nil {
		return
	}
	defer sc.Close()
	go ssh.DiscardRequests(reqs)

	for nch := range chans {
		if nch.ChannelType() != "session" {
			_ = nch.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		ch, chReqs, err := nch.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(ch, chReqs)
	}
}

func (s *SSHServer) handleSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer ch.Close()
	for req := range reqs {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			s.mu.Lock()
			s.commands = append(s.commands, payload.Command)
			s.mu.Unlock()

			status := s.handler(payload.Command, ch, ch, ch.Stderr())
			// Drain stdin so the client's copy sees EOF before the channel closes.
			_, _ = io.Copy(io.Discard, ch)
			sendExitStatus(ch, status)
			return
		case "subsystem":
			var payload struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			server, err := sftp.NewServer(ch)
			if err != nil {
				return
			}
			_ = server.Serve()
			_ = server.Close()
			return
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func sendExitStatus(ch ssh.Channel, status int) {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(status))
	_, _ = ch.SendRequest("exit-status", false, payload)
}

var errUnauthorized = errors.New("unauthorized")
