// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/toeirei/nixdeploy/internal/testutil"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

func useAgent(t *testing.T, ag agent.Agent) {
	t.Helper()
	orig := sshAgentGetter
	sshAgentGetter = func() (agent.Agent, io.Closer) { return ag, nil }
	t.Cleanup(func() { sshAgentGetter = orig })
}

func acceptKey(want ssh.PublicKey) HostKeyCheck {
	return func(key ssh.PublicKey) error {
		if !bytes.Equal(key.Marshal(), want.Marshal()) {
			return errors.New("unexpected host key")
		}
		return nil
	}
}

func connect(t *testing.T, srv *testutil.SSHServer) *Client {
	t.Helper()
	useAgent(t, srv.Agent())
	conn, err := Dial(context.Background(), srv.Addr, 2*time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	client, err := conn.Handshake(context.Background(), srv.User, acceptKey(srv.HostKey.PublicKey()))
	if err != nil {
		conn.Close()
		t.Fatalf("Handshake: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestExec_MergesStdoutAndStderr(t *testing.T) {
	srv := testutil.NewSSHServer(t, func(cmd string, stdin io.Reader, stdout, stderr io.Writer) int {
		fmt.Fprint(stdout, "out ")
		fmt.Fprint(stderr, "err")
		return 0
	})
	client := connect(t, srv)

	// A bare buffer is not safe for the two copiers on its own.
	const runs = 20
	for i := 0; i < runs; i++ {
		var buf bytes.Buffer
		status, err := client.Exec(context.Background(), "echo hi", nil, &buf)
		if err != nil || status != 0 {
			t.Fatalf("Exec = %d, %v", status, err)
		}
		out := buf.String()
		if !strings.Contains(out, "out") || !strings.Contains(out, "err") {
			t.Fatalf("run %d: merged output = %q", i, out)
		}
	}
	if got := srv.Commands(); len(got) != runs || got[0] != "echo hi" {
		t.Fatalf("commands = %q", got)
	}
}

func TestExec_NonZeroExitIsNotAnError(t *testing.T) {
	srv := testutil.NewSSHServer(t, func(string, io.Reader, io.Writer, io.Writer) int { return 3 })
	client := connect(t, srv)

	status, err := client.Exec(context.Background(), "false", nil, io.Discard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != 3 {
		t.Fatalf("status = %d, want 3", status)
	}
}

func TestExec_ForwardsStdin(t *testing.T) {
	srv := testutil.NewSSHServer(t, func(cmd string, stdin io.Reader, stdout, stderr io.Writer) int {
		data, _ := io.ReadAll(stdin)
		fmt.Fprintf(stdout, "%d", len(data))
		return 0
	})
	client := connect(t, srv)

	payload := bytes.Repeat([]byte("x"), 100000)
	var buf bytes.Buffer
	if _, err := client.Exec(context.Background(), "cat", bytes.NewReader(payload), &buf); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if buf.String() != "100000" {
		t.Fatalf("remote saw %q bytes", buf.String())
	}
}

func TestExec_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	srv := testutil.NewSSHServer(t, func(string, io.Reader, io.Writer, io.Writer) int {
		<-release
		return 0
	})
	client := connect(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.Exec(ctx, "sleep 100", nil, io.Discard)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestHandshake_RejectedHostKeyStopsBeforeAuth(t *testing.T) {
	srv := testutil.NewSSHServer(t, func(string, io.Reader, io.Writer, io.Writer) int { return 0 })
	useAgent(t, srv.Agent())

	conn, err := Dial(context.Background(), srv.Addr, 2*time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	var seen ssh.PublicKey
	rejected := errors.New("rejected")
	_, err = conn.Handshake(context.Background(), srv.User, func(key ssh.PublicKey) error {
		seen = key
		return rejected
	})
	if err == nil {
		t.Fatalf("expected handshake to fail")
	}
	if IsAuthError(err) {
		t.Fatalf("host key rejection reported as auth error: %v", err)
	}
	if seen == nil || !bytes.Equal(seen.Marshal(), srv.HostKey.PublicKey().Marshal()) {
		t.Fatalf("check did not receive the server host key")
	}
}

func TestHandshake_NoAgent(t *testing.T) {
	srv := testutil.NewSSHServer(t, func(string, io.Reader, io.Writer, io.Writer) int { return 0 })
	useAgent(t, nil)

	conn, err := Dial(context.Background(), srv.Addr, 2*time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	_, err = conn.Handshake(context.Background(), srv.User, acceptKey(srv.HostKey.PublicKey()))
	if !errors.Is(err, ErrNoAgent) {
		t.Fatalf("err = %v, want ErrNoAgent", err)
	}
	if !IsAuthError(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestHandshake_WrongUserFailsAuth(t *testing.T) {
	srv := testutil.NewSSHServer(t, func(string, io.Reader, io.Writer, io.Writer) int { return 0 })
	useAgent(t, srv.Agent())

	conn, err := Dial(context.Background(), srv.Addr, 2*time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	_, err = conn.Handshake(context.Background(), "intruder", acceptKey(srv.HostKey.PublicKey()))
	if !IsAuthError(err) {
		t.Fatalf("err = %v, want auth error", err)
	}
}

func TestUpload_WritesFileViaSFTP(t *testing.T) {
	srv := testutil.NewSSHServer(t, func(string, io.Reader, io.Writer, io.Writer) int { return 0 })
	client := connect(t, srv)

	dst := filepath.Join(t.TempDir(), "flake.tar")
	data := []byte("archive bytes")
	if err := client.Upload(context.Background(), dst, data); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read uploaded file: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("uploaded = %q", got)
	}
	if fi, err := os.Stat(dst); err != nil || fi.Mode().Perm() != 0o600 {
		t.Fatalf("mode = %v, %v", fi.Mode(), err)
	}
}

func TestGetRemoteHostKey(t *testing.T) {
	srv := testutil.NewSSHServer(t, func(string, io.Reader, io.Writer, io.Writer) int { return 0 })

	key, err := GetRemoteHostKey(context.Background(), srv.Addr, time.Second)
	if err != nil {
		t.Fatalf("GetRemoteHostKey: %v", err)
	}
	if !bytes.Equal(key.Marshal(), srv.HostKey.PublicKey().Marshal()) {
		t.Fatalf("probe returned a different key")
	}
	if len(srv.Commands()) != 0 {
		t.Fatalf("probe must not run commands")
	}
}

func TestDial_Unreachable(t *testing.T) {
	// Port 1 on loopback is closed in test environments.
	if _, err := Dial(context.Background(), "127.0.0.1:1", 500*time.Millisecond); err == nil {
		t.Fatalf("expected dial error")
	}
}
