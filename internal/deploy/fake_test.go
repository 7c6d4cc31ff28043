// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"strings"
	"sync"
	"testing"

	"github.com/toeirei/nixdeploy/internal/model"
	"github.com/toeirei/nixdeploy/internal/testutil"
	"github.com/toeirei/nixdeploy/internal/transport"
	"github.com/toeirei/nixdeploy/internal/trust"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const fakeTmp = "/tmp/tmp.nixdeploy"

// fakeHost scripts one target.
type fakeHost struct {
	key     ssh.PublicKey
	dialErr error
	authErr error
	// handler overrides the default command behaviour when it returns ok.
	handler func(cmd string, stdin []byte) (out string, status int, ok bool)
}

type execCall struct {
	Command string
	Stdin   []byte
}

type fakeTransport struct {
	mu      sync.Mutex
	hosts   map[string]*fakeHost
	dialed  []string
	calls   map[string][]execCall
	uploads map[string][]byte
	closed  map[string]int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		hosts:   map[string]*fakeHost{},
		calls:   map[string][]execCall{},
		uploads: map[string][]byte{},
		closed:  map[string]int{},
	}
}

func (f *fakeTransport) Dial(ctx context.Context, endpoint string) (Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialed = append(f.dialed, endpoint)
	h, ok := f.hosts[endpoint]
	if !ok {
		return nil, fmt.Errorf("dial tcp %s: connection refused", endpoint)
	}
	if h.dialErr != nil {
		return nil, h.dialErr
	}
	return &fakeConn{t: f, endpoint: endpoint, host: h}, nil
}

func (f *fakeTransport) commands(endpoint string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls[endpoint] {
		out = append(out, c.Command)
	}
	return out
}

func (f *fakeTransport) dialedEndpoints() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dialed...)
}

type fakeConn struct {
	t        *fakeTransport
	endpoint string
	host     *fakeHost
}

func (c *fakeConn) Handshake(ctx context.Context, user string, check transport.HostKeyCheck) (Session, error) {
	if err := check(c.host.key); err != nil {
		return nil, fmt.Errorf("ssh: handshake failed: %w", err)
	}
	if c.host.authErr != nil {
		return nil, c.host.authErr
	}
	return &fakeSession{conn: c}, nil
}

func (c *fakeConn) Close() error {
	c.t.mu.Lock()
	defer c.t.mu.Unlock()
	c.t.closed[c.endpoint]++
	return nil
}

type fakeSession struct {
	conn *fakeConn
}

func (s *fakeSession) Exec(ctx context.Context, command string, stdin io.Reader, output io.Writer) (int, error) {
	data, _ := io.ReadAll(stdin)
	t := s.conn.t
	t.mu.Lock()
	t.calls[s.conn.endpoint] = append(t.calls[s.conn.endpoint], execCall{Command: command, Stdin: data})
	t.mu.Unlock()

	if h := s.conn.host.handler; h != nil {
		if out, status, ok := h(command, data); ok {
			io.WriteString(output, out)
			return status, nil
		}
	}
	switch {
	case command == "mktemp -d":
		io.WriteString(output, fakeTmp+"\n")
	case strings.HasPrefix(command, "sudo nixos-rebuild"), strings.HasPrefix(command, "nixos-rebuild"):
		io.WriteString(output, "building the system configuration...\nactivating\n")
	}
	return 0, nil
}

func (s *fakeSession) Upload(ctx context.Context, path string, data []byte) error {
	t := s.conn.t
	t.mu.Lock()
	defer t.mu.Unlock()
	t.uploads[path] = append([]byte(nil), data...)
	return nil
}

func (s *fakeSession) Close() error { return s.conn.Close() }

// recordingReporter keeps events in order.
type recordingReporter struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingReporter) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *recordingReporter) Started(h model.Host) { r.add("start " + h.Name) }
func (r *recordingReporter) Skipped(h model.Host) { r.add("skip " + h.Name) }
func (r *recordingReporter) Finished(h model.Host, err error) {
	if err != nil {
		r.add("fail " + h.Name)
		return
	}
	r.add("done " + h.Name)
}

type memRecorder struct {
	mu      sync.Mutex
	records []model.DeploymentRecord
}

func (m *memRecorder) Record(ctx context.Context, rec model.DeploymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

// fixture bundles a fake transport with a known_hosts snapshot.
type fixture struct {
	t     *testing.T
	tr    *fakeTransport
	lines []string
	out   bytes.Buffer
	rep   recordingReporter
	rec   memRecorder
	opts  Options
	hosts map[string]model.Host
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{t: t, tr: newFakeTransport(), opts: DefaultOptions(), hosts: map[string]model.Host{}}
	return f
}

// addHost registers name at addr with a fresh key. trusted adds the key to
// known_hosts under the bare address.
func (f *fixture) addHost(name, addr string, trusted bool) *fakeHost {
	f.t.Helper()
	signer, _ := testutil.NewSignerT(f.t)
	h := model.Host{Name: name, Address: netip.MustParseAddr(addr), Port: 22, User: "root"}
	fh := &fakeHost{key: signer.PublicKey()}
	f.tr.hosts[h.Endpoint()] = fh
	f.hosts[name] = h
	if trusted {
		f.lines = append(f.lines, knownhosts.Line([]string{addr}, fh.key))
	}
	return fh
}

func (f *fixture) store() trust.Store {
	f.t.Helper()
	kh, err := trust.Parse(strings.NewReader(strings.Join(f.lines, "\n")))
	if err != nil {
		f.t.Fatalf("parse known_hosts: %v", err)
	}
	return kh
}

func (f *fixture) orchestrator(payload []byte) *Orchestrator {
	o := New(f.tr, f.store(), payload, f.opts)
	o.Out = &f.out
	o.Reporter = &f.rep
	o.Recorder = &f.rec
	o.Digest = "digest"
	return o
}

func (f *fixture) run(names ...string) (Summary, error) {
	var hosts []model.Host
	for _, n := range names {
		hosts = append(hosts, f.hosts[n])
	}
	return f.orchestrator([]byte("tar-bytes")).Run(context.Background(), hosts)
}

func authFailure() error {
	return errors.New("ssh: handshake failed: ssh: unable to authenticate, attempted methods [none publickey], no supported methods remain")
}
