// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package remote

import (
	"bytes"
	"fmt"
	"io"
	"sync"
)

// syncWriter serializes writes so stdout and stderr copiers can share one
// sink. Each Write lands whole, so bytes of one source stay in order.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// dualWriter tees into the live stream and the capture buffer. Whatever the
// live stream accepted must also be accepted by the capture, or one of the
// sinks dropped data and the output can no longer be trusted.
type dualWriter struct {
	live    io.Writer
	capture io.Writer
	liveN   int64
	capN    int64
}

func (d *dualWriter) Write(p []byte) (int, error) {
	n, err := d.live.Write(p)
	m, _ := d.capture.Write(p[:n])
	d.liveN += int64(n)
	d.capN += int64(m)
	if d.liveN != d.capN {
		panic(fmt.Sprintf("remote: dual output diverged: %d bytes live, %d bytes captured", d.liveN, d.capN))
	}
	return n, err
}

// PrefixWriter prepends a prefix to every line written through it. Complete
// lines are forwarded with a single Write to the shared destination, so
// lines from concurrent hosts do not interleave mid-line.
type PrefixWriter struct {
	mu      sync.Mutex
	dst     io.Writer
	prefix  []byte
	pending []byte
}

// NewPrefixWriter wraps dst. dst should itself be safe for concurrent use
// when several PrefixWriters share it; see Locked.
func NewPrefixWriter(dst io.Writer, prefix string) *PrefixWriter {
	return &PrefixWriter{dst: dst, prefix: []byte(prefix)}
}

func (p *PrefixWriter) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, b...)
	for {
		i := bytes.IndexByte(p.pending, '\n')
		if i < 0 {
			break
		}
		line := make([]byte, 0, len(p.prefix)+i+1)
		line = append(line, p.prefix...)
		line = append(line, p.pending[:i+1]...)
		p.pending = p.pending[i+1:]
		if _, err := p.dst.Write(line); err != nil {
			return len(b), err
		}
	}
	return len(b), nil
}

// Flush writes any trailing partial line.
func (p *PrefixWriter) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return nil
	}
	line := append(append([]byte{}, p.prefix...), p.pending...)
	line = append(line, '\n')
	p.pending = nil
	_, err := p.dst.Write(line)
	return err
}

// Locked returns a writer that serializes writes to w. A writer that is
// already locked is returned unchanged, so everything sharing it also
// shares one mutex.
func Locked(w io.Writer) io.Writer {
	if sw, ok := w.(*syncWriter); ok {
		return sw
	}
	return &syncWriter{w: w}
}
