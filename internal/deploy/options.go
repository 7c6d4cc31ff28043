// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"fmt"
	"time"

	"github.com/toeirei/nixdeploy/internal/archive"
	"github.com/toeirei/nixdeploy/internal/model"
)

// UploadMode selects how the archive reaches the target.
type UploadMode string

const (
	// UploadStdin streams the archive into the extraction command.
	UploadStdin UploadMode = "stdin"
	// UploadSFTP writes the archive into the temp dir first.
	UploadSFTP UploadMode = "sftp"
)

func (m UploadMode) String() string { return string(m) }

// UnmarshalText accepts "stdin" or "sftp"; empty means stdin.
func (m *UploadMode) UnmarshalText(b []byte) error {
	switch v := UploadMode(b); v {
	case "", UploadStdin:
		*m = UploadStdin
	case UploadSFTP:
		*m = UploadSFTP
	default:
		return fmt.Errorf("invalid upload mode %q (want stdin or sftp)", string(b))
	}
	return nil
}

func (m *UploadMode) Set(s string) error { return m.UnmarshalText([]byte(s)) }
func (m *UploadMode) Type() string       { return "mode" }

// ErrorPolicy decides what happens to the remaining hosts after a failure.
type ErrorPolicy string

const (
	// PolicyAbort stops scheduling hosts after the first failure.
	PolicyAbort ErrorPolicy = "abort"
	// PolicyContinue deploys every host and reports failures at the end.
	PolicyContinue ErrorPolicy = "continue"
)

func (p ErrorPolicy) String() string { return string(p) }

// UnmarshalText accepts "abort" or "continue"; empty means abort.
func (p *ErrorPolicy) UnmarshalText(b []byte) error {
	switch v := ErrorPolicy(b); v {
	case "", PolicyAbort:
		*p = PolicyAbort
	case PolicyContinue:
		*p = PolicyContinue
	default:
		return fmt.Errorf("invalid error policy %q (want abort or continue)", string(b))
	}
	return nil
}

func (p *ErrorPolicy) Set(s string) error { return p.UnmarshalText([]byte(s)) }
func (p *ErrorPolicy) Type() string       { return "policy" }

// Options controls a deployment run.
type Options struct {
	Action      model.RebuildAction
	Quiet       bool
	Sudo        bool
	Upload      UploadMode
	Compression archive.Compression
	Parallel    int
	OnError     ErrorPolicy
	// ConnectTimeout bounds dial plus handshake.
	ConnectTimeout time.Duration
	// CommandTimeout bounds each remote command. Zero disables it.
	CommandTimeout time.Duration
}

// DefaultOptions mirrors the command line defaults.
func DefaultOptions() Options {
	return Options{
		Action:         model.ActionSwitch,
		Sudo:           true,
		Upload:         UploadStdin,
		Compression:    archive.CompressionNone,
		Parallel:       1,
		OnError:        PolicyAbort,
		ConnectTimeout: 10 * time.Second,
	}
}

func (o Options) workers() int {
	if o.Parallel < 1 {
		return 1
	}
	return o.Parallel
}
