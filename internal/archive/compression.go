// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package archive

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how the tar stream is wrapped before transfer. The
// remote side needs the matching decompressor on PATH.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

// ParseCompression parses a compression name. The empty string means none.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return "", fmt.Errorf("unknown compression %q (expected none, zstd or lz4)", name)
	}
}

func (c Compression) String() string {
	if c == "" {
		return string(CompressionNone)
	}
	return string(c)
}

// UnmarshalText implements encoding.TextUnmarshaler for config decoding.
func (c *Compression) UnmarshalText(b []byte) error {
	v, err := ParseCompression(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Set implements pflag.Value.
func (c *Compression) Set(s string) error { return c.UnmarshalText([]byte(s)) }

// Type implements pflag.Value.
func (c *Compression) Type() string { return "compression" }

// Extension is the file suffix used when the stream is stored as a file.
func (c Compression) Extension() string {
	switch c {
	case CompressionZstd:
		return ".tar.zst"
	case CompressionLZ4:
		return ".tar.lz4"
	default:
		return ".tar"
	}
}

// decompressor returns the remote filter command, or "" for plain tar.
func (c Compression) decompressor() string {
	switch c {
	case CompressionZstd:
		return "zstd -dc"
	case CompressionLZ4:
		return "lz4 -dc"
	default:
		return ""
	}
}

// ExtractCommand returns the remote command that unpacks the stream read
// from stdin into dir. dir must already be shell-quoted.
func (c Compression) ExtractCommand(dir string) string {
	if d := c.decompressor(); d != "" {
		return fmt.Sprintf("%s | tar -C %s -xf -", d, dir)
	}
	return fmt.Sprintf("tar -C %s -xf -", dir)
}

// ExtractFileCommand unpacks an uploaded archive file into dir and removes
// the file afterwards. Both arguments must already be shell-quoted.
func (c Compression) ExtractFileCommand(dir, file string) string {
	if d := c.decompressor(); d != "" {
		return fmt.Sprintf("%s %s | tar -C %s -xf - && rm -f %s", d, file, dir, file)
	}
	return fmt.Sprintf("tar -C %s -xf %s && rm -f %s", dir, file, file)
}

// NewWriter wraps w with the compressor. Close must be called to flush.
func (c Compression) NewWriter(w io.Writer) (io.WriteCloser, error) {
	switch c {
	case CompressionZstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		return zw, nil
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	case "", CompressionNone:
		return nopCloser{w}, nil
	default:
		return nil, fmt.Errorf("unknown compression %q", string(c))
	}
}

// NewReader is the inverse of NewWriter.
func (c Compression) NewReader(r io.Reader) (io.Reader, error) {
	switch c {
	case CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		return zr.IOReadCloser(), nil
	case CompressionLZ4:
		return lz4.NewReader(r), nil
	case "", CompressionNone:
		return r, nil
	default:
		return nil, fmt.Errorf("unknown compression %q", string(c))
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
