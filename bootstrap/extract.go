// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// maxDecompressedSize caps the size of a decompressed archive (1 TiB).
const maxDecompressedSize = 1 << 40

var ErrTooLarge = errors.New("decompressed archive exceeds maximum size")

// Compression returns the compression suffix of p: ".gz", ".zst" or "".
func Compression(p string) string {
	switch ext := strings.ToLower(filepath.Ext(p)); ext {
	case ".gz", ".zst":
		return ext
	default:
		return ""
	}
}

// Decompress expands a .gz or .zst file next to itself and returns the
// path of the result. Other files are returned unchanged.
func Decompress(ctx context.Context, src string) (string, error) {
	ext := Compression(src)
	if ext == "" {
		return src, nil
	}
	dst := strings.TrimSuffix(src, filepath.Ext(src))
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open compressed archive: %w", err)
	}
	defer in.Close()

	var r io.Reader
	switch ext {
	case ".gz":
		gz, err := gzip.NewReader(in)
		if err != nil {
			return "", fmt.Errorf("create gzip reader: %w", err)
		}
		defer gz.Close()
		r = gz
	case ".zst":
		zr, err := zstd.NewReader(in)
		if err != nil {
			return "", fmt.Errorf("create zstd reader: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	tmp := dst + ".partial"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return "", fmt.Errorf("create decompressed archive: %w", err)
	}
	written, err := io.Copy(
		out,
		io.LimitReader(&ctxReader{ctx: ctx, r: r}, maxDecompressedSize+1),
	)
	closeErr := out.Close()
	if err == nil && written > maxDecompressedSize {
		err = ErrTooLarge
	}
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("decompress %s: %w", src, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("move decompressed archive: %w", err)
	}
	return dst, nil
}

// ctxReader stops a long copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
