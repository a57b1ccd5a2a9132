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
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var ErrChecksumMismatch = errors.New("checksum mismatch")

// Progress is a snapshot of a running download.
type Progress struct {
	BytesDownloaded int64
	TotalBytes      int64
	BytesPerSecond  float64
}

// Percent returns the completed share, or 0 when the size is unknown.
func (p Progress) Percent() float64 {
	if p.TotalBytes <= 0 {
		return 0
	}
	return float64(p.BytesDownloaded) / float64(p.TotalBytes) * 100
}

// ProgressFunc is invoked periodically while a download runs.
type ProgressFunc func(Progress)

// DownloadConfig describes one file to fetch.
type DownloadConfig struct {
	Logger     *slog.Logger
	Client     *http.Client
	OnProgress ProgressFunc
	URL        string
	DestDir    string
	// Filename defaults to the last path element of URL
	Filename string
	// SHA256 is the expected hex digest of the downloaded file. An
	// existing file that verifies is not downloaded again.
	SHA256 string
}

type progressWriter struct {
	writer      io.Writer
	onProgress  ProgressFunc
	startTime   time.Time
	lastReport  time.Time
	total       int64
	written     int64
	startOffset int64
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.writer.Write(p)
	pw.written += int64(n)
	now := time.Now()
	if pw.onProgress != nil && now.Sub(pw.lastReport) >= 500*time.Millisecond {
		pw.report(now)
		pw.lastReport = now
	}
	return n, err
}

func (pw *progressWriter) report(now time.Time) {
	var speed float64
	if elapsed := now.Sub(pw.startTime).Seconds(); elapsed > 0 {
		speed = float64(pw.written-pw.startOffset) / elapsed
	}
	pw.onProgress(Progress{
		BytesDownloaded: pw.written,
		TotalBytes:      pw.total,
		BytesPerSecond:  speed,
	})
}

// contentRange parses "bytes START-END/TOTAL" and "bytes */TOTAL". Missing
// parts are returned as -1.
func contentRange(header string) (start int64, total int64) {
	start, total = -1, -1
	after, found := strings.CutPrefix(header, "bytes ")
	if !found {
		return start, total
	}
	span, size, found := strings.Cut(after, "/")
	if !found {
		return start, total
	}
	if size != "*" {
		if v, err := strconv.ParseInt(size, 10, 64); err == nil {
			total = v
		}
	}
	if first, _, ok := strings.Cut(span, "-"); ok && first != "" {
		if v, err := strconv.ParseInt(first, 10, 64); err == nil {
			start = v
		}
	}
	return start, total
}

func httpsOnlyRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return errors.New("too many redirects")
	}
	if req.URL.Scheme != "https" {
		return fmt.Errorf("redirect to non-HTTPS URL blocked: %s", req.URL)
	}
	return nil
}

// Basename returns the file name a URL downloads to.
func Basename(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse download URL: %w", err)
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "", fmt.Errorf("download URL %s has no file name", rawURL)
	}
	return name, nil
}

// FileSHA256 returns the hex SHA-256 of the file at p.
func FileSHA256(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", p, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Download fetches cfg.URL into cfg.DestDir, resuming a partial file when
// the server honours range requests, and returns the file path.
func Download(ctx context.Context, cfg DownloadConfig) (string, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "bootstrap")
	if cfg.URL == "" {
		return "", errors.New("download URL is empty")
	}
	filename := cfg.Filename
	if filename == "" {
		var err error
		if filename, err = Basename(cfg.URL); err != nil {
			return "", err
		}
	}
	if err := os.MkdirAll(cfg.DestDir, 0o750); err != nil {
		return "", fmt.Errorf("creating download directory: %w", err)
	}
	destPath := filepath.Join(cfg.DestDir, filepath.Base(filename))

	var existingSize int64
	if fi, err := os.Stat(destPath); err == nil {
		existingSize = fi.Size()
		if cfg.SHA256 != "" {
			sum, err := FileSHA256(destPath)
			if err != nil {
				return "", err
			}
			if strings.EqualFold(sum, cfg.SHA256) {
				logger.Info("existing download verified", "path", destPath)
				return destPath, nil
			}
			logger.Info(
				"existing file does not verify, resuming download",
				"path", destPath,
				"bytes", existingSize,
			)
		}
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	// Copy so the redirect policy does not leak into the caller's client
	c := *client
	c.CheckRedirect = httpsOnlyRedirect

	resp, err := get(ctx, &c, cfg.URL, existingSize)
	if err != nil {
		return "", err
	}
	defer func() { resp.Body.Close() }()

	var totalSize int64
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	switch resp.StatusCode {
	case http.StatusOK:
		existingSize = 0
		if resp.ContentLength > 0 {
			totalSize = resp.ContentLength
		}
	case http.StatusPartialContent:
		start, _ := contentRange(resp.Header.Get("Content-Range"))
		if start != existingSize {
			logger.Warn(
				"Content-Range does not match partial file, restarting download",
				"expected_start", existingSize,
				"actual_start", start,
			)
			resp.Body.Close()
			existingSize = 0
			if resp, err = get(ctx, &c, cfg.URL, 0); err != nil {
				return "", err
			}
			if resp.StatusCode != http.StatusOK {
				return "", statusError(resp)
			}
			if resp.ContentLength > 0 {
				totalSize = resp.ContentLength
			}
			break
		}
		if resp.ContentLength > 0 {
			totalSize = existingSize + resp.ContentLength
		}
		flags = os.O_APPEND | os.O_WRONLY
		logger.Info(
			"resuming download",
			"existing_bytes", existingSize,
			"remaining_bytes", resp.ContentLength,
		)
	case http.StatusRequestedRangeNotSatisfiable:
		// The partial file is already complete
		_, total := contentRange(resp.Header.Get("Content-Range"))
		if total <= 0 || total != existingSize {
			_ = os.Remove(destPath)
			return "", fmt.Errorf(
				"server rejected resume of %s at %d bytes (total %d); partial file removed",
				destPath,
				existingSize,
				total,
			)
		}
		return destPath, verify(destPath, cfg.SHA256)
	default:
		return "", statusError(resp)
	}

	file, err := os.OpenFile(destPath, flags, 0o640)
	if err != nil {
		return "", fmt.Errorf("open destination file: %w", err)
	}
	logger.Info(
		"downloading archive",
		"url", cfg.URL,
		"total_bytes", totalSize,
		"destination", destPath,
	)
	pw := &progressWriter{
		writer:      file,
		onProgress:  cfg.OnProgress,
		total:       totalSize,
		written:     existingSize,
		startOffset: existingSize,
		startTime:   time.Now(),
	}
	if _, err := io.Copy(pw, resp.Body); err != nil {
		_ = file.Close()
		return "", fmt.Errorf("write archive data: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("close download file: %w", err)
	}
	if cfg.OnProgress != nil {
		pw.report(time.Now())
	}
	logger.Info("download complete", "bytes", pw.written, "path", destPath)
	return destPath, verify(destPath, cfg.SHA256)
}

func get(
	ctx context.Context,
	client *http.Client,
	rawURL string,
	offset int64,
) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	resp, err := client.Do(req) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("download archive: %w", err)
	}
	return resp, nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf(
		"download failed with status %d: %s",
		resp.StatusCode,
		strings.TrimSpace(string(body)),
	)
}

// verify checks the file against want. A failing file is removed so the
// next attempt starts over.
func verify(p string, want string) error {
	if want == "" {
		return nil
	}
	sum, err := FileSHA256(p)
	if err != nil {
		return err
	}
	if !strings.EqualFold(sum, want) {
		_ = os.Remove(p)
		return fmt.Errorf(
			"%w: %s has sha256 %s, expected %s",
			ErrChecksumMismatch,
			p,
			sum,
			want,
		)
	}
	return nil
}
