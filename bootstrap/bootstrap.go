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

// Package bootstrap fetches a prebuilt block archive for a known chain so
// regeneration can start without a node.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	ArchiveFileName = "reindexer-archive.sqlite"
	homeDirName     = "reindexer"
)

var ErrUnknownChain = errors.New("no known archive for chain")

// KnownArchive is a published archive for a chain.
type KnownArchive struct {
	ChainID string
	URL     string
	SHA256  string
}

// KnownArchives lists the archives bootstrap can fetch without overrides.
// Every chain listed here must be replayable with upgrade.DefaultCompatibility.
var KnownArchives = []KnownArchive{
	{
		ChainID: "penumbra-1",
		URL:     "https://artifacts.plinfra.net/penumbra-1/reindexer-archive-height-5598447.sqlite.gz",
		SHA256:  "ee430e6087f8864dbc08ceb3150cb2ee0363a53e7c79bfb00413f46c6f802f24",
	},
	{
		ChainID: "penumbra-testnet-phobos-2",
		URL:     "https://artifacts.plinfra.net/penumbra-testnet-phobos-2/reindexer_archive-height-3352529.sqlite",
		SHA256:  "ab641c062aebfb389e3304fff7cbb6cdf45ce6094accbfab9cad76672e05fb51",
	},
}

// Lookup returns the known archive of chainID.
func Lookup(chainID string) (KnownArchive, error) {
	for _, known := range KnownArchives {
		if known.ChainID == chainID {
			return known, nil
		}
	}
	return KnownArchive{}, fmt.Errorf("%w %q", ErrUnknownChain, chainID)
}

// DefaultHome is ~/.local/share/reindexer.
func DefaultHome() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("look up home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", homeDirName), nil
}

// ArchivePath is the default archive file of chainID under home.
func ArchivePath(home, chainID string) string {
	return filepath.Join(home, chainID, ArchiveFileName)
}

// Config describes one bootstrap run.
type Config struct {
	Logger     *slog.Logger
	Client     *http.Client
	OnProgress ProgressFunc
	ChainID    string
	// Home holds downloads under <home>/<chain id>
	Home string
	// ArchiveFile defaults to ArchivePath(Home, ChainID)
	ArchiveFile string
	// URL and SHA256 override the known archive of ChainID
	URL    string
	SHA256 string
	// Force replaces an existing archive file
	Force bool
}

// Result reports what a run did.
type Result struct {
	ArchiveFile string
	Downloaded  string
	Installed   bool
}

// Run downloads, verifies and decompresses the archive, then installs it
// as the archive file. An existing archive file is kept unless Force is
// set.
func Run(ctx context.Context, cfg Config) (Result, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "bootstrap", "chain_id", cfg.ChainID)
	src := KnownArchive{ChainID: cfg.ChainID, URL: cfg.URL, SHA256: cfg.SHA256}
	if src.URL == "" {
		known, err := Lookup(cfg.ChainID)
		if err != nil {
			return Result{}, err
		}
		src = known
		if cfg.SHA256 != "" {
			src.SHA256 = cfg.SHA256
		}
	}
	if src.SHA256 == "" {
		logger.Warn("no checksum configured, download will not be verified")
	}
	home := cfg.Home
	if home == "" {
		var err error
		if home, err = DefaultHome(); err != nil {
			return Result{}, err
		}
	}
	archiveFile := cfg.ArchiveFile
	if archiveFile == "" {
		archiveFile = ArchivePath(home, cfg.ChainID)
	}
	res := Result{ArchiveFile: archiveFile}
	_, err := os.Stat(archiveFile)
	existed := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return res, fmt.Errorf("stat archive file: %w", err)
	}

	logger.Info("bootstrapping archive", "url", src.URL)
	downloaded, err := Download(ctx, DownloadConfig{
		Logger:     cfg.Logger,
		Client:     cfg.Client,
		OnProgress: cfg.OnProgress,
		URL:        src.URL,
		DestDir:    filepath.Join(home, cfg.ChainID),
		SHA256:     src.SHA256,
	})
	if err != nil {
		return res, err
	}
	if Compression(downloaded) != "" {
		logger.Info("decompressing archive", "path", downloaded)
	}
	if downloaded, err = Decompress(ctx, downloaded); err != nil {
		return res, err
	}
	res.Downloaded = downloaded

	if existed && !cfg.Force {
		logger.Warn(
			"archive file already exists, not clobbering",
			"archive_file", archiveFile,
		)
		return res, nil
	}
	if filepath.Clean(downloaded) == filepath.Clean(archiveFile) {
		res.Installed = true
		return res, nil
	}
	if err := copyFile(downloaded, archiveFile); err != nil {
		return res, err
	}
	res.Installed = true
	logger.Info("installed archive", "archive_file", archiveFile)
	return res, nil
}

// copyFile copies src over dst through a temporary file in dst's
// directory.
func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open downloaded archive: %w", err)
	}
	defer in.Close()
	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*")
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}
	_, err = io.Copy(tmp, in)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), dst)
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("install archive file: %w", err)
	}
	return nil
}

// LogProgress returns a ProgressFunc that logs at most once per interval.
func LogProgress(logger *slog.Logger, interval time.Duration) ProgressFunc {
	var last time.Time
	return func(p Progress) {
		if time.Since(last) < interval {
			return
		}
		last = time.Now()
		args := []any{
			"component", "bootstrap",
			"downloaded", humanize.IBytes(uint64(max(p.BytesDownloaded, 0))),
			"rate", humanize.IBytes(uint64(max(p.BytesPerSecond, 0))) + "/s",
		}
		if p.TotalBytes > 0 {
			args = append(
				args,
				"total", humanize.IBytes(uint64(p.TotalBytes)),
				"percent", fmt.Sprintf("%.1f", p.Percent()),
			)
		}
		logger.Info("download progress", args...)
	}
}
