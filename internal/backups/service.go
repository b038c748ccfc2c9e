// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package backups produces zip snapshots of the catalog: a consistent copy
// of the SQLite database, every stored .torrent file, and a manifest
// describing the archived rows.
package backups

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/brrdex/internal/database"
	"github.com/autobrr/brrdex/internal/models"
)

type Config struct {
	// Dir receives the archives. Defaults to <dataDir>/backups upstream.
	Dir string
	// Keep bounds how many archives are retained. Zero keeps all.
	Keep int
}

type Service struct {
	cfg      Config
	db       *database.DB
	torrents *models.TorrentStore
	version  string

	now func() time.Time
}

func NewService(cfg Config, db *database.DB, torrents *models.TorrentStore, version string) *Service {
	return &Service{
		cfg:      cfg,
		db:       db,
		torrents: torrents,
		version:  version,
		now:      time.Now,
	}
}

// Manifest describes one archive for operators restoring from it.
type Manifest struct {
	Version      string         `json:"version"`
	CreatedAt    time.Time      `json:"created_at"`
	TorrentCount int            `json:"torrent_count"`
	Items        []ManifestItem `json:"items"`
}

// ManifestItem describes a single archived torrent.
type ManifestItem struct {
	Name       string `json:"name"`
	Category   int    `json:"category"`
	InfoHashV1 string `json:"infohash_v1,omitempty"`
	InfoHashV2 string `json:"infohash_v2,omitempty"`
	// Blob is the archive-relative path of the .torrent file, empty when
	// the file was missing at backup time.
	Blob string `json:"torrent_blob,omitempty"`
}

// CreateBackup writes one archive and returns its path. The database copy
// comes from VACUUM INTO, so it is consistent even while writes continue.
// Missing torrent files are recorded in the manifest without a blob rather
// than failing the run.
func (s *Service) CreateBackup(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create backup directory")
	}

	started := s.now().UTC()
	archivePath := filepath.Join(s.cfg.Dir, fmt.Sprintf("brrdex_backup_%s.zip", started.Format("20060102T150405Z")))

	dbSnapshot := archivePath + ".db"
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, dbSnapshot); err != nil {
		return "", errors.Wrap(err, "snapshot database")
	}
	defer os.Remove(dbSnapshot)

	rows, err := s.torrents.List(ctx)
	if err != nil {
		return "", errors.Wrap(err, "list torrents")
	}

	archive, err := os.Create(archivePath)
	if err != nil {
		return "", errors.Wrap(err, "create archive")
	}
	defer archive.Close()

	zw := zip.NewWriter(archive)

	if err := addFile(zw, "database/brrdex.db", dbSnapshot, started); err != nil {
		zw.Close()
		os.Remove(archivePath)
		return "", err
	}

	items := make([]ManifestItem, 0, len(rows))
	for _, row := range rows {
		item := ManifestItem{
			Name:       row.Name,
			Category:   row.Category,
			InfoHashV1: row.HashV1,
			InfoHashV2: row.HashV2,
		}

		if row.TorrentPath != "" {
			blob := "torrents/" + filepath.Base(row.TorrentPath)
			if err := addFile(zw, blob, row.TorrentPath, started); err != nil {
				log.Warn().Err(err).Str("path", row.TorrentPath).Msg("Skipping unreadable torrent file in backup")
			} else {
				item.Blob = blob
			}
		}

		items = append(items, item)
	}

	manifest := Manifest{
		Version:      s.version,
		CreatedAt:    started,
		TorrentCount: len(items),
		Items:        items,
	}
	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		zw.Close()
		os.Remove(archivePath)
		return "", errors.Wrap(err, "marshal manifest")
	}

	header := &zip.FileHeader{Name: "manifest.json", Method: zip.Deflate}
	header.Modified = started
	w, err := zw.CreateHeader(header)
	if err == nil {
		_, err = w.Write(manifestData)
	}
	if err != nil {
		zw.Close()
		os.Remove(archivePath)
		return "", errors.Wrap(err, "write manifest")
	}

	if err := zw.Close(); err != nil {
		os.Remove(archivePath)
		return "", errors.Wrap(err, "finalize archive")
	}

	if err := s.prune(); err != nil {
		log.Warn().Err(err).Msg("Failed to prune old backups")
	}

	log.Info().Str("path", archivePath).Int("torrents", len(items)).Msg("Backup created")
	return archivePath, nil
}

func addFile(zw *zip.Writer, name, path string, modified time.Time) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	header := &zip.FileHeader{Name: name, Method: zip.Deflate}
	header.Modified = modified
	w, err := zw.CreateHeader(header)
	if err != nil {
		return errors.Wrapf(err, "create archive entry %s", name)
	}
	if _, err := io.Copy(w, f); err != nil {
		return errors.Wrapf(err, "write archive entry %s", name)
	}
	return nil
}

// prune removes the oldest archives beyond the configured retention count.
func (s *Service) prune() error {
	if s.cfg.Keep <= 0 {
		return nil
	}

	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return err
	}

	var archives []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), "brrdex_backup_") && strings.HasSuffix(entry.Name(), ".zip") {
			archives = append(archives, entry.Name())
		}
	}
	// Timestamped names sort chronologically.
	sort.Strings(archives)

	for len(archives) > s.cfg.Keep {
		victim := filepath.Join(s.cfg.Dir, archives[0])
		if err := os.Remove(victim); err != nil {
			return err
		}
		log.Debug().Str("path", victim).Msg("Pruned old backup")
		archives = archives[1:]
	}
	return nil
}
