// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package reconciler keeps catalog rows aligned with the .torrent files on
// disk: rows whose file moved are repaired by rehashing candidates, rows
// whose content is gone are purged, and orphan files no row references are
// deleted.
package reconciler

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/brrdex/internal/domain"
	"github.com/autobrr/brrdex/internal/models"
	"github.com/autobrr/brrdex/internal/torrentfile"
)

// Config controls the sweep schedule and the hash worker pool.
type Config struct {
	Strategy    string
	TorrentsDir string
	Interval    time.Duration
	// HashWorkers bounds the pool hashing candidate files. Zero means one
	// worker per CPU.
	HashWorkers int
}

func DefaultConfig() Config {
	return Config{
		Strategy: domain.ReconcileStrategyScan,
		Interval: 12 * time.Hour,
	}
}

// Result summarizes one reconciliation sweep.
type Result struct {
	Examined       int
	Repaired       int
	Removed        int
	OrphansRemoved int
}

// Service runs the periodic catalog reconciliation sweep.
type Service struct {
	cfg      Config
	torrents *models.TorrentStore

	// Filesystem and hashing collaborators, swapped out in tests.
	fileExists func(path string) bool
	readDir    func(dir string) ([]os.DirEntry, error)
	hashFile   func(path string) (*torrentfile.Meta, error)

	wg     sync.WaitGroup
	cancel context.CancelFunc
	once   sync.Once
}

func New(cfg Config, torrents *models.TorrentStore) *Service {
	if cfg.Strategy == "" {
		cfg.Strategy = DefaultConfig().Strategy
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.HashWorkers <= 0 {
		cfg.HashWorkers = runtime.NumCPU()
	}
	return &Service{
		cfg:      cfg,
		torrents: torrents,
		fileExists: func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		},
		readDir:  os.ReadDir,
		hashFile: torrentfile.Load,
	}
}

// Start launches the sweep loop. The first sweep runs immediately.
func (s *Service) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.loop(ctx)
}

func (s *Service) Stop() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

func (s *Service) loop(ctx context.Context) {
	defer s.wg.Done()

	s.sweep(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	log.Info().Msg("[RECONCILER] Running catalog reconciliation")
	start := time.Now()

	res, err := s.RunOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Msg("[RECONCILER] Sweep failed")
		}
		return
	}

	log.Info().
		Int("examined", res.Examined).
		Int("repaired", res.Repaired).
		Int("removed", res.Removed).
		Int("orphansRemoved", res.OrphansRemoved).
		Dur("elapsed", time.Since(start)).
		Msg("[RECONCILER] Catalog reconciliation complete")
}

// candidate is one .torrent file found in the storage directory.
type candidate struct {
	path string
	name string
	size int64
}

type locateOutcome struct {
	path string // matched file, empty on an exhaustive miss
	err  error  // non-nil when the row could not be fully checked
}

// RunOnce executes a single sweep. Rows whose recorded path is gone are
// matched against recomputed candidate hashes on a bounded worker pool,
// repaired when a file matches and purged when the scan is exhausted.
// Orphan .torrent files run last. Per-item failures are logged and never
// abort the sweep.
func (s *Service) RunOnce(ctx context.Context) (Result, error) {
	rows, err := s.torrents.List(ctx)
	if err != nil {
		return Result{}, err
	}

	res := Result{Examined: len(rows)}

	// referenced collects file paths claimed by rows, for the orphan pass.
	referenced := make(map[string]struct{}, len(rows))
	var lost []*models.Torrent
	for _, row := range rows {
		if row.TorrentPath != "" && s.fileExists(row.TorrentPath) {
			referenced[filepath.Clean(row.TorrentPath)] = struct{}{}
			continue
		}
		lost = append(lost, row)
	}

	files, err := s.listTorrentFiles()
	if err != nil {
		return res, err
	}

	outcomes := s.locateAll(ctx, lost, files)

	var removeIDs []int
	for i, row := range lost {
		out := outcomes[i]
		if out.err != nil {
			continue
		}
		if out.path == "" {
			log.Warn().
				Str("name", row.Name).
				Str("hash", row.InfoHash()).
				Msg("[RECONCILER] Purging torrent with no backing file")
			removeIDs = append(removeIDs, row.ID)
			continue
		}
		if err := s.torrents.UpdatePath(ctx, row.ID, out.path); err != nil {
			log.Error().Err(err).Int("torrentID", row.ID).Msg("[RECONCILER] Failed to update torrent path")
			continue
		}
		log.Debug().
			Str("hash", row.InfoHash()).
			Str("path", out.path).
			Msg("[RECONCILER] Relocated torrent file")
		referenced[out.path] = struct{}{}
		res.Repaired++
	}

	if len(removeIDs) > 0 {
		removed, err := s.torrents.DeleteByIDs(ctx, removeIDs)
		res.Removed = int(removed)
		if err != nil {
			return res, err
		}
	}

	res.OrphansRemoved = s.removeOrphans(ctx, files, referenced)

	return res, ctx.Err()
}

// locateAll resolves every lost row on a worker pool bounded to
// HashWorkers. Pool lifetime is scoped to the sweep.
func (s *Service) locateAll(ctx context.Context, lost []*models.Torrent, files []candidate) []locateOutcome {
	outcomes := make([]locateOutcome, len(lost))
	if len(lost) == 0 {
		return outcomes
	}

	memo := newHashMemo()
	sem := make(chan struct{}, s.cfg.HashWorkers)
	var wg sync.WaitGroup

	for i, row := range lost {
		select {
		case <-ctx.Done():
			// Unstarted rows are marked skipped so they are not mistaken
			// for exhausted misses and purged.
			for j := i; j < len(lost); j++ {
				outcomes[j] = locateOutcome{err: ctx.Err()}
			}
			wg.Wait()
			return outcomes
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			path, err := s.locate(ctx, row, files, memo)
			outcomes[i] = locateOutcome{path: path, err: err}
		}()
	}

	wg.Wait()
	return outcomes
}

// locate hashes candidates in likelihood order until one matches the row.
// An empty path with a nil error means the scan was exhausted and the row
// has no backing file.
func (s *Service) locate(ctx context.Context, row *models.Torrent, files []candidate, memo *hashMemo) (string, error) {
	for _, c := range s.orderCandidates(row, files) {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		meta, err := memo.get(c.path, s.hashFile)
		if err != nil {
			log.Error().Err(err).
				Str("path", c.path).
				Str("hash", row.InfoHash()).
				Msg("[RECONCILER] Failed to hash candidate file")
			continue
		}
		if matchesRow(row, meta) {
			return c.path, nil
		}
	}
	return "", nil
}

// matchesRow compares recomputed file hashes against the row. Hashes the
// row does not carry never match.
func matchesRow(row *models.Torrent, meta *torrentfile.Meta) bool {
	if row.HashV1 != "" && meta.HashV1 == row.HashV1 {
		return true
	}
	if row.HashV2 != "" && meta.HashV2 == row.HashV2 {
		return true
	}
	return false
}

// orderCandidates returns the files to hash for a lost row. The hashed
// strategy checks exactly the file named by the row's content hash; the
// scan strategy tries every file, size-plausible fuzzy name matches first.
// Ordering is an optimization only: the scan stays exhaustive.
func (s *Service) orderCandidates(row *models.Torrent, files []candidate) []candidate {
	if s.cfg.Strategy == domain.ReconcileStrategyHashed {
		if row.HashV2 == "" {
			return nil
		}
		name := row.HashV2 + ".torrent"
		expected := filepath.Join(s.cfg.TorrentsDir, name)
		if !s.fileExists(expected) {
			return nil
		}
		return []candidate{{path: expected, name: name}}
	}

	type rankedCandidate struct {
		candidate
		plausible bool
		rank      int
	}

	ranked := make([]rankedCandidate, len(files))
	for i, c := range files {
		rank := fuzzy.RankMatchNormalizedFold(row.Name, strings.TrimSuffix(c.name, ".torrent"))
		if rank < 0 {
			rank = math.MaxInt
		}
		ranked[i] = rankedCandidate{
			candidate: c,
			plausible: sizePlausible(row.Size, c.size),
			rank:      rank,
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].plausible != ranked[j].plausible {
			return ranked[i].plausible
		}
		return ranked[i].rank < ranked[j].rank
	})

	ordered := make([]candidate, len(ranked))
	for i, rc := range ranked {
		ordered[i] = rc.candidate
	}
	return ordered
}

// maxPieceLength is the largest piece size in common use. A metadata file
// describing size bytes of content carries at least one 20-byte piece hash
// per piece, which bounds how small the file can be.
const maxPieceLength = 16 << 20

func sizePlausible(contentSize, metaSize int64) bool {
	minPieces := contentSize / maxPieceLength
	return metaSize >= minPieces*20
}

func (s *Service) listTorrentFiles() ([]candidate, error) {
	entries, err := s.readDir(s.cfg.TorrentsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read torrents directory: %w", err)
	}

	files := make([]candidate, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".torrent") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			log.Debug().Err(err).Str("name", entry.Name()).Msg("[RECONCILER] Skipping unreadable directory entry")
			continue
		}
		files = append(files, candidate{
			path: filepath.Join(s.cfg.TorrentsDir, entry.Name()),
			name: entry.Name(),
			size: info.Size(),
		})
	}
	return files, nil
}

// removeOrphans deletes .torrent files no catalog row references.
func (s *Service) removeOrphans(ctx context.Context, files []candidate, referenced map[string]struct{}) int {
	removed := 0
	for _, c := range files {
		if ctx.Err() != nil {
			return removed
		}
		if _, ok := referenced[c.path]; ok {
			continue
		}
		if err := os.Remove(c.path); err != nil {
			if !os.IsNotExist(err) {
				log.Error().Err(err).Str("path", c.path).Msg("[RECONCILER] Failed to remove orphan file")
			}
			continue
		}
		log.Warn().Str("path", c.path).Msg("[RECONCILER] Removed orphan torrent file")
		removed++
	}
	return removed
}

type hashEntry struct {
	meta *torrentfile.Meta
	err  error
}

// hashMemo caches per-sweep hash results so each candidate file is read at
// most once even when several rows scan it. Values always come from file
// content, never from catalog columns.
type hashMemo struct {
	mu      sync.Mutex
	entries map[string]hashEntry
}

func newHashMemo() *hashMemo {
	return &hashMemo{entries: make(map[string]hashEntry)}
}

func (m *hashMemo) get(path string, compute func(string) (*torrentfile.Meta, error)) (*torrentfile.Meta, error) {
	m.mu.Lock()
	if e, ok := m.entries[path]; ok {
		m.mu.Unlock()
		return e.meta, e.err
	}
	m.mu.Unlock()

	meta, err := compute(path)

	m.mu.Lock()
	m.entries[path] = hashEntry{meta: meta, err: err}
	m.mu.Unlock()

	return meta, err
}
