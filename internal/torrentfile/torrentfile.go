// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package torrentfile parses .torrent payloads into the metadata the catalog
// stores: display name, both info hashes, total size and file count.
package torrentfile

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/moistari/rls"
	"github.com/zeebo/bencode"
)

// Meta holds everything upload ingestion and the reconciler need from a
// torrent file. HashV1 is the BitTorrent SHA-1 infohash; HashV2 is the
// SHA-256 digest of the same raw info dictionary, and HashV2Trunc its first
// 40 hex characters, so it can stand in wherever a v1-length hash is expected.
type Meta struct {
	Name        string
	HashV1      string
	HashV2      string
	HashV2Trunc string
	Size        int64
	Files       int
	Private     bool
}

type infoDict struct {
	Name    string     `bencode:"name"`
	Length  int64      `bencode:"length"`
	Files   []infoFile `bencode:"files"`
	Private int64      `bencode:"private"`
}

type infoFile struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
}

// Parse decodes a bencoded metainfo payload and derives the catalog hashes.
func Parse(data []byte) (*Meta, error) {
	mi, err := metainfo.Load(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse torrent file: %w", err)
	}
	if len(mi.InfoBytes) == 0 {
		return nil, errors.New("torrent has no info dictionary")
	}

	var info infoDict
	if err := bencode.DecodeBytes(mi.InfoBytes, &info); err != nil {
		return nil, fmt.Errorf("failed to decode info dictionary: %w", err)
	}
	if info.Name == "" {
		return nil, errors.New("torrent has no name")
	}

	sum := sha256.Sum256(mi.InfoBytes)
	hashV2 := hex.EncodeToString(sum[:])

	meta := &Meta{
		Name:        info.Name,
		HashV1:      mi.HashInfoBytes().HexString(),
		HashV2:      hashV2,
		HashV2Trunc: hashV2[:40],
		Size:        info.Length,
		Files:       1,
		Private:     info.Private == 1,
	}

	// Multi-file torrents carry per-file lengths instead of a top-level one.
	if len(info.Files) > 0 {
		meta.Files = len(info.Files)
		meta.Size = 0
		for _, f := range info.Files {
			meta.Size += f.Length
		}
	}

	return meta, nil
}

// Load reads and parses the torrent file at path.
func Load(path string) (*Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read torrent file: %w", err)
	}
	return Parse(data)
}

// SeasonEpisode extracts series numbering from a release name. An episode is
// only reported alongside a season, so season packs come back as (season, nil)
// and bare episode markers are ignored.
func SeasonEpisode(name string) (season, episode *int) {
	r := rls.ParseString(name)
	if r.Series <= 0 {
		return nil, nil
	}

	season = &r.Series
	if r.Episode > 0 {
		episode = &r.Episode
	}
	return season, episode
}
