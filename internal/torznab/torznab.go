// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package torznab renders the capability and RSS feed documents served on
// the Torznab search endpoint to clients like Radarr, Sonarr and Lidarr.
package torznab

import (
	"encoding/xml"
	"fmt"
	"io"
)

// Query types accepted by the /api endpoint.
const (
	ModeCaps     = "caps"
	ModeSearch   = "search"
	ModeTVSearch = "tvsearch"
	ModeMovie    = "movie"
	ModeMusic    = "music"
)

// Namespace is the Torznab feed schema, declared on every rendered feed.
const Namespace = "http://torznab.com/schemas/2015/feed"

// EnclosureType is the MIME type of the grab links handed to clients.
const EnclosureType = "application/x-bittorrent"

// Page sizes advertised in caps and enforced on search.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

func render(w io.Writer, doc any) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}

	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode torznab document: %w", err)
	}
	return nil
}
