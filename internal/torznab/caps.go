// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torznab

import (
	"encoding/xml"
	"io"

	"github.com/autobrr/brrdex/internal/models"
)

type capsDoc struct {
	XMLName    xml.Name       `xml:"caps"`
	Server     capsServer     `xml:"server"`
	Limits     capsLimits     `xml:"limits"`
	Categories []capsCategory `xml:"categories>category"`
	Searching  capsSearching  `xml:"searching"`
}

type capsServer struct {
	Version string `xml:"version,attr"`
	Title   string `xml:"title,attr"`
}

type capsLimits struct {
	Default int `xml:"default,attr"`
	Max     int `xml:"max,attr"`
}

type capsCategory struct {
	ID   int    `xml:"id,attr"`
	Name string `xml:"name,attr"`
}

type capsSearching struct {
	Search      capsSearchMode `xml:"search"`
	TVSearch    capsSearchMode `xml:"tv-search"`
	MovieSearch capsSearchMode `xml:"movie-search"`
	MusicSearch capsSearchMode `xml:"music-search"`
	BookSearch  capsSearchMode `xml:"book-search"`
}

type capsSearchMode struct {
	Available       string `xml:"available,attr"`
	SupportedParams string `xml:"supportedParams,attr,omitempty"`
}

// RenderCaps writes the capability document answering t=caps probes.
func RenderCaps(w io.Writer, title string) error {
	doc := capsDoc{
		Server: capsServer{Version: "1.0", Title: title},
		Limits: capsLimits{Default: DefaultLimit, Max: MaxLimit},
		Searching: capsSearching{
			Search:      capsSearchMode{Available: "yes", SupportedParams: "q"},
			TVSearch:    capsSearchMode{Available: "yes", SupportedParams: "q,season,ep,imdbid,tmdbid,tvdbid"},
			MovieSearch: capsSearchMode{Available: "yes", SupportedParams: "q,imdbid,tmdbid"},
			MusicSearch: capsSearchMode{Available: "yes", SupportedParams: "q,artist,album"},
			BookSearch:  capsSearchMode{Available: "no"},
		},
	}
	for _, c := range models.Categories {
		doc.Categories = append(doc.Categories, capsCategory{ID: c.ID, Name: c.Name})
	}
	return render(w, doc)
}
