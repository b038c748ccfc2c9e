// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torznab

import (
	"encoding/xml"
	"io"
	"net/http"
	"strconv"

	"github.com/autobrr/brrdex/internal/models"
	"github.com/autobrr/brrdex/pkg/normalize"
)

// Item is one catalog row enriched for presentation: live swarm counts and
// the tokened grab URL the client fetches the file through.
type Item struct {
	Torrent  *models.Torrent
	Seeders  int
	Leechers int
	GrabURL  string
}

// Feed is the payload of one search or RSS response.
type Feed struct {
	Title  string
	Link   string
	Offset int
	Total  int
	Items  []Item
}

type rssDoc struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Xmlns   string     `xml:"xmlns:torznab,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title    string      `xml:"title"`
	Link     string      `xml:"link"`
	Response rssResponse `xml:"torznab:response"`
	Items    []rssItem   `xml:"item"`
}

type rssResponse struct {
	Offset int `xml:"offset,attr"`
	Total  int `xml:"total,attr"`
}

type rssItem struct {
	Title     string       `xml:"title"`
	GUID      rssGUID      `xml:"guid"`
	Link      string       `xml:"link"`
	Enclosure rssEnclosure `xml:"enclosure"`
	Size      int64        `xml:"size"`
	PubDate   string       `xml:"pubDate"`
	Category  int          `xml:"category"`
	Attrs     []rssAttr    `xml:"torznab:attr"`
}

type rssGUID struct {
	IsPermaLink string `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

type rssEnclosure struct {
	URL    string `xml:"url,attr"`
	Length int64  `xml:"length,attr"`
	Type   string `xml:"type,attr"`
}

type rssAttr struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// RenderFeed writes the RSS 2.0 document for search and feed queries. Both
// share one shape: the torznab:response element and the peers attribute are
// always present.
func RenderFeed(w io.Writer, f Feed) error {
	slug := normalize.Name(f.Title)

	ch := rssChannel{
		Title:    f.Title,
		Link:     f.Link,
		Response: rssResponse{Offset: f.Offset, Total: f.Total},
	}
	for _, it := range f.Items {
		ch.Items = append(ch.Items, buildItem(slug, it))
	}

	return render(w, rssDoc{Version: "2.0", Xmlns: Namespace, Channel: ch})
}

func buildItem(slug string, it Item) rssItem {
	t := it.Torrent

	attrs := []rssAttr{
		{Name: "category", Value: strconv.Itoa(t.Category)},
		{Name: "files", Value: strconv.Itoa(t.Files)},
		{Name: "seeders", Value: strconv.Itoa(it.Seeders)},
		{Name: "leechers", Value: strconv.Itoa(it.Leechers)},
		{Name: "peers", Value: strconv.Itoa(it.Seeders + it.Leechers)},
		{Name: "grabs", Value: strconv.Itoa(t.Grabs)},
		{Name: "infohash", Value: t.InfoHash()},
	}
	attrs = appendIntAttr(attrs, "imdbid", t.IMDBID)
	attrs = appendIntAttr(attrs, "tmdbid", t.TMDBID)
	attrs = appendIntAttr(attrs, "tvdbid", t.TVDBID)
	attrs = appendIntAttr(attrs, "season", t.Season)
	attrs = appendIntAttr(attrs, "episode", t.Episode)
	attrs = appendStringAttr(attrs, "artist", t.Artist)
	attrs = appendStringAttr(attrs, "album", t.Album)

	return rssItem{
		Title:     t.Name,
		GUID:      rssGUID{IsPermaLink: "false", Value: slug + "-" + t.InfoHash()},
		Link:      it.GrabURL,
		Enclosure: rssEnclosure{URL: it.GrabURL, Length: t.Size, Type: EnclosureType},
		Size:      t.Size,
		PubDate:   t.AddedOn.UTC().Format(http.TimeFormat),
		Category:  t.Category,
		Attrs:     attrs,
	}
}

func appendIntAttr(attrs []rssAttr, name string, v *int) []rssAttr {
	if v == nil {
		return attrs
	}
	return append(attrs, rssAttr{Name: name, Value: strconv.Itoa(*v)})
}

func appendStringAttr(attrs []rssAttr, name string, v *string) []rssAttr {
	if v == nil || *v == "" {
		return attrs
	}
	return append(attrs, rssAttr{Name: name, Value: *v})
}
