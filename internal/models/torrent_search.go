// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/autobrr/brrdex/pkg/normalize"
)

// SearchKind selects the Torznab search taxonomy a query runs under.
type SearchKind string

const (
	SearchKindSearch SearchKind = "search"
	SearchKindTV     SearchKind = "tvsearch"
	SearchKindMovie  SearchKind = "movie"
	SearchKindMusic  SearchKind = "music"
)

const (
	searchDefaultLimit = 100
	searchMaxLimit     = 1000
)

// SearchFilter carries the parsed Torznab query parameters. Zero-valued
// optional fields are omitted from the generated predicates.
type SearchFilter struct {
	Kind       SearchKind
	Query      string
	Categories []int
	Season     *int
	Episode    *int
	IMDBID     int
	TMDBID     int
	TVDBID     int
	Artist     string
	Album      string
	Limit      int
	Offset     int

	// UserID is the caller; their own uploads are hidden unless
	// IncludeOwn is set. Rows with no uploader are always visible.
	UserID     int
	IncludeOwn bool
}

// SearchResult is one page of matches plus the unpaged match count.
type SearchResult struct {
	Torrents []*Torrent
	Total    int
}

// predicate is one parameterized WHERE term. Values are always bound,
// never spliced into the expression text.
type predicate struct {
	expr string
	args []any
}

func where(expr string, args ...any) predicate {
	return predicate{expr: expr, args: args}
}

// anyOf joins predicates with OR into a single parenthesized predicate.
func anyOf(preds ...predicate) predicate {
	exprs := make([]string, len(preds))
	var args []any
	for i, p := range preds {
		exprs[i] = p.expr
		args = append(args, p.args...)
	}
	return predicate{expr: "(" + strings.Join(exprs, " OR ") + ")", args: args}
}

func (f *SearchFilter) predicates() []predicate {
	var preds []predicate

	if !f.IncludeOwn {
		preds = append(preds, where("(added_by_user_id IS NULL OR added_by_user_id != ?)", f.UserID))
	}

	if q := normalize.Name(f.Query); q != "" {
		preds = append(preds, where("normalized_name LIKE ?", "%"+q+"%"))
	}

	if len(f.Categories) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.Categories)), ",")
		args := make([]any, len(f.Categories))
		for i, c := range f.Categories {
			args[i] = c
		}
		preds = append(preds, where("category IN ("+placeholders+")", args...))
	}

	switch f.Kind {
	case SearchKindTV:
		if f.Season != nil {
			preds = append(preds, where("season = ?", *f.Season))

			if f.Episode != nil {
				preds = append(preds, where("episode = ?", *f.Episode))
			} else {
				// No episode with an explicit season means a season pack.
				preds = append(preds, where("episode IS NULL"))
			}
		}
		preds = append(preds, where("artist IS NULL"), where("album IS NULL"))

	case SearchKindMovie:
		preds = append(preds, where("season IS NULL"), where("episode IS NULL"),
			where("artist IS NULL"), where("album IS NULL"))

	case SearchKindMusic:
		preds = append(preds, where("season IS NULL"), where("episode IS NULL"))
		if artist := normalize.Name(f.Artist); artist != "" {
			preds = append(preds, where("artist = ?", artist))
		}
		if album := normalize.Name(f.Album); album != "" {
			preds = append(preds, where("album = ?", album))
		}
	}

	var ids []predicate
	if f.IMDBID != 0 {
		ids = append(ids, where("imdbid = ?", f.IMDBID))
	}
	if f.TMDBID != 0 {
		ids = append(ids, where("tmdbid = ?", f.TMDBID))
	}
	if f.TVDBID != 0 {
		ids = append(ids, where("tvdbid = ?", f.TVDBID))
	}
	if len(ids) > 0 {
		preds = append(preds, anyOf(ids...))
	}

	return preds
}

// Search runs the filter and returns one page of the newest matches plus
// the total match count, computed in the same statement so the page and
// count always agree.
func (s *TorrentStore) Search(ctx context.Context, f SearchFilter) (*SearchResult, error) {
	limit := f.Limit
	if limit < 0 {
		limit = searchDefaultLimit
	}
	if limit > searchMaxLimit {
		limit = searchMaxLimit
	}
	offset := max(f.Offset, 0)

	preds := f.predicates()
	whereSQL := "1=1"
	var args []any
	if len(preds) > 0 {
		exprs := make([]string, len(preds))
		for i, p := range preds {
			exprs[i] = p.expr
			args = append(args, p.args...)
		}
		whereSQL = strings.Join(exprs, " AND ")
	}

	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+torrentColumns+`, COUNT(*) OVER() AS total_matches
		FROM torrents
		WHERE `+whereSQL+`
		ORDER BY added_on DESC, id DESC
		LIMIT ? OFFSET ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search torrents: %w", err)
	}
	defer rows.Close()

	result := &SearchResult{}
	for rows.Next() {
		var t Torrent
		var season, episode, imdbID, tmdbID, tvdbID, addedBy sql.NullInt64
		var artist, album, hashV1, hashV2, hashV2Trunc, torrentPath sql.NullString

		if err := rows.Scan(
			&t.ID,
			&t.Name,
			&t.NormalizedName,
			&season,
			&episode,
			&imdbID,
			&tmdbID,
			&tvdbID,
			&artist,
			&album,
			&t.Size,
			&t.Files,
			&t.Category,
			&hashV1,
			&hashV2,
			&hashV2Trunc,
			&torrentPath,
			&t.Grabs,
			&t.AddedOn,
			&t.LastSeen,
			&addedBy,
			&result.Total,
		); err != nil {
			return nil, err
		}

		t.Season = nullableInt(season)
		t.Episode = nullableInt(episode)
		t.IMDBID = nullableInt(imdbID)
		t.TMDBID = nullableInt(tmdbID)
		t.TVDBID = nullableInt(tvdbID)
		t.AddedByUserID = nullableInt(addedBy)
		t.Artist = nullableString(artist)
		t.Album = nullableString(album)
		t.HashV1 = hashV1.String
		t.HashV2 = hashV2.String
		t.HashV2Trunc = hashV2Trunc.String
		t.TorrentPath = torrentPath.String

		result.Torrents = append(result.Torrents, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search results: %w", err)
	}

	return result, nil
}
