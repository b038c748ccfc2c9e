// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/autobrr/brrdex/internal/dbinterface"
	"github.com/autobrr/brrdex/pkg/normalize"
)

// Torznab category ids served by the indexer.
const (
	CategoryMovies = 2000
	CategoryAudio  = 3000
	CategoryTV     = 5000
)

// Category pairs a Torznab category id with its display name for caps output.
type Category struct {
	ID   int
	Name string
}

// Categories lists every category the indexer accepts, in caps order.
var Categories = []Category{
	{ID: CategoryMovies, Name: "Movies"},
	{ID: CategoryTV, Name: "TV"},
	{ID: CategoryAudio, Name: "Audio"},
}

// ValidCategory reports whether id is one of the served categories.
func ValidCategory(id int) bool {
	for _, c := range Categories {
		if c.ID == id {
			return true
		}
	}
	return false
}

var (
	ErrTorrentNotFound  = errors.New("torrent not found")
	ErrTorrentDuplicate = errors.New("torrent with same hash already exists")
)

// Torrent is a catalog row. Hash columns hold lowercase hex; an empty
// string maps to NULL in the database. At least one of HashV1/HashV2 is
// always present (enforced by a CHECK constraint).
type Torrent struct {
	ID             int        `json:"id"`
	Name           string     `json:"name"`
	NormalizedName string     `json:"normalized_name"`
	Season         *int       `json:"season,omitempty"`
	Episode        *int       `json:"episode,omitempty"`
	IMDBID         *int       `json:"imdbid,omitempty"`
	TMDBID         *int       `json:"tmdbid,omitempty"`
	TVDBID         *int       `json:"tvdbid,omitempty"`
	Artist         *string    `json:"artist,omitempty"`
	Album          *string    `json:"album,omitempty"`
	Size           int64      `json:"size"`
	Files          int        `json:"files"`
	Category       int        `json:"category"`
	HashV1         string     `json:"hash_v1,omitempty"`
	HashV2         string     `json:"hash_v2,omitempty"`
	HashV2Trunc    string     `json:"-"`
	TorrentPath    string     `json:"-"`
	Grabs          int        `json:"grabs"`
	AddedOn        time.Time  `json:"added_on"`
	LastSeen       time.Time  `json:"last_seen"`
	AddedByUserID  *int       `json:"added_by_user_id,omitempty"`
}

// InfoHash returns the hash clients should use to reference this torrent,
// preferring the v2 form.
func (t *Torrent) InfoHash() string {
	if t.HashV2 != "" {
		return t.HashV2
	}
	return t.HashV1
}

// LibraryEntry is one torrent reported by a client during catalog sync.
type LibraryEntry struct {
	ID       int64  `json:"id"`
	InfoHash string `json:"infohash"`
	Name     string `json:"name"`
}

type TorrentStore struct {
	db dbinterface.Querier
}

func NewTorrentStore(db dbinterface.Querier) *TorrentStore {
	return &TorrentStore{db: db}
}

const torrentColumns = `id, name, normalized_name, season, episode, imdbid, tmdbid, tvdbid, artist, album,
	size, files, category, hash_v1, hash_v2, hash_v2_trunc, torrent_path, grabs, added_on, last_seen, added_by_user_id`

type sqlScanner interface {
	Scan(dest ...any) error
}

func scanTorrentFromScanner(scanner sqlScanner) (*Torrent, error) {
	var t Torrent
	var season, episode, imdbID, tmdbID, tvdbID, addedBy sql.NullInt64
	var artist, album, hashV1, hashV2, hashV2Trunc, torrentPath sql.NullString

	if err := scanner.Scan(
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

	return &t, nil
}

func scanTorrentsFromRows(rows *sql.Rows) ([]*Torrent, error) {
	var torrents []*Torrent
	for rows.Next() {
		t, err := scanTorrentFromScanner(rows)
		if err != nil {
			return nil, err
		}
		torrents = append(torrents, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate torrents: %w", err)
	}
	return torrents, nil
}

func nullableInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func nullableString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullIntPtr(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

// normalizeFields derives the normalized name and rewrites artist/album to
// their normalized forms. Artist and album are matched by exact normalized
// equality, so only the normalized form is stored. Values that normalize to
// nothing are dropped.
func (t *Torrent) normalizeFields() {
	t.NormalizedName = normalize.Name(t.Name)
	t.Artist = normalizedPtr(t.Artist)
	t.Album = normalizedPtr(t.Album)
	t.HashV1 = strings.ToLower(t.HashV1)
	t.HashV2 = strings.ToLower(t.HashV2)
	t.HashV2Trunc = strings.ToLower(t.HashV2Trunc)
}

func normalizedPtr(v *string) *string {
	if v == nil {
		return nil
	}
	n := normalize.Name(*v)
	if n == "" {
		return nil
	}
	return &n
}

// Create inserts a new catalog row, normalizing text fields and stamping
// added_on and last_seen. A hash collision with an existing row returns
// ErrTorrentDuplicate.
func (s *TorrentStore) Create(ctx context.Context, t *Torrent) (*Torrent, error) {
	t.normalizeFields()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO torrents (name, normalized_name, season, episode, imdbid, tmdbid, tvdbid, artist, album,
			size, files, category, hash_v1, hash_v2, hash_v2_trunc, torrent_path, added_by_user_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.Name,
		t.NormalizedName,
		nullIntPtr(t.Season),
		nullIntPtr(t.Episode),
		nullIntPtr(t.IMDBID),
		nullIntPtr(t.TMDBID),
		nullIntPtr(t.TVDBID),
		nullStringPtr(t.Artist),
		nullStringPtr(t.Album),
		t.Size,
		t.Files,
		t.Category,
		nullString(t.HashV1),
		nullString(t.HashV2),
		nullString(t.HashV2Trunc),
		nullString(t.TorrentPath),
		nullIntPtr(t.AddedByUserID),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrTorrentDuplicate
		}
		if isCheckConstraintError(err) {
			return nil, fmt.Errorf("torrent carries no infohash: %w", err)
		}
		return nil, fmt.Errorf("failed to create torrent: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get torrent id: %w", err)
	}

	return s.GetByID(ctx, int(id))
}

func nullStringPtr(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func (s *TorrentStore) GetByID(ctx context.Context, id int) (*Torrent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+torrentColumns+` FROM torrents WHERE id = ?`, id)

	t, err := scanTorrentFromScanner(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTorrentNotFound
		}
		return nil, fmt.Errorf("failed to get torrent: %w", err)
	}
	return t, nil
}

// GetByHash resolves an infohash in either hex width: 64 chars match
// hash_v2, 40 chars match hash_v1 and then the truncated v2 form.
func (s *TorrentStore) GetByHash(ctx context.Context, hash string) (*Torrent, error) {
	hash = strings.ToLower(strings.TrimSpace(hash))

	switch len(hash) {
	case 64:
		return s.getByColumn(ctx, "hash_v2", hash)
	case 40:
		t, err := s.getByColumn(ctx, "hash_v1", hash)
		if errors.Is(err, ErrTorrentNotFound) {
			return s.getByColumn(ctx, "hash_v2_trunc", hash)
		}
		return t, err
	default:
		return nil, ErrTorrentNotFound
	}
}

func (s *TorrentStore) getByColumn(ctx context.Context, column, value string) (*Torrent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+torrentColumns+` FROM torrents WHERE `+column+` = ? LIMIT 1`, value)

	t, err := scanTorrentFromScanner(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTorrentNotFound
		}
		return nil, fmt.Errorf("failed to get torrent by %s: %w", column, err)
	}
	return t, nil
}

// FindByEitherHash looks up the row colliding with either hash, for upload
// duplicate checks. Empty hashes never match.
func (s *TorrentStore) FindByEitherHash(ctx context.Context, hashV1, hashV2 string) (*Torrent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+torrentColumns+`
		FROM torrents
		WHERE hash_v1 = ? OR hash_v2 = ?
		LIMIT 1
	`, nullString(strings.ToLower(hashV1)), nullString(strings.ToLower(hashV2)))

	t, err := scanTorrentFromScanner(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTorrentNotFound
		}
		return nil, fmt.Errorf("failed to find torrent by hash: %w", err)
	}
	return t, nil
}

// UpdateMetadata rewrites the mutable metadata of an existing row from t
// and touches last_seen. Used when the original uploader re-submits a
// torrent the catalog already has.
func (s *TorrentStore) UpdateMetadata(ctx context.Context, id int, t *Torrent) error {
	t.normalizeFields()

	res, err := s.db.ExecContext(ctx, `
		UPDATE torrents
		SET name = ?, normalized_name = ?, season = ?, episode = ?, imdbid = ?, tmdbid = ?, tvdbid = ?,
			artist = ?, album = ?, size = ?, files = ?, category = ?,
			hash_v1 = ?, hash_v2 = ?, hash_v2_trunc = ?, last_seen = CURRENT_TIMESTAMP
		WHERE id = ?
	`,
		t.Name,
		t.NormalizedName,
		nullIntPtr(t.Season),
		nullIntPtr(t.Episode),
		nullIntPtr(t.IMDBID),
		nullIntPtr(t.TMDBID),
		nullIntPtr(t.TVDBID),
		nullStringPtr(t.Artist),
		nullStringPtr(t.Album),
		t.Size,
		t.Files,
		t.Category,
		nullString(t.HashV1),
		nullString(t.HashV2),
		nullString(t.HashV2Trunc),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update torrent metadata: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrTorrentNotFound
	}
	return nil
}

// UpdatePath points the row at its on-disk .torrent file. An empty path
// clears the association.
func (s *TorrentStore) UpdatePath(ctx context.Context, id int, path string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE torrents SET torrent_path = ? WHERE id = ?`, nullString(path), id)
	if err != nil {
		return fmt.Errorf("failed to update torrent path: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrTorrentNotFound
	}
	return nil
}

// IncrementGrabs bumps the grab counter. The row's last_seen is touched as
// well so actively grabbed torrents never count as stale.
func (s *TorrentStore) IncrementGrabs(ctx context.Context, id int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE torrents SET grabs = grabs + 1, last_seen = CURRENT_TIMESTAMP WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to increment torrent grabs: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrTorrentNotFound
	}
	return nil
}

// List returns the full catalog ordered by id, for reconciliation passes.
func (s *TorrentStore) List(ctx context.Context) ([]*Torrent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+torrentColumns+` FROM torrents ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list torrents: %w", err)
	}
	defer rows.Close()

	return scanTorrentsFromRows(rows)
}

// ListStaleOlderThan returns rows whose last_seen predates the cutoff.
func (s *TorrentStore) ListStaleOlderThan(ctx context.Context, cutoff time.Time) ([]*Torrent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+torrentColumns+` FROM torrents WHERE last_seen < ? ORDER BY id ASC
	`, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list stale torrents: %w", err)
	}
	defer rows.Close()

	return scanTorrentsFromRows(rows)
}

// sqlBatchSize bounds the placeholder count of generated IN lists and
// VALUES blocks.
const sqlBatchSize = 500

// DeleteByIDs removes the given rows in bounded batches and returns the
// number of rows actually deleted.
func (s *TorrentStore) DeleteByIDs(ctx context.Context, ids []int) (int64, error) {
	var deleted int64
	for start := 0; start < len(ids); start += sqlBatchSize {
		end := min(start+sqlBatchSize, len(ids))
		batch := ids[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")
		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}

		res, err := s.db.ExecContext(ctx, `DELETE FROM torrents WHERE id IN (`+placeholders+`)`, args...)
		if err != nil {
			return deleted, fmt.Errorf("failed to delete torrents: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return deleted, fmt.Errorf("failed to get rows affected: %w", err)
		}
		deleted += n
	}
	return deleted, nil
}

// Totals reports the catalog row count and the summed grab counter.
func (s *TorrentStore) Totals(ctx context.Context) (torrents int64, grabs int64, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(grabs), 0) FROM torrents`)
	if err := row.Scan(&torrents, &grabs); err != nil {
		return 0, 0, fmt.Errorf("failed to get torrent totals: %w", err)
	}
	return torrents, grabs, nil
}

// CountByCategory reports the catalog row count per category id.
func (s *TorrentStore) CountByCategory(ctx context.Context) (map[int]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT category, COUNT(*) FROM torrents GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("failed to count torrents by category: %w", err)
	}
	defer rows.Close()

	counts := make(map[int]int64)
	for rows.Next() {
		var category int
		var n int64
		if err := rows.Scan(&category, &n); err != nil {
			return nil, fmt.Errorf("failed to scan category count: %w", err)
		}
		counts[category] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate category counts: %w", err)
	}
	return counts, nil
}

// MatchLibrary reconciles one batch of client library entries against the
// catalog. It renames rows the caller uploaded whose names drifted, and
// returns the client-side ids the server has no usable copy of: unknown
// infohashes, plus caller-owned rows missing their v1 hash (the client has
// the file and can re-upload a complete one).
func (s *TorrentStore) MatchLibrary(ctx context.Context, userID int, entries []LibraryEntry) ([]int64, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	valuesSQL := dbinterface.BuildQueryWithPlaceholders("%s", 4, len(entries))
	libSQL := `SELECT column1 AS id, column2 AS infohash, column3 AS name, column4 AS normalized_name FROM (VALUES ` + valuesSQL + `)`

	args := make([]any, 0, len(entries)*4)
	for _, e := range entries {
		args = append(args, e.ID, strings.ToLower(e.InfoHash), e.Name, normalize.Name(e.Name))
	}

	renameArgs := make([]any, 0, len(args)+1)
	renameArgs = append(renameArgs, args...)
	renameArgs = append(renameArgs, userID)

	_, err := s.db.ExecContext(ctx, `
		UPDATE torrents
		SET name = l.name, normalized_name = l.normalized_name, last_seen = CURRENT_TIMESTAMP
		FROM (`+libSQL+`) AS l
		WHERE torrents.hash_v2 = l.infohash
		  AND torrents.added_by_user_id = ?
		  AND l.name != ''
		  AND (torrents.name != l.name OR torrents.normalized_name != l.normalized_name)
	`, renameArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to sync torrent names: %w", err)
	}

	missingArgs := make([]any, 0, len(args)+1)
	missingArgs = append(missingArgs, args...)
	missingArgs = append(missingArgs, userID)

	rows, err := s.db.QueryContext(ctx, `
		SELECT l.id
		FROM (`+libSQL+`) AS l
		LEFT JOIN torrents t ON t.hash_v2 = l.infohash
		WHERE t.id IS NULL OR (t.hash_v1 IS NULL AND t.added_by_user_id = ?)
	`, missingArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to match library: %w", err)
	}
	defer rows.Close()

	var missing []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		missing = append(missing, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate library matches: %w", err)
	}
	return missing, nil
}
