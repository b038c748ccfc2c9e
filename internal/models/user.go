// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/autobrr/brrdex/internal/dbinterface"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrDuplicateLabel = errors.New("user label already exists")
	ErrInvalidAPIKey  = errors.New("invalid api key")
)

// Reachability states recorded for a user's client.
const (
	ReachableUnknown = -1
	ReachableNo      = 0
	ReachableYes     = 1
)

// ratioInfinity stands in for an unbounded share ratio when the user has
// uploaded without ever downloading.
const ratioInfinity = 8640000

// User is an API-key holder. Transfer totals are written by the tracker
// against the shared database; this service only reads them. The remaining
// counters are maintained by the grab handler and the stats refresher.
type User struct {
	ID               int        `json:"id"`
	Label            string     `json:"label"`
	APIKeyHash       string     `json:"-"`
	Downloaded       int64      `json:"downloaded"`
	Uploaded         int64      `json:"uploaded"`
	TorrentsUploaded int        `json:"torrents_uploaded"`
	Grabs            int        `json:"grabs"`
	Seeding          int        `json:"seeding"`
	Leeching         int        `json:"leeching"`
	Popularity       int        `json:"popularity"`
	ClientVersion    string     `json:"client_version,omitempty"`
	LastIP           string     `json:"-"`
	Reachable        int        `json:"reachable"`
	PublicUploads    bool       `json:"public_uploads"`
	LastSeen         *time.Time `json:"last_seen,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Ratio returns uploaded/downloaded, with a large sentinel when nothing
// was downloaded yet but data was uploaded.
func (u *User) Ratio() float64 {
	if u.Downloaded > 0 {
		return float64(u.Uploaded) / float64(u.Downloaded)
	}
	if u.Uploaded > 0 {
		return ratioInfinity
	}
	return 0.0
}

// GenerateAPIKey returns a new random API key as a 64-char hex string.
func GenerateAPIKey() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// HashAPIKey returns the SHA256 hash of an API key as a hex string.
func HashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

type UserStore struct {
	db dbinterface.Querier
}

func NewUserStore(db dbinterface.Querier) *UserStore {
	return &UserStore{db: db}
}

const userColumns = `id, label, api_key_hash, downloaded, uploaded, torrents_uploaded, grabs, seeding, leeching,
	popularity, client_version, last_ip, reachable, public_uploads, last_seen, created_at`

func scanUserFromScanner(scanner sqlScanner) (*User, error) {
	var u User
	var clientVersion, lastIP sql.NullString
	var lastSeen sql.NullTime

	if err := scanner.Scan(
		&u.ID,
		&u.Label,
		&u.APIKeyHash,
		&u.Downloaded,
		&u.Uploaded,
		&u.TorrentsUploaded,
		&u.Grabs,
		&u.Seeding,
		&u.Leeching,
		&u.Popularity,
		&clientVersion,
		&lastIP,
		&u.Reachable,
		&u.PublicUploads,
		&lastSeen,
		&u.CreatedAt,
	); err != nil {
		return nil, err
	}

	u.ClientVersion = clientVersion.String
	u.LastIP = lastIP.String
	if lastSeen.Valid {
		u.LastSeen = &lastSeen.Time
	}

	return &u, nil
}

// Create registers a user under the given label and returns the raw API
// key exactly once; only its hash is stored.
func (s *UserStore) Create(ctx context.Context, label string) (string, *User, error) {
	rawKey, err := GenerateAPIKey()
	if err != nil {
		return "", nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (label, api_key_hash) VALUES (?, ?)
	`, label, HashAPIKey(rawKey))
	if err != nil {
		if isUniqueConstraintError(err) {
			return "", nil, ErrDuplicateLabel
		}
		return "", nil, fmt.Errorf("failed to create user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return "", nil, fmt.Errorf("failed to get user id: %w", err)
	}

	user, err := s.GetByID(ctx, int(id))
	if err != nil {
		return "", nil, err
	}
	return rawKey, user, nil
}

func (s *UserStore) GetByID(ctx context.Context, id int) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)

	u, err := scanUserFromScanner(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByLabel(ctx context.Context, label string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE label = ?`, label)

	u, err := scanUserFromScanner(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by label: %w", err)
	}
	return u, nil
}

// ValidateAPIKey resolves a raw API key to its user. Unknown keys return
// ErrInvalidAPIKey.
func (s *UserStore) ValidateAPIKey(ctx context.Context, rawKey string) (*User, error) {
	if rawKey == "" {
		return nil, ErrInvalidAPIKey
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE api_key_hash = ?`, HashAPIKey(rawKey))

	u, err := scanUserFromScanner(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidAPIKey
		}
		return nil, fmt.Errorf("failed to validate api key: %w", err)
	}
	return u, nil
}

func (s *UserStore) List(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUserFromScanner(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// Count reports the number of registered users.
func (s *UserStore) Count(ctx context.Context) (int64, error) {
	var n int64
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

func (s *UserStore) Delete(ctx context.Context, id int) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ResetAPIKey replaces the user's API key and returns the new raw key.
func (s *UserStore) ResetAPIKey(ctx context.Context, id int) (string, error) {
	rawKey, err := GenerateAPIKey()
	if err != nil {
		return "", err
	}

	res, err := s.db.ExecContext(ctx, `UPDATE users SET api_key_hash = ? WHERE id = ?`, HashAPIKey(rawKey), id)
	if err != nil {
		return "", fmt.Errorf("failed to reset api key: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return "", ErrUserNotFound
	}
	return rawKey, nil
}

// CheckIn records a client check-in: version, announce address, probe
// result and upload visibility preference, stamping last_seen.
func (s *UserStore) CheckIn(ctx context.Context, id int, clientVersion, lastIP string, reachable int, publicUploads bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET client_version = ?, last_ip = ?, last_seen = CURRENT_TIMESTAMP, reachable = ?, public_uploads = ?
		WHERE id = ?
	`, nullString(clientVersion), nullString(lastIP), reachable, publicUploads, id)
	if err != nil {
		return fmt.Errorf("failed to record check-in: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetReachable updates the stored reachability state.
func (s *UserStore) SetReachable(ctx context.Context, id, status int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET reachable = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update reachability: %w", err)
	}
	return nil
}

// IncrementGrabs bumps the number of torrents the user has fetched.
func (s *UserStore) IncrementGrabs(ctx context.Context, id int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET grabs = grabs + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to increment user grabs: %w", err)
	}
	return nil
}

// RefreshUploadCounters recomputes torrents_uploaded and popularity for
// every user from the catalog. Popularity is the summed grab count over
// the user's uploads.
func (s *UserStore) RefreshUploadCounters(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET torrents_uploaded = (SELECT COUNT(*) FROM torrents WHERE added_by_user_id = users.id),
			popularity = (SELECT COALESCE(SUM(grabs), 0) FROM torrents WHERE added_by_user_id = users.id)
	`)
	if err != nil {
		return fmt.Errorf("failed to refresh upload counters: %w", err)
	}
	return nil
}

// UpdateSwarmCounters overwrites every user's seeding/leeching counters
// from a swarm snapshot. Users absent from both maps are zeroed.
func (s *UserStore) UpdateSwarmCounters(ctx context.Context, seeding, leeching map[int]int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET seeding = 0, leeching = 0`)
	if err != nil {
		return fmt.Errorf("failed to reset swarm counters: %w", err)
	}

	ids := make(map[int]struct{}, len(seeding)+len(leeching))
	for id := range seeding {
		ids[id] = struct{}{}
	}
	for id := range leeching {
		ids[id] = struct{}{}
	}
	if len(ids) == 0 {
		return nil
	}

	rows := make([][3]int, 0, len(ids))
	for id := range ids {
		rows = append(rows, [3]int{id, seeding[id], leeching[id]})
	}

	for start := 0; start < len(rows); start += sqlBatchSize {
		end := min(start+sqlBatchSize, len(rows))
		batch := rows[start:end]

		valuesSQL := dbinterface.BuildQueryWithPlaceholders("%s", 3, len(batch))
		args := make([]any, 0, len(batch)*3)
		for _, r := range batch {
			args = append(args, r[0], r[1], r[2])
		}

		_, err := s.db.ExecContext(ctx, `
			UPDATE users
			SET seeding = v.column2, leeching = v.column3
			FROM (VALUES `+valuesSQL+`) AS v
			WHERE users.id = v.column1
		`, args...)
		if err != nil {
			return fmt.Errorf("failed to update swarm counters: %w", err)
		}
	}
	return nil
}

// TransferTotals sums the tracker-maintained transfer counters across all
// users.
func (s *UserStore) TransferTotals(ctx context.Context) (downloaded, uploaded int64, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(downloaded), 0), COALESCE(SUM(uploaded), 0) FROM users
	`)
	if err := row.Scan(&downloaded, &uploaded); err != nil {
		return 0, 0, fmt.Errorf("failed to get transfer totals: %w", err)
	}
	return downloaded, uploaded, nil
}
