// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/autobrr/gamerr/internal/dbinterface"
)

var (
	ErrGameNotFound = errors.New("game not found")
	ErrGameExists   = errors.New("game already tracked")

	// ErrClaimConflict signals that a compare-and-swap on a game's
	// status found the game in a different state than expected. For a
	// SEARCHING claim this means another pass already owns the game.
	ErrClaimConflict = errors.New("game status claim conflict")
)

// GameStatus is the closed monitoring-state enumeration for a game.
type GameStatus string

const (
	StatusWanted      GameStatus = "wanted"
	StatusSearching   GameStatus = "searching"
	StatusFound       GameStatus = "found"
	StatusDownloading GameStatus = "downloading"
	StatusDownloaded  GameStatus = "downloaded"
	StatusFailed      GameStatus = "failed"
)

// validTransitions is the single authoritative transition table.
// DOWNLOADED is terminal for base acquisition: only the
// related-release path may act on a downloaded game, so there is no
// edge back to SEARCHING. FAILED requires a manual retry to WANTED.
var validTransitions = map[GameStatus][]GameStatus{
	StatusWanted:      {StatusSearching},
	StatusSearching:   {StatusFound, StatusWanted},
	StatusFound:       {StatusDownloading, StatusFailed},
	StatusDownloading: {StatusDownloaded, StatusFailed},
	StatusDownloaded:  {},
	StatusFailed:      {StatusWanted},
}

// CanTransition reports whether from -> to is a legal status move.
func CanTransition(from, to GameStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsValid reports whether the status is a recognized value.
func (s GameStatus) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// Game is the long-lived aggregate for one monitored title.
type Game struct {
	ID          int64      `json:"id"`
	IGDBID      int64      `json:"igdbId"`
	Title       string     `json:"title"`
	Slug        string     `json:"slug,omitempty"`
	ReleaseDate string     `json:"releaseDate,omitempty"`
	CoverURL    string     `json:"coverUrl,omitempty"`
	Aliases     []string   `json:"aliases,omitempty"`
	Status      GameStatus `json:"status"`

	ReleaseName  string `json:"releaseName,omitempty"`
	ReleaseGroup string `json:"releaseGroup,omitempty"`
	LocalPath    string `json:"localPath,omitempty"`
	TorrentHash  string `json:"torrentHash,omitempty"`

	StatusChangedAt time.Time `json:"statusChangedAt"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// ReleaseDateTime parses the stored YYYY-MM-DD release date; the zero
// time is returned when no date is known.
func (g *Game) ReleaseDateTime() time.Time {
	if g.ReleaseDate == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", g.ReleaseDate)
	if err != nil {
		return time.Time{}
	}
	return t
}

// GameStore manages games in the database.
type GameStore struct {
	db dbinterface.Querier
}

// NewGameStore creates a new GameStore.
func NewGameStore(db dbinterface.Querier) *GameStore {
	return &GameStore{db: db}
}

const gameColumns = `
	id, igdb_id, title, slug, release_date, cover_url, aliases, status,
	release_name, release_group, local_path, torrent_hash,
	status_changed_at, created_at, updated_at
`

// Create inserts a new game in WANTED state.
func (s *GameStore) Create(ctx context.Context, g *Game) (*Game, error) {
	if g == nil {
		return nil, errors.New("game is nil")
	}
	if g.IGDBID <= 0 {
		return nil, errors.New("igdb id is required")
	}
	if strings.TrimSpace(g.Title) == "" {
		return nil, errors.New("title is required")
	}
	if g.Status == "" {
		g.Status = StatusWanted
	}

	var aliasesJSON sql.NullString
	if len(g.Aliases) > 0 {
		data, err := json.Marshal(g.Aliases)
		if err != nil {
			return nil, fmt.Errorf("marshal aliases: %w", err)
		}
		aliasesJSON = sql.NullString{String: string(data), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO games (igdb_id, title, slug, release_date, cover_url, aliases, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, g.IGDBID, g.Title, g.Slug, g.ReleaseDate, g.CoverURL, aliasesJSON, g.Status)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrGameExists
		}
		return nil, fmt.Errorf("insert game: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	return s.Get(ctx, id)
}

// Get retrieves a game by ID.
func (s *GameStore) Get(ctx context.Context, id int64) (*Game, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+gameColumns+` FROM games WHERE id = ?`, id)
	return s.scanGame(row)
}

// GetByIGDBID retrieves a game by its external catalog ID.
func (s *GameStore) GetByIGDBID(ctx context.Context, igdbID int64) (*Game, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+gameColumns+` FROM games WHERE igdb_id = ?`, igdbID)
	return s.scanGame(row)
}

// List returns all games ordered by title.
func (s *GameStore) List(ctx context.Context) ([]*Game, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+gameColumns+` FROM games ORDER BY title COLLATE NOCASE`)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	defer rows.Close()
	return s.scanGames(rows)
}

// ListByStatus returns games currently in any of the given statuses.
func (s *GameStore) ListByStatus(ctx context.Context, statuses ...GameStatus) ([]*Game, error) {
	if len(statuses) == 0 {
		return []*Game{}, nil
	}

	placeholders := strings.Repeat("?,", len(statuses))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = st
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+gameColumns+` FROM games WHERE status IN (`+placeholders+`) ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list games by status: %w", err)
	}
	defer rows.Close()
	return s.scanGames(rows)
}

// CompareAndSwapStatus atomically moves a game from one of the expected
// statuses to the target status. It is the mutual-exclusion primitive
// for the SEARCHING claim: the read-then-decide check and the write
// happen in a single statement. Returns ErrClaimConflict when the game
// was not in any expected status, and validates the transition table
// for every expected->to edge up front.
func (s *GameStore) CompareAndSwapStatus(ctx context.Context, id int64, expected []GameStatus, to GameStatus) error {
	if len(expected) == 0 {
		return errors.New("expected statuses required")
	}
	for _, from := range expected {
		if !CanTransition(from, to) {
			return fmt.Errorf("illegal status transition %s -> %s", from, to)
		}
	}

	placeholders := strings.Repeat("?,", len(expected))
	placeholders = placeholders[:len(placeholders)-1]
	args := []any{to, id}
	for _, st := range expected {
		args = append(args, st)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE games
		SET status = ?, status_changed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return fmt.Errorf("swap game status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return ErrClaimConflict
	}
	return nil
}

// SetRelease records the matched release on a game together with a
// status swap, in one atomic statement.
func (s *GameStore) SetRelease(ctx context.Context, id int64, expected GameStatus, to GameStatus, releaseName, releaseGroup string) error {
	if !CanTransition(expected, to) {
		return fmt.Errorf("illegal status transition %s -> %s", expected, to)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE games
		SET status = ?, release_name = ?, release_group = ?,
		    status_changed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`, to, releaseName, releaseGroup, id, expected)
	if err != nil {
		return fmt.Errorf("set game release: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return ErrClaimConflict
	}
	return nil
}

// SetTorrentHash stores the download-client handle for a game.
func (s *GameStore) SetTorrentHash(ctx context.Context, id int64, hash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE games SET torrent_hash = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, hash, id)
	if err != nil {
		return fmt.Errorf("set torrent hash: %w", err)
	}
	return nil
}

// ReclaimStale resets games abandoned mid-pass longer than the claim
// timeout: SEARCHING goes back to WANTED, FOUND (matched but never
// handed to the download client) goes to FAILED so it can be retried.
// Abandoned passes (shutdown between tiers, crash before submission)
// would otherwise lock a game out of searching permanently.
func (s *GameStore) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format("2006-01-02 15:04:05")

	searching, err := s.db.ExecContext(ctx, `
		UPDATE games
		SET status = ?, status_changed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE status = ? AND status_changed_at < ?
	`, StatusWanted, StatusSearching, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale searches: %w", err)
	}
	reclaimed, err := searching.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	found, err := s.db.ExecContext(ctx, `
		UPDATE games
		SET status = ?, status_changed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE status = ? AND status_changed_at < ?
	`, StatusFailed, StatusFound, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale matches: %w", err)
	}
	stranded, err := found.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	return reclaimed + stranded, nil
}

// Delete removes a game and its related releases.
func (s *GameStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM games WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete game: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrGameNotFound
	}
	return nil
}

func (s *GameStore) scanGame(row *sql.Row) (*Game, error) {
	var (
		g            Game
		aliasesJSON  sql.NullString
		releaseName  sql.NullString
		releaseGroup sql.NullString
		localPath    sql.NullString
		torrentHash  sql.NullString
	)

	err := row.Scan(
		&g.ID, &g.IGDBID, &g.Title, &g.Slug, &g.ReleaseDate, &g.CoverURL, &aliasesJSON, &g.Status,
		&releaseName, &releaseGroup, &localPath, &torrentHash,
		&g.StatusChangedAt, &g.CreatedAt, &g.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrGameNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan game: %w", err)
	}

	if aliasesJSON.Valid && aliasesJSON.String != "" {
		if err := json.Unmarshal([]byte(aliasesJSON.String), &g.Aliases); err != nil {
			return nil, fmt.Errorf("unmarshal aliases: %w", err)
		}
	}
	g.ReleaseName = releaseName.String
	g.ReleaseGroup = releaseGroup.String
	g.LocalPath = localPath.String
	g.TorrentHash = torrentHash.String

	return &g, nil
}

func (s *GameStore) scanGames(rows *sql.Rows) ([]*Game, error) {
	games := []*Game{}
	for rows.Next() {
		var (
			g            Game
			aliasesJSON  sql.NullString
			releaseName  sql.NullString
			releaseGroup sql.NullString
			localPath    sql.NullString
			torrentHash  sql.NullString
		)

		err := rows.Scan(
			&g.ID, &g.IGDBID, &g.Title, &g.Slug, &g.ReleaseDate, &g.CoverURL, &aliasesJSON, &g.Status,
			&releaseName, &releaseGroup, &localPath, &torrentHash,
			&g.StatusChangedAt, &g.CreatedAt, &g.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}

		if aliasesJSON.Valid && aliasesJSON.String != "" {
			if err := json.Unmarshal([]byte(aliasesJSON.String), &g.Aliases); err != nil {
				return nil, fmt.Errorf("unmarshal aliases: %w", err)
			}
		}
		g.ReleaseName = releaseName.String
		g.ReleaseGroup = releaseGroup.String
		g.LocalPath = localPath.String
		g.TorrentHash = torrentHash.String

		games = append(games, &g)
	}
	return games, rows.Err()
}
