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

	"github.com/Masterminds/semver/v3"

	"github.com/autobrr/gamerr/internal/dbinterface"
)

// RelatedReleaseType classifies a release attached to a downloaded game.
type RelatedReleaseType string

const (
	RelatedUpdate RelatedReleaseType = "update"
	RelatedDLC    RelatedReleaseType = "dlc"
)

// RelatedRelease is an update/patch/DLC attached to an already-acquired
// base game instead of creating a duplicate game record.
type RelatedRelease struct {
	ID           int64              `json:"id"`
	GameID       int64              `json:"gameId"`
	ReleaseName  string             `json:"releaseName"`
	ReleaseType  RelatedReleaseType `json:"releaseType"`
	ReleaseGroup string             `json:"releaseGroup,omitempty"`
	VersionTag   string             `json:"versionTag,omitempty"`
	SourceTier   int                `json:"sourceTier"`
	Link         string             `json:"link,omitempty"`
	CreatedAt    time.Time          `json:"createdAt"`
}

// NewerThan compares version tags, preferring semver ordering when both
// tags parse and falling back to case-insensitive string comparison.
func (r *RelatedRelease) NewerThan(other *RelatedRelease) bool {
	if other == nil {
		return true
	}
	a, errA := semver.NewVersion(r.VersionTag)
	b, errB := semver.NewVersion(other.VersionTag)
	if errA == nil && errB == nil {
		return a.GreaterThan(b)
	}
	return strings.ToLower(r.VersionTag) > strings.ToLower(other.VersionTag)
}

// RelatedReleaseStore manages related releases in the database.
type RelatedReleaseStore struct {
	db dbinterface.Querier
}

// NewRelatedReleaseStore creates a new RelatedReleaseStore.
func NewRelatedReleaseStore(db dbinterface.Querier) *RelatedReleaseStore {
	return &RelatedReleaseStore{db: db}
}

// Attach records a related release for a game. Deduplication is by the
// (release group, version tag) pair: the same patch discovered via two
// tiers attaches only once. Returns false when the release was already
// attached.
func (s *RelatedReleaseStore) Attach(ctx context.Context, r *RelatedRelease) (bool, error) {
	if r == nil {
		return false, errors.New("related release is nil")
	}
	if r.GameID <= 0 {
		return false, errors.New("game id is required")
	}
	if strings.TrimSpace(r.ReleaseName) == "" {
		return false, errors.New("release name is required")
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO related_releases
			(game_id, release_name, release_type, release_group, version_tag, source_tier, link)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.GameID, r.ReleaseName, r.ReleaseType, r.ReleaseGroup, r.VersionTag, r.SourceTier, r.Link)
	if err != nil {
		return false, fmt.Errorf("attach related release: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ListByGame returns the related releases attached to a game, newest first.
func (s *RelatedReleaseStore) ListByGame(ctx context.Context, gameID int64) ([]*RelatedRelease, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, game_id, release_name, release_type, release_group, version_tag, source_tier, link, created_at
		FROM related_releases
		WHERE game_id = ?
		ORDER BY created_at DESC, id DESC
	`, gameID)
	if err != nil {
		return nil, fmt.Errorf("list related releases: %w", err)
	}
	defer rows.Close()

	out := []*RelatedRelease{}
	for rows.Next() {
		var r RelatedRelease
		var group, version, link sql.NullString
		if err := rows.Scan(&r.ID, &r.GameID, &r.ReleaseName, &r.ReleaseType, &group, &version, &r.SourceTier, &link, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan related release: %w", err)
		}
		r.ReleaseGroup = group.String
		r.VersionTag = version.String
		r.Link = link.String
		out = append(out, &r)
	}
	return out, rows.Err()
}
