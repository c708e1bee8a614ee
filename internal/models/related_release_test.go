// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/gamerr/internal/models"
	"github.com/autobrr/gamerr/internal/testdb"
)

func TestRelatedReleaseAttachDeduplicates(t *testing.T) {
	t.Parallel()

	db := testdb.New(t)
	games := models.NewGameStore(db)
	store := models.NewRelatedReleaseStore(db)
	ctx := context.Background()

	g := createGame(t, games, 100, "Some Game Name")

	release := &models.RelatedRelease{
		GameID:       g.ID,
		ReleaseName:  "Some.Game.Name.Update.3-RELEASEGRP",
		ReleaseType:  models.RelatedUpdate,
		ReleaseGroup: "RELEASEGRP",
		VersionTag:   "3",
		SourceTier:   1,
	}

	created, err := store.Attach(ctx, release)
	require.NoError(t, err)
	assert.True(t, created)

	// The same patch discovered via another tier attaches only once.
	dup := *release
	dup.SourceTier = 2
	created, err = store.Attach(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, created)

	// A different version of the same group is a new attachment.
	v4 := *release
	v4.ReleaseName = "Some.Game.Name.Update.4-RELEASEGRP"
	v4.VersionTag = "4"
	created, err = store.Attach(ctx, &v4)
	require.NoError(t, err)
	assert.True(t, created)

	list, err := store.ListByGame(ctx, g.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestRelatedReleaseNewerThan(t *testing.T) {
	t.Parallel()

	semverNew := &models.RelatedRelease{VersionTag: "1.10.0"}
	semverOld := &models.RelatedRelease{VersionTag: "1.9.2"}
	assert.True(t, semverNew.NewerThan(semverOld))
	assert.False(t, semverOld.NewerThan(semverNew))

	// Non-semver tags fall back to string comparison.
	b := &models.RelatedRelease{VersionTag: "build b"}
	a := &models.RelatedRelease{VersionTag: "build a"}
	assert.True(t, b.NewerThan(a))

	assert.True(t, semverNew.NewerThan(nil))
}
