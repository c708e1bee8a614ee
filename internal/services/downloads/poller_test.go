// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloads

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/gamerr/internal/models"
	"github.com/autobrr/gamerr/internal/qbittorrent"
	"github.com/autobrr/gamerr/internal/testdb"
)

type fakeProvider struct {
	states map[string]*qbittorrent.DownloadState
	err    error
}

func (f *fakeProvider) Status(_ context.Context, hash string) (*qbittorrent.DownloadState, error) {
	if f.err != nil {
		return nil, f.err
	}
	state, ok := f.states[hash]
	if !ok {
		return nil, qbittorrent.ErrTorrentNotFound
	}
	return state, nil
}

func createDownloadingGame(t *testing.T, store *models.GameStore, title, hash string) *models.Game {
	t.Helper()

	ctx := context.Background()
	game, err := store.Create(ctx, &models.Game{IGDBID: time.Now().UnixNano(), Title: title})
	require.NoError(t, err)

	for _, next := range []models.GameStatus{models.StatusSearching, models.StatusFound, models.StatusDownloading} {
		require.NoError(t, store.CompareAndSwapStatus(ctx, game.ID, []models.GameStatus{game.Status}, next))
		game.Status = next
	}
	if hash != "" {
		require.NoError(t, store.SetTorrentHash(ctx, game.ID, hash))
	}
	return game
}

func TestReconcileCompletesFinishedDownload(t *testing.T) {
	t.Parallel()

	db := testdb.New(t)
	store := models.NewGameStore(db)
	game := createDownloadingGame(t, store, "Some Game Name", "aaa")

	provider := &fakeProvider{states: map[string]*qbittorrent.DownloadState{
		"aaa": {Hash: "aaa", Name: "Some.Game.Name-GRP", Progress: 1.0},
	}}

	NewPoller(store, provider, time.Minute).Reconcile(context.Background())

	got, err := store.Get(context.Background(), game.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDownloaded, got.Status)
}

func TestReconcileLeavesActiveDownload(t *testing.T) {
	t.Parallel()

	db := testdb.New(t)
	store := models.NewGameStore(db)
	game := createDownloadingGame(t, store, "Some Game Name", "aaa")

	provider := &fakeProvider{states: map[string]*qbittorrent.DownloadState{
		"aaa": {Hash: "aaa", Progress: 0.42},
	}}

	NewPoller(store, provider, time.Minute).Reconcile(context.Background())

	got, err := store.Get(context.Background(), game.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDownloading, got.Status)
}

func TestReconcileFailsErroredTorrent(t *testing.T) {
	t.Parallel()

	db := testdb.New(t)
	store := models.NewGameStore(db)
	game := createDownloadingGame(t, store, "Some Game Name", "aaa")

	provider := &fakeProvider{states: map[string]*qbittorrent.DownloadState{
		"aaa": {Hash: "aaa", Progress: 0.9, Errored: true},
	}}

	NewPoller(store, provider, time.Minute).Reconcile(context.Background())

	got, err := store.Get(context.Background(), game.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
}

func TestReconcileMissingTorrentAssumedComplete(t *testing.T) {
	t.Parallel()

	db := testdb.New(t)
	store := models.NewGameStore(db)
	game := createDownloadingGame(t, store, "Some Game Name", "gone")

	provider := &fakeProvider{states: map[string]*qbittorrent.DownloadState{}}

	NewPoller(store, provider, time.Minute).Reconcile(context.Background())

	got, err := store.Get(context.Background(), game.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDownloaded, got.Status)
}

func TestReconcileMissingHashFails(t *testing.T) {
	t.Parallel()

	db := testdb.New(t)
	store := models.NewGameStore(db)
	game := createDownloadingGame(t, store, "Some Game Name", "")

	NewPoller(store, &fakeProvider{}, time.Minute).Reconcile(context.Background())

	got, err := store.Get(context.Background(), game.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
}
