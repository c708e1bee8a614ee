// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/gamerr/internal/models"
	"github.com/autobrr/gamerr/internal/services/scoring"
	"github.com/autobrr/gamerr/internal/services/sources"
	"github.com/autobrr/gamerr/internal/testdb"
)

type fakeAdapter struct {
	name       string
	tier       sources.Tier
	candidates []sources.Candidate
	err        error
	hang       bool

	mu    sync.Mutex
	calls int
}

func (f *fakeAdapter) Name() string       { return f.name }
func (f *fakeAdapter) Tier() sources.Tier { return f.tier }

func (f *fakeAdapter) Fetch(ctx context.Context, _ string, _ time.Time) ([]sources.Candidate, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}

	out := make([]sources.Candidate, len(f.candidates))
	copy(out, f.candidates)
	for i := range out {
		out[i].Source = f.name
		out[i].Tier = f.tier
	}
	return out, nil
}

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeDownloader struct {
	mu          sync.Mutex
	submissions []string
	err         error
}

func (f *fakeDownloader) Submit(_ context.Context, link string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return "", f.err
	}
	f.submissions = append(f.submissions, link)
	return fmt.Sprintf("hash-%d", len(f.submissions)), nil
}

func (f *fakeDownloader) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submissions)
}

type testEnv struct {
	games        *models.GameStore
	related      *models.RelatedReleaseStore
	tasks        *models.SearchTaskStore
	downloader   *fakeDownloader
	orchestrator *Orchestrator
}

func newTestEnv(t *testing.T, adapters ...sources.Adapter) *testEnv {
	t.Helper()

	db := testdb.New(t)
	env := &testEnv{
		games:      models.NewGameStore(db),
		related:    models.NewRelatedReleaseStore(db),
		tasks:      models.NewSearchTaskStore(db),
		downloader: &fakeDownloader{},
	}
	env.orchestrator = NewOrchestrator(
		env.games, env.related, env.tasks,
		scoring.New(scoring.DefaultConfig()),
		env.downloader,
		nil,
		5*time.Second,
		adapters...,
	)
	return env
}

func (e *testEnv) createGame(t *testing.T, title string, status models.GameStatus) *models.Game {
	t.Helper()

	game, err := e.games.Create(context.Background(), &models.Game{
		IGDBID: time.Now().UnixNano(),
		Title:  title,
	})
	require.NoError(t, err)

	if status != models.StatusWanted {
		// Walk the transition table to reach the desired status.
		path := map[models.GameStatus][]models.GameStatus{
			models.StatusSearching:   {models.StatusSearching},
			models.StatusFound:       {models.StatusSearching, models.StatusFound},
			models.StatusDownloading: {models.StatusSearching, models.StatusFound, models.StatusDownloading},
			models.StatusDownloaded:  {models.StatusSearching, models.StatusFound, models.StatusDownloading, models.StatusDownloaded},
		}[status]
		current := models.StatusWanted
		for _, next := range path {
			require.NoError(t, e.games.CompareAndSwapStatus(context.Background(), game.ID, []models.GameStatus{current}, next))
			current = next
		}
		game.Status = status
	}
	return game
}

func TestBasePassAcceptsSceneRelease(t *testing.T) {
	t.Parallel()

	tier1 := &fakeAdapter{name: "scene", tier: sources.TierScene, candidates: []sources.Candidate{
		{Title: "Totally.Unrelated.Game-OTHERGRP", Link: "magnet:?xt=urn:btih:aa"},
		{Title: "Some.Game.Name-RELEASEGRP", Link: "magnet:?xt=urn:btih:bb"},
	}}
	env := newTestEnv(t, tier1)
	game := env.createGame(t, "Some Game Name", models.StatusWanted)

	task, err := env.tasks.Create(context.Background(), game.ID, game.Title)
	require.NoError(t, err)

	require.NoError(t, env.orchestrator.RunPass(context.Background(), game.ID, task.ID, time.Time{}))

	got, err := env.games.Get(context.Background(), game.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDownloading, got.Status)
	assert.Equal(t, "Some.Game.Name-RELEASEGRP", got.ReleaseName)
	assert.Equal(t, "RELEASEGRP", got.ReleaseGroup)
	assert.Equal(t, "hash-1", got.TorrentHash)

	doneTask, err := env.tasks.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskComplete, doneTask.Status)
	assert.Contains(t, string(doneTask.Results), "Some.Game.Name-RELEASEGRP")
}

func TestBasePassShortCircuitsDeeperTiers(t *testing.T) {
	t.Parallel()

	tier1 := &fakeAdapter{name: "scene", tier: sources.TierScene, candidates: []sources.Candidate{
		{Title: "Some.Game.Name-RELEASEGRP", Link: "magnet:?xt=urn:btih:aa"},
	}}
	tier2 := &fakeAdapter{name: "feeds", tier: sources.TierFeeds}
	tier3 := &fakeAdapter{name: "deep", tier: sources.TierHistorical}

	env := newTestEnv(t, tier3, tier2, tier1) // registration order must not matter
	game := env.createGame(t, "Some Game Name", models.StatusWanted)

	require.NoError(t, env.orchestrator.RunPass(context.Background(), game.ID, "", time.Time{}))

	assert.Equal(t, 1, tier1.callCount())
	assert.Equal(t, 0, tier2.callCount())
	assert.Equal(t, 0, tier3.callCount())
	assert.Equal(t, 1, env.downloader.count())
}

func TestBasePassFallsThroughFailedTier(t *testing.T) {
	t.Parallel()

	tier1 := &fakeAdapter{name: "scene", tier: sources.TierScene, err: errors.New("index down")}
	tier2 := &fakeAdapter{name: "feeds", tier: sources.TierFeeds, candidates: []sources.Candidate{
		{Title: "Some.Game.Name-FITGIRL", Link: "magnet:?xt=urn:btih:cc"},
	}}

	env := newTestEnv(t, tier1, tier2)
	game := env.createGame(t, "Some Game Name", models.StatusWanted)

	require.NoError(t, env.orchestrator.RunPass(context.Background(), game.ID, "", time.Time{}))

	got, err := env.games.Get(context.Background(), game.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDownloading, got.Status)
	assert.Equal(t, "FITGIRL", got.ReleaseGroup)
}

func TestBasePassTimedOutTierFallsThrough(t *testing.T) {
	t.Parallel()

	tier1 := &fakeAdapter{name: "scene", tier: sources.TierScene, hang: true}
	tier2 := &fakeAdapter{name: "feeds", tier: sources.TierFeeds, candidates: []sources.Candidate{
		{Title: "Some.Game.Name-DODI", Link: "magnet:?xt=urn:btih:ee"},
	}}

	env := newTestEnv(t, tier1, tier2)
	env.orchestrator.adapterTimeout = 50 * time.Millisecond
	game := env.createGame(t, "Some Game Name", models.StatusWanted)

	require.NoError(t, env.orchestrator.RunPass(context.Background(), game.ID, "", time.Time{}))

	got, err := env.games.Get(context.Background(), game.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDownloading, got.Status)
	assert.Equal(t, "DODI", got.ReleaseGroup)
	assert.Equal(t, 1, tier2.callCount())
}

func TestBasePassNoMatchReturnsToWanted(t *testing.T) {
	t.Parallel()

	tier1 := &fakeAdapter{name: "scene", tier: sources.TierScene, candidates: []sources.Candidate{
		{Title: "A.Completely.Different.Title-GRP", Link: "magnet:?xt=urn:btih:dd"},
	}}
	env := newTestEnv(t, tier1)
	game := env.createGame(t, "Some Game Name", models.StatusWanted)

	task, err := env.tasks.Create(context.Background(), game.ID, game.Title)
	require.NoError(t, err)

	require.NoError(t, env.orchestrator.RunPass(context.Background(), game.ID, task.ID, time.Time{}))

	got, err := env.games.Get(context.Background(), game.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWanted, got.Status)
	assert.Equal(t, 0, env.downloader.count())

	doneTask, err := env.tasks.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskComplete, doneTask.Status)
}

func TestBasePassSkipsUnclaimableGame(t *testing.T) {
	t.Parallel()

	tier1 := &fakeAdapter{name: "scene", tier: sources.TierScene, candidates: []sources.Candidate{
		{Title: "Some.Game.Name-RELEASEGRP", Link: "magnet:?xt=urn:btih:aa"},
	}}
	env := newTestEnv(t, tier1)
	game := env.createGame(t, "Some Game Name", models.StatusDownloading)

	require.NoError(t, env.orchestrator.RunPass(context.Background(), game.ID, "", time.Time{}))

	assert.Equal(t, 0, tier1.callCount())
	assert.Equal(t, 0, env.downloader.count())

	got, err := env.games.Get(context.Background(), game.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDownloading, got.Status)
}

func TestBasePassConcurrentTriggersSubmitOnce(t *testing.T) {
	t.Parallel()

	tier1 := &fakeAdapter{name: "scene", tier: sources.TierScene, candidates: []sources.Candidate{
		{Title: "Some.Game.Name-RELEASEGRP", Link: "magnet:?xt=urn:btih:aa"},
	}}
	env := newTestEnv(t, tier1)
	game := env.createGame(t, "Some Game Name", models.StatusWanted)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = env.orchestrator.RunPass(context.Background(), game.ID, "", time.Time{})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, env.downloader.count())

	got, err := env.games.Get(context.Background(), game.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDownloading, got.Status)
}

func TestBasePassSubmitFailureMarksFailed(t *testing.T) {
	t.Parallel()

	tier1 := &fakeAdapter{name: "scene", tier: sources.TierScene, candidates: []sources.Candidate{
		{Title: "Some.Game.Name-RELEASEGRP", Link: "magnet:?xt=urn:btih:aa"},
	}}
	env := newTestEnv(t, tier1)
	env.downloader.err = errors.New("client unreachable")
	game := env.createGame(t, "Some Game Name", models.StatusWanted)

	task, err := env.tasks.Create(context.Background(), game.ID, game.Title)
	require.NoError(t, err)

	err = env.orchestrator.RunPass(context.Background(), game.ID, task.ID, time.Time{})
	require.Error(t, err)

	got, err := env.games.Get(context.Background(), game.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)

	doneTask, err := env.tasks.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, doneTask.Status)
}

func TestRelatedPassAttachesAddons(t *testing.T) {
	t.Parallel()

	tier1 := &fakeAdapter{name: "scene", tier: sources.TierScene, candidates: []sources.Candidate{
		{Title: "Some.Game.Name.Update.v1.04-RELEASEGRP", Link: "magnet:?xt=urn:btih:aa"},
		{Title: "Some.Game.Name.Winter.Pack.DLC-RELEASEGRP", Link: "magnet:?xt=urn:btih:bb"},
		{Title: "Some.Game.Name-RELEASEGRP", Link: "magnet:?xt=urn:btih:cc"}, // base, must not attach
	}}
	// Same update seen again on a deeper tier must dedupe.
	tier2 := &fakeAdapter{name: "feeds", tier: sources.TierFeeds, candidates: []sources.Candidate{
		{Title: "Some.Game.Name.Update.v1.04-RELEASEGRP", Link: "https://example.org/update"},
	}}

	env := newTestEnv(t, tier1, tier2)
	game := env.createGame(t, "Some Game Name", models.StatusDownloaded)

	task, err := env.tasks.Create(context.Background(), game.ID, game.Title)
	require.NoError(t, err)

	require.NoError(t, env.orchestrator.RunPass(context.Background(), game.ID, task.ID, time.Time{}))

	// Related passes never touch game status or the download client.
	got, err := env.games.Get(context.Background(), game.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDownloaded, got.Status)
	assert.Equal(t, 0, env.downloader.count())

	attached, err := env.related.ListByGame(context.Background(), game.ID)
	require.NoError(t, err)
	require.Len(t, attached, 2)

	types := map[models.RelatedReleaseType]int{}
	for _, rel := range attached {
		types[rel.ReleaseType]++
	}
	assert.Equal(t, 1, types[models.RelatedUpdate])
	assert.Equal(t, 1, types[models.RelatedDLC])

	// Re-running the pass is idempotent.
	require.NoError(t, env.orchestrator.RunPass(context.Background(), game.ID, "", time.Time{}))
	attached, err = env.related.ListByGame(context.Background(), game.ID)
	require.NoError(t, err)
	assert.Len(t, attached, 2)
}

func TestRelatedPassScansAllTiers(t *testing.T) {
	t.Parallel()

	tier1 := &fakeAdapter{name: "scene", tier: sources.TierScene, candidates: []sources.Candidate{
		{Title: "Some.Game.Name.Update.v1.04-RELEASEGRP", Link: "magnet:?xt=urn:btih:aa"},
	}}
	tier3 := &fakeAdapter{name: "deep", tier: sources.TierHistorical}

	env := newTestEnv(t, tier1, tier3)
	game := env.createGame(t, "Some Game Name", models.StatusDownloaded)

	require.NoError(t, env.orchestrator.RunPass(context.Background(), game.ID, "", time.Time{}))

	// No short-circuit: the historical tier still runs.
	assert.Equal(t, 1, tier3.callCount())
}

func TestRelatedPassSkipsWhileAnotherIsRunning(t *testing.T) {
	t.Parallel()

	tier1 := &fakeAdapter{name: "scene", tier: sources.TierScene, candidates: []sources.Candidate{
		{Title: "Some.Game.Name.Update.v1.04-RELEASEGRP", Link: "magnet:?xt=urn:btih:aa"},
	}}

	env := newTestEnv(t, tier1)
	game := env.createGame(t, "Some Game Name", models.StatusDownloaded)

	// Simulate a pass in flight for the same game.
	require.True(t, env.orchestrator.tryLockRelated(game.ID))

	require.NoError(t, env.orchestrator.RunPass(context.Background(), game.ID, "", time.Time{}))
	assert.Equal(t, 0, tier1.callCount())

	env.orchestrator.unlockRelated(game.ID)

	require.NoError(t, env.orchestrator.RunPass(context.Background(), game.ID, "", time.Time{}))
	assert.Equal(t, 1, tier1.callCount())

	attached, err := env.related.ListByGame(context.Background(), game.ID)
	require.NoError(t, err)
	assert.Len(t, attached, 1)
}

func TestRunPassUnknownGame(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	err := env.orchestrator.RunPass(context.Background(), 9999, "", time.Time{})
	assert.ErrorIs(t, err, models.ErrGameNotFound)
}
