// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/gamerr/internal/domain"
	"github.com/autobrr/gamerr/internal/models"
	"github.com/autobrr/gamerr/internal/services/scoring"
	"github.com/autobrr/gamerr/internal/testdb"
)

func TestTriggerSearchQueuesTask(t *testing.T) {
	t.Parallel()

	db := testdb.New(t)
	games := models.NewGameStore(db)
	tasks := models.NewSearchTaskStore(db)
	related := models.NewRelatedReleaseStore(db)

	orchestrator := NewOrchestrator(games, related, tasks, scoring.New(scoring.DefaultConfig()), &fakeDownloader{}, nil, time.Second)
	svc := NewService(orchestrator, games, tasks, nil, domain.SearchConfig{})

	game, err := games.Create(context.Background(), &models.Game{IGDBID: 1, Title: "Some Game Name"})
	require.NoError(t, err)

	task, err := svc.TriggerSearch(context.Background(), game.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskPending, task.Status)
	assert.Len(t, svc.queue, 1)
}

func TestTriggerSearchFullQueueFailsTask(t *testing.T) {
	t.Parallel()

	db := testdb.New(t)
	games := models.NewGameStore(db)
	tasks := models.NewSearchTaskStore(db)
	related := models.NewRelatedReleaseStore(db)

	orchestrator := NewOrchestrator(games, related, tasks, scoring.New(scoring.DefaultConfig()), &fakeDownloader{}, nil, time.Second)
	svc := NewService(orchestrator, games, tasks, nil, domain.SearchConfig{})

	// No workers are running, so an unbuffered queue rejects every job.
	svc.queue = make(chan searchJob)

	game, err := games.Create(context.Background(), &models.Game{IGDBID: 2, Title: "Some Game Name"})
	require.NoError(t, err)

	_, err = svc.TriggerSearch(context.Background(), game.ID)
	require.ErrorIs(t, err, ErrQueueFull)

	// The dropped job's task must not be left pending forever.
	var status string
	row := db.QueryRowContext(context.Background(), `SELECT status FROM search_tasks WHERE game_id = ?`, game.ID)
	require.NoError(t, row.Scan(&status))
	assert.Equal(t, string(models.TaskFailed), status)
}

func TestTriggerSearchUnknownGame(t *testing.T) {
	t.Parallel()

	db := testdb.New(t)
	games := models.NewGameStore(db)
	tasks := models.NewSearchTaskStore(db)
	related := models.NewRelatedReleaseStore(db)

	orchestrator := NewOrchestrator(games, related, tasks, scoring.New(scoring.DefaultConfig()), &fakeDownloader{}, nil, time.Second)
	svc := NewService(orchestrator, games, tasks, nil, domain.SearchConfig{})

	_, err := svc.TriggerSearch(context.Background(), 9999)
	assert.ErrorIs(t, err, models.ErrGameNotFound)
}
