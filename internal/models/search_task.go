// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/autobrr/gamerr/internal/dbinterface"
)

var ErrSearchTaskNotFound = errors.New("search task not found")

// SearchTaskStatus is the lifecycle of an asynchronous search.
type SearchTaskStatus string

const (
	TaskPending  SearchTaskStatus = "pending"
	TaskComplete SearchTaskStatus = "complete"
	TaskFailed   SearchTaskStatus = "failed"
)

// IsTerminal reports whether the task has finished.
func (s SearchTaskStatus) IsTerminal() bool {
	return s == TaskComplete || s == TaskFailed
}

// SearchTask represents one "search for X" unit of work. It is created
// PENDING before the pass starts so callers can poll progress, and is
// written exactly once more when the pass finishes.
type SearchTask struct {
	ID          string           `json:"id"`
	GameID      int64            `json:"gameId,omitempty"`
	Query       string           `json:"query"`
	Status      SearchTaskStatus `json:"status"`
	Results     json.RawMessage  `json:"results,omitempty"`
	Error       string           `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
}

// SearchTaskStore manages search tasks in the database.
type SearchTaskStore struct {
	db dbinterface.Querier
}

// NewSearchTaskStore creates a new SearchTaskStore.
func NewSearchTaskStore(db dbinterface.Querier) *SearchTaskStore {
	return &SearchTaskStore{db: db}
}

// Create inserts a new PENDING task and returns it.
func (s *SearchTaskStore) Create(ctx context.Context, gameID int64, query string) (*SearchTask, error) {
	id := uuid.New().String()

	var gameRef sql.NullInt64
	if gameID > 0 {
		gameRef = sql.NullInt64{Int64: gameID, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO search_tasks (id, game_id, query, status) VALUES (?, ?, ?, ?)
	`, id, gameRef, query, TaskPending)
	if err != nil {
		return nil, fmt.Errorf("insert search task: %w", err)
	}

	return s.Get(ctx, id)
}

// Get retrieves a task by ID.
func (s *SearchTaskStore) Get(ctx context.Context, id string) (*SearchTask, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, game_id, query, status, results, error, created_at, completed_at
		FROM search_tasks WHERE id = ?
	`, id)

	var (
		t         SearchTask
		gameRef   sql.NullInt64
		results   sql.NullString
		errMsg    sql.NullString
		completed sql.NullTime
	)
	err := row.Scan(&t.ID, &gameRef, &t.Query, &t.Status, &results, &errMsg, &t.CreatedAt, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSearchTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan search task: %w", err)
	}

	t.GameID = gameRef.Int64
	if results.Valid {
		t.Results = json.RawMessage(results.String)
	}
	t.Error = errMsg.String
	if completed.Valid {
		t.CompletedAt = &completed.Time
	}
	return &t, nil
}

// Complete finishes a task with its results payload. The task is the
// single artifact of a pass visible before completion, so this is the
// only writer once the pass ends: a terminal task is never rewritten.
func (s *SearchTaskStore) Complete(ctx context.Context, id string, results any) error {
	payload, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal task results: %w", err)
	}
	return s.finish(ctx, id, TaskComplete, string(payload), "")
}

// Fail finishes a task with an error message.
func (s *SearchTaskStore) Fail(ctx context.Context, id string, taskErr error) error {
	msg := ""
	if taskErr != nil {
		msg = taskErr.Error()
	}
	return s.finish(ctx, id, TaskFailed, "", msg)
}

func (s *SearchTaskStore) finish(ctx context.Context, id string, status SearchTaskStatus, results, errMsg string) error {
	var resultsRef sql.NullString
	if results != "" {
		resultsRef = sql.NullString{String: results, Valid: true}
	}
	var errRef sql.NullString
	if errMsg != "" {
		errRef = sql.NullString{String: errMsg, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE search_tasks
		SET status = ?, results = ?, error = ?, completed_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`, status, resultsRef, errRef, id, TaskPending)
	if err != nil {
		return fmt.Errorf("finish search task: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrSearchTaskNotFound
	}
	return nil
}

// Prune deletes terminal tasks older than the retention window, capping
// stored task history.
func (s *SearchTaskStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format("2006-01-02 15:04:05")

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM search_tasks
		WHERE status IN (?, ?) AND created_at < ?
	`, TaskComplete, TaskFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune search tasks: %w", err)
	}
	return res.RowsAffected()
}
