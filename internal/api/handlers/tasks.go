// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/autobrr/gamerr/internal/models"
)

type TasksHandler struct {
	tasks *models.SearchTaskStore
}

func NewTasksHandler(tasks *models.SearchTaskStore) *TasksHandler {
	return &TasksHandler{tasks: tasks}
}

func (h *TasksHandler) Routes(r chi.Router) {
	r.Get("/{taskID}", h.Get)
}

func (h *TasksHandler) Get(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if taskID == "" {
		RespondError(w, http.StatusBadRequest, "Invalid taskID")
		return
	}

	task, err := h.tasks.Get(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, models.ErrSearchTaskNotFound) {
			RespondError(w, http.StatusNotFound, "Task not found")
			return
		}
		RespondError(w, http.StatusInternalServerError, "Failed to get task")
		return
	}

	RespondJSON(w, http.StatusOK, task)
}
