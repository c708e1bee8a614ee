// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/gamerr/internal/models"
	"github.com/autobrr/gamerr/internal/services/igdb"
	"github.com/autobrr/gamerr/internal/services/search"
)

// MetadataProvider resolves games on the metadata service.
type MetadataProvider interface {
	Enabled() bool
	Search(ctx context.Context, text string) ([]igdb.Game, error)
	Lookup(ctx context.Context, igdbID int64) (*igdb.Game, error)
}

// SearchTrigger starts an asynchronous search pass for a game.
type SearchTrigger interface {
	TriggerSearch(ctx context.Context, gameID int64) (*models.SearchTask, error)
}

type GamesHandler struct {
	games    *models.GameStore
	related  *models.RelatedReleaseStore
	metadata MetadataProvider
	searcher SearchTrigger
}

func NewGamesHandler(games *models.GameStore, related *models.RelatedReleaseStore, metadata MetadataProvider, searcher SearchTrigger) *GamesHandler {
	return &GamesHandler{
		games:    games,
		related:  related,
		metadata: metadata,
		searcher: searcher,
	}
}

func (h *GamesHandler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/lookup", h.Lookup)
	r.Route("/{gameID}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Delete("/", h.Delete)
		r.Post("/search", h.TriggerSearch)
		r.Post("/retry", h.Retry)
		r.Get("/releases", h.ListRelated)
	})
}

func (h *GamesHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		games []*models.Game
		err   error
	)

	if status := r.URL.Query().Get("status"); status != "" {
		gs := models.GameStatus(status)
		if !gs.IsValid() {
			RespondError(w, http.StatusBadRequest, "Invalid status filter")
			return
		}
		games, err = h.games.ListByStatus(r.Context(), gs)
	} else {
		games, err = h.games.List(r.Context())
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to list games")
		RespondError(w, http.StatusInternalServerError, "Failed to list games")
		return
	}

	RespondJSON(w, http.StatusOK, games)
}

func (h *GamesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, "gameID")
	if !ok {
		return
	}

	game, err := h.games.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrGameNotFound) {
			RespondError(w, http.StatusNotFound, "Game not found")
			return
		}
		RespondError(w, http.StatusInternalServerError, "Failed to get game")
		return
	}

	RespondJSON(w, http.StatusOK, game)
}

type createGameRequest struct {
	IGDBID int64  `json:"igdbId"`
	Title  string `json:"title"`
}

// Create adds a game to the monitor. With metadata credentials
// configured only the IGDB id is needed; otherwise a title must be
// supplied directly.
func (h *GamesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createGameRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.IGDBID <= 0 {
		RespondError(w, http.StatusBadRequest, "igdbId is required")
		return
	}

	game := &models.Game{
		IGDBID: req.IGDBID,
		Title:  strings.TrimSpace(req.Title),
	}

	if h.metadata != nil && h.metadata.Enabled() {
		meta, err := h.metadata.Lookup(r.Context(), req.IGDBID)
		if err != nil {
			if errors.Is(err, igdb.ErrGameNotFound) {
				RespondError(w, http.StatusNotFound, "Game not found on IGDB")
				return
			}
			log.Error().Err(err).Int64("igdbID", req.IGDBID).Msg("Metadata lookup failed")
			RespondError(w, http.StatusBadGateway, "Metadata lookup failed")
			return
		}

		game.Title = meta.Name
		game.Slug = meta.Slug
		game.CoverURL = meta.CoverURL()
		game.Aliases = meta.Aliases()
		if !meta.ReleaseDate().IsZero() {
			game.ReleaseDate = meta.ReleaseDate().Format("2006-01-02")
		}
	}

	if game.Title == "" {
		RespondError(w, http.StatusBadRequest, "title is required without metadata credentials")
		return
	}

	created, err := h.games.Create(r.Context(), game)
	if err != nil {
		if errors.Is(err, models.ErrGameExists) {
			RespondError(w, http.StatusConflict, "Game is already tracked")
			return
		}
		log.Error().Err(err).Msg("Failed to create game")
		RespondError(w, http.StatusInternalServerError, "Failed to create game")
		return
	}

	RespondJSON(w, http.StatusCreated, created)
}

// Lookup searches the metadata service without tracking anything.
func (h *GamesHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	if h.metadata == nil || !h.metadata.Enabled() {
		RespondError(w, http.StatusServiceUnavailable, "Metadata credentials not configured")
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		RespondError(w, http.StatusBadRequest, "Missing query")
		return
	}

	games, err := h.metadata.Search(r.Context(), query)
	if err != nil {
		log.Error().Err(err).Str("query", query).Msg("Metadata search failed")
		RespondError(w, http.StatusBadGateway, "Metadata search failed")
		return
	}

	RespondJSON(w, http.StatusOK, games)
}

func (h *GamesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, "gameID")
	if !ok {
		return
	}

	if err := h.games.Delete(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrGameNotFound) {
			RespondError(w, http.StatusNotFound, "Game not found")
			return
		}
		RespondError(w, http.StatusInternalServerError, "Failed to delete game")
		return
	}

	RespondJSON(w, http.StatusNoContent, nil)
}

// TriggerSearch queues a search pass and returns the task to poll.
func (h *GamesHandler) TriggerSearch(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, "gameID")
	if !ok {
		return
	}

	task, err := h.searcher.TriggerSearch(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrGameNotFound) {
			RespondError(w, http.StatusNotFound, "Game not found")
			return
		}
		if errors.Is(err, search.ErrQueueFull) {
			RespondError(w, http.StatusServiceUnavailable, "Search queue is full, try again later")
			return
		}
		log.Error().Err(err).Int64("gameID", id).Msg("Failed to queue search")
		RespondError(w, http.StatusInternalServerError, "Failed to queue search")
		return
	}

	RespondJSON(w, http.StatusAccepted, task)
}

// Retry moves a failed game back to wanted so the scheduler picks it up
// again.
func (h *GamesHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, "gameID")
	if !ok {
		return
	}

	err := h.games.CompareAndSwapStatus(r.Context(), id, []models.GameStatus{models.StatusFailed}, models.StatusWanted)
	if err != nil {
		if errors.Is(err, models.ErrClaimConflict) {
			RespondError(w, http.StatusConflict, "Game is not in a failed state")
			return
		}
		RespondError(w, http.StatusInternalServerError, "Failed to retry game")
		return
	}

	game, err := h.games.Get(r.Context(), id)
	if err != nil {
		RespondError(w, http.StatusInternalServerError, "Failed to get game")
		return
	}

	RespondJSON(w, http.StatusOK, game)
}

func (h *GamesHandler) ListRelated(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, "gameID")
	if !ok {
		return
	}

	if _, err := h.games.Get(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrGameNotFound) {
			RespondError(w, http.StatusNotFound, "Game not found")
			return
		}
		RespondError(w, http.StatusInternalServerError, "Failed to get game")
		return
	}

	releases, err := h.related.ListByGame(r.Context(), id)
	if err != nil {
		RespondError(w, http.StatusInternalServerError, "Failed to list related releases")
		return
	}

	RespondJSON(w, http.StatusOK, releases)
}

var _ SearchTrigger = (*search.Service)(nil)
