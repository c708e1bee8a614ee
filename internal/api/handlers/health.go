// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/autobrr/gamerr/internal/buildinfo"
)

// DownloadClientChecker reports reachability of the download client.
type DownloadClientChecker interface {
	Healthy(ctx context.Context) bool
}

type HealthHandler struct {
	downloader DownloadClientChecker
}

func NewHealthHandler(downloader DownloadClientChecker) *HealthHandler {
	return &HealthHandler{downloader: downloader}
}

func (h *HealthHandler) Routes(r chi.Router) {
	r.Get("/", h.Health)
}

type healthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	DownloadClient string `json:"downloadClient,omitempty"`
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Version: buildinfo.Version,
	}

	if h.downloader != nil {
		resp.DownloadClient = "ok"
		if !h.downloader.Healthy(r.Context()) {
			resp.DownloadClient = "unreachable"
		}
	}

	RespondJSON(w, http.StatusOK, resp)
}
