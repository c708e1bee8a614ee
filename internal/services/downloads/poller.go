// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package downloads tracks in-flight torrents and finishes the game
// state machine when they complete or error out.
package downloads

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/gamerr/internal/models"
	"github.com/autobrr/gamerr/internal/qbittorrent"
)

// StatusProvider reports download progress for a torrent hash.
type StatusProvider interface {
	Status(ctx context.Context, hash string) (*qbittorrent.DownloadState, error)
}

// Poller periodically reconciles DOWNLOADING games against the download
// client.
type Poller struct {
	games    *models.GameStore
	provider StatusProvider
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPoller creates a download poller.
func NewPoller(games *models.GameStore, provider StatusProvider, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{
		games:    games,
		provider: provider,
		interval: interval,
	}
}

// Start launches the polling loop.
func (p *Poller) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Go(p.loop)

	log.Info().Dur("interval", p.interval).Msg("[DOWNLOADS] Poller started")
}

// Stop shuts the polling loop down.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	log.Info().Msg("[DOWNLOADS] Poller stopped")
}

func (p *Poller) loop() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.Reconcile(p.ctx)
		}
	}
}

// Reconcile checks every downloading game once. Exported so a manual
// pass can be triggered from the API and from tests.
func (p *Poller) Reconcile(ctx context.Context) {
	games, err := p.games.ListByStatus(ctx, models.StatusDownloading)
	if err != nil {
		log.Error().Err(err).Msg("[DOWNLOADS] Failed to list downloading games")
		return
	}

	for _, game := range games {
		if ctx.Err() != nil {
			return
		}
		p.reconcileGame(ctx, game)
	}
}

func (p *Poller) reconcileGame(ctx context.Context, game *models.Game) {
	if game.TorrentHash == "" {
		// Nothing to track; submission never recorded a hash.
		log.Warn().Int64("gameID", game.ID).Msg("[DOWNLOADS] Downloading game has no torrent hash, marking failed")
		p.transition(ctx, game, models.StatusFailed)
		return
	}

	state, err := p.provider.Status(ctx, game.TorrentHash)
	if err != nil {
		if errors.Is(err, qbittorrent.ErrTorrentNotFound) {
			// Completed torrents can be removed from the client by
			// cleanup rules; treat a vanished hash as done.
			log.Info().Int64("gameID", game.ID).Str("hash", game.TorrentHash).Msg("[DOWNLOADS] Torrent gone from client, assuming complete")
			p.transition(ctx, game, models.StatusDownloaded)
			return
		}
		log.Error().Err(err).Int64("gameID", game.ID).Msg("[DOWNLOADS] Status check failed")
		return
	}

	switch {
	case state.Errored:
		log.Warn().Int64("gameID", game.ID).Str("name", state.Name).Msg("[DOWNLOADS] Torrent errored")
		p.transition(ctx, game, models.StatusFailed)
	case state.Complete():
		log.Info().Int64("gameID", game.ID).Str("name", state.Name).Msg("[DOWNLOADS] Download complete")
		p.transition(ctx, game, models.StatusDownloaded)
	default:
		log.Debug().Int64("gameID", game.ID).Float64("progress", state.Progress).Msg("[DOWNLOADS] Download in progress")
	}
}

func (p *Poller) transition(ctx context.Context, game *models.Game, to models.GameStatus) {
	err := p.games.CompareAndSwapStatus(ctx, game.ID, []models.GameStatus{models.StatusDownloading}, to)
	if err != nil && !errors.Is(err, models.ErrClaimConflict) {
		log.Error().Err(err).Int64("gameID", game.ID).Str("to", string(to)).Msg("[DOWNLOADS] Status transition failed")
	}
}
