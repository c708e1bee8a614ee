// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autobrr/gamerr/internal/api"
	"github.com/autobrr/gamerr/internal/buildinfo"
	"github.com/autobrr/gamerr/internal/config"
	"github.com/autobrr/gamerr/internal/database"
	"github.com/autobrr/gamerr/internal/domain"
	"github.com/autobrr/gamerr/internal/logger"
	"github.com/autobrr/gamerr/internal/metrics"
	"github.com/autobrr/gamerr/internal/models"
	"github.com/autobrr/gamerr/internal/qbittorrent"
	"github.com/autobrr/gamerr/internal/services/downloads"
	"github.com/autobrr/gamerr/internal/services/igdb"
	"github.com/autobrr/gamerr/internal/services/scoring"
	"github.com/autobrr/gamerr/internal/services/search"
	"github.com/autobrr/gamerr/internal/services/sources"
)

func RunServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the monitoring daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appCfg, err := config.New(configPath, buildinfo.Version)
			if err != nil {
				return err
			}

			logger.Init(appCfg.Config)
			return serve(appCfg.Config)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file or directory")
	return cmd
}

func serve(cfg *domain.Config) error {
	log.Info().
		Str("version", buildinfo.Version).
		Str("commit", buildinfo.Commit).
		Msg("Starting gamerr")

	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	gameStore := models.NewGameStore(db)
	relatedStore := models.NewRelatedReleaseStore(db)
	taskStore := models.NewSearchTaskStore(db)

	metricsManager := metrics.NewManager()

	igdbClient := igdb.NewClient(cfg.IGDBClientID, cfg.IGDBClientSecret)
	if !igdbClient.Enabled() {
		log.Warn().Msg("IGDB credentials not configured, metadata lookups disabled")
	}

	qbtClient := qbittorrent.NewClient(cfg.QbitHost, cfg.QbitUsername, cfg.QbitPassword, cfg.QbitCategory)

	adapters := buildAdapters(cfg)

	orchestrator := search.NewOrchestrator(
		gameStore, relatedStore, taskStore,
		scoring.New(scoring.Config{
			BaseThreshold:   cfg.Search.BaseThreshold,
			UpdateThreshold: cfg.Search.UpdateThreshold,
		}),
		qbtClient,
		metricsManager,
		cfg.Search.AdapterTimeout(),
		adapters...,
	)

	searchService := search.NewService(orchestrator, gameStore, taskStore, metricsManager, cfg.Search)
	poller := downloads.NewPoller(gameStore, qbtClient, time.Minute)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	searchService.Start(ctx)
	defer searchService.Stop()

	poller.Start(ctx)
	defer poller.Stop()

	server := api.NewServer(api.Deps{
		Config:     cfg,
		Games:      gameStore,
		Related:    relatedStore,
		Tasks:      taskStore,
		Metadata:   igdbClient,
		Searcher:   searchService,
		Downloader: qbtClient,
		Metrics:    metricsManager,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildAdapters assembles the tiered source chain from configuration.
// Tiers without credentials or feeds simply do not participate.
func buildAdapters(cfg *domain.Config) []sources.Adapter {
	var adapters []sources.Adapter

	adapters = append(adapters, sources.NewPredbAdapter(cfg.PredbBaseURL, cfg.Search.AdapterTimeout()))

	if len(cfg.RSSFeeds) > 0 {
		adapters = append(adapters, sources.NewFeedsAdapter(cfg.RSSFeeds, cfg.Search.AdapterTimeout()))
	}

	if cfg.RedditClientID != "" && cfg.RedditClientSecret != "" {
		redditClient := sources.NewRedditClient(sources.RedditConfig{
			ClientID:     cfg.RedditClientID,
			ClientSecret: cfg.RedditClientSecret,
			Username:     cfg.RedditUsername,
			Password:     cfg.RedditPassword,
			ReleaseUser:  cfg.RedditReleaseUser,
			Subreddit:    cfg.RedditSubreddit,
			Timeout:      cfg.Search.AdapterTimeout(),
		})
		adapters = append(adapters,
			sources.NewRedditRecentAdapter(redditClient),
			sources.NewRedditSearchAdapter(redditClient),
		)
	} else {
		log.Warn().Msg("Reddit credentials not configured, Reddit tiers disabled")
	}

	return adapters
}
