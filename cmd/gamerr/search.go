// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"errors"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/autobrr/gamerr/internal/buildinfo"
	"github.com/autobrr/gamerr/internal/config"
	"github.com/autobrr/gamerr/internal/database"
	"github.com/autobrr/gamerr/internal/logger"
	"github.com/autobrr/gamerr/internal/models"
	"github.com/autobrr/gamerr/internal/qbittorrent"
	"github.com/autobrr/gamerr/internal/services/scoring"
	"github.com/autobrr/gamerr/internal/services/search"
)

// RunSearchCommand runs a single synchronous search pass for one game.
// Useful for debugging source and scoring behavior without the daemon.
func RunSearchCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "search <game-id>",
		Short: "Run one search pass for a tracked game",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gameID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || gameID <= 0 {
				return errors.New("game-id must be a positive integer")
			}

			appCfg, err := config.New(configPath, buildinfo.Version)
			if err != nil {
				return err
			}
			cfg := appCfg.Config
			logger.Init(cfg)

			db, err := database.New(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer db.Close()

			gameStore := models.NewGameStore(db)
			taskStore := models.NewSearchTaskStore(db)

			orchestrator := search.NewOrchestrator(
				gameStore,
				models.NewRelatedReleaseStore(db),
				taskStore,
				scoring.New(scoring.Config{
					BaseThreshold:   cfg.Search.BaseThreshold,
					UpdateThreshold: cfg.Search.UpdateThreshold,
				}),
				qbittorrent.NewClient(cfg.QbitHost, cfg.QbitUsername, cfg.QbitPassword, cfg.QbitCategory),
				nil,
				cfg.Search.AdapterTimeout(),
				buildAdapters(cfg)...,
			)

			game, err := gameStore.Get(cmd.Context(), gameID)
			if err != nil {
				return err
			}

			task, err := taskStore.Create(cmd.Context(), gameID, game.Title)
			if err != nil {
				return err
			}

			if err := orchestrator.RunPass(cmd.Context(), gameID, task.ID, time.Time{}); err != nil {
				return err
			}

			done, err := taskStore.Get(cmd.Context(), task.ID)
			if err != nil {
				return err
			}

			cmd.Printf("Task %s: %s\n", done.ID, done.Status)
			if len(done.Results) > 0 {
				cmd.Println(string(done.Results))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file or directory")
	return cmd
}
