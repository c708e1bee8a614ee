// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package logger configures the global zerolog instance.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/autobrr/gamerr/internal/domain"
)

// Init applies the configured level and sink to the global logger.
// Without a logPath everything goes to a console writer on stderr; with
// one, output is rotated by lumberjack and mirrored to the console.
func Init(cfg *domain.Config) {
	zerolog.TimeFieldFormat = time.RFC3339

	level := zerolog.DebugLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err == nil && cfg.LogLevel != "" {
		level = parsed
	}
	zerolog.SetGlobalLevel(level)

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}

	var sink io.Writer = console
	if cfg.LogPath != "" {
		maxSize := cfg.LogMaxSize
		if maxSize <= 0 {
			maxSize = 50
		}
		maxBackups := cfg.LogMaxBackups
		if maxBackups < 0 {
			maxBackups = 3
		}

		sink = zerolog.MultiLevelWriter(console, &lumberjack.Logger{
			Filename:   cfg.LogPath,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			Compress:   true,
		})
	}

	log.Logger = zerolog.New(sink).With().Timestamp().Logger()
	log.Debug().Str("level", level.String()).Msg("Logger configured")
}
