// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package config loads the TOML configuration, applies GAMERR__
// environment overrides and watches the file for log-level changes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/autobrr/gamerr/internal/domain"
)

const envPrefix = "GAMERR__"

var configTemplate = `# config.toml

# Hostname / IP
#
host = "localhost"

# Port
#
port = 7878

# Base url
# Set custom baseUrl eg /gamerr/ to serve in subdirectory.
# Not needed for subdomain, or by accessing with the :port directly.
#
#baseUrl = "/gamerr/"

# Gamerr logs file
# If not defined, logs to stdout
#
#logPath = "log/gamerr.log"

# Log level
#
# Default: "DEBUG"
#
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
#
logLevel = "DEBUG"

# Prometheus metrics on /metrics
#
metricsEnabled = false

# IGDB metadata (Twitch application credentials)
#
#igdbClientId = ""
#igdbClientSecret = ""

# qBittorrent download client
#
qbitHost = "http://localhost:8080"
#qbitUsername = ""
#qbitPassword = ""
qbitCategory = "gamerr"

# Tier 2 repack RSS feeds
#
#rssFeeds = ["https://fitgirl-repacks.site/feed/"]

# Reddit release listings (script application credentials)
#
#redditClientId = ""
#redditClientSecret = ""
#redditUsername = ""
#redditPassword = ""

[search]
baseThreshold = 0.8
updateThreshold = 0.6
workers = 2
intervalMinutes = 15
hotWindowDays = 30
`

// AppConfig owns the runtime configuration and its reload handling.
type AppConfig struct {
	Config *domain.Config
	viper  *viper.Viper
	mu     sync.Mutex
}

// New loads the configuration. An empty configPath resolves to the
// default user config directory; a missing config.toml is written from
// the template so a fresh install has something to edit.
func New(configPath, version string) (*AppConfig, error) {
	c := &AppConfig{
		viper: viper.New(),
	}

	c.defaults(version)

	if err := c.load(configPath); err != nil {
		return nil, err
	}
	if err := c.unmarshal(c.Config); err != nil {
		return nil, err
	}
	c.applyDerived()

	if err := c.Config.Validate(); err != nil {
		return nil, err
	}

	c.watch()
	return c, nil
}

func (c *AppConfig) defaults(version string) {
	c.Config = &domain.Config{
		Version:      version,
		Host:         "localhost",
		Port:         7878,
		LogLevel:     "DEBUG",
		QbitHost:     "http://localhost:8080",
		QbitCategory: "gamerr",
		Search: domain.SearchConfig{
			BaseThreshold:   0.8,
			UpdateThreshold: 0.6,
			Workers:         2,
		},
	}

	c.viper.SetDefault("host", c.Config.Host)
	c.viper.SetDefault("port", c.Config.Port)
	c.viper.SetDefault("logLevel", c.Config.LogLevel)
	c.viper.SetDefault("logMaxSize", 50)
	c.viper.SetDefault("logMaxBackups", 3)
	c.viper.SetDefault("metricsEnabled", false)
	c.viper.SetDefault("qbitHost", c.Config.QbitHost)
	c.viper.SetDefault("qbitCategory", c.Config.QbitCategory)
	c.viper.SetDefault("redditReleaseUser", "EssenseOfMagic")
	c.viper.SetDefault("redditSubreddit", "CrackWatch")
	c.viper.SetDefault("search.baseThreshold", 0.8)
	c.viper.SetDefault("search.updateThreshold", 0.6)
	c.viper.SetDefault("search.workers", 2)
	c.viper.SetDefault("search.adapterTimeoutSeconds", 30)
	c.viper.SetDefault("search.intervalMinutes", 15)
	c.viper.SetDefault("search.hotWindowDays", 30)
	c.viper.SetDefault("search.claimTimeoutMinutes", 30)
	c.viper.SetDefault("search.taskRetentionDays", 7)
}

func (c *AppConfig) load(configPath string) error {
	c.viper.SetConfigType("toml")

	if configPath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("resolve config dir: %w", err)
		}
		configPath = filepath.Join(dir, "gamerr")
	}

	// Accept both a directory and a direct path to the file.
	if filepath.Ext(configPath) != ".toml" {
		configPath = filepath.Join(configPath, "config.toml")
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := os.WriteFile(configPath, []byte(configTemplate), 0o644); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
		log.Info().Str("path", configPath).Msg("Wrote default configuration")
	}

	c.viper.SetConfigFile(configPath)

	c.bindEnv()

	if err := c.viper.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", configPath, err)
	}
	return nil
}

// bindEnv maps GAMERR__SNAKE_CASE variables onto config keys. Viper's
// AutomaticEnv does not cooperate with Unmarshal, so the keys are bound
// explicitly.
func (c *AppConfig) bindEnv() {
	for _, key := range []string{
		"host", "port", "baseUrl", "logLevel", "logPath", "dataDir", "databasePath",
		"metricsEnabled",
		"igdbClientId", "igdbClientSecret",
		"qbitHost", "qbitUsername", "qbitPassword", "qbitCategory",
		"predbBaseUrl",
		"redditClientId", "redditClientSecret", "redditUsername", "redditPassword",
		"redditReleaseUser", "redditSubreddit",
		"search.baseThreshold", "search.updateThreshold", "search.workers",
		"search.intervalMinutes", "search.hotWindowDays",
	} {
		env := envPrefix + envKey(key)
		if value, ok := os.LookupEnv(env); ok {
			c.viper.Set(key, value)
		}
	}
}

// envKey turns "databasePath" into "DATABASE_PATH" and
// "search.baseThreshold" into "SEARCH_BASE_THRESHOLD".
func envKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r == '.':
			b.WriteByte('_')
		case r >= 'A' && r <= 'Z':
			b.WriteByte('_')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return strings.ToUpper(b.String())
}

// unmarshal decodes loosely typed values: environment overrides arrive
// as strings even for numeric keys.
func (c *AppConfig) unmarshal(dest *domain.Config) error {
	if err := c.viper.Unmarshal(dest, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

// applyDerived fills paths that default relative to the config file.
func (c *AppConfig) applyDerived() {
	if c.Config.DataDir == "" {
		c.Config.DataDir = filepath.Dir(c.viper.ConfigFileUsed())
	}
	if c.Config.DatabasePath == "" {
		c.Config.DatabasePath = filepath.Join(c.Config.DataDir, "gamerr.db")
	}
}

// watch reloads dynamic settings when the config file changes. Only the
// log level is applied live; everything else needs a restart.
func (c *AppConfig) watch() {
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		c.mu.Lock()
		defer c.mu.Unlock()

		fresh := domain.Config{}
		if err := c.unmarshal(&fresh); err != nil {
			log.Error().Err(err).Msg("Failed to reload configuration")
			return
		}

		if fresh.LogLevel != c.Config.LogLevel {
			c.Config.LogLevel = fresh.LogLevel
			if level, err := zerolog.ParseLevel(strings.ToLower(fresh.LogLevel)); err == nil {
				zerolog.SetGlobalLevel(level)
				log.Info().Str("level", fresh.LogLevel).Msg("Log level changed")
			}
		}
	})
	c.viper.WatchConfig()
}
