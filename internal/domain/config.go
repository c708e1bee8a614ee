// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config represents the application configuration
type Config struct {
	Version       string
	Host          string `toml:"host" mapstructure:"host"`
	Port          int    `toml:"port" mapstructure:"port"`
	BaseURL       string `toml:"baseUrl" mapstructure:"baseUrl"`
	LogLevel      string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`
	DataDir       string `toml:"dataDir" mapstructure:"dataDir"`
	DatabasePath  string `toml:"databasePath" mapstructure:"databasePath"`

	MetricsEnabled bool `toml:"metricsEnabled" mapstructure:"metricsEnabled"`

	// IGDB identity provider (Twitch application credentials)
	IGDBClientID     string `toml:"igdbClientId" mapstructure:"igdbClientId"`
	IGDBClientSecret string `toml:"igdbClientSecret" mapstructure:"igdbClientSecret"`

	// qBittorrent download client
	QbitHost     string `toml:"qbitHost" mapstructure:"qbitHost"`
	QbitUsername string `toml:"qbitUsername" mapstructure:"qbitUsername"`
	QbitPassword string `toml:"qbitPassword" mapstructure:"qbitPassword"`
	QbitCategory string `toml:"qbitCategory" mapstructure:"qbitCategory"`

	// Tier 1 scene index
	PredbBaseURL string `toml:"predbBaseUrl" mapstructure:"predbBaseUrl"`

	// Tier 2 P2P feeds
	RSSFeeds []string `toml:"rssFeeds" mapstructure:"rssFeeds"`

	// Reddit listing (tier 2) and historical search (tier 3)
	RedditClientID     string `toml:"redditClientId" mapstructure:"redditClientId"`
	RedditClientSecret string `toml:"redditClientSecret" mapstructure:"redditClientSecret"`
	RedditUsername     string `toml:"redditUsername" mapstructure:"redditUsername"`
	RedditPassword     string `toml:"redditPassword" mapstructure:"redditPassword"`
	RedditReleaseUser  string `toml:"redditReleaseUser" mapstructure:"redditReleaseUser"`
	RedditSubreddit    string `toml:"redditSubreddit" mapstructure:"redditSubreddit"`

	Search SearchConfig `toml:"search" mapstructure:"search"`
}

// SearchConfig is the immutable tuning snapshot handed to the search
// pipeline. Thresholds are deliberately configurable rather than constants.
type SearchConfig struct {
	BaseThreshold     float64 `toml:"baseThreshold" mapstructure:"baseThreshold"`
	UpdateThreshold   float64 `toml:"updateThreshold" mapstructure:"updateThreshold"`
	Workers           int     `toml:"workers" mapstructure:"workers"`
	AdapterTimeoutSec int     `toml:"adapterTimeoutSeconds" mapstructure:"adapterTimeoutSeconds"`
	IntervalMinutes   int     `toml:"intervalMinutes" mapstructure:"intervalMinutes"`
	HotWindowDays     int     `toml:"hotWindowDays" mapstructure:"hotWindowDays"`
	ClaimTimeoutMin   int     `toml:"claimTimeoutMinutes" mapstructure:"claimTimeoutMinutes"`
	TaskRetentionDays int     `toml:"taskRetentionDays" mapstructure:"taskRetentionDays"`
}

// AdapterTimeout returns the bounded per-adapter call timeout.
func (c SearchConfig) AdapterTimeout() time.Duration {
	if c.AdapterTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.AdapterTimeoutSec) * time.Second
}

// ClaimTimeout returns how long a SEARCHING claim may live before an
// abandoned pass is reclaimed back to WANTED.
func (c SearchConfig) ClaimTimeout() time.Duration {
	if c.ClaimTimeoutMin <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.ClaimTimeoutMin) * time.Minute
}

// Interval returns the scheduler cycle interval.
func (c SearchConfig) Interval() time.Duration {
	if c.IntervalMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// TaskRetention returns how long finished search tasks are kept.
func (c SearchConfig) TaskRetention() time.Duration {
	if c.TaskRetentionDays <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(c.TaskRetentionDays) * 24 * time.Hour
}

// Validate checks settings the daemon cannot run without.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return errors.New("dataDir is required")
	}
	if c.Search.BaseThreshold < c.Search.UpdateThreshold {
		return errors.New("search.baseThreshold must not be below search.updateThreshold")
	}
	if c.Search.BaseThreshold <= 0 || c.Search.BaseThreshold > 1 {
		return fmt.Errorf("search.baseThreshold %v outside (0,1]", c.Search.BaseThreshold)
	}
	if c.Search.UpdateThreshold <= 0 || c.Search.UpdateThreshold > 1 {
		return fmt.Errorf("search.updateThreshold %v outside (0,1]", c.Search.UpdateThreshold)
	}
	return nil
}
