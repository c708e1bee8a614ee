// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package qbittorrent wraps the qBittorrent Web API for release
// submission and download progress tracking.
package qbittorrent

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/rs/zerolog/log"
)

var (
	ErrTorrentNotFound = errors.New("qbittorrent: torrent not found")
	ErrNoHash          = errors.New("qbittorrent: could not determine torrent hash")
)

// DownloadState summarizes a torrent for the monitoring loop.
type DownloadState struct {
	Hash     string
	Name     string
	Progress float64
	Errored  bool
}

// Complete reports whether the download finished.
func (s DownloadState) Complete() bool {
	return s.Progress >= 1.0
}

// Client wraps the go-qbittorrent client with lazy login and the
// category convention used for game downloads.
type Client struct {
	*qbt.Client
	category string

	mu        sync.Mutex
	loggedIn  bool
	lastLogin time.Time
}

// NewClient creates a qBittorrent client. Login happens on first use.
func NewClient(host, username, password, category string) *Client {
	if category == "" {
		category = "gamerr"
	}

	return &Client{
		Client: qbt.NewClient(qbt.Config{
			Host:     host,
			Username: username,
			Password: password,
			Timeout:  30,
		}),
		category: category,
	}
}

func (c *Client) ensureLogin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Sessions survive for a while; re-login hourly instead of per call.
	if c.loggedIn && time.Since(c.lastLogin) < time.Hour {
		return nil
	}

	if err := c.LoginCtx(ctx); err != nil {
		c.loggedIn = false
		return fmt.Errorf("qbittorrent login failed: %w", err)
	}

	c.loggedIn = true
	c.lastLogin = time.Now()
	return nil
}

// Submit hands a torrent or magnet link to qBittorrent under the game
// category and returns the torrent hash.
func (c *Client) Submit(ctx context.Context, link string) (string, error) {
	if err := c.ensureLogin(ctx); err != nil {
		return "", err
	}

	opts := map[string]string{
		"category": c.category,
	}
	if err := c.AddTorrentFromUrlCtx(ctx, link, opts); err != nil {
		return "", fmt.Errorf("add torrent: %w", err)
	}

	if hash := hashFromMagnet(link); hash != "" {
		log.Debug().Str("hash", hash).Msg("Submitted magnet to qBittorrent")
		return hash, nil
	}

	// HTTP .torrent links carry no hash; find the newest torrent in our
	// category instead. qBittorrent needs a moment to register it.
	hash, err := c.newestCategoryHash(ctx)
	if err != nil {
		return "", err
	}

	log.Debug().Str("hash", hash).Msg("Submitted torrent to qBittorrent")
	return hash, nil
}

func (c *Client) newestCategoryHash(ctx context.Context) (string, error) {
	var newest *qbt.Torrent
	for attempt := 0; attempt < 5; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Second):
		}

		torrents, err := c.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{Category: c.category})
		if err != nil {
			return "", fmt.Errorf("list category torrents: %w", err)
		}

		for i := range torrents {
			t := &torrents[i]
			if newest == nil || t.AddedOn > newest.AddedOn {
				newest = t
			}
		}
		if newest != nil {
			return newest.Hash, nil
		}
	}

	return "", ErrNoHash
}

// Status fetches the current download state for a torrent hash.
func (c *Client) Status(ctx context.Context, hash string) (*DownloadState, error) {
	if err := c.ensureLogin(ctx); err != nil {
		return nil, err
	}

	torrents, err := c.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{Hashes: []string{hash}})
	if err != nil {
		return nil, fmt.Errorf("get torrent status: %w", err)
	}
	if len(torrents) == 0 {
		return nil, ErrTorrentNotFound
	}

	t := torrents[0]
	return &DownloadState{
		Hash:     t.Hash,
		Name:     t.Name,
		Progress: t.Progress,
		Errored:  t.State == qbt.TorrentStateError || t.State == qbt.TorrentStateMissingFiles,
	}, nil
}

// Healthy reports whether the Web API is reachable.
func (c *Client) Healthy(ctx context.Context) bool {
	if err := c.ensureLogin(ctx); err != nil {
		return false
	}
	_, err := c.GetWebAPIVersionCtx(ctx)
	return err == nil
}

// hashFromMagnet extracts the btih info-hash from a magnet link,
// returning "" for anything else.
func hashFromMagnet(link string) string {
	if !strings.HasPrefix(link, "magnet:") {
		return ""
	}

	u, err := url.Parse(link)
	if err != nil {
		return ""
	}

	for _, xt := range u.Query()["xt"] {
		if strings.HasPrefix(xt, "urn:btih:") {
			return strings.ToLower(strings.TrimPrefix(xt, "urn:btih:"))
		}
	}
	return ""
}
