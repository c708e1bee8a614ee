// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package sources

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/gamerr/internal/buildinfo"
)

const maxFeedBodyBytes int64 = 8 << 20 // 8 MiB safety limit per feed

// FeedsAdapter polls public P2P RSS feeds (tier 2). Feeds are queried
// in parallel; a single unreachable feed degrades completeness but does
// not fail the fetch as long as at least one feed responded.
type FeedsAdapter struct {
	feeds      []string
	httpClient *http.Client
}

// NewFeedsAdapter creates the RSS feed adapter over the given feed URLs.
func NewFeedsAdapter(feeds []string, timeout time.Duration) *FeedsAdapter {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &FeedsAdapter{
		feeds:      append([]string(nil), feeds...),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (a *FeedsAdapter) Name() string { return "rss" }
func (a *FeedsAdapter) Tier() Tier   { return TierFeeds }

type rssDocument struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title   string `xml:"title"`
	Link    string `xml:"link"`
	PubDate string `xml:"pubDate"`
}

// Fetch returns the current entries of every configured feed. The query
// is not forwarded: these feeds are plain release firehoses, matching
// happens downstream in the scorer.
func (a *FeedsAdapter) Fetch(ctx context.Context, _ string, since time.Time) ([]Candidate, error) {
	if len(a.feeds) == 0 {
		return []Candidate{}, nil
	}

	var (
		mu         sync.Mutex
		candidates []Candidate
		succeeded  int
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, feedURL := range a.feeds {
		g.Go(func() error {
			items, err := a.fetchFeed(gctx, feedURL)
			if err != nil {
				// Degrade: the other feeds still count.
				log.Warn().Err(err).Str("feed", feedURL).Msg("RSS feed fetch failed")
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			succeeded++
			for _, item := range items {
				if item.Title == "" {
					continue
				}
				discovered := parsePubDate(item.PubDate)
				if !since.IsZero() && !discovered.IsZero() && discovered.Before(since) {
					continue
				}
				candidates = append(candidates, Candidate{
					Title:        item.Title,
					Link:         item.Link,
					Source:       a.Name(),
					Tier:         a.Tier(),
					DiscoveredAt: discovered,
				})
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if succeeded == 0 {
		return nil, fmt.Errorf("all %d RSS feeds unavailable", len(a.feeds))
	}

	log.Debug().
		Str("adapter", a.Name()).
		Int("feeds", succeeded).
		Int("candidates", len(candidates)).
		Msg("RSS fetch complete")

	return candidates, nil
}

func (a *FeedsAdapter) fetchFeed(ctx context.Context, feedURL string) ([]rssItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read feed body: %w", err)
	}

	var doc rssDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}

	return doc.Channel.Items, nil
}

// parsePubDate tries the date layouts seen in the wild; the zero time
// marks an unparsable or missing date.
func parsePubDate(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC822Z, time.RFC822, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
