// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/gamerr/internal/buildinfo"
)

const (
	redditAuthURL  = "https://www.reddit.com/api/v1/access_token"
	redditOAuthURL = "https://oauth.reddit.com"
)

// reTableRow matches the first two columns of the markdown release
// tables posted in "Daily Releases" threads: | name | group | ...
var reTableRow = regexp.MustCompile(`(?m)^\|\s*([^|]+?)\s*\|\s*([^|]+?)\s*\|`)

// RedditConfig holds the script-application credentials for the
// password OAuth grant.
type RedditConfig struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	// ReleaseUser is the account posting the daily release threads.
	ReleaseUser string
	// Subreddit is the community searched by the deep historical pass.
	Subreddit string
	Timeout   time.Duration
}

func (c RedditConfig) complete() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.Username != "" && c.Password != ""
}

// RedditClient is the shared transport for both Reddit adapters. It
// owns the OAuth token lifecycle; tokens are cached until shortly
// before expiry.
type RedditClient struct {
	cfg        RedditConfig
	httpClient *http.Client
	authURL    string
	apiURL     string

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewRedditClient creates the shared Reddit transport.
func NewRedditClient(cfg RedditConfig) *RedditClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.ReleaseUser == "" {
		cfg.ReleaseUser = "EssenseOfMagic"
	}
	if cfg.Subreddit == "" {
		cfg.Subreddit = "CrackWatch"
	}
	return &RedditClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		authURL:    redditAuthURL,
		apiURL:     redditOAuthURL,
	}
}

func (c *RedditClient) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", c.cfg.Username)
	form.Set("password", c.cfg.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build reddit auth request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("reddit auth failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reddit auth returned status %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode reddit auth response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("reddit auth response carried no token")
	}

	c.token = payload.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(payload.ExpiresIn)*time.Second - time.Minute)
	return c.token, nil
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	Title      string  `json:"title"`
	SelfText   string  `json:"selftext"`
	Permalink  string  `json:"permalink"`
	CreatedUTC float64 `json:"created_utc"`
}

func (c *RedditClient) listing(ctx context.Context, path string, params url.Values) ([]redditPost, error) {
	if !c.cfg.complete() {
		return nil, fmt.Errorf("reddit credentials not configured")
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := c.apiURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build reddit request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reddit request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reddit returned status %d", resp.StatusCode)
	}

	var payload redditListing
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode reddit listing: %w", err)
	}

	posts := make([]redditPost, 0, len(payload.Data.Children))
	for _, child := range payload.Data.Children {
		posts = append(posts, child.Data)
	}
	return posts, nil
}

// candidatesFromPosts extracts release candidates from the markdown
// tables of daily-release posts. Each table row names a release and its
// group; the two columns are rejoined into a scene-style title so the
// shared parser handles Reddit entries like any other source.
func candidatesFromPosts(posts []redditPost, source string, tier Tier, since time.Time) []Candidate {
	var candidates []Candidate
	for _, post := range posts {
		if !strings.Contains(strings.ToLower(post.Title), "daily releases") {
			continue
		}

		discovered := time.Unix(int64(post.CreatedUTC), 0).UTC()
		if !since.IsZero() && discovered.Before(since) {
			continue
		}

		for _, row := range reTableRow.FindAllStringSubmatch(post.SelfText, -1) {
			name := strings.TrimSpace(row[1])
			group := strings.ReplaceAll(strings.TrimSpace(row[2]), " ", "")
			if name == "" || strings.EqualFold(name, "game") || strings.HasPrefix(name, "-") {
				continue
			}

			title := strings.ReplaceAll(name, " ", ".")
			if group != "" {
				title += "-" + group
			}
			candidates = append(candidates, Candidate{
				Title:        title,
				Link:         "https://www.reddit.com" + post.Permalink,
				Source:       source,
				Tier:         tier,
				DiscoveredAt: discovered,
			})
		}
	}
	return candidates
}

// RedditRecentAdapter scans the release user's newest daily-release
// posts (tier 2).
type RedditRecentAdapter struct {
	client *RedditClient
}

// NewRedditRecentAdapter creates the tier-2 Reddit adapter.
func NewRedditRecentAdapter(client *RedditClient) *RedditRecentAdapter {
	return &RedditRecentAdapter{client: client}
}

func (a *RedditRecentAdapter) Name() string { return "reddit" }
func (a *RedditRecentAdapter) Tier() Tier   { return TierFeeds }

func (a *RedditRecentAdapter) Fetch(ctx context.Context, _ string, since time.Time) ([]Candidate, error) {
	params := url.Values{}
	params.Set("limit", "100")

	posts, err := a.client.listing(ctx, "/user/"+url.PathEscape(a.client.cfg.ReleaseUser)+"/submitted", params)
	if err != nil {
		return nil, fmt.Errorf("reddit recent listing: %w", err)
	}

	candidates := candidatesFromPosts(posts, a.Name(), a.Tier(), since)
	log.Debug().
		Str("adapter", a.Name()).
		Int("posts", len(posts)).
		Int("candidates", len(candidates)).
		Msg("Reddit recent fetch complete")

	return candidates, nil
}

// RedditSearchAdapter runs the deep historical search against the
// release subreddit (tier 3). It is the most expensive source and runs
// only when earlier tiers came up empty.
type RedditSearchAdapter struct {
	client *RedditClient
}

// NewRedditSearchAdapter creates the tier-3 Reddit adapter.
func NewRedditSearchAdapter(client *RedditClient) *RedditSearchAdapter {
	return &RedditSearchAdapter{client: client}
}

func (a *RedditSearchAdapter) Name() string { return "reddit-search" }
func (a *RedditSearchAdapter) Tier() Tier   { return TierHistorical }

func (a *RedditSearchAdapter) Fetch(ctx context.Context, query string, since time.Time) ([]Candidate, error) {
	params := url.Values{}
	params.Set("q", fmt.Sprintf("author:%s %q", a.client.cfg.ReleaseUser, query))
	params.Set("restrict_sr", "1")
	params.Set("sort", "new")
	params.Set("limit", "100")

	posts, err := a.client.listing(ctx, "/r/"+url.PathEscape(a.client.cfg.Subreddit)+"/search", params)
	if err != nil {
		return nil, fmt.Errorf("reddit deep search: %w", err)
	}

	candidates := candidatesFromPosts(posts, a.Name(), a.Tier(), since)
	log.Debug().
		Str("adapter", a.Name()).
		Str("query", query).
		Int("candidates", len(candidates)).
		Msg("Reddit deep search complete")

	return candidates, nil
}
