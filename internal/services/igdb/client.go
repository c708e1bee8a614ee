// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package igdb looks up game metadata on IGDB, authenticated through
// Twitch's client-credentials OAuth flow.
package igdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/gamerr/internal/buildinfo"
)

const (
	twitchTokenURL = "https://id.twitch.tv/oauth2/token"
	igdbAPIURL     = "https://api.igdb.com/v4"
)

var ErrGameNotFound = errors.New("igdb: game not found")

// Game is the subset of IGDB fields the monitor cares about.
type Game struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	Slug             string `json:"slug"`
	Summary          string `json:"summary"`
	FirstReleaseDate int64  `json:"first_release_date"`
	Cover            struct {
		URL string `json:"url"`
	} `json:"cover"`
	AlternativeNames []struct {
		Name string `json:"name"`
	} `json:"alternative_names"`
}

// CoverURL returns the cover image URL. IGDB serves protocol-relative
// thumbnail URLs, so the scheme is added and the size bumped.
func (g Game) CoverURL() string {
	u := g.Cover.URL
	if u == "" {
		return ""
	}
	if strings.HasPrefix(u, "//") {
		u = "https:" + u
	}
	return strings.Replace(u, "t_thumb", "t_cover_big", 1)
}

// Released reports whether the game's first release date has passed.
func (g Game) Released() bool {
	return g.FirstReleaseDate > 0 && time.Unix(g.FirstReleaseDate, 0).Before(time.Now())
}

// ReleaseDate returns the first release date, zero when IGDB has none.
func (g Game) ReleaseDate() time.Time {
	if g.FirstReleaseDate <= 0 {
		return time.Time{}
	}
	return time.Unix(g.FirstReleaseDate, 0).UTC()
}

// Aliases returns the alternative names as a flat list.
func (g Game) Aliases() []string {
	aliases := make([]string, 0, len(g.AlternativeNames))
	for _, alt := range g.AlternativeNames {
		if alt.Name != "" {
			aliases = append(aliases, alt.Name)
		}
	}
	return aliases
}

// Client talks to the IGDB v4 API. App access tokens are cached until
// shortly before expiry and refreshed on demand.
type Client struct {
	clientID     string
	clientSecret string
	httpClient   *http.Client
	tokenURL     string
	apiURL       string

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient creates an IGDB client from Twitch application credentials.
func NewClient(clientID, clientSecret string) *Client {
	return &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		tokenURL:     twitchTokenURL,
		apiURL:       igdbAPIURL,
	}
}

// Enabled reports whether credentials are configured.
func (c *Client) Enabled() bool {
	return c.clientID != "" && c.clientSecret != ""
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build twitch token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("twitch token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("twitch token endpoint returned status %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode twitch token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("twitch token response carried no token")
	}

	c.token = payload.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(payload.ExpiresIn)*time.Second - time.Minute)

	log.Debug().Msg("Refreshed IGDB access token")
	return c.token, nil
}

// query posts an Apicalypse query body to the given IGDB endpoint.
func (c *Client) query(ctx context.Context, endpoint, body string) ([]Game, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("igdb credentials not configured")
	}

	var games []Game
	err := retry.Do(
		func() error {
			token, err := c.accessToken(ctx)
			if err != nil {
				return err
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+endpoint, strings.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Client-ID", c.clientID)
			req.Header.Set("Authorization", "Bearer "+token)
			req.Header.Set("User-Agent", buildinfo.UserAgent)

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusUnauthorized {
				// Token may have been revoked early; drop it so the
				// next attempt re-authenticates.
				c.mu.Lock()
				c.token = ""
				c.mu.Unlock()
				return fmt.Errorf("igdb rejected token")
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("igdb returned status %d", resp.StatusCode)
			}

			games = nil
			return json.NewDecoder(resp.Body).Decode(&games)
		},
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("igdb query failed: %w", err)
	}

	return games, nil
}

const gameFields = "fields id, name, slug, summary, first_release_date, cover.url, alternative_names.name;"

// Search finds games matching the given text, best matches first.
func (c *Client) Search(ctx context.Context, text string) ([]Game, error) {
	body := fmt.Sprintf("%s search %q; limit 10;", gameFields, text)
	return c.query(ctx, "/games", body)
}

// Lookup fetches a single game by IGDB id.
func (c *Client) Lookup(ctx context.Context, igdbID int64) (*Game, error) {
	body := fmt.Sprintf("%s where id = %d;", gameFields, igdbID)
	games, err := c.query(ctx, "/games", body)
	if err != nil {
		return nil, err
	}
	if len(games) == 0 {
		return nil, ErrGameNotFound
	}
	return &games[0], nil
}
