// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/gamerr/internal/buildinfo"
)

const defaultPredbBaseURL = "https://api.predb.net/"

// PredbAdapter queries a predb-style scene index (tier 1). The index is
// authoritative for scene releases but carries no P2P repacks.
type PredbAdapter struct {
	baseURL    string
	httpClient *http.Client
}

// NewPredbAdapter creates the scene index adapter. An empty baseURL
// selects the public predb.net API.
func NewPredbAdapter(baseURL string, timeout time.Duration) *PredbAdapter {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultPredbBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PredbAdapter{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (a *PredbAdapter) Name() string { return "predb" }
func (a *PredbAdapter) Tier() Tier   { return TierScene }

type predbResponse struct {
	Data []predbRelease `json:"data"`
}

type predbRelease struct {
	Release string `json:"release"`
	Group   string `json:"group"`
	Section string `json:"section"`
	PreTime int64  `json:"pretime"`
}

// Fetch searches the GAMES section of the index. The section filter is
// applied server-side, which beats fetching everything and filtering
// locally.
func (a *PredbAdapter) Fetch(ctx context.Context, query string, since time.Time) ([]Candidate, error) {
	params := url.Values{}
	params.Set("type", "search")
	params.Set("q", sanitizeQuery(query))
	params.Set("section", "GAMES")
	params.Set("sort", "DESC")

	endpoint := strings.TrimRight(a.baseURL, "/") + "/?" + params.Encode()

	var payload predbResponse
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return err
			}
			req.Header.Set("User-Agent", buildinfo.UserAgent)

			resp, err := a.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("predb returned status %d", resp.StatusCode)
			}

			payload = predbResponse{}
			return json.NewDecoder(resp.Body).Decode(&payload)
		},
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("predb search failed: %w", err)
	}

	candidates := make([]Candidate, 0, len(payload.Data))
	for _, rel := range payload.Data {
		if rel.Release == "" {
			continue
		}
		preAt := time.Unix(rel.PreTime, 0).UTC()
		if !since.IsZero() && preAt.Before(since) {
			continue
		}
		candidates = append(candidates, Candidate{
			Title:        rel.Release,
			Link:         strings.TrimRight(a.baseURL, "/") + "/?type=nfo&release=" + url.QueryEscape(rel.Release),
			Source:       a.Name(),
			Tier:         a.Tier(),
			DiscoveredAt: preAt,
		})
	}

	log.Debug().
		Str("adapter", a.Name()).
		Str("query", query).
		Int("candidates", len(candidates)).
		Msg("Scene index search complete")

	return candidates, nil
}

// sanitizeQuery strips punctuation the index does not understand,
// keeping letters, digits and spaces.
func sanitizeQuery(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	for _, r := range query {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == ' ':
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
