// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package igdb

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewClient("client-id", "client-secret")
	client.tokenURL = srv.URL + "/oauth2/token"
	client.apiURL = srv.URL
	return client
}

func TestClientSearch(t *testing.T) {
	t.Parallel()

	var tokenRequests int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/token":
			tokenRequests++
			_, _ = w.Write([]byte(`{"access_token": "tok", "expires_in": 3600}`))
		case "/games":
			assert.Equal(t, "client-id", r.Header.Get("Client-ID"))
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

			body, _ := io.ReadAll(r.Body)
			assert.Contains(t, string(body), `search "Some Game Name";`)
			assert.Contains(t, string(body), "cover.url")
			assert.Contains(t, string(body), "slug")

			_, _ = w.Write([]byte(`[
				{"id": 42, "name": "Some Game Name", "slug": "some-game-name",
				 "first_release_date": 1600000000,
				 "cover": {"url": "//images.igdb.com/igdb/image/upload/t_thumb/co1abc.jpg"},
				 "alternative_names": [{"name": "SGN"}]}
			]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	games, err := client.Search(context.Background(), "Some Game Name")
	require.NoError(t, err)
	require.Len(t, games, 1)

	assert.Equal(t, int64(42), games[0].ID)
	assert.Equal(t, "some-game-name", games[0].Slug)
	assert.Equal(t, "https://images.igdb.com/igdb/image/upload/t_cover_big/co1abc.jpg", games[0].CoverURL())
	assert.Equal(t, []string{"SGN"}, games[0].Aliases())
	assert.True(t, games[0].Released())
	assert.Equal(t, time.Unix(1600000000, 0).UTC(), games[0].ReleaseDate())

	// Second call reuses the cached token.
	_, err = client.Search(context.Background(), "Some Game Name")
	require.NoError(t, err)
	assert.Equal(t, 1, tokenRequests)
}

func TestClientLookupNotFound(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth2/token" {
			_, _ = w.Write([]byte(`{"access_token": "tok", "expires_in": 3600}`))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := client.Lookup(context.Background(), 999)
	assert.ErrorIs(t, err, ErrGameNotFound)
}

func TestClientWithoutCredentials(t *testing.T) {
	t.Parallel()

	client := NewClient("", "")
	assert.False(t, client.Enabled())

	_, err := client.Search(context.Background(), "anything")
	assert.Error(t, err)
}

func TestGameUnreleased(t *testing.T) {
	t.Parallel()

	g := Game{ID: 1, Name: "Future Game", FirstReleaseDate: time.Now().Add(24 * time.Hour).Unix()}
	assert.False(t, g.Released())

	g = Game{ID: 2, Name: "Dateless Game"}
	assert.False(t, g.Released())
	assert.True(t, g.ReleaseDate().IsZero())
	assert.Empty(t, g.CoverURL())
}
