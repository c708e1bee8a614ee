// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashFromMagnet(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		link string
		want string
	}{
		{
			name: "plain magnet",
			link: "magnet:?xt=urn:btih:C12FE1C06BB254001FCEBD3A6A4B4B04A0F45C9D&dn=Some.Game-GRP",
			want: "c12fe1c06bb254001fcebd3a6a4b4b04a0f45c9d",
		},
		{
			name: "magnet with trackers",
			link: "magnet:?xt=urn:btih:abcdef0123456789abcdef0123456789abcdef01&tr=udp%3A%2F%2Ftracker.example%3A80",
			want: "abcdef0123456789abcdef0123456789abcdef01",
		},
		{
			name: "http torrent link",
			link: "https://example.org/some-game.torrent",
			want: "",
		},
		{
			name: "magnet without btih",
			link: "magnet:?dn=Some.Game-GRP",
			want: "",
		},
		{
			name: "empty",
			link: "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, hashFromMagnet(tt.link))
		})
	}
}

func TestDownloadStateComplete(t *testing.T) {
	t.Parallel()

	assert.False(t, DownloadState{Progress: 0.25}.Complete())
	assert.False(t, DownloadState{Progress: 0.999}.Complete())
	assert.True(t, DownloadState{Progress: 1.0}.Complete())
}
