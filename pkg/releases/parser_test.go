// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package releases

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBaseRelease(t *testing.T) {
	t.Parallel()

	p := NewParser()

	d, err := p.Parse("Some.Game.Name-RELEASEGRP")
	require.NoError(t, err)

	assert.Equal(t, "Some Game Name", d.Name)
	assert.Equal(t, []string{"some", "game", "name"}, d.NameTokens)
	assert.Equal(t, "RELEASEGRP", d.Group)
	assert.NotEqual(t, d.Name, d.Group)
	assert.False(t, d.IsAddon())
}

func TestParseUpdateRelease(t *testing.T) {
	t.Parallel()

	p := NewParser()

	d, err := p.Parse("Some.Game.Name.Update.3-RELEASEGRP")
	require.NoError(t, err)

	assert.Equal(t, "Some Game Name", d.Name)
	assert.Equal(t, "RELEASEGRP", d.Group)
	assert.True(t, d.Update)
	assert.Equal(t, "3", d.Version)
	assert.True(t, d.IsAddon())
}

func TestParseMarkers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		title   string
		check   func(t *testing.T, d *Descriptor)
		wantErr bool
	}{
		{
			name:  "dotted version tag",
			title: "Cool.Game.v1.04-TENOKE",
			check: func(t *testing.T, d *Descriptor) {
				assert.Equal(t, "Cool Game", d.Name)
				assert.Equal(t, "1.04", d.Version)
				assert.Equal(t, "TENOKE", d.Group)
			},
		},
		{
			name:  "dlc marker",
			title: "Cool.Game.Snow.Country.DLC-SKIDROW",
			check: func(t *testing.T, d *Descriptor) {
				assert.True(t, d.DLC)
				assert.Equal(t, "SKIDROW", d.Group)
			},
		},
		{
			name:  "repack with language noise",
			title: "Big.Adventure.MULTi12.REPACK-FitGirl",
			check: func(t *testing.T, d *Descriptor) {
				assert.Equal(t, "Big Adventure", d.Name)
				assert.True(t, d.Repack)
				assert.True(t, d.P2P)
			},
		},
		{
			name:  "proper keeps name portion",
			title: "Big.Adventure.PROPER-CODEX",
			check: func(t *testing.T, d *Descriptor) {
				assert.Equal(t, "Big Adventure", d.Name)
				assert.True(t, d.Proper)
			},
		},
		{
			name:  "numbered sequel stays in name",
			title: "Far.Cry.6-EMPRESS",
			check: func(t *testing.T, d *Descriptor) {
				assert.Equal(t, "Far Cry 6", d.Name)
				assert.False(t, d.IsAddon())
			},
		},
		{
			name:  "edition marker ends the name",
			title: "Cool.Game.Deluxe.Edition-GOG",
			check: func(t *testing.T, d *Descriptor) {
				assert.Equal(t, "Cool Game", d.Name)
				assert.NotEmpty(t, d.Editions)
			},
		},
		{
			name:    "empty title",
			title:   "",
			wantErr: true,
		},
		{
			name:    "pure noise",
			title:   "....----....",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d, err := NewParser().Parse(tt.title)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnparsableTitle)
				return
			}
			require.NoError(t, err)
			tt.check(t, d)
		})
	}
}

func TestParseIsDeterministic(t *testing.T) {
	t.Parallel()

	p := NewParser()
	titles := []string{
		"Some.Game.Name-RELEASEGRP",
		"Some.Game.Name.Update.3-RELEASEGRP",
		"Big.Adventure.MULTi12.REPACK-FitGirl",
		"Cool.Game.v1.04-TENOKE",
	}

	for _, title := range titles {
		first, err := p.Parse(title)
		require.NoError(t, err)
		second, err := p.Parse(title)
		require.NoError(t, err)
		assert.Equal(t, first, second, "parsing %q twice should yield identical descriptors", title)
	}
}

func TestGroupSuffixExtraction(t *testing.T) {
	t.Parallel()

	// Any title with a recognizable trailing group yields a non-empty
	// group distinct from the name portion.
	titles := []string{
		"Alpha.Beta-GRP1",
		"Long.Game.Title.With.Words-RAZOR1911",
		"Short-KAOS",
	}

	for _, title := range titles {
		d, err := NewParser().Parse(title)
		require.NoError(t, err, title)
		assert.NotEmpty(t, d.Group, title)
		assert.NotEqual(t, d.Name, d.Group, title)
	}
}

func TestNormalizeTokens(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"assassins", "creed", "iv"}, NormalizeTokens("Assassin's Creed: IV"))
	assert.Equal(t, []string{"some", "game"}, NormalizeTokens("Some___Game"))
	assert.Empty(t, NormalizeTokens("!!!"))
}
