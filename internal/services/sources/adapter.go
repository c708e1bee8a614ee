// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package sources implements the release source adapters queried by the
// tiered search pipeline. Each adapter owns its own transport and auth
// concerns; the orchestrator depends only on the Adapter interface.
package sources

import (
	"context"
	"time"
)

// Tier ranks a source class in the search strategy. Lower is higher
// priority: the scene index is authoritative, current P2P feeds come
// second, the deep historical search is the expensive last resort.
type Tier int

const (
	TierScene      Tier = 1
	TierFeeds      Tier = 2
	TierHistorical Tier = 3
)

func (t Tier) String() string {
	switch t {
	case TierScene:
		return "scene"
	case TierFeeds:
		return "feeds"
	case TierHistorical:
		return "historical"
	default:
		return "unknown"
	}
}

// Candidate is one raw entry returned by an adapter. It lives only for
// the duration of a single orchestrator pass.
type Candidate struct {
	Title        string
	Link         string
	Source       string
	Tier         Tier
	DiscoveredAt time.Time
}

// Adapter fetches raw candidates for a query. Implementations must
// honor ctx cancellation and bound every network call; transient
// failures are returned as errors so the orchestrator can degrade the
// tier without aborting the pass.
type Adapter interface {
	Name() string
	Tier() Tier
	// Fetch returns candidates matching query. A zero since means no
	// time filtering; otherwise only entries discovered after since are
	// returned (used by the incremental deep search).
	Fetch(ctx context.Context, query string, since time.Time) ([]Candidate, error)
}
