// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package scoring compares parsed release descriptors against a game's
// canonical identity and decides whether a candidate is the base game,
// an update/patch, DLC, or unrelated.
package scoring

import (
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/autobrr/gamerr/internal/services/sources"
	"github.com/autobrr/gamerr/pkg/releases"
)

// Classification assigns a candidate to a release class.
type Classification string

const (
	ClassBase      Classification = "base"
	ClassUpdate    Classification = "update"
	ClassDLC       Classification = "dlc"
	ClassUnrelated Classification = "unrelated"
)

// GameIdentity is the canonical identity a descriptor is matched against.
type GameIdentity struct {
	Title   string
	Aliases []string
}

// Config carries the acceptance thresholds. Update/DLC candidates need
// weaker name similarity than base-game candidates because addon titles
// are often abbreviated.
type Config struct {
	BaseThreshold   float64
	UpdateThreshold float64
}

// DefaultConfig mirrors the stock thresholds.
func DefaultConfig() Config {
	return Config{BaseThreshold: 0.8, UpdateThreshold: 0.6}
}

// Result is the outcome of scoring a single descriptor.
type Result struct {
	Confidence     float64
	Classification Classification
}

// Accepted reports whether the candidate cleared its class threshold.
func (r Result) Accepted() bool {
	return r.Classification != ClassUnrelated
}

// Match pairs a candidate with its descriptor and score. Accepted
// matches drive state transitions; rejected ones are discarded.
type Match struct {
	Candidate  sources.Candidate
	Descriptor *releases.Descriptor
	Result     Result
}

// Scorer scores descriptors against game identities.
type Scorer struct {
	cfg Config
}

// New creates a Scorer with the given thresholds.
func New(cfg Config) *Scorer {
	if cfg.BaseThreshold <= 0 {
		cfg.BaseThreshold = 0.8
	}
	if cfg.UpdateThreshold <= 0 {
		cfg.UpdateThreshold = 0.6
	}
	return &Scorer{cfg: cfg}
}

// Score computes a confidence in [0,1] for the descriptor naming the
// given game, and classifies the candidate. Confidence blends token-set
// similarity with an edit-distance penalty on the normalized strings;
// the best score across the title and all known aliases wins.
func (s *Scorer) Score(d *releases.Descriptor, identity GameIdentity) Result {
	best := 0.0
	for _, name := range append([]string{identity.Title}, identity.Aliases...) {
		if strings.TrimSpace(name) == "" {
			continue
		}
		if sim := similarity(d.NameTokens, name); sim > best {
			best = sim
		}
	}

	res := Result{Confidence: best, Classification: ClassUnrelated}

	switch {
	case d.IsAddon():
		if best >= s.cfg.UpdateThreshold {
			if d.DLC && !d.Update {
				res.Classification = ClassDLC
			} else {
				res.Classification = ClassUpdate
			}
		}
	default:
		if best >= s.cfg.BaseThreshold {
			res.Classification = ClassBase
		}
	}

	return res
}

// similarity blends Sørensen–Dice token overlap with a normalized
// Levenshtein similarity of the joined strings. Token overlap dominates
// so word reordering is cheap, while the edit-distance term penalizes
// titles that share words but name a different game.
func similarity(nameTokens []string, gameTitle string) float64 {
	titleTokens := releases.NormalizeTokens(gameTitle)
	if len(nameTokens) == 0 || len(titleTokens) == 0 {
		return 0
	}

	inter := 0
	seen := make(map[string]struct{}, len(titleTokens))
	for _, tok := range titleTokens {
		seen[tok] = struct{}{}
	}
	for _, tok := range uniqueTokens(nameTokens) {
		if _, ok := seen[tok]; ok {
			inter++
		}
	}

	a := len(uniqueTokens(nameTokens))
	b := len(uniqueTokens(titleTokens))
	dice := float64(2*inter) / float64(a+b)

	nameJoined := strings.Join(nameTokens, " ")
	titleJoined := strings.Join(titleTokens, " ")
	dist := fuzzy.LevenshteinDistance(nameJoined, titleJoined)
	maxLen := max(len(nameJoined), len(titleJoined))
	editSim := 1 - float64(dist)/float64(maxLen)
	if editSim < 0 {
		editSim = 0
	}

	return 0.7*dice + 0.3*editSim
}

func uniqueTokens(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := tokens[:0:0]
	for _, tok := range tokens {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

// Better reports whether a beats b under the tie-break ordering:
// higher confidence, then higher-priority (lower) tier, then more
// recent discovery, then the more complete release-group annotation.
func Better(a, b *Match) bool {
	if b == nil {
		return a != nil
	}
	if a == nil {
		return false
	}
	if a.Result.Confidence != b.Result.Confidence {
		return a.Result.Confidence > b.Result.Confidence
	}
	if a.Candidate.Tier != b.Candidate.Tier {
		return a.Candidate.Tier < b.Candidate.Tier
	}
	if !a.Candidate.DiscoveredAt.Equal(b.Candidate.DiscoveredAt) {
		return a.Candidate.DiscoveredAt.After(b.Candidate.DiscoveredAt)
	}
	return len(a.Descriptor.Group) > len(b.Descriptor.Group)
}
