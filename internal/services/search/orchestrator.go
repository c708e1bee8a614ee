// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package search runs tiered release searches for monitored games and
// drives their status transitions.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/gamerr/internal/metrics"
	"github.com/autobrr/gamerr/internal/models"
	"github.com/autobrr/gamerr/internal/services/scoring"
	"github.com/autobrr/gamerr/internal/services/sources"
	"github.com/autobrr/gamerr/pkg/releases"
)

// Downloader submits release links to the download client. Submit
// returns the torrent hash used for progress tracking.
type Downloader interface {
	Submit(ctx context.Context, link string) (string, error)
}

// PassOutcome reports what a finished search pass did.
type PassOutcome struct {
	GameID      int64   `json:"gameId"`
	Mode        string  `json:"mode"`
	ReleaseName string  `json:"releaseName,omitempty"`
	Tier        int     `json:"tier,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
	Attached    int     `json:"attached,omitempty"`
	Found       bool    `json:"found"`
}

// Orchestrator runs one search pass at a time: claim the game, walk the
// source tiers cheapest first, score what comes back, and either hand
// the best match to the download client or release the claim.
type Orchestrator struct {
	games      *models.GameStore
	related    *models.RelatedReleaseStore
	tasks      *models.SearchTaskStore
	parser     *releases.Parser
	scorer     *scoring.Scorer
	downloader Downloader
	metrics    *metrics.Manager

	adapters       []sources.Adapter
	adapterTimeout time.Duration

	relatedMu     sync.Mutex
	relatedActive map[int64]struct{}
}

// NewOrchestrator wires the search pipeline. Adapters are walked in
// ascending tier order regardless of registration order.
func NewOrchestrator(
	games *models.GameStore,
	related *models.RelatedReleaseStore,
	tasks *models.SearchTaskStore,
	scorer *scoring.Scorer,
	downloader Downloader,
	mm *metrics.Manager,
	adapterTimeout time.Duration,
	adapters ...sources.Adapter,
) *Orchestrator {
	sorted := make([]sources.Adapter, len(adapters))
	copy(sorted, adapters)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Tier() < sorted[j].Tier()
	})

	if adapterTimeout <= 0 {
		adapterTimeout = 30 * time.Second
	}

	return &Orchestrator{
		games:          games,
		related:        related,
		tasks:          tasks,
		parser:         releases.NewParser(),
		scorer:         scorer,
		downloader:     downloader,
		metrics:        mm,
		adapters:       sorted,
		adapterTimeout: adapterTimeout,
		relatedActive:  make(map[int64]struct{}),
	}
}

// tryLockRelated takes the per-game related-pass guard. Base passes
// already serialize through the SEARCHING claim; related passes run on
// a downloaded game without touching its status, so a user trigger and
// the daily sweep could otherwise scan the same game twice.
func (o *Orchestrator) tryLockRelated(gameID int64) bool {
	o.relatedMu.Lock()
	defer o.relatedMu.Unlock()

	if _, held := o.relatedActive[gameID]; held {
		return false
	}
	o.relatedActive[gameID] = struct{}{}
	return true
}

func (o *Orchestrator) unlockRelated(gameID int64) {
	o.relatedMu.Lock()
	delete(o.relatedActive, gameID)
	o.relatedMu.Unlock()
}

// RunPass executes one search pass for a game. Downloaded games get a
// related-release pass; everything else gets a base acquisition pass.
// taskID may be empty for scheduler-initiated passes.
func (o *Orchestrator) RunPass(ctx context.Context, gameID int64, taskID string, since time.Time) error {
	game, err := o.games.Get(ctx, gameID)
	if err != nil {
		o.failTask(ctx, taskID, err)
		return err
	}

	if game.Status == models.StatusDownloaded {
		return o.runRelatedPass(ctx, game, taskID, since)
	}
	return o.runBasePass(ctx, game, taskID, since)
}

func (o *Orchestrator) runBasePass(ctx context.Context, game *models.Game, taskID string, since time.Time) error {
	// The claim is the concurrency guard: exactly one pass can move the
	// game into SEARCHING, so overlapping triggers collapse to one
	// submission.
	err := o.games.CompareAndSwapStatus(ctx, game.ID, []models.GameStatus{models.StatusWanted}, models.StatusSearching)
	if err != nil {
		if errors.Is(err, models.ErrClaimConflict) {
			log.Debug().Int64("gameID", game.ID).Str("status", string(game.Status)).Msg("Game not claimable, skipping pass")
			o.metrics.RecordSearchPass("base", "skipped")
			o.completeTask(ctx, taskID, PassOutcome{GameID: game.ID, Mode: "base", Found: false})
			return nil
		}
		o.metrics.RecordSearchPass("base", "error")
		o.failTask(ctx, taskID, err)
		return err
	}

	identity := scoring.GameIdentity{Title: game.Title, Aliases: game.Aliases}

	best, err := o.walkTiers(ctx, game.Title, identity, since, true)
	if err != nil {
		// Release the claim so the next scheduled pass can retry.
		o.releaseClaim(game.ID)
		o.metrics.RecordSearchPass("base", "error")
		o.failTask(ctx, taskID, err)
		return err
	}

	if best == nil {
		if err := o.games.CompareAndSwapStatus(ctx, game.ID, []models.GameStatus{models.StatusSearching}, models.StatusWanted); err != nil {
			log.Error().Err(err).Int64("gameID", game.ID).Msg("Failed to release search claim")
		}
		log.Info().Int64("gameID", game.ID).Str("title", game.Title).Msg("No acceptable release found")
		o.metrics.RecordSearchPass("base", "empty")
		o.completeTask(ctx, taskID, PassOutcome{GameID: game.ID, Mode: "base", Found: false})
		return nil
	}

	if err := o.games.SetRelease(ctx, game.ID, models.StatusSearching, models.StatusFound, best.Descriptor.Raw, best.Descriptor.Group); err != nil {
		o.metrics.RecordSearchPass("base", "error")
		o.failTask(ctx, taskID, err)
		return err
	}

	log.Info().
		Int64("gameID", game.ID).
		Str("release", best.Descriptor.Raw).
		Str("group", best.Descriptor.Group).
		Int("tier", int(best.Candidate.Tier)).
		Float64("confidence", best.Result.Confidence).
		Msg("Accepted release")

	hash, err := o.downloader.Submit(ctx, best.Candidate.Link)
	if err != nil {
		o.metrics.RecordSubmission("error")
		if casErr := o.games.CompareAndSwapStatus(ctx, game.ID, []models.GameStatus{models.StatusFound}, models.StatusFailed); casErr != nil {
			log.Error().Err(casErr).Int64("gameID", game.ID).Msg("Failed to mark game failed after submit error")
		}
		o.metrics.RecordSearchPass("base", "error")
		o.failTask(ctx, taskID, fmt.Errorf("submit release: %w", err))
		return fmt.Errorf("submit release: %w", err)
	}

	if err := o.games.CompareAndSwapStatus(ctx, game.ID, []models.GameStatus{models.StatusFound}, models.StatusDownloading); err != nil {
		o.metrics.RecordSearchPass("base", "error")
		o.failTask(ctx, taskID, err)
		return err
	}
	if err := o.games.SetTorrentHash(ctx, game.ID, hash); err != nil {
		log.Error().Err(err).Int64("gameID", game.ID).Msg("Failed to store torrent hash")
	}

	o.metrics.RecordSubmission("ok")
	o.metrics.RecordSearchPass("base", "found")
	o.completeTask(ctx, taskID, PassOutcome{
		GameID:      game.ID,
		Mode:        "base",
		ReleaseName: best.Descriptor.Raw,
		Tier:        int(best.Candidate.Tier),
		Confidence:  best.Result.Confidence,
		Found:       true,
	})
	return nil
}

// runRelatedPass scans every tier for updates and DLC of an already
// downloaded game. There is no short-circuit: later tiers can carry
// addons the scene index never listed.
func (o *Orchestrator) runRelatedPass(ctx context.Context, game *models.Game, taskID string, since time.Time) error {
	if !o.tryLockRelated(game.ID) {
		log.Debug().Int64("gameID", game.ID).Msg("Related pass already running, skipping")
		o.metrics.RecordSearchPass("related", "skipped")
		o.completeTask(ctx, taskID, PassOutcome{GameID: game.ID, Mode: "related", Found: false})
		return nil
	}
	defer o.unlockRelated(game.ID)

	identity := scoring.GameIdentity{Title: game.Title, Aliases: game.Aliases}

	attached := 0
	for _, match := range o.collectMatches(ctx, game.Title, identity, since) {
		if ctx.Err() != nil {
			o.metrics.RecordSearchPass("related", "error")
			o.failTask(ctx, taskID, ctx.Err())
			return ctx.Err()
		}

		var relType models.RelatedReleaseType
		switch match.Result.Classification {
		case scoring.ClassUpdate:
			relType = models.RelatedUpdate
		case scoring.ClassDLC:
			relType = models.RelatedDLC
		default:
			continue
		}

		created, err := o.related.Attach(ctx, &models.RelatedRelease{
			GameID:       game.ID,
			ReleaseName:  match.Descriptor.Raw,
			ReleaseType:  relType,
			ReleaseGroup: match.Descriptor.Group,
			VersionTag:   match.Descriptor.Version,
			SourceTier:   int(match.Candidate.Tier),
			Link:         match.Candidate.Link,
		})
		if err != nil {
			log.Error().Err(err).Int64("gameID", game.ID).Str("release", match.Descriptor.Raw).Msg("Failed to attach related release")
			continue
		}
		if created {
			attached++
			log.Info().
				Int64("gameID", game.ID).
				Str("release", match.Descriptor.Raw).
				Str("type", string(relType)).
				Msg("Attached related release")
		}
	}

	outcome := "empty"
	if attached > 0 {
		outcome = "found"
	}
	o.metrics.RecordSearchPass("related", outcome)
	o.completeTask(ctx, taskID, PassOutcome{GameID: game.ID, Mode: "related", Attached: attached, Found: attached > 0})
	return nil
}

// walkTiers fetches tier by tier, returning the best accepted base
// match. With shortCircuit set, a tier that yields an acceptable base
// release stops the walk; the more expensive tiers never run.
func (o *Orchestrator) walkTiers(ctx context.Context, query string, identity scoring.GameIdentity, since time.Time, shortCircuit bool) (*scoring.Match, error) {
	var best *scoring.Match

	for _, group := range o.tierGroups() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		candidates := o.fetchTier(ctx, group, query, since)
		for i := range candidates {
			match := o.scoreCandidate(&candidates[i], identity)
			if match == nil || match.Result.Classification != scoring.ClassBase {
				continue
			}
			if best == nil || scoring.Better(match, best) {
				best = match
			}
		}

		if shortCircuit && best != nil {
			log.Debug().
				Int("tier", int(best.Candidate.Tier)).
				Str("release", best.Descriptor.Raw).
				Msg("Tier produced acceptable match, skipping deeper tiers")
			return best, nil
		}
	}

	return best, nil
}

// collectMatches runs every tier and returns all accepted matches.
func (o *Orchestrator) collectMatches(ctx context.Context, query string, identity scoring.GameIdentity, since time.Time) []*scoring.Match {
	var matches []*scoring.Match
	for _, group := range o.tierGroups() {
		if ctx.Err() != nil {
			return matches
		}
		candidates := o.fetchTier(ctx, group, query, since)
		for i := range candidates {
			if match := o.scoreCandidate(&candidates[i], identity); match != nil {
				matches = append(matches, match)
			}
		}
	}
	return matches
}

// tierGroups splits the sorted adapter list into runs of equal tier.
func (o *Orchestrator) tierGroups() [][]sources.Adapter {
	var groups [][]sources.Adapter
	for i := 0; i < len(o.adapters); {
		j := i
		for j < len(o.adapters) && o.adapters[j].Tier() == o.adapters[i].Tier() {
			j++
		}
		groups = append(groups, o.adapters[i:j])
		i = j
	}
	return groups
}

// fetchTier queries all adapters of one tier in parallel. A failing or
// slow adapter degrades the tier; it never aborts the pass.
func (o *Orchestrator) fetchTier(ctx context.Context, group []sources.Adapter, query string, since time.Time) []sources.Candidate {
	var (
		mu  sync.Mutex
		out []sources.Candidate
		wg  sync.WaitGroup
	)

	for _, adapter := range group {
		wg.Add(1)
		go func(adapter sources.Adapter) {
			defer wg.Done()

			fetchCtx, cancel := context.WithTimeout(ctx, o.adapterTimeout)
			defer cancel()

			start := time.Now()
			candidates, err := adapter.Fetch(fetchCtx, query, since)
			o.metrics.RecordTierFetch(adapter.Tier().String(), adapter.Name(), time.Since(start), len(candidates))

			if err != nil {
				log.Warn().Err(err).Str("adapter", adapter.Name()).Int("tier", int(adapter.Tier())).Msg("Source fetch failed")
				return
			}

			mu.Lock()
			out = append(out, candidates...)
			mu.Unlock()
		}(adapter)
	}

	wg.Wait()
	return out
}

func (o *Orchestrator) scoreCandidate(c *sources.Candidate, identity scoring.GameIdentity) *scoring.Match {
	desc, err := o.parser.Parse(c.Title)
	if err != nil {
		return nil
	}

	result := o.scorer.Score(desc, identity)
	if !result.Accepted() {
		return nil
	}

	return &scoring.Match{Candidate: *c, Descriptor: desc, Result: result}
}

// releaseClaim moves a game back to WANTED on a best-effort basis after
// a failed pass. It uses a background context so cancellation of the
// pass cannot strand the game in SEARCHING.
func (o *Orchestrator) releaseClaim(gameID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := o.games.CompareAndSwapStatus(ctx, gameID, []models.GameStatus{models.StatusSearching}, models.StatusWanted); err != nil {
		log.Error().Err(err).Int64("gameID", gameID).Msg("Failed to release search claim")
	}
}

func (o *Orchestrator) completeTask(ctx context.Context, taskID string, outcome PassOutcome) {
	if taskID == "" {
		return
	}
	if err := o.tasks.Complete(ctx, taskID, outcome); err != nil {
		log.Error().Err(err).Str("taskID", taskID).Msg("Failed to complete search task")
	}
}

func (o *Orchestrator) failTask(ctx context.Context, taskID string, taskErr error) {
	if taskID == "" {
		return
	}
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := o.tasks.Fail(ctx, taskID, taskErr); err != nil {
		log.Error().Err(err).Str("taskID", taskID).Msg("Failed to record search task failure")
	}
}
