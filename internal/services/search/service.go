// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package search

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/gamerr/internal/domain"
	"github.com/autobrr/gamerr/internal/metrics"
	"github.com/autobrr/gamerr/internal/models"
)

// ErrQueueFull is returned when the worker queue cannot take another
// user-triggered pass.
var ErrQueueFull = errors.New("search queue is full")

type searchJob struct {
	gameID int64
	taskID string
	since  time.Time
}

// Service owns the background search workers and the schedules that
// feed them: recently released games are searched every cycle, the
// backlog and related-release passes once a day.
type Service struct {
	orchestrator *Orchestrator
	games        *models.GameStore
	tasks        *models.SearchTaskStore
	metrics      *metrics.Manager
	cfg          domain.SearchConfig

	workerCtx    context.Context
	workerCancel context.CancelFunc
	workerWg     sync.WaitGroup
	queue        chan searchJob

	lastDeepRun time.Time
}

// NewService creates the search service.
func NewService(orchestrator *Orchestrator, games *models.GameStore, tasks *models.SearchTaskStore, mm *metrics.Manager, cfg domain.SearchConfig) *Service {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	cfg.Workers = workers

	return &Service{
		orchestrator: orchestrator,
		games:        games,
		tasks:        tasks,
		metrics:      mm,
		cfg:          cfg,
		queue:        make(chan searchJob, 100),
	}
}

// Start launches the worker pool, the scheduler and the maintenance
// loop. Stale SEARCHING claims from a previous run are reclaimed first.
func (s *Service) Start(ctx context.Context) {
	s.workerCtx, s.workerCancel = context.WithCancel(ctx)

	if reclaimed, err := s.games.ReclaimStale(s.workerCtx, 0); err != nil {
		log.Error().Err(err).Msg("[SEARCH] Startup reclaim failed")
	} else if reclaimed > 0 {
		log.Info().Int64("reclaimed", reclaimed).Msg("[SEARCH] Reclaimed interrupted search claims")
	}

	for i := 0; i < s.cfg.Workers; i++ {
		s.workerWg.Go(func() {
			s.worker(i)
		})
	}

	s.workerWg.Go(s.scheduler)
	s.workerWg.Go(s.maintenance)

	log.Info().Int("workers", s.cfg.Workers).Dur("interval", s.cfg.Interval()).Msg("[SEARCH] Service started")
}

// Stop gracefully shuts down the workers.
func (s *Service) Stop() {
	if s.workerCancel != nil {
		s.workerCancel()
	}
	s.workerWg.Wait()
	log.Info().Msg("[SEARCH] Service stopped")
}

// TriggerSearch queues a user-initiated pass and returns its task for
// progress polling. The pass itself runs on the worker pool.
func (s *Service) TriggerSearch(ctx context.Context, gameID int64) (*models.SearchTask, error) {
	game, err := s.games.Get(ctx, gameID)
	if err != nil {
		return nil, err
	}

	task, err := s.tasks.Create(ctx, game.ID, game.Title)
	if err != nil {
		return nil, err
	}

	if !s.tryEnqueue(searchJob{gameID: game.ID, taskID: task.ID}) {
		// Fail the task immediately so callers polling it are not left
		// waiting on a job that was never queued.
		if err := s.tasks.Fail(ctx, task.ID, ErrQueueFull); err != nil {
			log.Error().Err(err).Str("taskID", task.ID).Msg("[SEARCH] Failed to fail dropped task")
		}
		return nil, ErrQueueFull
	}
	return task, nil
}

func (s *Service) worker(id int) {
	log.Debug().Int("workerID", id).Msg("[SEARCH] Worker started")

	for {
		select {
		case <-s.workerCtx.Done():
			log.Debug().Int("workerID", id).Msg("[SEARCH] Worker stopping")
			return
		case job := <-s.queue:
			if err := s.orchestrator.RunPass(s.workerCtx, job.gameID, job.taskID, job.since); err != nil {
				log.Error().Err(err).Int64("gameID", job.gameID).Msg("[SEARCH] Pass failed")
			}
		}
	}
}

// scheduler enqueues periodic passes. Games inside the hot window are
// searched every cycle because fresh releases appear fast; the rest of
// the backlog and the related-release sweep over downloaded games run
// once a day.
func (s *Service) scheduler() {
	ticker := time.NewTicker(s.cfg.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-s.workerCtx.Done():
			return
		case <-ticker.C:
			s.runSchedule()
		}
	}
}

func (s *Service) runSchedule() {
	ctx, cancel := context.WithTimeout(s.workerCtx, time.Minute)
	defer cancel()

	deep := time.Since(s.lastDeepRun) >= 24*time.Hour
	if deep {
		s.lastDeepRun = time.Now()
	}

	wanted, err := s.games.ListByStatus(ctx, models.StatusWanted)
	if err != nil {
		log.Error().Err(err).Msg("[SEARCH] Failed to list wanted games")
		return
	}

	hotCutoff := time.Now().AddDate(0, 0, -s.hotWindowDays())
	queued := 0
	for _, game := range wanted {
		released := game.ReleaseDateTime()
		if !released.IsZero() && released.After(time.Now()) {
			// Unreleased titles cannot have legitimate releases yet.
			continue
		}

		hot := !released.IsZero() && released.After(hotCutoff)
		if !hot && !deep {
			continue
		}

		// Hot games only need candidates from the window; the backlog
		// sweep looks at everything.
		since := time.Time{}
		if hot {
			since = hotCutoff
		}

		if s.tryEnqueue(searchJob{gameID: game.ID, since: since}) {
			queued++
		}
	}

	if deep {
		downloaded, err := s.games.ListByStatus(ctx, models.StatusDownloaded)
		if err != nil {
			log.Error().Err(err).Msg("[SEARCH] Failed to list downloaded games")
		} else {
			for _, game := range downloaded {
				if s.tryEnqueue(searchJob{gameID: game.ID}) {
					queued++
				}
			}
		}
	}

	s.publishStatusCounts(ctx)

	if queued > 0 {
		log.Debug().Int("queued", queued).Bool("deep", deep).Msg("[SEARCH] Scheduled passes")
	}
}

// maintenance reclaims stale claims and prunes finished tasks.
func (s *Service) maintenance() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.workerCtx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(s.workerCtx, time.Minute)

			if reclaimed, err := s.games.ReclaimStale(ctx, s.cfg.ClaimTimeout()); err != nil {
				log.Error().Err(err).Msg("[SEARCH] Claim reclaim failed")
			} else if reclaimed > 0 {
				log.Warn().Int64("reclaimed", reclaimed).Msg("[SEARCH] Reclaimed stale search claims")
			}

			if pruned, err := s.tasks.Prune(ctx, s.cfg.TaskRetention()); err != nil {
				log.Error().Err(err).Msg("[SEARCH] Task prune failed")
			} else if pruned > 0 {
				log.Debug().Int64("pruned", pruned).Msg("[SEARCH] Pruned old search tasks")
			}

			cancel()
		}
	}
}

func (s *Service) publishStatusCounts(ctx context.Context) {
	games, err := s.games.List(ctx)
	if err != nil {
		return
	}

	counts := make(map[string]int)
	for _, game := range games {
		counts[string(game.Status)]++
	}
	s.metrics.SetGamesByStatus(counts)
}

func (s *Service) hotWindowDays() int {
	if s.cfg.HotWindowDays <= 0 {
		return 30
	}
	return s.cfg.HotWindowDays
}

// tryEnqueue reports whether the job made it onto the queue. Scheduled
// jobs that get dropped are picked up again next cycle; user-triggered
// jobs must fail their task instead.
func (s *Service) tryEnqueue(job searchJob) bool {
	select {
	case s.queue <- job:
		return true
	default:
		log.Warn().Int64("gameID", job.gameID).Msg("[SEARCH] Queue full, dropping job")
		return false
	}
}
