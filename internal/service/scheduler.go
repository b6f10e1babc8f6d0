package service

import (
	"context"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/rs/zerolog/log"

	"github.com/zapdesk/inbox-bridge/internal/biz/repo"
	"github.com/zapdesk/inbox-bridge/internal/biz/usecase"
)

// inactivityBatch caps conversations notified per sweep
const inactivityBatch = 100

// SchedulerConfig controls the background loops
type SchedulerConfig struct {
	Interval        time.Duration // processor tick when Schedule is empty
	Schedule        string        // cron expression for processor ticks
	ReclaimInterval time.Duration
	CleanupInterval time.Duration
}

// DefaultSchedulerConfig returns default scheduler configuration
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:        10 * time.Second,
		ReclaimInterval: time.Minute,
		CleanupInterval: 6 * time.Hour,
	}
}

// BufferScheduler drives the processor, stale-buffer reclaim, inactivity
// sweep and cleanup loops
type BufferScheduler struct {
	processor *usecase.ProcessorUsecase
	bufferUC  *usecase.BufferUsecase
	convRepo  repo.ConversationRepo
	engine    *usecase.TriggerEngine // optional

	config SchedulerConfig
	now    func() time.Time
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBufferScheduler creates a new buffer scheduler
func NewBufferScheduler(
	processor *usecase.ProcessorUsecase,
	bufferUC *usecase.BufferUsecase,
	convRepo repo.ConversationRepo,
	engine *usecase.TriggerEngine,
	config SchedulerConfig,
) *BufferScheduler {
	defaults := DefaultSchedulerConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.ReclaimInterval <= 0 {
		config.ReclaimInterval = defaults.ReclaimInterval
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}
	return &BufferScheduler{
		processor: processor,
		bufferUC:  bufferUC,
		convRepo:  convRepo,
		engine:    engine,
		config:    config,
		now:       time.Now,
	}
}

// Start starts the scheduler
func (s *BufferScheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(3)
	go s.processLoop()
	go s.every(s.config.ReclaimInterval, s.reclaim)
	go s.every(s.config.CleanupInterval, s.cleanup)

	ev := log.Info().Str("component", "scheduler")
	if s.config.Schedule != "" {
		ev = ev.Str("schedule", s.config.Schedule)
	} else {
		ev = ev.Dur("interval", s.config.Interval)
	}
	ev.Msg("started")
}

// Stop stops the scheduler and waits for in-flight work
func (s *BufferScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	log.Info().Str("component", "scheduler").Msg("stopped")
}

// processLoop runs a tick on the cron schedule or, without one, the fixed interval
func (s *BufferScheduler) processLoop() {
	defer s.wg.Done()

	if s.config.Schedule == "" {
		ticker := time.NewTicker(s.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.Tick(s.ctx)
			}
		}
	}

	for {
		now := s.now()
		next, err := gronx.NextTickAfter(s.config.Schedule, now, false)
		if err != nil {
			log.Error().Err(err).Str("component", "scheduler").Str("schedule", s.config.Schedule).Msg("invalid schedule")
			return
		}
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.Tick(s.ctx)
		}
	}
}

func (s *BufferScheduler) every(interval time.Duration, fn func(ctx context.Context)) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			fn(s.ctx)
		}
	}
}

// Tick runs one processor pass followed by an inactivity sweep
func (s *BufferScheduler) Tick(ctx context.Context) {
	summary, err := s.processor.RunOnce(ctx)
	if err != nil {
		log.Error().Err(err).Str("component", "scheduler").Msg("processor pass failed")
	} else if summary.Processed+summary.Failed+summary.Skipped > 0 {
		log.Info().Str("component", "scheduler").
			Int("processed", summary.Processed).
			Int("errors", summary.Failed).
			Int("skipped", summary.Skipped).
			Dur("duration", summary.Duration).
			Msg("processor pass")
	}

	if _, err := s.SweepInactive(ctx); err != nil {
		log.Error().Err(err).Str("component", "scheduler").Msg("inactivity sweep failed")
	}
}

// SweepInactive fires inactivity_timeout for open conversations, once per
// rule threshold per quiet period. Thresholds are swept shortest first; a
// conversation idle past several of them fires them together.
func (s *BufferScheduler) SweepInactive(ctx context.Context) (int, error) {
	if s.engine == nil {
		return 0, nil
	}
	thresholds, err := s.engine.InactivityThresholds(ctx)
	if err != nil || len(thresholds) == 0 {
		return 0, err
	}

	now := s.now()
	fired := 0
	for _, minutes := range thresholds {
		convs, err := s.convRepo.ListInactive(ctx, now.Add(-time.Duration(minutes)*time.Minute), minutes, inactivityBatch)
		if err != nil {
			return fired, err
		}
		for _, conv := range convs {
			if err := s.engine.TriggerInactivityTimeout(ctx, conv); err != nil {
				log.Warn().Err(err).Str("component", "scheduler").Str("conversation_id", conv.ID).Msg("inactivity trigger failed")
			}
			if err := s.convRepo.MarkInactivityFired(ctx, conv.ID, now, reachedThreshold(thresholds, conv.InactiveFor(now))); err != nil {
				return fired, err
			}
			fired++
		}
	}
	if fired > 0 {
		log.Info().Str("component", "scheduler").Int("conversations", fired).Msg("inactivity sweep")
	}
	return fired, nil
}

// reachedThreshold returns the largest threshold, in minutes, that idle covers
func reachedThreshold(thresholds []int, idle time.Duration) int {
	reached := 0
	for _, m := range thresholds {
		if idle >= time.Duration(m)*time.Minute {
			reached = m
		}
	}
	return reached
}

func (s *BufferScheduler) reclaim(ctx context.Context) {
	count, err := s.bufferUC.ReclaimStale(ctx)
	if err != nil {
		log.Error().Err(err).Str("component", "scheduler").Msg("reclaim error")
		return
	}
	if count > 0 {
		log.Warn().Str("component", "scheduler").Int64("buffers", count).Msg("reclaimed abandoned buffers")
	}
}

// cleanup deletes old terminal buffers
func (s *BufferScheduler) cleanup(ctx context.Context) {
	count, err := s.bufferUC.Cleanup(ctx)
	if err != nil {
		log.Error().Err(err).Str("component", "scheduler").Msg("cleanup error")
		return
	}
	if count > 0 {
		log.Info().Str("component", "scheduler").Int64("buffers", count).Msg("cleaned up old buffers")
	}
}
