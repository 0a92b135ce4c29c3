// Package poller drives the order pipeline: a single cooperative loop that
// fires the pipeline stages on a fixed interval. Each Scheduler owns its own
// lifecycle, so independent instances can coexist (one per test, one per
// server) without shared process state.
package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Stage is one step of a tick. Run returns how many items it processed;
// per-item failures are the stage's own concern and must not surface here.
type Stage struct {
	Name string
	Run  func(ctx context.Context) (processed int, err error)
}

// Scheduler executes its stages in declaration order on every tick. The
// first tick fires immediately on Start. If a tick is still executing when
// the next is due, the next tick is skipped, not queued.
type Scheduler struct {
	interval     time.Duration
	stageTimeout time.Duration
	stages       []Stage
	logger       zerolog.Logger

	busy atomic.Bool
	done chan struct{}
	wg   sync.WaitGroup
}

func NewScheduler(interval, stageTimeout time.Duration, logger zerolog.Logger, stages ...Stage) *Scheduler {
	return &Scheduler{
		interval:     interval,
		stageTimeout: stageTimeout,
		stages:       stages,
		logger:       logger,
		done:         make(chan struct{}),
	}
}

// Start launches the loop in a goroutine and returns immediately.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.RunOnce(context.Background())

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				s.RunOnce(context.Background())
			}
		}
	}()
}

// Stop halts the loop cooperatively: an in-flight tick finishes before Stop
// returns. There is no mid-tick kill.
func (s *Scheduler) Stop() {
	close(s.done)
	s.wg.Wait()
}

// RunOnce executes a single tick, or reports false if one is already in
// flight. Stages run strictly in order, each under its own timeout so a
// stalled external dependency in one stage cannot starve the rest of the
// tick forever.
func (s *Scheduler) RunOnce(ctx context.Context) bool {
	if !s.busy.CompareAndSwap(false, true) {
		s.logger.Warn().Msg("previous tick still running, skipping")
		return false
	}
	defer s.busy.Store(false)

	start := time.Now()
	for _, stage := range s.stages {
		stageCtx, cancel := context.WithTimeout(ctx, s.stageTimeout)
		n, err := stage.Run(stageCtx)
		cancel()
		if err != nil {
			s.logger.Error().Err(err).Str("stage", stage.Name).Msg("pipeline stage failed")
			continue
		}
		if n > 0 {
			s.logger.Info().Str("stage", stage.Name).Int("processed", n).Msg("pipeline stage done")
		}
	}
	s.logger.Debug().Dur("elapsed", time.Since(start)).Msg("pipeline tick complete")
	return true
}
