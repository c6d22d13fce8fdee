package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"wealthwatcher/internal/portfolio"
	"wealthwatcher/internal/scheduler"
	"wealthwatcher/internal/storage"
	"wealthwatcher/internal/wear"
)

// Service drives the periodic revaluation loop and hosts the wear manager.
type Service struct {
	scheduler *scheduler.Scheduler
	portfolio *portfolio.Service
	wearMgr   *wear.Manager
	locker    storage.AdvisoryLocker
	lockKey   int64
	logger    zerolog.Logger
}

// New constructs the refresh service. wearMgr and locker may be nil.
func New(sched *scheduler.Scheduler, pf *portfolio.Service, wearMgr *wear.Manager, locker storage.AdvisoryLocker, lockKey int64, logger zerolog.Logger) *Service {
	return &Service{
		scheduler: sched,
		portfolio: pf,
		wearMgr:   wearMgr,
		locker:    locker,
		lockKey:   lockKey,
		logger:    logger.With().Str("component", "service").Logger(),
	}
}

// Run blocks until ctx is cancelled. The wear manager consumes portfolio
// snapshots from the stream, so the refresh loop never talks to it directly.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wearErr := make(chan error, 1)
	if s.wearMgr != nil {
		go func() {
			wearErr <- s.wearMgr.Run(ctx)
		}()
	}

	err := s.scheduler.Run(ctx, s.ProcessTick)
	cancel()

	if s.wearMgr != nil {
		if werr := <-wearErr; werr != nil && !errors.Is(werr, context.Canceled) {
			s.logger.Error().Err(werr).Msg("wear manager terminated with error")
		}
	}
	return err
}

// ProcessTick executes a single revaluation pass, guarded by the advisory
// lock so two daemon instances sharing a database never refresh concurrently.
func (s *Service) ProcessTick(ctx context.Context, tick time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("tick", tick).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	snap, err := s.portfolio.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("refresh portfolio: %w", err)
	}

	s.logger.Info().
		Str("total", snap.Total.StringFixed(2)).
		Bool("degraded", snap.Degraded).
		Msg("portfolio refreshed")
	return nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
