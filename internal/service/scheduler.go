package service

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/unclebandit/creatorsync/internal/metrics"
	"github.com/unclebandit/creatorsync/internal/queue"
	"github.com/unclebandit/creatorsync/internal/repository"
)

type SweepSummary struct {
	TotalNeedingSync int      `json:"total_needing_sync"`
	Queued           int      `json:"queued"`
	Errors           []string `json:"errors,omitempty"`
}

// Scheduler fans out high-priority scrape requests for every stale profile.
type Scheduler struct {
	profiles repository.ProfileRepositoryInterface
	sync     *SyncService
	logger   *zap.Logger
	now      func() time.Time
}

func NewScheduler(profiles repository.ProfileRepositoryInterface, sync *SyncService, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		profiles: profiles,
		sync:     sync,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Sweep queues a scrape for each active profile that needs a refresh.
// Publish failures are collected into the summary and logged together; only
// a failure to list profiles is returned.
func (s *Scheduler) Sweep(ctx context.Context) (SweepSummary, error) {
	var sum SweepSummary

	profiles, err := s.profiles.ListActive(ctx)
	if err != nil {
		return sum, fmt.Errorf("list active profiles: %w", err)
	}

	now := s.now()
	var errs *multierror.Error
	for _, p := range profiles {
		if !s.sync.NeedsRefresh(p, now) {
			continue
		}
		sum.TotalNeedingSync++

		if _, err := s.sync.RequestScrape(ctx, p, queue.PriorityHigh); err != nil {
			errs = multierror.Append(errs, err)
			sum.Errors = append(sum.Errors, err.Error())
			continue
		}
		sum.Queued++
	}
	metrics.SweepQueuedTotal.Add(float64(sum.Queued))

	if err := errs.ErrorOrNil(); err != nil {
		s.logger.Error("sweep finished with publish errors",
			zap.Int("failed", len(errs.Errors)), zap.Error(err))
	}
	s.logger.Info("sweep finished",
		zap.Int("total_needing_sync", sum.TotalNeedingSync),
		zap.Int("queued", sum.Queued))
	return sum, nil
}
