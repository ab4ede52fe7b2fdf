// Package scheduler promotes due scheduled campaigns and completes drained
// running campaigns once their grace window has passed.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"campaignengine/internal/metrics"
	"campaignengine/internal/models"
)

// DueLister finds scheduled campaigns whose time has come
type DueLister interface {
	ListDueScheduled(ctx context.Context, now time.Time) ([]*models.Campaign, error)
}

// Activator runs the scheduled activation path of the state machine
type Activator interface {
	ActivateScheduled(ctx context.Context, campaign *models.Campaign) (bool, error)
}

// SchedulerTickError reports a campaign that failed to activate during a tick
type SchedulerTickError struct {
	CampaignID int
	Err        error
}

func (e *SchedulerTickError) Error() string {
	return fmt.Sprintf("scheduler tick: campaign %d: %v", e.CampaignID, e.Err)
}

func (e *SchedulerTickError) Unwrap() error {
	return e.Err
}

// Scheduler polls for due campaigns on a fixed interval
type Scheduler struct {
	campaigns DueLister
	activator Activator
	interval  time.Duration
	log       *zap.Logger
	now       func() time.Time

	// ticks never overlap
	mu sync.Mutex
}

// New creates a scheduler
func New(campaigns DueLister, activator Activator, interval time.Duration, log *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		campaigns: campaigns,
		activator: activator,
		interval:  interval,
		log:       log,
		now:       time.Now,
	}
}

// Run ticks once immediately and then on every interval until ctx is done
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("Scheduler started", zap.Duration("interval", s.interval))

	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Scheduler stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	activated, err := s.Tick(ctx)
	if err != nil && ctx.Err() == nil {
		s.log.Error("Scheduler tick failed", zap.Error(err))
	}
	if activated > 0 {
		s.log.Info("Scheduled campaigns activated", zap.Int("count", activated))
	}
}

// Tick activates every due campaign. A failing campaign does not stop the
// others; each failure is returned as a *SchedulerTickError in the joined error.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due, err := s.campaigns.ListDueScheduled(ctx, s.now())
	if err != nil {
		metrics.SchedulerErrorsTotal.Inc()
		return 0, fmt.Errorf("failed to list due campaigns: %w", err)
	}

	activated := 0
	var errs []error
	for _, campaign := range due {
		if ctx.Err() != nil {
			break
		}

		ok, err := s.activator.ActivateScheduled(ctx, campaign)
		if err != nil {
			metrics.SchedulerErrorsTotal.Inc()
			tickErr := &SchedulerTickError{CampaignID: campaign.ID, Err: err}
			s.log.Warn("Scheduled activation failed",
				zap.Int("campaign_id", campaign.ID),
				zap.Error(err))
			errs = append(errs, tickErr)
			continue
		}
		if ok {
			metrics.SchedulerActivationsTotal.Inc()
			activated++
		}
	}

	return activated, errors.Join(errs...)
}
