package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Completer owns the durable completion deadline of running campaigns
type Completer interface {
	ArmIdleRunning(ctx context.Context) ([]int, error)
	CompleteDue(ctx context.Context) ([]int, error)
}

// CompletionSweeper completes running campaigns whose grace window has elapsed.
// Deadlines live in the database so they survive restarts.
type CompletionSweeper struct {
	completer Completer
	interval  time.Duration
	log       *zap.Logger
}

// NewCompletionSweeper creates a sweeper
func NewCompletionSweeper(completer Completer, interval time.Duration, log *zap.Logger) *CompletionSweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &CompletionSweeper{
		completer: completer,
		interval:  interval,
		log:       log,
	}
}

// Run re-arms drained campaigns that lost their deadline, then sweeps on every interval
func (s *CompletionSweeper) Run(ctx context.Context) error {
	armed, err := s.completer.ArmIdleRunning(ctx)
	if err != nil {
		s.log.Error("Failed to re-arm completion deadlines", zap.Error(err))
	} else if len(armed) > 0 {
		s.log.Info("Re-armed completion deadlines", zap.Ints("campaign_ids", armed))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep completes every campaign whose deadline has passed
func (s *CompletionSweeper) Sweep(ctx context.Context) {
	if _, err := s.completer.ArmIdleRunning(ctx); err != nil && ctx.Err() == nil {
		s.log.Warn("Failed to arm idle campaigns", zap.Error(err))
	}

	completed, err := s.completer.CompleteDue(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error("Completion sweep failed", zap.Error(err))
		}
		return
	}
	if len(completed) > 0 {
		s.log.Info("Campaigns completed", zap.Ints("campaign_ids", completed))
	}
}
