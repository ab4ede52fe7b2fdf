package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"campaignengine/internal/dispatch"
	"campaignengine/internal/metrics"
	"campaignengine/internal/models"
	"campaignengine/internal/notify"
)

// ProcessDelivery dispatches every pending row of a running campaign, one
// customer at a time. The campaign status is re-read before each customer so a
// stop takes effect between sends. Once nothing is pending the completion
// grace window is armed.
func (s *CampaignService) ProcessDelivery(ctx context.Context, campaignID int) error {
	if _, running := s.active.LoadOrStore(campaignID, struct{}{}); running {
		s.log.Debug("Dispatch run already active", zap.Int("campaign_id", campaignID))
		return nil
	}
	defer s.active.Delete(campaignID)

	release, claimed, err := s.campaignRepo.ClaimDispatch(ctx, campaignID)
	if err != nil {
		return err
	}
	if !claimed {
		s.log.Info("Dispatch run held by another process", zap.Int("campaign_id", campaignID))
		return nil
	}
	defer release()

	pending, err := s.logRepo.ListPending(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("failed to load pending deliveries for campaign %d: %w", campaignID, err)
	}

	s.log.Info("Dispatch run started",
		zap.Int("campaign_id", campaignID),
		zap.Int("pending", len(pending)))

	sent, failed := 0, 0
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}

		campaign, err := s.campaignRepo.GetByID(ctx, campaignID)
		if err != nil {
			return fmt.Errorf("failed to re-read campaign %d: %w", campaignID, err)
		}
		if campaign.Status != models.CampaignStatusRunning {
			s.log.Info("Dispatch run halted",
				zap.Int("campaign_id", campaignID),
				zap.String("status", string(campaign.Status)))
			return nil
		}

		outcome, result := s.deliverOne(ctx, campaignID, p)

		status, recorded, err := s.recordOutcome(ctx, campaignID, p.Customer.ID, outcome)
		if err != nil {
			return err
		}
		if !recorded {
			continue
		}

		if status == models.LogStatusSent {
			sent++
			s.dispatcher.Acknowledge(campaignID, p.Customer.ID, result)
		} else {
			failed++
		}
	}

	s.log.Info("Dispatch run finished",
		zap.Int("campaign_id", campaignID),
		zap.Int("sent", sent),
		zap.Int("failed", failed))

	return s.armCompletion(ctx, campaignID)
}

// recordOutcome persists a dispatch outcome, retrying transient errors. When
// the writes keep failing the row is marked failed instead, so it never stays
// pending behind a message the vendor already took. It returns the status that
// was stored.
func (s *CampaignService) recordOutcome(ctx context.Context, campaignID, customerID int, outcome models.DispatchOutcome) (models.LogStatus, bool, error) {
	record := func(o models.DispatchOutcome) (bool, error) {
		return backoff.Retry(ctx, func() (bool, error) {
			return s.logRepo.RecordDispatchOutcome(ctx, campaignID, o)
		},
			backoff.WithBackOff(s.recordBackOff()),
			backoff.WithMaxTries(s.recordAttempts),
			backoff.WithNotify(func(err error, next time.Duration) {
				s.log.Warn("Retrying dispatch outcome write",
					zap.Int("campaign_id", campaignID),
					zap.Int("customer_id", customerID),
					zap.Duration("next", next),
					zap.Error(err))
			}),
		)
	}

	recorded, err := record(outcome)
	if err == nil {
		return outcome.Status, recorded, nil
	}
	if ctx.Err() != nil {
		return "", false, ctx.Err()
	}

	s.log.Error("Failed to record dispatch outcome",
		zap.Int("campaign_id", campaignID),
		zap.Int("customer_id", customerID),
		zap.Error(err))

	if outcome.Status != models.LogStatusFailed {
		msg := fmt.Sprintf("dispatch outcome not recorded: %v", err)
		fallback := outcome
		fallback.Status = models.LogStatusFailed
		fallback.Error = &msg

		recorded, ferr := record(fallback)
		if ferr == nil {
			return models.LogStatusFailed, recorded, nil
		}
		err = errors.Join(err, ferr)
	}

	return "", false, fmt.Errorf("failed to record dispatch outcome for campaign %d customer %d: %w", campaignID, customerID, err)
}

// deliverOne personalizes and dispatches one row. Failures become a failed outcome.
func (s *CampaignService) deliverOne(ctx context.Context, campaignID int, p *models.PendingDelivery) (models.DispatchOutcome, *dispatch.Result) {
	outcome := models.DispatchOutcome{
		LogID:   p.Log.ID,
		Message: p.Log.Message,
	}

	var result *dispatch.Result
	message, err := s.templateSvc.Render(p.Log.Message, &p.Customer)
	if err == nil {
		outcome.Message = message

		result, err = s.dispatcher.Dispatch(ctx, campaignID, &p.Customer, message)
		if result != nil {
			outcome.MessageID = &result.MessageID
			outcome.Channels = result.Channels
		}
	}

	outcome.At = s.now().UTC()
	if err != nil {
		msg := err.Error()
		outcome.Status = models.LogStatusFailed
		outcome.Error = &msg

		s.log.Warn("Customer delivery failed",
			zap.Int("campaign_id", campaignID),
			zap.Int("customer_id", p.Customer.ID),
			zap.Error(err))
		return outcome, result
	}

	outcome.Status = models.LogStatusSent
	return outcome, result
}

// armCompletion starts the durable grace window when the campaign has drained
func (s *CampaignService) armCompletion(ctx context.Context, campaignID int) error {
	remaining, err := s.logRepo.CountPending(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("failed to count pending deliveries for campaign %d: %w", campaignID, err)
	}
	if remaining > 0 {
		return nil
	}

	dueAt := s.now().Add(s.graceWindow)
	armed, err := s.campaignRepo.ArmCompletion(ctx, campaignID, dueAt)
	if err != nil {
		return err
	}
	if armed {
		s.log.Info("Completion armed",
			zap.Int("campaign_id", campaignID),
			zap.Time("due_at", dueAt))
	}
	return nil
}

// HandleDeliveryReceipt validates an acknowledgement and routes it to the batcher
func (s *CampaignService) HandleDeliveryReceipt(ctx context.Context, receipt models.DeliveryReceipt) error {
	if err := receipt.Validate(); err != nil {
		return &ValidationError{Message: err.Error()}
	}

	metrics.ReceiptsReceivedTotal.WithLabelValues("webhook").Inc()

	if err := s.receipts.Submit(ctx, receipt); err != nil {
		return fmt.Errorf("failed to accept delivery receipt: %w", err)
	}
	return nil
}

// CompleteDue completes every running campaign whose grace window has elapsed
func (s *CampaignService) CompleteDue(ctx context.Context) ([]int, error) {
	ids, err := s.campaignRepo.CompleteDue(ctx, s.now())
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		metrics.CampaignsCompletedTotal.Inc()
		s.log.Info("Campaign completed", zap.Int("campaign_id", id))

		campaign, err := s.campaignRepo.GetByID(ctx, id)
		if err != nil {
			s.log.Warn("Failed to load completed campaign", zap.Int("campaign_id", id), zap.Error(err))
			continue
		}
		s.publish(notify.EventCompleted, campaign)
	}

	return ids, nil
}

// ArmIdleRunning arms completion for drained running campaigns that lost their timer
func (s *CampaignService) ArmIdleRunning(ctx context.Context) ([]int, error) {
	return s.campaignRepo.ArmIdleRunning(ctx, s.now().Add(s.graceWindow))
}

// ResumeRunning restarts the dispatch run of every running campaign with pending rows
func (s *CampaignService) ResumeRunning(ctx context.Context) (int, error) {
	ids, err := s.campaignRepo.ListRunningWithPending(ctx)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, id := range ids {
		if s.startRun(id) {
			resumed++
		}
	}

	if resumed > 0 {
		s.log.Info("Resumed dispatch runs", zap.Int("count", resumed))
	}
	return resumed, nil
}

func (s *CampaignService) startRun(campaignID int) bool {
	return s.runner.Go("campaign-dispatch", func(ctx context.Context) error {
		err := s.ProcessDelivery(ctx, campaignID)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
}
