// Package notify publishes campaign lifecycle notifications.
// Delivery is best effort and never affects the lifecycle operation itself.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"campaignengine/internal/models"
)

// Event names a lifecycle notification
type Event string

const (
	EventScheduled Event = "campaign.scheduled"
	EventActivated Event = "campaign.activated"
	EventCompleted Event = "campaign.completed"
)

// Notification is the payload published for a lifecycle event
type Notification struct {
	ID            string     `json:"id"`
	Event         Event      `json:"event"`
	CampaignID    int        `json:"campaign_id"`
	CampaignName  string     `json:"campaign_name,omitempty"`
	TotalAudience int        `json:"total_audience"`
	ScheduledFor  *time.Time `json:"scheduled_for,omitempty"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

// New builds a notification for the campaign
func New(event Event, campaign *models.Campaign, at time.Time) Notification {
	return Notification{
		ID:            uuid.NewString(),
		Event:         event,
		CampaignID:    campaign.ID,
		CampaignName:  campaign.Name,
		TotalAudience: campaign.Stats.TotalAudience,
		ScheduledFor:  campaign.ScheduledFor,
		OccurredAt:    at.UTC(),
	}
}

// Publisher sends notifications somewhere
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}

// LogPublisher writes notifications to the log. Used when no broker is configured.
type LogPublisher struct {
	log *zap.Logger
}

// NewLogPublisher creates a LogPublisher
func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

// Publish logs the notification
func (p *LogPublisher) Publish(ctx context.Context, n Notification) error {
	p.log.Info("Campaign notification",
		zap.String("notification_id", n.ID),
		zap.String("event", string(n.Event)),
		zap.Int("campaign_id", n.CampaignID),
		zap.Int("total_audience", n.TotalAudience))
	return nil
}
