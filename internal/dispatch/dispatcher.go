// Package dispatch delivers campaign messages to a single customer over every
// channel the customer can be reached on, and schedules the asynchronous
// delivery acknowledgement once the caller has recorded the send.
package dispatch

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"campaignengine/internal/metrics"
	"campaignengine/internal/models"
	"campaignengine/internal/tasks"
)

// ReceiptSink accepts delivery acknowledgements
type ReceiptSink interface {
	Submit(ctx context.Context, receipt models.DeliveryReceipt) error
}

// Runner schedules delayed background work
type Runner interface {
	After(name string, delay time.Duration, fn tasks.Func) bool
}

// Config configures a Dispatcher
type Config struct {
	AckDelay time.Duration
	Phone    PhoneNormalizer
}

// Result is the per-channel outcome of a dispatch
type Result struct {
	MessageID string
	Channels  models.ChannelResults
}

// Dispatcher sends one message to one customer
type Dispatcher struct {
	senders  map[models.Channel]Sender
	sink     ReceiptSink
	runner   Runner
	ackDelay time.Duration
	phone    PhoneNormalizer
	log      *zap.Logger
	now      func() time.Time
}

// New creates a dispatcher. A nil sink disables acknowledgements.
func New(senders map[models.Channel]Sender, sink ReceiptSink, runner Runner, cfg Config, log *zap.Logger) *Dispatcher {
	if cfg.Phone == (PhoneNormalizer{}) {
		cfg.Phone = DefaultPhoneNormalizer()
	}
	return &Dispatcher{
		senders:  senders,
		sink:     sink,
		runner:   runner,
		ackDelay: cfg.AckDelay,
		phone:    cfg.Phone,
		log:      log,
		now:      time.Now,
	}
}

// Dispatch attempts every reachable channel independently.
// The result is returned even on error so callers can record the channel outcomes.
// It fails with *AllChannelsFailedError when no channel succeeded.
// No acknowledgement is scheduled here; see Acknowledge.
func (d *Dispatcher) Dispatch(ctx context.Context, campaignID int, customer *models.Customer, message string) (*Result, error) {
	result := &Result{
		MessageID: "MSG_" + uuid.NewString(),
		Channels:  models.ChannelResults{},
	}

	var failures []*ChannelDeliveryError
	for _, contact := range customer.Contacts() {
		id, err := d.deliver(ctx, contact, message)
		if err != nil {
			cdErr := &ChannelDeliveryError{Channel: contact.Channel, Err: err}
			failures = append(failures, cdErr)
			result.Channels[contact.Channel] = models.ChannelResult{Success: false, Error: err.Error()}
			metrics.DispatchOutcomesTotal.WithLabelValues(string(contact.Channel), "failure").Inc()

			d.log.Warn("Channel delivery failed",
				zap.Int("campaign_id", campaignID),
				zap.Int("customer_id", customer.ID),
				zap.String("channel", string(contact.Channel)),
				zap.Error(err))
			continue
		}

		result.Channels[contact.Channel] = models.ChannelResult{Success: true, ID: id}
		metrics.DispatchOutcomesTotal.WithLabelValues(string(contact.Channel), "success").Inc()
	}

	if !result.Channels.AnySucceeded() {
		return result, &AllChannelsFailedError{CustomerID: customer.ID, Failures: failures}
	}

	return result, nil
}

func (d *Dispatcher) deliver(ctx context.Context, contact models.Contact, message string) (string, error) {
	sender, ok := d.senders[contact.Channel]
	if !ok {
		return "", fmt.Errorf("no sender configured for channel %s", contact.Channel)
	}

	to := contact.Address
	if contact.Channel == models.ChannelSMS {
		normalized, err := d.phone.Normalize(contact.Address)
		if err != nil {
			return "", err
		}
		to = normalized
	}

	return sender.Send(ctx, to, message)
}

// Acknowledge schedules the vendor receipt for a successful dispatch after the
// ack delay. Call it only once the row is persisted as sent, otherwise the
// receipt can reach the store while the row is still pending and be ignored.
func (d *Dispatcher) Acknowledge(campaignID, customerID int, result *Result) {
	if d.sink == nil || d.runner == nil || result == nil || !result.Channels.AnySucceeded() {
		return
	}

	channels := maps.Clone(result.Channels)
	scheduled := d.runner.After("delivery-ack", d.ackDelay, func(ctx context.Context) error {
		receipt := models.DeliveryReceipt{
			CampaignID: campaignID,
			CustomerID: customerID,
			Status:     models.LogStatusDelivered,
			Timestamp:  d.now().UTC(),
			Channels:   channels,
		}
		if err := d.sink.Submit(ctx, receipt); err != nil {
			return fmt.Errorf("failed to submit receipt for campaign %d customer %d: %w", campaignID, customerID, err)
		}
		return nil
	})

	if !scheduled {
		d.log.Warn("Delivery acknowledgement not scheduled",
			zap.Int("campaign_id", campaignID),
			zap.Int("customer_id", customerID))
	}
}
