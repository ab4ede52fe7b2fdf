package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// LogStatus represents the delivery status of one customer in a campaign
type LogStatus string

const (
	LogStatusPending   LogStatus = "pending"
	LogStatusSent      LogStatus = "sent"
	LogStatusDelivered LogStatus = "delivered"
	LogStatusFailed    LogStatus = "failed"
)

// Rank orders statuses so that a later update never downgrades an earlier one
func (s LogStatus) Rank() int {
	switch s {
	case LogStatusPending:
		return 0
	case LogStatusSent:
		return 1
	case LogStatusFailed:
		return 2
	case LogStatusDelivered:
		return 3
	default:
		return -1
	}
}

// ChannelResult is the outcome of one channel delivery attempt
type ChannelResult struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ChannelResults maps each attempted channel to its outcome.
// It is stored as JSONB.
type ChannelResults map[Channel]ChannelResult

// AnySucceeded reports whether at least one channel accepted the message
func (r ChannelResults) AnySucceeded() bool {
	for _, res := range r {
		if res.Success {
			return true
		}
	}
	return false
}

// Value implements driver.Valuer
func (r ChannelResults) Value() (driver.Value, error) {
	if r == nil {
		return nil, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal channel results: %w", err)
	}
	return b, nil
}

// Scan implements sql.Scanner
func (r *ChannelResults) Scan(src interface{}) error {
	if src == nil {
		*r = nil
		return nil
	}
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported channel results type %T", src)
	}
	return json.Unmarshal(b, r)
}

// CommunicationLog tracks delivery to a single customer for a campaign
type CommunicationLog struct {
	ID          int            `json:"id" db:"id"`
	CampaignID  int            `json:"campaign_id" db:"campaign_id"`
	CustomerID  int            `json:"customer_id" db:"customer_id"`
	Message     string         `json:"message" db:"message"`
	Status      LogStatus      `json:"status" db:"status"`
	Error       *string        `json:"error,omitempty" db:"error"`
	MessageID   *string        `json:"message_id,omitempty" db:"message_id"`
	Channels    ChannelResults `json:"channels,omitempty" db:"channels"`
	SentAt      *time.Time     `json:"sent_at,omitempty" db:"sent_at"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty" db:"delivered_at"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
}

// PendingDelivery is a pending log row joined with its customer
type PendingDelivery struct {
	Log      CommunicationLog
	Customer Customer
}

// DispatchOutcome is the synchronous result of dispatching to one customer
type DispatchOutcome struct {
	LogID     int
	Status    LogStatus
	Message   string
	MessageID *string
	Channels  ChannelResults
	Error     *string
	At        time.Time
}

// DeliveryReceipt is the asynchronous acknowledgement for one customer.
// It is the body of the delivery-receipt webhook and of the receipt queue.
type DeliveryReceipt struct {
	CampaignID int            `json:"campaignId"`
	CustomerID int            `json:"customerId"`
	Status     LogStatus      `json:"status"`
	Timestamp  time.Time      `json:"timestamp"`
	Channels   ChannelResults `json:"channels,omitempty"`
}

// Validate checks the receipt carries every required field.
// Timestamp is optional; a zero timestamp is stamped when the receipt is batched.
func (r *DeliveryReceipt) Validate() error {
	if r.CampaignID <= 0 {
		return fmt.Errorf("campaignId is required")
	}
	if r.CustomerID <= 0 {
		return fmt.Errorf("customerId is required")
	}
	if r.Status == "" {
		return fmt.Errorf("status is required")
	}
	if r.Status != LogStatusSent && r.Status != LogStatusDelivered && r.Status != LogStatusFailed {
		return fmt.Errorf("invalid status: must be one of sent, delivered, failed")
	}
	return nil
}

// DeliveryUpdate is one coalesced batch entry ready to be persisted
type DeliveryUpdate struct {
	CustomerID int
	Status     LogStatus
	Channels   ChannelResults
	At         time.Time
}
