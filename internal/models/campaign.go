package models

import (
	"fmt"
	"time"
)

// CampaignStatus represents valid campaign statuses
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusRunning   CampaignStatus = "running"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusFailed    CampaignStatus = "failed"
	CampaignStatusStopped   CampaignStatus = "stopped"
)

// ParseCampaignStatus validates a status string
func ParseCampaignStatus(s string) (CampaignStatus, error) {
	switch status := CampaignStatus(s); status {
	case CampaignStatusDraft, CampaignStatusScheduled, CampaignStatusRunning,
		CampaignStatusCompleted, CampaignStatusFailed, CampaignStatusStopped:
		return status, nil
	}
	return "", fmt.Errorf("invalid status: must be one of draft, scheduled, running, completed, failed, stopped")
}

// IsTerminal reports whether no further transitions are possible
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignStatusCompleted || s == CampaignStatusFailed || s == CampaignStatusStopped
}

// CampaignStats holds the aggregate counters of a campaign
type CampaignStats struct {
	TotalAudience int `json:"total_audience" db:"total_audience"`
	Sent          int `json:"sent" db:"sent"`
	Failed        int `json:"failed" db:"failed"`
	Delivered     int `json:"delivered" db:"delivered"`
}

// Campaign represents a campaign in the system
type Campaign struct {
	ID              int            `json:"id" db:"id"`
	Name            string         `json:"name" db:"name"`
	Description     string         `json:"description,omitempty" db:"description"`
	SegmentID       int            `json:"segment_id" db:"segment_id"`
	Message         string         `json:"message" db:"message"`
	Status          CampaignStatus `json:"status" db:"status"`
	ScheduledFor    *time.Time     `json:"scheduled_for,omitempty" db:"scheduled_for"`
	Stats           CampaignStats  `json:"stats"`
	CompletionDueAt *time.Time     `json:"completion_due_at,omitempty" db:"completion_due_at"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}

// Validate checks if the campaign fields are valid
func (c *Campaign) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("campaign name is required")
	}
	if c.SegmentID <= 0 {
		return fmt.Errorf("segment_id is required")
	}
	if c.Message == "" {
		return fmt.Errorf("message is required")
	}
	return nil
}

// IsScheduledAfter checks if the campaign has a schedule later than now
func (c *Campaign) IsScheduledAfter(now time.Time) bool {
	return c.ScheduledFor != nil && c.ScheduledFor.After(now)
}

// CanActivate checks if the campaign may be activated
func (c *Campaign) CanActivate() bool {
	return c.Status == CampaignStatusDraft || c.Status == CampaignStatusScheduled
}

// CanUpdate checks if the campaign definition may still change
func (c *Campaign) CanUpdate() bool {
	return c.Status == CampaignStatusDraft || c.Status == CampaignStatusScheduled
}

// CanDelete checks if the campaign may be removed. Stopped is the only
// terminal status that can still be deleted.
func (c *Campaign) CanDelete() bool {
	return !c.Status.IsTerminal() || c.Status == CampaignStatusStopped
}
