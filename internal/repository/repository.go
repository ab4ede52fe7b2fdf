package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"campaignengine/internal/models"
)

// ErrNotFound is wrapped by lookups that match no row
var ErrNotFound = errors.New("not found")

// CustomerRepository defines customer data access operations
type CustomerRepository interface {
	Create(ctx context.Context, customer *models.Customer) error
	GetByIDs(ctx context.Context, ids []int) ([]*models.Customer, error)
	ListAll(ctx context.Context) ([]*models.Customer, error)
}

// SegmentRepository defines segment data access operations
type SegmentRepository interface {
	Create(ctx context.Context, segment *models.Segment) error
	GetByID(ctx context.Context, id int) (*models.Segment, error)
}

// CampaignRepository defines campaign data access operations.
// Every status change is a conditional update that reports whether it matched.
type CampaignRepository interface {
	CreateWithAudience(ctx context.Context, campaign *models.Campaign, customerIDs []int) error
	GetByID(ctx context.Context, id int) (*models.Campaign, error)
	List(ctx context.Context, filters CampaignFilters) ([]*models.Campaign, int, error)
	Update(ctx context.Context, campaign *models.Campaign, audience []int) (bool, error)
	TransitionStatus(ctx context.Context, id int, from []models.CampaignStatus, to models.CampaignStatus) (bool, error)
	Delete(ctx context.Context, id int, allowed []models.CampaignStatus) (bool, error)
	ListDueScheduled(ctx context.Context, now time.Time) ([]*models.Campaign, error)
	ArmCompletion(ctx context.Context, id int, dueAt time.Time) (bool, error)
	ArmIdleRunning(ctx context.Context, dueAt time.Time) ([]int, error)
	CompleteDue(ctx context.Context, now time.Time) ([]int, error)
	ListRunningWithPending(ctx context.Context) ([]int, error)
	ClaimDispatch(ctx context.Context, id int) (release func(), ok bool, err error)
}

// CampaignFilters defines filters for listing campaigns
type CampaignFilters struct {
	Page     int
	PageSize int
	Status   *models.CampaignStatus
}

// LogRepository defines communication log data access operations
type LogRepository interface {
	ListPending(ctx context.Context, campaignID int) ([]*models.PendingDelivery, error)
	RecordDispatchOutcome(ctx context.Context, campaignID int, outcome models.DispatchOutcome) (bool, error)
	CountPending(ctx context.Context, campaignID int) (int, error)
	ApplyDeliveryUpdates(ctx context.Context, campaignID int, updates []models.DeliveryUpdate) (int, error)
}

// DB is a wrapper around *sql.DB to allow passing in transaction
type DB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}
