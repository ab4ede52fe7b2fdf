package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"campaignengine/internal/models"

	"github.com/lib/pq"
)

// dispatchLockSpace namespaces the advisory locks taken for dispatch runs
const dispatchLockSpace = 7301

const campaignColumns = `id, name, description, segment_id, message, status, scheduled_for, ` +
	`total_audience, sent, failed, delivered, completion_due_at, created_at, updated_at`

type campaignRepository struct {
	db *sql.DB
}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository(db *sql.DB) CampaignRepository {
	return &campaignRepository{db: db}
}

// CreateWithAudience creates a campaign and one pending log row per customer in one transaction
func (r *campaignRepository) CreateWithAudience(ctx context.Context, campaign *models.Campaign, customerIDs []int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO campaigns (name, description, segment_id, message, status, scheduled_for, total_audience)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err = tx.QueryRowContext(
		ctx,
		query,
		campaign.Name,
		campaign.Description,
		campaign.SegmentID,
		campaign.Message,
		campaign.Status,
		campaign.ScheduledFor,
		len(customerIDs),
	).Scan(&campaign.ID, &campaign.CreatedAt, &campaign.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}

	if err := insertPendingLogs(ctx, tx, campaign.ID, campaign.Message, customerIDs); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	campaign.Stats = models.CampaignStats{TotalAudience: len(customerIDs)}
	return nil
}

// GetByID retrieves a campaign by ID
func (r *campaignRepository) GetByID(ctx context.Context, id int) (*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`

	campaign := &models.Campaign{}
	err := scanCampaign(r.db.QueryRowContext(ctx, query, id), campaign)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("campaign %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	return campaign, nil
}

// List retrieves campaigns with filters and pagination
func (r *campaignRepository) List(ctx context.Context, filters CampaignFilters) ([]*models.Campaign, int, error) {
	queryBuilder := strings.Builder{}
	queryBuilder.WriteString(`SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`)

	args := []interface{}{}
	argPos := 1

	if filters.Status != nil {
		queryBuilder.WriteString(fmt.Sprintf(" AND status = $%d", argPos))
		args = append(args, *filters.Status)
		argPos++
	}

	// Order by ID DESC for stable pagination
	queryBuilder.WriteString(" ORDER BY id DESC")

	limit := filters.PageSize
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	offset := (filters.Page - 1) * limit
	if offset < 0 {
		offset = 0
	}

	queryBuilder.WriteString(fmt.Sprintf(" LIMIT $%d OFFSET $%d", argPos, argPos+1))
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, queryBuilder.String(), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := []*models.Campaign{}
	for rows.Next() {
		campaign := &models.Campaign{}
		if err := scanCampaign(rows, campaign); err != nil {
			return nil, 0, fmt.Errorf("failed to scan campaign: %w", err)
		}
		campaigns = append(campaigns, campaign)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate campaigns: %w", err)
	}

	countQuery := "SELECT COUNT(*) FROM campaigns WHERE 1=1"
	countArgs := []interface{}{}
	if filters.Status != nil {
		countQuery += " AND status = $1"
		countArgs = append(countArgs, *filters.Status)
	}

	var totalCount int
	if err := r.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to get total count: %w", err)
	}

	return campaigns, totalCount, nil
}

// Update rewrites the campaign definition while it is still draft or scheduled.
// A non-nil audience replaces every log row with fresh pending rows.
func (r *campaignRepository) Update(ctx context.Context, campaign *models.Campaign, audience []int) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE campaigns
		SET name = $2, description = $3, segment_id = $4, message = $5,
			status = $6, scheduled_for = $7,
			total_audience = COALESCE($8, total_audience),
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND status IN ('draft', 'scheduled')
		RETURNING total_audience, updated_at
	`

	var total sql.NullInt64
	if audience != nil {
		total = sql.NullInt64{Int64: int64(len(audience)), Valid: true}
	}

	err = tx.QueryRowContext(
		ctx,
		query,
		campaign.ID,
		campaign.Name,
		campaign.Description,
		campaign.SegmentID,
		campaign.Message,
		campaign.Status,
		campaign.ScheduledFor,
		total,
	).Scan(&campaign.Stats.TotalAudience, &campaign.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to update campaign: %w", err)
	}

	if audience != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM communication_logs WHERE campaign_id = $1`, campaign.ID); err != nil {
			return false, fmt.Errorf("failed to clear campaign audience: %w", err)
		}
		if err := insertPendingLogs(ctx, tx, campaign.ID, campaign.Message, audience); err != nil {
			return false, err
		}
	} else {
		_, err := tx.ExecContext(ctx,
			`UPDATE communication_logs SET message = $2, updated_at = CURRENT_TIMESTAMP WHERE campaign_id = $1 AND status = 'pending'`,
			campaign.ID, campaign.Message)
		if err != nil {
			return false, fmt.Errorf("failed to update pending messages: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return true, nil
}

// TransitionStatus moves the campaign to status `to` only if it is currently in one of `from`
func (r *campaignRepository) TransitionStatus(ctx context.Context, id int, from []models.CampaignStatus, to models.CampaignStatus) (bool, error) {
	query := `
		UPDATE campaigns
		SET status = $1, completion_due_at = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2 AND status = ANY($3)
	`

	result, err := r.db.ExecContext(ctx, query, to, id, pq.Array(statusStrings(from)))
	if err != nil {
		return false, fmt.Errorf("failed to update campaign status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows > 0, nil
}

// Delete deletes a campaign in one of the allowed statuses. Log rows cascade.
func (r *campaignRepository) Delete(ctx context.Context, id int, allowed []models.CampaignStatus) (bool, error) {
	query := `DELETE FROM campaigns WHERE id = $1 AND status = ANY($2)`

	result, err := r.db.ExecContext(ctx, query, id, pq.Array(statusStrings(allowed)))
	if err != nil {
		return false, fmt.Errorf("failed to delete campaign: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows > 0, nil
}

// ListDueScheduled returns scheduled campaigns whose time has come
func (r *campaignRepository) ListDueScheduled(ctx context.Context, now time.Time) ([]*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + `
		FROM campaigns
		WHERE status = 'scheduled' AND scheduled_for <= $1
		ORDER BY scheduled_for, id`

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := []*models.Campaign{}
	for rows.Next() {
		campaign := &models.Campaign{}
		if err := scanCampaign(rows, campaign); err != nil {
			return nil, fmt.Errorf("failed to scan campaign: %w", err)
		}
		campaigns = append(campaigns, campaign)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate due campaigns: %w", err)
	}

	return campaigns, nil
}

// ArmCompletion records when a running campaign with no pending rows becomes completable.
// An already armed deadline is kept.
func (r *campaignRepository) ArmCompletion(ctx context.Context, id int, dueAt time.Time) (bool, error) {
	query := `
		UPDATE campaigns
		SET completion_due_at = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
			AND status = 'running'
			AND completion_due_at IS NULL
			AND NOT EXISTS (
				SELECT 1 FROM communication_logs
				WHERE campaign_id = $1 AND status = 'pending'
			)
	`

	result, err := r.db.ExecContext(ctx, query, id, dueAt)
	if err != nil {
		return false, fmt.Errorf("failed to arm completion: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows > 0, nil
}

// ArmIdleRunning arms completion for every running campaign that has drained but was never armed
func (r *campaignRepository) ArmIdleRunning(ctx context.Context, dueAt time.Time) ([]int, error) {
	query := `
		UPDATE campaigns c
		SET completion_due_at = $1, updated_at = CURRENT_TIMESTAMP
		WHERE c.status = 'running'
			AND c.completion_due_at IS NULL
			AND NOT EXISTS (
				SELECT 1 FROM communication_logs l
				WHERE l.campaign_id = c.id AND l.status = 'pending'
			)
		RETURNING c.id
	`

	return r.queryIDs(ctx, "failed to arm idle campaigns", query, dueAt)
}

// CompleteDue completes running campaigns whose grace window has elapsed
func (r *campaignRepository) CompleteDue(ctx context.Context, now time.Time) ([]int, error) {
	query := `
		UPDATE campaigns
		SET status = 'completed', completion_due_at = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE status = 'running' AND completion_due_at <= $1
		RETURNING id
	`

	return r.queryIDs(ctx, "failed to complete campaigns", query, now)
}

// ListRunningWithPending returns running campaigns that still have undispatched rows
func (r *campaignRepository) ListRunningWithPending(ctx context.Context) ([]int, error) {
	query := `
		SELECT DISTINCT c.id
		FROM campaigns c
		JOIN communication_logs l ON l.campaign_id = c.id
		WHERE c.status = 'running' AND l.status = 'pending'
		ORDER BY c.id
	`

	return r.queryIDs(ctx, "failed to list running campaigns", query)
}

// ClaimDispatch takes a session advisory lock on the campaign for the length of
// a dispatch run, so only one process sends to its customers at a time. The
// lock lives on a dedicated connection that release unlocks and returns to the pool.
func (r *campaignRepository) ClaimDispatch(ctx context.Context, id int) (func(), bool, error) {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get connection for dispatch claim: %w", err)
	}

	var locked bool
	err = conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1, $2)`, dispatchLockSpace, id).Scan(&locked)
	if err != nil {
		conn.Close()
		return nil, false, fmt.Errorf("failed to claim campaign %d: %w", id, err)
	}
	if !locked {
		conn.Close()
		return nil, false, nil
	}

	release := func() {
		// Unlock on a fresh context; the run's context may already be cancelled
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1, $2)`, dispatchLockSpace, id); err != nil {
			// Discard the connection so the session, and its lock, ends
			_ = conn.Raw(func(interface{}) error { return driver.ErrBadConn })
		}
		conn.Close()
	}
	return release, true, nil
}

func (r *campaignRepository) queryIDs(ctx context.Context, msg, query string, args ...interface{}) ([]int, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", msg, err)
	}
	defer rows.Close()

	ids := []int{}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: %w", msg, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", msg, err)
	}

	return ids, nil
}

// insertPendingLogs creates one pending row per customer
func insertPendingLogs(ctx context.Context, db DB, campaignID int, message string, customerIDs []int) error {
	if len(customerIDs) == 0 {
		return nil
	}

	query := `
		INSERT INTO communication_logs (campaign_id, customer_id, message, status)
		SELECT $1, customer_id, $2, 'pending'
		FROM unnest($3::int[]) AS customer_id
	`

	if _, err := db.ExecContext(ctx, query, campaignID, message, pq.Array(customerIDs)); err != nil {
		return fmt.Errorf("failed to create communication logs: %w", err)
	}

	return nil
}

func scanCampaign(row scanner, campaign *models.Campaign) error {
	var segmentID sql.NullInt64
	var description sql.NullString
	err := row.Scan(
		&campaign.ID,
		&campaign.Name,
		&description,
		&segmentID,
		&campaign.Message,
		&campaign.Status,
		&campaign.ScheduledFor,
		&campaign.Stats.TotalAudience,
		&campaign.Stats.Sent,
		&campaign.Stats.Failed,
		&campaign.Stats.Delivered,
		&campaign.CompletionDueAt,
		&campaign.CreatedAt,
		&campaign.UpdatedAt,
	)
	if err != nil {
		return err
	}
	campaign.SegmentID = int(segmentID.Int64)
	campaign.Description = description.String
	return nil
}

func statusStrings(statuses []models.CampaignStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
