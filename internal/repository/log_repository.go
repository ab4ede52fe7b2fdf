package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"campaignengine/internal/models"

	"github.com/lib/pq"
)

type logRepository struct {
	db *sql.DB
}

// NewLogRepository creates a new communication log repository
func NewLogRepository(db *sql.DB) LogRepository {
	return &logRepository{db: db}
}

// ListPending returns the campaign's pending rows with their customers, oldest first
func (r *logRepository) ListPending(ctx context.Context, campaignID int) ([]*models.PendingDelivery, error) {
	query := `
		SELECT
			l.id, l.campaign_id, l.customer_id, l.message, l.status, l.created_at, l.updated_at,
			c.id, c.name, c.email, c.phone, c.total_spent, c.visit_count, c.last_visit, c.tags, c.created_at
		FROM communication_logs l
		JOIN customers c ON c.id = l.customer_id
		WHERE l.campaign_id = $1 AND l.status = 'pending'
		ORDER BY l.id
	`

	rows, err := r.db.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending logs: %w", err)
	}
	defer rows.Close()

	pending := []*models.PendingDelivery{}
	for rows.Next() {
		p := &models.PendingDelivery{}
		var tags pq.StringArray
		err := rows.Scan(
			&p.Log.ID,
			&p.Log.CampaignID,
			&p.Log.CustomerID,
			&p.Log.Message,
			&p.Log.Status,
			&p.Log.CreatedAt,
			&p.Log.UpdatedAt,
			&p.Customer.ID,
			&p.Customer.Name,
			&p.Customer.Email,
			&p.Customer.Phone,
			&p.Customer.TotalSpent,
			&p.Customer.VisitCount,
			&p.Customer.LastVisit,
			&tags,
			&p.Customer.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending log: %w", err)
		}
		p.Customer.Tags = []string(tags)
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending logs: %w", err)
	}

	return pending, nil
}

// RecordDispatchOutcome moves a pending row to sent or failed and bumps the
// matching campaign counter in the same transaction. A row that already left
// pending is left alone and reported as false, so counters move once per customer.
func (r *logRepository) RecordDispatchOutcome(ctx context.Context, campaignID int, outcome models.DispatchOutcome) (bool, error) {
	if outcome.Status != models.LogStatusSent && outcome.Status != models.LogStatusFailed {
		return false, fmt.Errorf("invalid dispatch outcome status %q", outcome.Status)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var sentAt *time.Time
	if outcome.Status == models.LogStatusSent {
		at := outcome.At
		sentAt = &at
	}

	query := `
		UPDATE communication_logs
		SET status = $3, message = $4, message_id = $5, channels = $6, error = $7,
			sent_at = $8, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND campaign_id = $2 AND status = 'pending'
	`

	result, err := tx.ExecContext(
		ctx,
		query,
		outcome.LogID,
		campaignID,
		outcome.Status,
		outcome.Message,
		outcome.MessageID,
		outcome.Channels,
		outcome.Error,
		sentAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record dispatch outcome: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	sent, failed := 0, 0
	if outcome.Status == models.LogStatusSent {
		sent = 1
	} else {
		failed = 1
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE campaigns SET sent = sent + $2, failed = failed + $3, updated_at = CURRENT_TIMESTAMP WHERE id = $1`,
		campaignID, sent, failed)
	if err != nil {
		return false, fmt.Errorf("failed to update campaign stats: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return true, nil
}

// CountPending returns how many rows of the campaign are still pending
func (r *logRepository) CountPending(ctx context.Context, campaignID int) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM communication_logs WHERE campaign_id = $1 AND status = 'pending'`,
		campaignID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending logs: %w", err)
	}
	return count, nil
}

// ApplyDeliveryUpdates writes a coalesced batch in one statement and adds the
// number of newly delivered rows to the campaign's delivered counter.
// Only rows in sent move. Terminal rows are never overwritten.
func (r *logRepository) ApplyDeliveryUpdates(ctx context.Context, campaignID int, updates []models.DeliveryUpdate) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}

	customerIDs := make([]int, len(updates))
	statuses := make([]string, len(updates))
	channels := make([]string, len(updates))
	timestamps := make([]string, len(updates))
	for i, u := range updates {
		customerIDs[i] = u.CustomerID
		statuses[i] = string(u.Status)
		timestamps[i] = u.At.UTC().Format(time.RFC3339Nano)
		if u.Channels != nil {
			b, err := json.Marshal(u.Channels)
			if err != nil {
				return 0, fmt.Errorf("failed to marshal channels: %w", err)
			}
			channels[i] = string(b)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE communication_logs l
		SET status = u.status,
			channels = COALESCE(NULLIF(u.channels, '')::jsonb, l.channels),
			delivered_at = CASE WHEN u.status = 'delivered' THEN u.at::timestamptz ELSE l.delivered_at END,
			updated_at = CURRENT_TIMESTAMP
		FROM unnest($2::int[], $3::text[], $4::text[], $5::text[]) AS u(customer_id, status, channels, at)
		WHERE l.campaign_id = $1
			AND l.customer_id = u.customer_id
			AND l.status = 'sent'
			AND u.status IN ('delivered', 'failed')
		RETURNING l.status
	`

	rows, err := tx.QueryContext(ctx, query,
		campaignID,
		pq.Array(customerIDs),
		pq.Array(statuses),
		pq.Array(channels),
		pq.Array(timestamps),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to apply delivery updates: %w", err)
	}

	delivered := 0
	for rows.Next() {
		var status models.LogStatus
		if err := rows.Scan(&status); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan delivery update: %w", err)
		}
		if status == models.LogStatusDelivered {
			delivered++
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("failed to iterate delivery updates: %w", err)
	}
	rows.Close()

	if delivered > 0 {
		_, err = tx.ExecContext(ctx,
			`UPDATE campaigns SET delivered = LEAST(delivered + $2, sent), updated_at = CURRENT_TIMESTAMP WHERE id = $1`,
			campaignID, delivered)
		if err != nil {
			return 0, fmt.Errorf("failed to update delivered count: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return delivered, nil
}
