package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"campaignengine/internal/models"
)

type segmentRepository struct {
	db *sql.DB
}

// NewSegmentRepository creates a new segment repository
func NewSegmentRepository(db *sql.DB) SegmentRepository {
	return &segmentRepository{db: db}
}

// Create creates a new segment
func (r *segmentRepository) Create(ctx context.Context, segment *models.Segment) error {
	rules, err := json.Marshal(segment.Rules)
	if err != nil {
		return fmt.Errorf("failed to marshal segment rules: %w", err)
	}

	query := `
		INSERT INTO segments (name, description, rules, rule_logic)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`

	err = r.db.QueryRowContext(
		ctx,
		query,
		segment.Name,
		segment.Description,
		rules,
		segment.Logic.Normalize(),
	).Scan(&segment.ID, &segment.CreatedAt, &segment.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create segment: %w", err)
	}

	return nil
}

// GetByID retrieves a segment by ID
func (r *segmentRepository) GetByID(ctx context.Context, id int) (*models.Segment, error) {
	query := `
		SELECT id, name, description, rules, rule_logic, created_at, updated_at
		FROM segments
		WHERE id = $1
	`

	segment := &models.Segment{}
	var rules []byte
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&segment.ID,
		&segment.Name,
		&segment.Description,
		&rules,
		&segment.Logic,
		&segment.CreatedAt,
		&segment.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("segment %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get segment: %w", err)
	}

	if err := json.Unmarshal(rules, &segment.Rules); err != nil {
		return nil, fmt.Errorf("failed to decode segment rules: %w", err)
	}

	return segment, nil
}
