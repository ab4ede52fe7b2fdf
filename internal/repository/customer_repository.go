package repository

import (
	"context"
	"database/sql"
	"fmt"

	"campaignengine/internal/models"

	"github.com/lib/pq"
)

const customerColumns = `id, name, email, phone, total_spent, visit_count, last_visit, tags, created_at`

type customerRepository struct {
	db *sql.DB
}

// NewCustomerRepository creates a new customer repository
func NewCustomerRepository(db *sql.DB) CustomerRepository {
	return &customerRepository{db: db}
}

// Create creates a new customer
func (r *customerRepository) Create(ctx context.Context, customer *models.Customer) error {
	query := `
		INSERT INTO customers (name, email, phone, total_spent, visit_count, last_visit, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`

	tags := customer.Tags
	if tags == nil {
		tags = []string{}
	}

	err := r.db.QueryRowContext(
		ctx,
		query,
		customer.Name,
		customer.Email,
		customer.Phone,
		customer.TotalSpent,
		customer.VisitCount,
		customer.LastVisit,
		pq.Array(tags),
	).Scan(&customer.ID, &customer.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create customer: %w", err)
	}

	return nil
}

// GetByIDs retrieves multiple customers by IDs
func (r *customerRepository) GetByIDs(ctx context.Context, ids []int) ([]*models.Customer, error) {
	if len(ids) == 0 {
		return []*models.Customer{}, nil
	}

	query := `SELECT ` + customerColumns + ` FROM customers WHERE id = ANY($1) ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to get customers: %w", err)
	}
	defer rows.Close()

	return scanCustomers(rows)
}

// ListAll retrieves every customer, the population segments are evaluated against
func (r *customerRepository) ListAll(ctx context.Context) ([]*models.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	defer rows.Close()

	return scanCustomers(rows)
}

func scanCustomers(rows *sql.Rows) ([]*models.Customer, error) {
	customers := []*models.Customer{}
	for rows.Next() {
		customer := &models.Customer{}
		if err := scanCustomer(rows, customer); err != nil {
			return nil, err
		}
		customers = append(customers, customer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate customers: %w", err)
	}
	return customers, nil
}

func scanCustomer(row scanner, customer *models.Customer) error {
	var tags pq.StringArray
	err := row.Scan(
		&customer.ID,
		&customer.Name,
		&customer.Email,
		&customer.Phone,
		&customer.TotalSpent,
		&customer.VisitCount,
		&customer.LastVisit,
		&tags,
		&customer.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to scan customer: %w", err)
	}
	customer.Tags = []string(tags)
	return nil
}
