package postgres

import (
	"context"
	"database/sql"
	"time"

	"dispatch/internal/domain"
)

// AssignmentRepository is a PostgreSQL implementation of repository.AssignmentRepository.
type AssignmentRepository struct {
	q Querier
}

// NewAssignmentRepositoryWithTx creates an assignment repository using a transaction.
func NewAssignmentRepositoryWithTx(tx *sql.Tx) *AssignmentRepository {
	return &AssignmentRepository{q: tx}
}

const assignmentColumns = `id, booking_id, driver_id, status, source, score, reason,
	created_at, expires_at, accepted_at, closed_at`

// Create persists a new assignment. A second open assignment for the same
// booking violates uq_assignments_open_booking and surfaces as a conflict.
func (r *AssignmentRepository) Create(ctx context.Context, a *domain.Assignment) error {
	query := `INSERT INTO assignments (` + assignmentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.q.ExecContext(ctx, query,
		a.ID, a.BookingID, a.DriverID, a.Status, a.Source, a.Score, nullString(a.Reason),
		a.CreatedAt, nullTime(a.ExpiresAt), nullTime(a.AcceptedAt), nullTime(a.ClosedAt),
	)
	return classify(err)
}

// GetForUpdate retrieves and locks an assignment.
func (r *AssignmentRepository) GetForUpdate(ctx context.Context, id string) (*domain.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE id = $1 FOR UPDATE`
	a, err := scanAssignment(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, classify(err)
	}
	return a, nil
}

// Update persists the status, reason and timestamps of an assignment.
func (r *AssignmentRepository) Update(ctx context.Context, a *domain.Assignment) error {
	query := `
		UPDATE assignments SET status = $2, reason = $3, expires_at = $4, accepted_at = $5, closed_at = $6
		WHERE id = $1
	`
	return mustAffect(r.q.ExecContext(ctx, query,
		a.ID, a.Status, nullString(a.Reason), nullTime(a.ExpiresAt), nullTime(a.AcceptedAt), nullTime(a.ClosedAt),
	))
}

// ListOpenByBooking returns claimed or accepted assignments of a booking.
func (r *AssignmentRepository) ListOpenByBooking(ctx context.Context, bookingID string) ([]*domain.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments
		WHERE booking_id = $1 AND status IN ('claimed', 'accepted') ORDER BY created_at FOR UPDATE`
	return r.list(ctx, query, bookingID)
}

// ListOpenByDriver returns claimed or accepted assignments of a driver.
func (r *AssignmentRepository) ListOpenByDriver(ctx context.Context, driverID string) ([]*domain.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments
		WHERE driver_id = $1 AND status IN ('claimed', 'accepted') ORDER BY created_at FOR UPDATE`
	return r.list(ctx, query, driverID)
}

// ListExpiredClaims returns claimed assignments past their deadline. Rows
// locked by a concurrent transaction are skipped.
func (r *AssignmentRepository) ListExpiredClaims(ctx context.Context, now time.Time, limit int) ([]*domain.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments
		WHERE status = 'claimed' AND expires_at <= $1
		ORDER BY expires_at LIMIT $2 FOR UPDATE SKIP LOCKED`
	return r.list(ctx, query, now, limit)
}

func (r *AssignmentRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Assignment, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*domain.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, classify(rows.Err())
}

func scanAssignment(row rowScanner) (*domain.Assignment, error) {
	var a domain.Assignment
	var reason sql.NullString
	var expiresAt, acceptedAt, closedAt sql.NullTime
	err := row.Scan(&a.ID, &a.BookingID, &a.DriverID, &a.Status, &a.Source, &a.Score, &reason,
		&a.CreatedAt, &expiresAt, &acceptedAt, &closedAt)
	if err != nil {
		return nil, err
	}
	a.Reason = reason.String
	a.ExpiresAt = expiresAt.Time
	a.AcceptedAt = acceptedAt.Time
	a.ClosedAt = closedAt.Time
	return &a, nil
}
