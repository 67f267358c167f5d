package postgres

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"dispatch/internal/domain"
)

// DriverRepository is a PostgreSQL implementation of repository.DriverRepository.
type DriverRepository struct {
	q Querier
}

// NewDriverRepository creates a new PostgreSQL driver repository.
func NewDriverRepository(db *sql.DB) *DriverRepository {
	return &DriverRepository{q: db}
}

// NewDriverRepositoryWithTx creates a driver repository using a transaction.
func NewDriverRepositoryWithTx(tx *sql.Tx) *DriverRepository {
	return &DriverRepository{q: tx}
}

// Create adds a new driver and its compliance documents.
func (r *DriverRepository) Create(ctx context.Context, d *domain.Driver) error {
	query := `INSERT INTO drivers (id, name, status, base_lat, base_lng, vehicle_class, rating, onboarding_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.q.ExecContext(ctx, query, d.ID, d.Name, d.Status, d.BaseLat, d.BaseLng, d.VehicleClass, d.Rating, d.OnboardingStatus)
	if err != nil {
		return classify(err)
	}
	for _, doc := range d.Documents {
		_, err := r.q.ExecContext(ctx,
			`INSERT INTO driver_documents (driver_id, doc_type, required, expires_at) VALUES ($1, $2, $3, $4)`,
			d.ID, doc.Type, doc.Required, nullTime(doc.ExpiresAt),
		)
		if err != nil {
			return classify(err)
		}
	}
	return nil
}

// GetByID retrieves a driver by ID together with its documents.
func (r *DriverRepository) GetByID(ctx context.Context, id string) (*domain.Driver, error) {
	query := `SELECT id, name, status, base_lat, base_lng, vehicle_class, rating, onboarding_status FROM drivers WHERE id = $1`

	var d domain.Driver
	err := r.q.QueryRowContext(ctx, query, id).Scan(
		&d.ID, &d.Name, &d.Status, &d.BaseLat, &d.BaseLng, &d.VehicleClass, &d.Rating, &d.OnboardingStatus,
	)
	if err != nil {
		return nil, classify(err)
	}

	rows, err := r.q.QueryContext(ctx,
		`SELECT doc_type, required, expires_at FROM driver_documents WHERE driver_id = $1 ORDER BY doc_type`, id)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			doc     domain.ComplianceDocument
			expires sql.NullTime
		)
		if err := rows.Scan(&doc.Type, &doc.Required, &expires); err != nil {
			return nil, err
		}
		doc.ExpiresAt = expires.Time
		d.Documents = append(d.Documents, doc)
	}
	return &d, classify(rows.Err())
}

// AvailabilityRepository is a PostgreSQL implementation of repository.AvailabilityRepository.
type AvailabilityRepository struct {
	q Querier
}

// NewAvailabilityRepositoryWithTx creates an availability repository using a transaction.
func NewAvailabilityRepositoryWithTx(tx *sql.Tx) *AvailabilityRepository {
	return &AvailabilityRepository{q: tx}
}

// GetForUpdate retrieves and locks a driver's availability row.
func (r *AvailabilityRepository) GetForUpdate(ctx context.Context, driverID string) (*domain.DriverAvailability, error) {
	query := `
		SELECT driver_id, status, break_until, current_capacity_used, max_concurrent_drops,
			multi_drop_capable, preferred_areas, updated_at
		FROM driver_availability WHERE driver_id = $1 FOR UPDATE
	`
	var (
		a          domain.DriverAvailability
		breakUntil sql.NullTime
		areas      pq.StringArray
	)
	err := r.q.QueryRowContext(ctx, query, driverID).Scan(
		&a.DriverID, &a.Status, &breakUntil, &a.CurrentCapacityUsed, &a.MaxConcurrentDrops,
		&a.MultiDropCapable, &areas, &a.UpdatedAt,
	)
	if err != nil {
		return nil, classify(err)
	}
	a.BreakUntil = breakUntil.Time
	a.PreferredAreas = []string(areas)
	return &a, nil
}

// Upsert creates or replaces a driver's availability row.
func (r *AvailabilityRepository) Upsert(ctx context.Context, a *domain.DriverAvailability) error {
	query := `
		INSERT INTO driver_availability (driver_id, status, break_until, current_capacity_used,
			max_concurrent_drops, multi_drop_capable, preferred_areas, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (driver_id) DO UPDATE SET
			status = EXCLUDED.status,
			break_until = EXCLUDED.break_until,
			current_capacity_used = EXCLUDED.current_capacity_used,
			max_concurrent_drops = EXCLUDED.max_concurrent_drops,
			multi_drop_capable = EXCLUDED.multi_drop_capable,
			preferred_areas = EXCLUDED.preferred_areas,
			updated_at = EXCLUDED.updated_at
	`
	areas := a.PreferredAreas
	if areas == nil {
		areas = []string{}
	}
	_, err := r.q.ExecContext(ctx, query,
		a.DriverID, a.Status, nullTime(a.BreakUntil), a.CurrentCapacityUsed,
		a.MaxConcurrentDrops, a.MultiDropCapable, pq.Array(areas), a.UpdatedAt,
	)
	return classify(err)
}
