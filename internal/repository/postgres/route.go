package postgres

import (
	"context"
	"database/sql"

	"dispatch/internal/domain"
)

// RouteRepository is a PostgreSQL implementation of repository.RouteRepository.
type RouteRepository struct {
	q Querier
}

// NewRouteRepositoryWithTx creates a route repository using a transaction.
func NewRouteRepositoryWithTx(tx *sql.Tx) *RouteRepository {
	return &RouteRepository{q: tx}
}

const routeColumns = `id, reference, status, driver_id, total_distance_miles, total_duration_minutes,
	total_value, optimization_score, window_start, window_end, created_at, updated_at`

// Create persists a route and its drops.
func (r *RouteRepository) Create(ctx context.Context, rt *domain.Route) error {
	query := `INSERT INTO routes (` + routeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.q.ExecContext(ctx, query,
		rt.ID, rt.Reference, rt.Status, nullString(rt.DriverID), rt.TotalDistanceMiles, rt.TotalDurationMinutes,
		rt.TotalValue, rt.OptimizationScore, nullTime(rt.WindowStart), nullTime(rt.WindowEnd), rt.CreatedAt, rt.UpdatedAt,
	)
	if err != nil {
		return classify(err)
	}
	return r.insertDrops(ctx, rt)
}

// GetByID retrieves a route and its drops.
func (r *RouteRepository) GetByID(ctx context.Context, id string) (*domain.Route, error) {
	return r.get(ctx, `SELECT `+routeColumns+` FROM routes WHERE id = $1`, id)
}

// GetForUpdate retrieves and locks a route.
func (r *RouteRepository) GetForUpdate(ctx context.Context, id string) (*domain.Route, error) {
	return r.get(ctx, `SELECT `+routeColumns+` FROM routes WHERE id = $1 FOR UPDATE`, id)
}

func (r *RouteRepository) get(ctx context.Context, query, id string) (*domain.Route, error) {
	var (
		rt                     domain.Route
		driverID               sql.NullString
		windowStart, windowEnd sql.NullTime
	)
	err := r.q.QueryRowContext(ctx, query, id).Scan(
		&rt.ID, &rt.Reference, &rt.Status, &driverID, &rt.TotalDistanceMiles, &rt.TotalDurationMinutes,
		&rt.TotalValue, &rt.OptimizationScore, &windowStart, &windowEnd, &rt.CreatedAt, &rt.UpdatedAt,
	)
	if err != nil {
		return nil, classify(err)
	}
	rt.DriverID = driverID.String
	rt.WindowStart = windowStart.Time
	rt.WindowEnd = windowEnd.Time

	drops, err := r.drops(ctx, rt.ID)
	if err != nil {
		return nil, err
	}
	rt.Drops = drops
	return &rt, nil
}

// Update persists the route and replaces its drops.
func (r *RouteRepository) Update(ctx context.Context, rt *domain.Route) error {
	query := `
		UPDATE routes SET status = $2, driver_id = $3, total_distance_miles = $4, total_duration_minutes = $5,
			total_value = $6, optimization_score = $7, window_start = $8, window_end = $9, updated_at = $10
		WHERE id = $1
	`
	err := mustAffect(r.q.ExecContext(ctx, query,
		rt.ID, rt.Status, nullString(rt.DriverID), rt.TotalDistanceMiles, rt.TotalDurationMinutes,
		rt.TotalValue, rt.OptimizationScore, nullTime(rt.WindowStart), nullTime(rt.WindowEnd), rt.UpdatedAt,
	))
	if err != nil {
		return err
	}
	if _, err := r.q.ExecContext(ctx, `DELETE FROM drops WHERE route_id = $1`, rt.ID); err != nil {
		return classify(err)
	}
	return r.insertDrops(ctx, rt)
}

// Delete removes a route. Drops cascade.
func (r *RouteRepository) Delete(ctx context.Context, id string) error {
	return mustAffect(r.q.ExecContext(ctx, `DELETE FROM routes WHERE id = $1`, id))
}

func (r *RouteRepository) insertDrops(ctx context.Context, rt *domain.Route) error {
	query := `INSERT INTO drops (id, route_id, booking_id, sequence, leg, lat, lng, window_start, window_end, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	for _, d := range rt.Drops {
		_, err := r.q.ExecContext(ctx, query,
			d.ID, rt.ID, d.BookingID, d.Sequence, d.Leg, d.Lat, d.Lng,
			nullTime(d.WindowStart), nullTime(d.WindowEnd), d.Status,
		)
		if err != nil {
			return classify(err)
		}
	}
	return nil
}

func (r *RouteRepository) drops(ctx context.Context, routeID string) ([]domain.Drop, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, route_id, booking_id, sequence, leg, lat, lng, window_start, window_end, status
		FROM drops WHERE route_id = $1 ORDER BY sequence`, routeID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var drops []domain.Drop
	for rows.Next() {
		var (
			d                      domain.Drop
			windowStart, windowEnd sql.NullTime
		)
		if err := rows.Scan(&d.ID, &d.RouteID, &d.BookingID, &d.Sequence, &d.Leg, &d.Lat, &d.Lng,
			&windowStart, &windowEnd, &d.Status); err != nil {
			return nil, err
		}
		d.WindowStart = windowStart.Time
		d.WindowEnd = windowEnd.Time
		drops = append(drops, d)
	}
	return drops, classify(rows.Err())
}
