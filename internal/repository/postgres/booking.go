package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
)

// BookingRepository is a PostgreSQL implementation of repository.BookingRepository.
type BookingRepository struct {
	q Querier
}

// NewBookingRepository creates a new PostgreSQL booking repository.
func NewBookingRepository(db *sql.DB) *BookingRepository {
	return &BookingRepository{q: db}
}

// NewBookingRepositoryWithTx creates a booking repository using a transaction.
func NewBookingRepositoryWithTx(tx *sql.Tx) *BookingRepository {
	return &BookingRepository{q: tx}
}

const bookingColumns = `id, reference, customer_id, status, window_start, window_end,
	pickup_lat, pickup_lng, pickup_postcode, dropoff_lat, dropoff_lng, dropoff_postcode,
	value, priority, multi_drop_eligible, order_type, load_units,
	route_id, delivery_sequence, driver_id, created_at, updated_at`

// Create persists a new booking.
func (r *BookingRepository) Create(ctx context.Context, b *domain.Booking) error {
	query := `INSERT INTO bookings (` + bookingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`

	_, err := r.q.ExecContext(ctx, query,
		b.ID, b.Reference, b.CustomerID, b.Status, b.WindowStart, b.WindowEnd,
		b.PickupLat, b.PickupLng, b.PickupPostcode, b.DropoffLat, b.DropoffLng, b.DropoffPostcode,
		b.Value, b.Priority, b.MultiDropEligible, b.OrderType, b.LoadUnits,
		nullString(b.RouteID), nullInt(b.DeliverySequence), nullString(b.DriverID), b.CreatedAt, b.UpdatedAt,
	)
	return classify(err)
}

// GetByID retrieves a booking by ID.
func (r *BookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	return r.get(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
}

// GetForUpdate retrieves a booking and locks its row.
func (r *BookingRepository) GetForUpdate(ctx context.Context, id string) (*domain.Booking, error) {
	return r.get(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id)
}

func (r *BookingRepository) get(ctx context.Context, query, id string) (*domain.Booking, error) {
	b, err := scanBooking(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, classify(err)
	}
	return b, nil
}

// Update persists every mutable field of the booking.
func (r *BookingRepository) Update(ctx context.Context, b *domain.Booking) error {
	query := `
		UPDATE bookings SET
			status = $2, window_start = $3, window_end = $4, value = $5, priority = $6,
			multi_drop_eligible = $7, order_type = $8, load_units = $9,
			route_id = $10, delivery_sequence = $11, driver_id = $12, updated_at = $13
		WHERE id = $1
	`
	return mustAffect(r.q.ExecContext(ctx, query,
		b.ID, b.Status, b.WindowStart, b.WindowEnd, b.Value, b.Priority,
		b.MultiDropEligible, b.OrderType, b.LoadUnits,
		nullString(b.RouteID), nullInt(b.DeliverySequence), nullString(b.DriverID), b.UpdatedAt,
	))
}

// ListRouteCandidates returns bookings eligible for route optimization.
func (r *BookingRepository) ListRouteCandidates(ctx context.Context, f repository.CandidateFilter) ([]*domain.Booking, error) {
	query := `
		SELECT ` + bookingColumns + ` FROM bookings
		WHERE status = 'confirmed' AND route_id IS NULL AND driver_id IS NULL
			AND multi_drop_eligible
			AND window_start >= $1 AND window_start <= $2
			AND ($3::text = '' OR LEFT(UPPER(pickup_postcode), LENGTH($3::text)) = $3::text)
		ORDER BY id
	`
	return r.list(ctx, query, f.WindowFrom, f.WindowTo, strings.ToUpper(strings.TrimSpace(f.PostcodePrefix)))
}

// ListUnassigned returns confirmed bookings without a driver created before createdBefore.
func (r *BookingRepository) ListUnassigned(ctx context.Context, createdBefore time.Time) ([]*domain.Booking, error) {
	query := `
		SELECT ` + bookingColumns + ` FROM bookings
		WHERE status = 'confirmed' AND driver_id IS NULL AND created_at < $1
		ORDER BY created_at, id
	`
	return r.list(ctx, query, createdBefore)
}

func (r *BookingRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Booking, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var bookings []*domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, classify(rows.Err())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*domain.Booking, error) {
	var (
		b        domain.Booking
		routeID  sql.NullString
		sequence sql.NullInt64
		driverID sql.NullString
	)
	err := row.Scan(
		&b.ID, &b.Reference, &b.CustomerID, &b.Status, &b.WindowStart, &b.WindowEnd,
		&b.PickupLat, &b.PickupLng, &b.PickupPostcode, &b.DropoffLat, &b.DropoffLng, &b.DropoffPostcode,
		&b.Value, &b.Priority, &b.MultiDropEligible, &b.OrderType, &b.LoadUnits,
		&routeID, &sequence, &driverID, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.RouteID = routeID.String
	b.DeliverySequence = int(sequence.Int64)
	b.DriverID = driverID.String
	return &b, nil
}
