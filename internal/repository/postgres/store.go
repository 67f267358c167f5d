package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"dispatch/internal/repository"
)

// Store is a PostgreSQL implementation of repository.Transactor. Every command
// runs in its own SERIALIZABLE transaction.
type Store struct {
	db *sql.DB
}

var _ repository.Transactor = (*Store)(nil)

// NewStore creates a new PostgreSQL store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Run executes cmd in a serializable transaction, rolling back on any error.
// Serialization failures, deadlocks and unique violations are reported as
// repository.ErrConflict, including those raised at commit.
func (s *Store) Run(ctx context.Context, cmd repository.Command) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin: %w", classify(err))
	}
	defer sqlTx.Rollback()

	if err := cmd.Execute(ctx, newTx(sqlTx)); err != nil {
		return classify(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", classify(err))
	}
	return nil
}

type tx struct {
	bookings     *BookingRepository
	drivers      *DriverRepository
	availability *AvailabilityRepository
	assignments  *AssignmentRepository
	routes       *RouteRepository
}

func newTx(sqlTx *sql.Tx) *tx {
	return &tx{
		bookings:     NewBookingRepositoryWithTx(sqlTx),
		drivers:      NewDriverRepositoryWithTx(sqlTx),
		availability: NewAvailabilityRepositoryWithTx(sqlTx),
		assignments:  NewAssignmentRepositoryWithTx(sqlTx),
		routes:       NewRouteRepositoryWithTx(sqlTx),
	}
}

func (t *tx) Bookings() repository.BookingRepository { return t.bookings }
func (t *tx) Drivers() repository.DriverRepository { return t.drivers }
func (t *tx) Availability() repository.AvailabilityRepository { return t.availability }
func (t *tx) Assignments() repository.AssignmentRepository { return t.assignments }
func (t *tx) Routes() repository.RouteRepository { return t.routes }
