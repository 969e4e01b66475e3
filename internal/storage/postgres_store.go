package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/example/reservation-notifier/internal/models"
)

//go:embed migrations/001_create_reservations.sql
var schemaSQL string

// PostgresStore keeps reservations and drivers in two tables. Change
// notifications come from the trigger installed by Migrate, not from here.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &PostgresStore{db: db}, nil
}

func NewPostgresStoreFromDB(db *sqlx.DB) *PostgresStore { return &PostgresStore{db: db} }

type reservationRow struct {
	ID          string          `db:"id"`
	Status      string          `db:"status"`
	ClientName  sql.NullString  `db:"client_name"`
	ClientEmail sql.NullString  `db:"client_email"`
	DriverID    sql.NullString  `db:"driver_id"`
	Date        sql.NullTime    `db:"date"`
	TripFrom    sql.NullString  `db:"trip_from"`
	TripTo      sql.NullString  `db:"trip_to"`
	Price       sql.NullFloat64 `db:"price"`
}

func (r reservationRow) toModel() models.Reservation {
	out := models.Reservation{ID: r.ID, Status: models.Status(r.Status), DriverID: r.DriverID.String}
	if r.ClientName.Valid || r.ClientEmail.Valid {
		out.Client = &models.Client{Name: r.ClientName.String, Email: r.ClientEmail.String}
	}
	if r.Date.Valid {
		out.Date = models.NewTimestamp(r.Date.Time)
	}
	if r.TripFrom.Valid || r.TripTo.Valid {
		out.Trip = &models.Trip{From: r.TripFrom.String, To: r.TripTo.String}
	}
	if r.Price.Valid {
		p := r.Price.Float64
		out.Price = &p
	}
	return out
}

type driverRow struct {
	ID    string         `db:"id"`
	Name  sql.NullString `db:"name"`
	Phone sql.NullString `db:"phone"`
	Email sql.NullString `db:"email"`
}

func (p *PostgresStore) GetReservation(ctx context.Context, id string) (models.Reservation, error) {
	var row reservationRow
	err := p.db.GetContext(ctx, &row, `SELECT id, status, client_name, client_email, driver_id, date, trip_from, trip_to, price FROM reservations WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Reservation{}, fmt.Errorf("reservation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Reservation{}, fmt.Errorf("get reservation %s: %w", id, err)
	}
	return row.toModel(), nil
}

func (p *PostgresStore) GetDriver(ctx context.Context, id string) (models.Driver, error) {
	var row driverRow
	err := p.db.GetContext(ctx, &row, `SELECT id, name, phone, email FROM drivers WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Driver{}, fmt.Errorf("driver %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Driver{}, fmt.Errorf("get driver %s: %w", id, err)
	}
	return models.Driver{ID: row.ID, Name: row.Name.String, Phone: row.Phone.String, Email: row.Email.String}, nil
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, id string, status models.Status) error {
	res, err := p.db.ExecContext(ctx, `UPDATE reservations SET status = $1, updated_at = now() WHERE id = $2`, string(status), id)
	if err != nil {
		return fmt.Errorf("update reservation %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update reservation %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("reservation %s: %w", id, ErrNotFound)
	}
	return nil
}

// Migrate creates the tables and the change-notification trigger.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresStore) Close() error { return p.db.Close() }
