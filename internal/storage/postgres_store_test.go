package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/reservation-notifier/internal/models"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStoreFromDB(sqlx.NewDb(db, "postgres")), mock
}

const selectReservation = `SELECT id, status, client_name, client_email, driver_id, date, trip_from, trip_to, price FROM reservations WHERE id = $1`

var reservationColumns = []string{"id", "status", "client_name", "client_email", "driver_id", "date", "trip_from", "trip_to", "price"}

func TestPostgresGetReservation(t *testing.T) {
	s, mock := newMockStore(t)
	date := time.Date(2026, 10, 20, 7, 15, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(selectReservation)).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(reservationColumns).AddRow("r1", "confirmed", "Alice", "alice@example.com", "drv-1", date, nil, nil, 12.0))

	r, err := s.GetReservation(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, r.Status)
	require.NotNil(t, r.Client)
	assert.Equal(t, "alice@example.com", r.Client.Email)
	assert.Equal(t, "drv-1", r.DriverID)
	assert.True(t, date.Equal(r.Date.Time))
	assert.Nil(t, r.Trip)
	require.NotNil(t, r.Price)
	assert.Equal(t, 12.0, *r.Price)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetReservationNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(selectReservation)).WithArgs("r1").WillReturnRows(sqlmock.NewRows(reservationColumns))

	_, err := s.GetReservation(context.Background(), "r1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresGetReservationError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(selectReservation)).WithArgs("r1").WillReturnError(errors.New("connection reset"))

	_, err := s.GetReservation(context.Background(), "r1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestPostgresGetDriver(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, name, phone, email FROM drivers WHERE id = $1`)).
		WithArgs("drv-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "phone", "email"}).AddRow("drv-1", "Bob", nil, "bob@example.com"))

	d, err := s.GetDriver(context.Background(), "drv-1")
	require.NoError(t, err)
	assert.Equal(t, models.Driver{ID: "drv-1", Name: "Bob", Email: "bob@example.com"}, d)
}

func TestPostgresUpdateStatus(t *testing.T) {
	s, mock := newMockStore(t)
	update := regexp.QuoteMeta(`UPDATE reservations SET status = $1, updated_at = now() WHERE id = $2`)
	mock.ExpectExec(update).WithArgs("confirmed", "r1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(update).WithArgs("confirmed", "ghost").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.UpdateStatus(context.Background(), "r1", models.StatusConfirmed))
	assert.ErrorIs(t, s.UpdateStatus(context.Background(), "ghost", models.StatusConfirmed), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMigrate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS drivers")).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.Contains(t, schemaSQL, "pg_notify('reservation_changes'")
}
