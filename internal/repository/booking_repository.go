package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/day-claim-calendar/internal/model"
)

// mysqlDuplicateEntry is the server error number for a unique key violation.
const mysqlDuplicateEntry = 1062

// BookingRepo provides access to the bookings table.  Rows are listed in
// insertion order (the seq column).  All timestamps are stored in UTC.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a new BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

// List returns every booking in insertion order.  The collection is read in
// full on every call; there is no filtering or pagination.
func (r *BookingRepo) List(ctx context.Context) ([]model.Booking, error) {
	const q = `SELECT id, name, date, created_at FROM bookings ORDER BY seq`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Booking, 0)
	for rows.Next() {
		var b model.Booking
		if err := rows.Scan(&b.ID, &b.Name, &b.Date, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Insert stores a new booking.  The caller assigns the id and CreatedAt.
func (r *BookingRepo) Insert(ctx context.Context, b model.Booking) error {
	const q = `INSERT INTO bookings (id, name, date, created_at) VALUES (?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, q, b.ID, b.Name, b.Date, b.CreatedAt.UTC().Format("2006-01-02 15:04:05.000000"))
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
		return ErrDuplicateID
	}
	return err
}

// DeleteByID removes a booking.  Deleting an id that does not exist is not
// an error.
func (r *BookingRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM bookings WHERE id = ?`, id)
	return err
}

// Ping checks the connection with a short timeout.
func (r *BookingRepo) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.db.PingContext(ctx)
}
