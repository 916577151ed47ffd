package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hoanghamhok/ticket-booking/internal/domain"
	"github.com/hoanghamhok/ticket-booking/internal/observability"
)

const (
	SerializationFailureCode = "40001"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so read queries
// can run against either.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside a SERIALIZABLE transaction. Retryable isolation
// conflicts surface as domain.ErrSerializationFailure.
func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	defer func() {
		observability.DBTxDuration.Observe(time.Since(start).Seconds())
	}()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return err
	}

	err = fn(tx)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode {
			return domain.ErrSerializationFailure
		}
		return err
	}

	return tx.Commit(ctx)
}

// InsertTickets bulk-issues quantity AVAILABLE tickets for an event and
// returns how many rows were created.
func (r *Repository) InsertTickets(ctx context.Context, eventID uuid.UUID, quantity int, price float64) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		INSERT INTO tickets (id, event_id, price, status)
		SELECT gen_random_uuid(), $1, $2, 'AVAILABLE'
		FROM generate_series(1, $3::INT)
	`, eventID, price, quantity)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// SelectAvailableTickets returns up to limit AVAILABLE tickets for the
// event, oldest first.
func (r *Repository) SelectAvailableTickets(ctx context.Context, tx pgx.Tx, eventID uuid.UUID, limit int) ([]domain.Ticket, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, event_id, price, status, created_at
		FROM tickets
		WHERE event_id = $1 AND status = 'AVAILABLE'
		ORDER BY created_at ASC
		LIMIT $2
	`, eventID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []domain.Ticket
	for rows.Next() {
		var t domain.Ticket
		if err := rows.Scan(&t.ID, &t.EventID, &t.Price, &t.Status, &t.CreatedAt); err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// HoldTickets flips the given tickets AVAILABLE -> HOLD. The status filter
// is the optimistic re-check: a ticket claimed by a concurrent hold since
// it was read is not updated, and the caller compares the returned count
// against the number of ids it asked for.
func (r *Repository) HoldTickets(ctx context.Context, tx pgx.Tx, ticketIDs []uuid.UUID, userID uuid.UUID, holdUntil time.Time) (int64, error) {
	result, err := tx.Exec(ctx, `
		UPDATE tickets
		SET status = 'HOLD', hold_by = $2, hold_until = $3
		WHERE id = ANY($1) AND status = 'AVAILABLE'
	`, ticketIDs, userID, holdUntil)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// MarkTicketsPaid flips HOLD -> PAID, re-validating holder and deadline at
// commit time rather than trusting the booking row.
func (r *Repository) MarkTicketsPaid(ctx context.Context, tx pgx.Tx, ticketIDs []uuid.UUID, userID uuid.UUID, now time.Time) (int64, error) {
	result, err := tx.Exec(ctx, `
		UPDATE tickets
		SET status = 'PAID'
		WHERE id = ANY($1) AND status = 'HOLD' AND hold_by = $2 AND hold_until > $3
	`, ticketIDs, userID, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// ReleaseTickets flips HOLD -> AVAILABLE. Tickets that advanced to PAID in
// the meantime are skipped by the status filter.
func (r *Repository) ReleaseTickets(ctx context.Context, tx pgx.Tx, ticketIDs []uuid.UUID) (int64, error) {
	result, err := tx.Exec(ctx, `
		UPDATE tickets
		SET status = 'AVAILABLE', hold_by = NULL, hold_until = NULL
		WHERE id = ANY($1) AND status = 'HOLD'
	`, ticketIDs)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

func (r *Repository) InsertBooking(ctx context.Context, tx pgx.Tx, booking domain.Booking) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO bookings (id, user_id, status, total, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, booking.ID, booking.UserID, booking.Status, booking.Total, booking.ExpiresAt, booking.CreatedAt)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, item := range booking.Items {
		batch.Queue(`
			INSERT INTO booking_items (id, booking_id, ticket_id, price)
			VALUES ($1, $2, $3, $4)
		`, item.ID, item.BookingID, item.TicketID, item.Price)
	}
	return tx.SendBatch(ctx, batch).Close()
}

// GetBookingTx loads a booking with its items inside the caller's
// transaction, so pay's checks and writes see one snapshot.
func (r *Repository) GetBookingTx(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) (*domain.Booking, error) {
	return getBooking(ctx, tx, bookingID)
}

func (r *Repository) GetBooking(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	return getBooking(ctx, r.pool, bookingID)
}

func getBooking(ctx context.Context, q querier, bookingID uuid.UUID) (*domain.Booking, error) {
	var b domain.Booking
	err := q.QueryRow(ctx, `
		SELECT id, user_id, status, total, expires_at, created_at
		FROM bookings WHERE id = $1
	`, bookingID).Scan(&b.ID, &b.UserID, &b.Status, &b.Total, &b.ExpiresAt, &b.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `
		SELECT i.id, i.booking_id, i.ticket_id, t.event_id, i.price
		FROM booking_items i
		JOIN tickets t ON t.id = i.ticket_id
		WHERE i.booking_id = $1
	`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.BookingItem
		if err := rows.Scan(&item.ID, &item.BookingID, &item.TicketID, &item.EventID, &item.Price); err != nil {
			return nil, err
		}
		b.Items = append(b.Items, item)
	}
	return &b, rows.Err()
}

// MarkBookingPaid commits a HOLD booking to PAID. Zero rows affected means
// the booking was not in HOLD anymore.
func (r *Repository) MarkBookingPaid(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) (int64, error) {
	result, err := tx.Exec(ctx, `
		UPDATE bookings SET status = 'PAID' WHERE id = $1 AND status = 'HOLD'
	`, bookingID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// MarkBookingExpired is conditioned on the booking still being HOLD, so a
// booking paid by a concurrent transaction is never flipped to EXPIRED.
func (r *Repository) MarkBookingExpired(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) (int64, error) {
	result, err := tx.Exec(ctx, `
		UPDATE bookings SET status = 'EXPIRED' WHERE id = $1 AND status = 'HOLD'
	`, bookingID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// ExpiredBookings lists HOLD bookings whose deadline has passed, with
// their items.
func (r *Repository) ExpiredBookings(ctx context.Context, now time.Time) ([]domain.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT b.id, b.user_id, b.status, b.total, b.expires_at, b.created_at,
		       i.id, i.ticket_id, i.price, t.event_id
		FROM bookings b
		JOIN booking_items i ON i.booking_id = b.id
		JOIN tickets t ON t.id = i.ticket_id
		WHERE b.status = 'HOLD' AND b.expires_at < $1
		ORDER BY b.id
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBookingRows(rows)
}

// BookingsByUser returns a user's bookings newest first, items included.
func (r *Repository) BookingsByUser(ctx context.Context, userID uuid.UUID) ([]domain.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT b.id, b.user_id, b.status, b.total, b.expires_at, b.created_at,
		       i.id, i.ticket_id, i.price, t.event_id
		FROM bookings b
		JOIN booking_items i ON i.booking_id = b.id
		JOIN tickets t ON t.id = i.ticket_id
		WHERE b.user_id = $1
		ORDER BY b.created_at DESC, b.id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBookingRows(rows)
}

func (r *Repository) AvailableCount(ctx context.Context, eventID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM tickets WHERE event_id = $1 AND status = 'AVAILABLE'
	`, eventID).Scan(&count)
	return count, err
}

func scanBookingRows(rows pgx.Rows) ([]domain.Booking, error) {
	var bookings []domain.Booking
	var current *domain.Booking
	for rows.Next() {
		var b domain.Booking
		var item domain.BookingItem
		if err := rows.Scan(&b.ID, &b.UserID, &b.Status, &b.Total, &b.ExpiresAt, &b.CreatedAt,
			&item.ID, &item.TicketID, &item.Price, &item.EventID); err != nil {
			return nil, err
		}
		item.BookingID = b.ID
		if current == nil || current.ID != b.ID {
			if current != nil {
				bookings = append(bookings, *current)
			}
			copied := b
			current = &copied
		}
		current.Items = append(current.Items, item)
	}
	if current != nil {
		bookings = append(bookings, *current)
	}
	return bookings, rows.Err()
}
