package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"github.com/hoanghamhok/ticket-booking/internal/adapters/crdb"
	"github.com/hoanghamhok/ticket-booking/internal/domain"
	"github.com/hoanghamhok/ticket-booking/internal/observability"
)

// Store is the transactional ticket pool and booking ledger. Every
// mutation carries its expected pre-state in the query and reports the
// number of rows it actually changed.
type Store interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	SelectAvailableTickets(ctx context.Context, tx pgx.Tx, eventID uuid.UUID, limit int) ([]domain.Ticket, error)
	HoldTickets(ctx context.Context, tx pgx.Tx, ticketIDs []uuid.UUID, userID uuid.UUID, holdUntil time.Time) (int64, error)
	MarkTicketsPaid(ctx context.Context, tx pgx.Tx, ticketIDs []uuid.UUID, userID uuid.UUID, now time.Time) (int64, error)
	ReleaseTickets(ctx context.Context, tx pgx.Tx, ticketIDs []uuid.UUID) (int64, error)
	InsertBooking(ctx context.Context, tx pgx.Tx, booking domain.Booking) error
	GetBookingTx(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) (*domain.Booking, error)
	MarkBookingPaid(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) (int64, error)
	MarkBookingExpired(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) (int64, error)
	ExpiredBookings(ctx context.Context, now time.Time) ([]domain.Booking, error)
	BookingsByUser(ctx context.Context, userID uuid.UUID) ([]domain.Booking, error)
	AvailableCount(ctx context.Context, eventID uuid.UUID) (int, error)
	InsertTickets(ctx context.Context, eventID uuid.UUID, quantity int, price float64) (int64, error)
	InsertOutbox(ctx context.Context, tx pgx.Tx, record crdb.OutboxRecord) error
}

// Catalog is the external event catalog. The engine only asks whether an
// event exists and what it is called.
type Catalog interface {
	EventExists(ctx context.Context, eventID uuid.UUID) (bool, error)
	EventNames(ctx context.Context, eventIDs []uuid.UUID) (map[uuid.UUID]string, error)
}

// AvailabilityCache caches per-event AVAILABLE counts.
type AvailabilityCache interface {
	GetAvailableCount(ctx context.Context, eventID uuid.UUID) (int, bool, error)
	SetAvailableCount(ctx context.Context, eventID uuid.UUID, count int) error
	Invalidate(ctx context.Context, eventID uuid.UUID) error
}

type Engine struct {
	store        Store
	catalog      Catalog
	cache        AvailabilityCache
	logger       observability.Logger
	holdDuration time.Duration
	now          func() time.Time
}

func New(store Store, catalog Catalog, cache AvailabilityCache, logger observability.Logger, holdDuration time.Duration) *Engine {
	return &Engine{
		store:        store,
		catalog:      catalog,
		cache:        cache,
		logger:       logger,
		holdDuration: holdDuration,
		now:          time.Now,
	}
}

// WithClock overrides the engine's time source, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Hold reserves exactly quantity tickets for the user, oldest tickets
// first, for the configured hold duration. The select, the conditional
// flip to HOLD and the booking insert are one transaction, so a lost race
// aborts without leaving partially held tickets behind.
func (e *Engine) Hold(ctx context.Context, userID, eventID uuid.UUID, quantity int) (*domain.Booking, error) {
	if quantity <= 0 {
		return nil, errors.Wrap(domain.ErrInvalidArgument, "quantity must be positive")
	}

	holdUntil := e.now().Add(e.holdDuration)
	var booking domain.Booking

	err := e.store.WithTx(ctx, func(tx pgx.Tx) error {
		tickets, err := e.store.SelectAvailableTickets(ctx, tx, eventID, quantity)
		if err != nil {
			return err
		}
		if len(tickets) < quantity {
			return domain.ErrInsufficientInventory
		}

		ids := ticketIDs(tickets)
		held, err := e.store.HoldTickets(ctx, tx, ids, userID, holdUntil)
		if err != nil {
			return err
		}
		if held != int64(quantity) {
			// A concurrent hold claimed at least one of the selected
			// tickets between the read and the write. Abort the tx.
			return domain.ErrAllocationConflict
		}

		booking = domain.NewBooking(userID, tickets, holdUntil)
		if err := e.store.InsertBooking(ctx, tx, booking); err != nil {
			return err
		}

		return e.store.InsertOutbox(ctx, tx, crdb.NewBookingRecord("booking.held", booking.ID, map[string]interface{}{
			"booking_id": booking.ID,
			"user_id":    userID,
			"event_id":   eventID,
			"quantity":   quantity,
		}))
	})
	if err != nil {
		observability.HoldsTotal.WithLabelValues(holdOutcome(err)).Inc()
		return nil, err
	}

	observability.HoldsTotal.WithLabelValues("held").Inc()
	if cerr := e.cache.Invalidate(ctx, eventID); cerr != nil {
		e.logger.WithError(cerr).WithField("event_id", eventID).Warn("availability cache invalidation failed")
	}
	return &booking, nil
}

// Pay commits a HOLD booking to PAID. Ticket rows are re-validated at
// commit time (holder and deadline), not trusted from the booking row.
func (e *Engine) Pay(ctx context.Context, userID, bookingID uuid.UUID) (*domain.Booking, error) {
	var booking domain.Booking

	err := e.store.WithTx(ctx, func(tx pgx.Tx) error {
		b, err := e.store.GetBookingTx(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		if b.UserID != userID {
			return domain.ErrForbidden
		}
		if b.Status == domain.BookingExpired {
			// Same answer whether the sweeper has run or not: the
			// caller was too slow, not in the wrong state.
			return domain.ErrExpired
		}
		if b.Status != domain.BookingHold {
			return domain.ErrInvalidState
		}
		now := e.now()
		if !b.ExpiresAt.After(now) {
			// The wall-clock deadline governs, not whether the sweeper
			// has run yet.
			return domain.ErrExpired
		}

		paid, err := e.store.MarkTicketsPaid(ctx, tx, itemTicketIDs(b.Items), userID, now)
		if err != nil {
			return err
		}
		if paid != int64(len(b.Items)) {
			return domain.ErrHoldNoLongerValid
		}

		updated, err := e.store.MarkBookingPaid(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		if updated == 0 {
			return domain.ErrHoldNoLongerValid
		}

		b.Status = domain.BookingPaid
		booking = *b

		return e.store.InsertOutbox(ctx, tx, crdb.NewBookingRecord("booking.paid", bookingID, map[string]interface{}{
			"booking_id": bookingID,
			"user_id":    userID,
			"total":      b.Total,
		}))
	})
	if err != nil {
		observability.PaymentsTotal.WithLabelValues(payOutcome(err)).Inc()
		return nil, err
	}

	observability.PaymentsTotal.WithLabelValues("paid").Inc()
	return &booking, nil
}

// ReleaseExpired reclaims inventory from holds past their deadline. Each
// booking is released in its own transaction; one failure neither aborts
// the others nor surfaces to callers, the next sweep re-scans.
func (e *Engine) ReleaseExpired(ctx context.Context) (int, int, error) {
	now := e.now()
	expired, err := e.store.ExpiredBookings(ctx, now)
	if err != nil {
		return 0, 0, err
	}

	var bookingsExpired, ticketsReleased int64

	g := new(errgroup.Group)
	g.SetLimit(4)
	for _, b := range expired {
		b := b
		g.Go(func() error {
			released, flipped, err := e.releaseBooking(ctx, b)
			if err != nil {
				e.logger.WithError(err).WithField("booking_id", b.ID).Warn("release failed, retrying on next sweep")
				return nil
			}
			if !flipped {
				return nil
			}
			atomic.AddInt64(&bookingsExpired, 1)
			atomic.AddInt64(&ticketsReleased, released)
			for _, eventID := range itemEventIDs(b.Items) {
				if cerr := e.cache.Invalidate(ctx, eventID); cerr != nil {
					e.logger.WithError(cerr).WithField("event_id", eventID).Warn("availability cache invalidation failed")
				}
			}
			return nil
		})
	}
	g.Wait()

	observability.BookingsExpired.Add(float64(bookingsExpired))
	observability.TicketsReleased.Add(float64(ticketsReleased))
	return int(bookingsExpired), int(ticketsReleased), nil
}

// releaseBooking flips one booking to EXPIRED and its tickets back to
// AVAILABLE. Both updates are conditioned on the HOLD pre-state: if a
// concurrent pay already committed, the booking flip affects zero rows
// and the whole release is skipped.
func (e *Engine) releaseBooking(ctx context.Context, b domain.Booking) (int64, bool, error) {
	var released int64
	var flipped bool

	err := e.store.WithTx(ctx, func(tx pgx.Tx) error {
		updated, err := e.store.MarkBookingExpired(ctx, tx, b.ID)
		if err != nil {
			return err
		}
		if updated == 0 {
			return nil
		}
		flipped = true

		released, err = e.store.ReleaseTickets(ctx, tx, itemTicketIDs(b.Items))
		if err != nil {
			return err
		}

		return e.store.InsertOutbox(ctx, tx, crdb.NewBookingRecord("booking.expired", b.ID, map[string]interface{}{
			"booking_id":       b.ID,
			"user_id":          b.UserID,
			"tickets_released": released,
		}))
	})
	return released, flipped, err
}

// ListMyBookings returns the user's bookings newest first, items enriched
// with event names from the catalog.
func (e *Engine) ListMyBookings(ctx context.Context, userID uuid.UUID) ([]domain.Booking, error) {
	bookings, err := e.store.BookingsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var eventIDs []uuid.UUID
	seen := map[uuid.UUID]bool{}
	for _, b := range bookings {
		for _, item := range b.Items {
			if !seen[item.EventID] {
				seen[item.EventID] = true
				eventIDs = append(eventIDs, item.EventID)
			}
		}
	}
	if len(eventIDs) == 0 {
		return bookings, nil
	}

	names, err := e.catalog.EventNames(ctx, eventIDs)
	if err != nil {
		// Listing still works without the catalog, just unnamed.
		e.logger.WithError(err).Warn("event name lookup failed")
		return bookings, nil
	}
	for i := range bookings {
		for j := range bookings[i].Items {
			bookings[i].Items[j].EventName = names[bookings[i].Items[j].EventID]
		}
	}
	return bookings, nil
}

// AvailableCount is a read-through over the availability cache.
func (e *Engine) AvailableCount(ctx context.Context, eventID uuid.UUID) (int, error) {
	if count, ok, err := e.cache.GetAvailableCount(ctx, eventID); err == nil && ok {
		return count, nil
	}

	count, err := e.store.AvailableCount(ctx, eventID)
	if err != nil {
		return 0, err
	}
	if cerr := e.cache.SetAvailableCount(ctx, eventID, count); cerr != nil {
		e.logger.WithError(cerr).WithField("event_id", eventID).Warn("availability cache write failed")
	}
	return count, nil
}

// CreateTickets bulk-issues AVAILABLE tickets for an existing event.
func (e *Engine) CreateTickets(ctx context.Context, eventID uuid.UUID, quantity int, price float64) (int64, error) {
	if quantity <= 0 {
		return 0, errors.Wrap(domain.ErrInvalidArgument, "quantity must be positive")
	}
	if price < 0 {
		return 0, errors.Wrap(domain.ErrInvalidArgument, "price must not be negative")
	}

	exists, err := e.catalog.EventExists(ctx, eventID)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, errors.Wrap(domain.ErrNotFound, "event not found")
	}

	created, err := e.store.InsertTickets(ctx, eventID, quantity, price)
	if err != nil {
		return 0, err
	}
	if cerr := e.cache.Invalidate(ctx, eventID); cerr != nil {
		e.logger.WithError(cerr).WithField("event_id", eventID).Warn("availability cache invalidation failed")
	}
	return created, nil
}

func ticketIDs(tickets []domain.Ticket) []uuid.UUID {
	ids := make([]uuid.UUID, len(tickets))
	for i, t := range tickets {
		ids[i] = t.ID
	}
	return ids
}

func itemTicketIDs(items []domain.BookingItem) []uuid.UUID {
	ids := make([]uuid.UUID, len(items))
	for i, item := range items {
		ids[i] = item.TicketID
	}
	return ids
}

func itemEventIDs(items []domain.BookingItem) []uuid.UUID {
	var ids []uuid.UUID
	seen := map[uuid.UUID]bool{}
	for _, item := range items {
		if !seen[item.EventID] {
			seen[item.EventID] = true
			ids = append(ids, item.EventID)
		}
	}
	return ids
}

func holdOutcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientInventory):
		return "insufficient"
	case errors.Is(err, domain.ErrAllocationConflict), errors.Is(err, domain.ErrSerializationFailure):
		return "conflict"
	case errors.Is(err, domain.ErrInvalidArgument):
		return "invalid"
	default:
		return "error"
	}
}

func payOutcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrExpired), errors.Is(err, domain.ErrHoldNoLongerValid):
		return "expired"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidState):
		return "invalid"
	default:
		return "error"
	}
}
