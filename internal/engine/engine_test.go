package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hoanghamhok/ticket-booking/internal/adapters/crdb"
	"github.com/hoanghamhok/ticket-booking/internal/domain"
	"github.com/hoanghamhok/ticket-booking/internal/engine"
	"github.com/hoanghamhok/ticket-booking/internal/observability"
)

type mockStore struct {
	mock.Mock
}

// WithTx runs the unit directly; conditional-update results are supplied
// per method, so no real transaction is needed here.
func (m *mockStore) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

func (m *mockStore) SelectAvailableTickets(ctx context.Context, tx pgx.Tx, eventID uuid.UUID, limit int) ([]domain.Ticket, error) {
	args := m.Called(ctx, eventID, limit)
	return args.Get(0).([]domain.Ticket), args.Error(1)
}

func (m *mockStore) HoldTickets(ctx context.Context, tx pgx.Tx, ticketIDs []uuid.UUID, userID uuid.UUID, holdUntil time.Time) (int64, error) {
	args := m.Called(ctx, ticketIDs, userID, holdUntil)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) MarkTicketsPaid(ctx context.Context, tx pgx.Tx, ticketIDs []uuid.UUID, userID uuid.UUID, now time.Time) (int64, error) {
	args := m.Called(ctx, ticketIDs, userID, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) ReleaseTickets(ctx context.Context, tx pgx.Tx, ticketIDs []uuid.UUID) (int64, error) {
	args := m.Called(ctx, ticketIDs)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) InsertBooking(ctx context.Context, tx pgx.Tx, booking domain.Booking) error {
	return m.Called(ctx, booking).Error(0)
}

func (m *mockStore) GetBookingTx(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) (*domain.Booking, error) {
	args := m.Called(ctx, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}

func (m *mockStore) MarkBookingPaid(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) (int64, error) {
	args := m.Called(ctx, bookingID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) MarkBookingExpired(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) (int64, error) {
	args := m.Called(ctx, bookingID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) ExpiredBookings(ctx context.Context, now time.Time) ([]domain.Booking, error) {
	args := m.Called(ctx, now)
	return args.Get(0).([]domain.Booking), args.Error(1)
}

func (m *mockStore) BookingsByUser(ctx context.Context, userID uuid.UUID) ([]domain.Booking, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]domain.Booking), args.Error(1)
}

func (m *mockStore) AvailableCount(ctx context.Context, eventID uuid.UUID) (int, error) {
	args := m.Called(ctx, eventID)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) InsertTickets(ctx context.Context, eventID uuid.UUID, quantity int, price float64) (int64, error) {
	args := m.Called(ctx, eventID, quantity, price)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) InsertOutbox(ctx context.Context, tx pgx.Tx, record crdb.OutboxRecord) error {
	return m.Called(ctx, record.EventType).Error(0)
}

type mockCatalog struct {
	mock.Mock
}

func (m *mockCatalog) EventExists(ctx context.Context, eventID uuid.UUID) (bool, error) {
	args := m.Called(ctx, eventID)
	return args.Bool(0), args.Error(1)
}

func (m *mockCatalog) EventNames(ctx context.Context, eventIDs []uuid.UUID) (map[uuid.UUID]string, error) {
	args := m.Called(ctx, eventIDs)
	return args.Get(0).(map[uuid.UUID]string), args.Error(1)
}

type mockCache struct {
	mock.Mock
}

func (m *mockCache) GetAvailableCount(ctx context.Context, eventID uuid.UUID) (int, bool, error) {
	args := m.Called(ctx, eventID)
	return args.Int(0), args.Bool(1), args.Error(2)
}

func (m *mockCache) SetAvailableCount(ctx context.Context, eventID uuid.UUID, count int) error {
	return m.Called(ctx, eventID, count).Error(0)
}

func (m *mockCache) Invalidate(ctx context.Context, eventID uuid.UUID) error {
	return m.Called(ctx, eventID).Error(0)
}

func newEngine(store *mockStore, catalog *mockCatalog, cache *mockCache, now time.Time) *engine.Engine {
	e := engine.New(store, catalog, cache, observability.NewLogger(), 15*time.Minute)
	return e.WithClock(func() time.Time { return now })
}

func availableTickets(eventID uuid.UUID, prices ...float64) []domain.Ticket {
	tickets := make([]domain.Ticket, len(prices))
	for i, p := range prices {
		tickets[i] = domain.Ticket{
			ID:        uuid.New(),
			EventID:   eventID,
			Price:     p,
			Status:    domain.TicketAvailable,
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		}
	}
	return tickets
}

func TestHold_Success(t *testing.T) {
	store := new(mockStore)
	cache := new(mockCache)
	now := time.Now()
	e := newEngine(store, new(mockCatalog), cache, now)

	ctx := context.Background()
	userID := uuid.New()
	eventID := uuid.New()
	tickets := availableTickets(eventID, 100, 100)

	store.On("SelectAvailableTickets", ctx, eventID, 2).Return(tickets, nil)
	store.On("HoldTickets", ctx, []uuid.UUID{tickets[0].ID, tickets[1].ID}, userID, now.Add(15*time.Minute)).Return(int64(2), nil)
	store.On("InsertBooking", ctx, mock.AnythingOfType("domain.Booking")).Return(nil)
	store.On("InsertOutbox", ctx, "booking.held").Return(nil)
	cache.On("Invalidate", ctx, eventID).Return(nil)

	booking, err := e.Hold(ctx, userID, eventID, 2)
	require.NoError(t, err)

	assert.Equal(t, domain.BookingHold, booking.Status)
	assert.Equal(t, 200.0, booking.Total)
	assert.Len(t, booking.Items, 2)
	assert.Equal(t, now.Add(15*time.Minute), booking.ExpiresAt)
	assert.Equal(t, tickets[0].ID, booking.Items[0].TicketID)
	store.AssertExpectations(t)
}

func TestHold_InvalidQuantity(t *testing.T) {
	store := new(mockStore)
	e := newEngine(store, new(mockCatalog), new(mockCache), time.Now())

	for _, qty := range []int{0, -1} {
		_, err := e.Hold(context.Background(), uuid.New(), uuid.New(), qty)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	}
	store.AssertNotCalled(t, "SelectAvailableTickets", mock.Anything, mock.Anything, mock.Anything)
}

func TestHold_InsufficientInventory(t *testing.T) {
	store := new(mockStore)
	e := newEngine(store, new(mockCatalog), new(mockCache), time.Now())

	ctx := context.Background()
	eventID := uuid.New()
	store.On("SelectAvailableTickets", ctx, eventID, 2).Return(availableTickets(eventID, 100), nil)

	_, err := e.Hold(ctx, uuid.New(), eventID, 2)
	assert.ErrorIs(t, err, domain.ErrInsufficientInventory)
	store.AssertNotCalled(t, "HoldTickets", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHold_UnknownEventSameAsInsufficient(t *testing.T) {
	store := new(mockStore)
	e := newEngine(store, new(mockCatalog), new(mockCache), time.Now())

	ctx := context.Background()
	eventID := uuid.New()
	store.On("SelectAvailableTickets", ctx, eventID, 1).Return([]domain.Ticket(nil), nil)

	_, err := e.Hold(ctx, uuid.New(), eventID, 1)
	assert.ErrorIs(t, err, domain.ErrInsufficientInventory)
}

func TestHold_LostRace(t *testing.T) {
	store := new(mockStore)
	e := newEngine(store, new(mockCatalog), new(mockCache), time.Now())

	ctx := context.Background()
	userID := uuid.New()
	eventID := uuid.New()
	tickets := availableTickets(eventID, 100, 100)

	store.On("SelectAvailableTickets", ctx, eventID, 2).Return(tickets, nil)
	// One of the two tickets was claimed between the read and the write.
	store.On("HoldTickets", ctx, mock.Anything, userID, mock.Anything).Return(int64(1), nil)

	_, err := e.Hold(ctx, userID, eventID, 2)
	assert.ErrorIs(t, err, domain.ErrAllocationConflict)
	store.AssertNotCalled(t, "InsertBooking", mock.Anything, mock.Anything)
}

func heldBooking(userID uuid.UUID, expiresAt time.Time, prices ...float64) *domain.Booking {
	eventID := uuid.New()
	b := domain.NewBooking(userID, availableTickets(eventID, prices...), expiresAt)
	return &b
}

func TestPay_Success(t *testing.T) {
	store := new(mockStore)
	now := time.Now()
	e := newEngine(store, new(mockCatalog), new(mockCache), now)

	ctx := context.Background()
	userID := uuid.New()
	b := heldBooking(userID, now.Add(10*time.Minute), 100, 100)

	store.On("GetBookingTx", ctx, b.ID).Return(b, nil)
	store.On("MarkTicketsPaid", ctx, []uuid.UUID{b.Items[0].TicketID, b.Items[1].TicketID}, userID, now).Return(int64(2), nil)
	store.On("MarkBookingPaid", ctx, b.ID).Return(int64(1), nil)
	store.On("InsertOutbox", ctx, "booking.paid").Return(nil)

	paid, err := e.Pay(ctx, userID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingPaid, paid.Status)
	assert.Equal(t, 200.0, paid.Total)
	store.AssertExpectations(t)
}

func TestPay_NotFound(t *testing.T) {
	store := new(mockStore)
	e := newEngine(store, new(mockCatalog), new(mockCache), time.Now())

	ctx := context.Background()
	bookingID := uuid.New()
	store.On("GetBookingTx", ctx, bookingID).Return(nil, domain.ErrNotFound)

	_, err := e.Pay(ctx, uuid.New(), bookingID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPay_Forbidden(t *testing.T) {
	store := new(mockStore)
	now := time.Now()
	e := newEngine(store, new(mockCatalog), new(mockCache), now)

	ctx := context.Background()
	b := heldBooking(uuid.New(), now.Add(10*time.Minute), 100)
	store.On("GetBookingTx", ctx, b.ID).Return(b, nil)

	_, err := e.Pay(ctx, uuid.New(), b.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	store.AssertNotCalled(t, "MarkTicketsPaid", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPay_AlreadyPaid(t *testing.T) {
	store := new(mockStore)
	now := time.Now()
	e := newEngine(store, new(mockCatalog), new(mockCache), now)

	ctx := context.Background()
	userID := uuid.New()
	b := heldBooking(userID, now.Add(10*time.Minute), 100)
	b.Status = domain.BookingPaid
	store.On("GetBookingTx", ctx, b.ID).Return(b, nil)

	_, err := e.Pay(ctx, userID, b.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestPay_AlreadyExpiredBySweeper(t *testing.T) {
	store := new(mockStore)
	now := time.Now()
	e := newEngine(store, new(mockCatalog), new(mockCache), now)

	ctx := context.Background()
	userID := uuid.New()
	b := heldBooking(userID, now.Add(-time.Minute), 100)
	b.Status = domain.BookingExpired
	store.On("GetBookingTx", ctx, b.ID).Return(b, nil)

	_, err := e.Pay(ctx, userID, b.ID)
	assert.ErrorIs(t, err, domain.ErrExpired)
	store.AssertNotCalled(t, "MarkTicketsPaid", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPay_AfterDeadline(t *testing.T) {
	store := new(mockStore)
	created := time.Now()
	// Payment arrives 16 minutes later; the sweeper has not run yet.
	e := newEngine(store, new(mockCatalog), new(mockCache), created.Add(16*time.Minute))

	ctx := context.Background()
	userID := uuid.New()
	b := heldBooking(userID, created.Add(15*time.Minute), 100)
	store.On("GetBookingTx", ctx, b.ID).Return(b, nil)

	_, err := e.Pay(ctx, userID, b.ID)
	assert.ErrorIs(t, err, domain.ErrExpired)
	store.AssertNotCalled(t, "MarkTicketsPaid", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPay_SweeperWonRace(t *testing.T) {
	store := new(mockStore)
	now := time.Now()
	e := newEngine(store, new(mockCatalog), new(mockCache), now)

	ctx := context.Background()
	userID := uuid.New()
	b := heldBooking(userID, now.Add(time.Minute), 100, 100)

	store.On("GetBookingTx", ctx, b.ID).Return(b, nil)
	// Only one of the two tickets still satisfied the HOLD predicate.
	store.On("MarkTicketsPaid", ctx, mock.Anything, userID, now).Return(int64(1), nil)

	_, err := e.Pay(ctx, userID, b.ID)
	assert.ErrorIs(t, err, domain.ErrHoldNoLongerValid)
	store.AssertNotCalled(t, "MarkBookingPaid", mock.Anything, mock.Anything)
}

func TestReleaseExpired(t *testing.T) {
	store := new(mockStore)
	cache := new(mockCache)
	now := time.Now()
	e := newEngine(store, new(mockCatalog), cache, now)

	ctx := context.Background()
	stale := heldBooking(uuid.New(), now.Add(-time.Minute), 100, 100)
	racedByPay := heldBooking(uuid.New(), now.Add(-time.Minute), 100)

	store.On("ExpiredBookings", ctx, now).Return([]domain.Booking{*stale, *racedByPay}, nil)
	store.On("MarkBookingExpired", ctx, stale.ID).Return(int64(1), nil)
	store.On("ReleaseTickets", ctx, []uuid.UUID{stale.Items[0].TicketID, stale.Items[1].TicketID}).Return(int64(2), nil)
	store.On("InsertOutbox", ctx, "booking.expired").Return(nil)
	// The second booking was paid between the scan and the release tx.
	store.On("MarkBookingExpired", ctx, racedByPay.ID).Return(int64(0), nil)
	cache.On("Invalidate", ctx, mock.Anything).Return(nil)

	bookingsExpired, ticketsReleased, err := e.ReleaseExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, bookingsExpired)
	assert.Equal(t, 2, ticketsReleased)
	store.AssertNotCalled(t, "ReleaseTickets", mock.Anything, []uuid.UUID{racedByPay.Items[0].TicketID})
}

func TestReleaseExpired_Idempotent(t *testing.T) {
	store := new(mockStore)
	now := time.Now()
	e := newEngine(store, new(mockCatalog), new(mockCache), now)

	ctx := context.Background()
	store.On("ExpiredBookings", ctx, now).Return([]domain.Booking{}, nil)

	bookingsExpired, ticketsReleased, err := e.ReleaseExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, bookingsExpired)
	assert.Zero(t, ticketsReleased)
}

func TestPriceLockIn(t *testing.T) {
	eventID := uuid.New()
	tickets := availableTickets(eventID, 100, 100, 100)
	booking := domain.NewBooking(uuid.New(), tickets, time.Now().Add(15*time.Minute))

	// Editing the ticket after booking creation must not move the
	// locked-in prices.
	tickets[0].Price = 250

	assert.Equal(t, 300.0, booking.Total)
	for _, item := range booking.Items {
		assert.Equal(t, 100.0, item.Price)
	}
}

func TestListMyBookings_ResolvesEventNames(t *testing.T) {
	store := new(mockStore)
	catalog := new(mockCatalog)
	now := time.Now()
	e := newEngine(store, catalog, new(mockCache), now)

	ctx := context.Background()
	userID := uuid.New()
	b := heldBooking(userID, now.Add(10*time.Minute), 100)
	eventID := b.Items[0].EventID

	store.On("BookingsByUser", ctx, userID).Return([]domain.Booking{*b}, nil)
	catalog.On("EventNames", ctx, []uuid.UUID{eventID}).Return(map[uuid.UUID]string{eventID: "Spring Concert"}, nil)

	bookings, err := e.ListMyBookings(ctx, userID)
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	assert.Equal(t, "Spring Concert", bookings[0].Items[0].EventName)
}

func TestAvailableCount_CacheHitSkipsStore(t *testing.T) {
	store := new(mockStore)
	cache := new(mockCache)
	e := newEngine(store, new(mockCatalog), cache, time.Now())

	ctx := context.Background()
	eventID := uuid.New()
	cache.On("GetAvailableCount", ctx, eventID).Return(7, true, nil)

	count, err := e.AvailableCount(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, 7, count)
	store.AssertNotCalled(t, "AvailableCount", mock.Anything, mock.Anything)
}

func TestAvailableCount_CacheMiss(t *testing.T) {
	store := new(mockStore)
	cache := new(mockCache)
	e := newEngine(store, new(mockCatalog), cache, time.Now())

	ctx := context.Background()
	eventID := uuid.New()
	cache.On("GetAvailableCount", ctx, eventID).Return(0, false, nil)
	store.On("AvailableCount", ctx, eventID).Return(3, nil)
	cache.On("SetAvailableCount", ctx, eventID, 3).Return(nil)

	count, err := e.AvailableCount(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	cache.AssertExpectations(t)
}

func TestCreateTickets_Validation(t *testing.T) {
	store := new(mockStore)
	catalog := new(mockCatalog)
	e := newEngine(store, catalog, new(mockCache), time.Now())

	ctx := context.Background()
	_, err := e.CreateTickets(ctx, uuid.New(), 0, 100)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = e.CreateTickets(ctx, uuid.New(), 5, -1)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	eventID := uuid.New()
	catalog.On("EventExists", ctx, eventID).Return(false, nil)
	_, err = e.CreateTickets(ctx, eventID, 5, 100)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	store.AssertNotCalled(t, "InsertTickets", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateTickets_Success(t *testing.T) {
	store := new(mockStore)
	catalog := new(mockCatalog)
	cache := new(mockCache)
	e := newEngine(store, catalog, cache, time.Now())

	ctx := context.Background()
	eventID := uuid.New()
	catalog.On("EventExists", ctx, eventID).Return(true, nil)
	store.On("InsertTickets", ctx, eventID, 50, 100.0).Return(int64(50), nil)
	cache.On("Invalidate", ctx, eventID).Return(nil)

	created, err := e.CreateTickets(ctx, eventID, 50, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(50), created)
}
