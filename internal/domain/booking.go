package domain

import (
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	BookingHold    BookingStatus = "HOLD"
	BookingPaid    BookingStatus = "PAID"
	BookingExpired BookingStatus = "EXPIRED"
)

type Booking struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Status    BookingStatus
	Total     float64
	ExpiresAt time.Time
	CreatedAt time.Time
	Items     []BookingItem
}

// BookingItem records which ticket was reserved at which price. The price
// is locked in at hold time and never re-read from the ticket.
type BookingItem struct {
	ID        uuid.UUID
	BookingID uuid.UUID
	TicketID  uuid.UUID
	EventID   uuid.UUID
	EventName string
	Price     float64
}

func NewBooking(userID uuid.UUID, tickets []Ticket, expiresAt time.Time) Booking {
	id := uuid.New()
	items := make([]BookingItem, len(tickets))
	var total float64
	for i, t := range tickets {
		items[i] = BookingItem{
			ID:        uuid.New(),
			BookingID: id,
			TicketID:  t.ID,
			EventID:   t.EventID,
			Price:     t.Price,
		}
		total += t.Price
	}
	return Booking{
		ID:        id,
		UserID:    userID,
		Status:    BookingHold,
		Total:     total,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
		Items:     items,
	}
}
