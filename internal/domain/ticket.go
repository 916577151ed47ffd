package domain

import (
	"time"

	"github.com/google/uuid"
)

type TicketStatus string

const (
	TicketAvailable TicketStatus = "AVAILABLE"
	TicketHold      TicketStatus = "HOLD"
	TicketPaid      TicketStatus = "PAID"
)

// Ticket is one unit of sellable inventory. EventID never changes after
// creation; HoldByID and HoldUntil are set exactly while Status is HOLD.
type Ticket struct {
	ID        uuid.UUID
	EventID   uuid.UUID
	Price     float64
	Status    TicketStatus
	HoldByID  *uuid.UUID
	HoldUntil *time.Time
	CreatedAt time.Time
}
