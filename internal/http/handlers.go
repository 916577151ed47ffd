package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hoanghamhok/ticket-booking/internal/config"
	"github.com/hoanghamhok/ticket-booking/internal/domain"
	"github.com/hoanghamhok/ticket-booking/internal/idempotency"
	"github.com/hoanghamhok/ticket-booking/internal/observability"
)

// Engine is the reservation engine surface the handlers delegate to.
type Engine interface {
	Hold(ctx context.Context, userID, eventID uuid.UUID, quantity int) (*domain.Booking, error)
	Pay(ctx context.Context, userID, bookingID uuid.UUID) (*domain.Booking, error)
	ListMyBookings(ctx context.Context, userID uuid.UUID) ([]domain.Booking, error)
	AvailableCount(ctx context.Context, eventID uuid.UUID) (int, error)
	CreateTickets(ctx context.Context, eventID uuid.UUID, quantity int, price float64) (int64, error)
}

// Auditor records business actions out of band; failures are logged, not
// surfaced.
type Auditor interface {
	LogHold(ctx context.Context, booking domain.Booking) error
	LogPayment(ctx context.Context, booking domain.Booking) error
}

type Handlers struct {
	cfg    *config.Config
	engine Engine
	idemp  *idempotency.Idempotency
	audit  Auditor
	logger observability.Logger
}

func NewHandlers(cfg *config.Config, engine Engine, idemp *idempotency.Idempotency, audit Auditor, logger observability.Logger) *Handlers {
	return &Handlers{
		cfg:    cfg,
		engine: engine,
		idemp:  idemp,
		audit:  audit,
		logger: logger,
	}
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// writeError maps the domain error taxonomy to stable HTTP error kinds.
// Storage and connectivity failures deliberately fall through to a
// generic internal kind.
func writeError(w http.ResponseWriter, err error) {
	var status int
	var kind string

	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		status, kind = http.StatusBadRequest, "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrInsufficientInventory):
		status, kind = http.StatusConflict, "INSUFFICIENT_INVENTORY"
	case errors.Is(err, domain.ErrAllocationConflict):
		status, kind = http.StatusConflict, "ALLOCATION_CONFLICT"
	case errors.Is(err, domain.ErrSerializationFailure):
		status, kind = http.StatusConflict, "CONFLICT_RETRY"
	case errors.Is(err, domain.ErrNotFound):
		status, kind = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrForbidden):
		status, kind = http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, domain.ErrInvalidState):
		status, kind = http.StatusConflict, "INVALID_STATE"
	case errors.Is(err, domain.ErrExpired):
		status, kind = http.StatusGone, "EXPIRED"
	case errors.Is(err, domain.ErrHoldNoLongerValid):
		status, kind = http.StatusConflict, "HOLD_NO_LONGER_VALID"
	default:
		status, kind = http.StatusInternalServerError, "INTERNAL"
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]errorBody{"error": {Kind: kind, Message: message}})
}

type bookingItemResponse struct {
	ID        uuid.UUID `json:"id"`
	TicketID  uuid.UUID `json:"ticket_id"`
	EventID   uuid.UUID `json:"event_id"`
	EventName string    `json:"event_name,omitempty"`
	Price     float64   `json:"price"`
}

type bookingResponse struct {
	ID        uuid.UUID             `json:"id"`
	UserID    uuid.UUID             `json:"user_id"`
	Status    string                `json:"status"`
	Total     float64               `json:"total"`
	ExpiresAt string                `json:"expires_at"`
	CreatedAt string                `json:"created_at"`
	Items     []bookingItemResponse `json:"items"`
}

func toBookingResponse(b domain.Booking) bookingResponse {
	items := make([]bookingItemResponse, len(b.Items))
	for i, item := range b.Items {
		items[i] = bookingItemResponse{
			ID:        item.ID,
			TicketID:  item.TicketID,
			EventID:   item.EventID,
			EventName: item.EventName,
			Price:     item.Price,
		}
	}
	return bookingResponse{
		ID:        b.ID,
		UserID:    b.UserID,
		Status:    string(b.Status),
		Total:     b.Total,
		ExpiresAt: b.ExpiresAt.Format(time.RFC3339),
		CreatedAt: b.CreatedAt.Format(time.RFC3339),
		Items:     items,
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) []byte {
	data, _ := json.Marshal(v)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
	return data
}

// replayed serves a stored idempotent response if one exists.
func (h *Handlers) replayed(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := r.Header.Get("Idempotency-Key")
	existing, err := h.idemp.Get(r.Context(), key)
	if err != nil {
		h.logger.WithError(err).Warn("idempotency lookup failed")
		return key, false
	}
	if existing != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.Status)
		w.Write(existing.Result)
		return key, true
	}
	return key, false
}

func (h *Handlers) HoldTickets(w http.ResponseWriter, r *http.Request) {
	key, done := h.replayed(w, r)
	if done {
		return
	}

	userID, ok := UserID(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var req struct {
		EventID  uuid.UUID `json:"event_id"`
		Quantity int       `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrap(domain.ErrInvalidArgument, "malformed body"))
		return
	}

	booking, err := h.engine.Hold(r.Context(), userID, req.EventID, req.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}

	if aerr := h.audit.LogHold(r.Context(), *booking); aerr != nil {
		h.logger.WithError(aerr).Warn("audit log failed")
	}

	data := h.writeJSON(w, http.StatusCreated, toBookingResponse(*booking))
	h.idemp.Set(r.Context(), key, idempotency.Response{Status: http.StatusCreated, Result: data})
}

func (h *Handlers) PayBooking(w http.ResponseWriter, r *http.Request) {
	key, done := h.replayed(w, r)
	if done {
		return
	}

	userID, ok := UserID(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	bookingID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, errors.Wrap(domain.ErrInvalidArgument, "invalid booking id"))
		return
	}

	booking, err := h.engine.Pay(r.Context(), userID, bookingID)
	if err != nil {
		writeError(w, err)
		return
	}

	if aerr := h.audit.LogPayment(r.Context(), *booking); aerr != nil {
		h.logger.WithError(aerr).Warn("audit log failed")
	}

	data := h.writeJSON(w, http.StatusOK, toBookingResponse(*booking))
	h.idemp.Set(r.Context(), key, idempotency.Response{Status: http.StatusOK, Result: data})
}

func (h *Handlers) MyBookings(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserID(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	bookings, err := h.engine.ListMyBookings(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]bookingResponse, len(bookings))
	for i, b := range bookings {
		resp[i] = toBookingResponse(b)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) AvailableTickets(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, errors.Wrap(domain.ErrInvalidArgument, "invalid event id"))
		return
	}

	count, err := h.engine.AvailableCount(r.Context(), eventID)
	if err != nil {
		writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"event_id":  eventID,
		"available": count,
	})
}

func (h *Handlers) CreateTickets(w http.ResponseWriter, r *http.Request) {
	key, done := h.replayed(w, r)
	if done {
		return
	}

	if Role(r.Context()) != "ADMIN" {
		writeError(w, errors.Wrap(domain.ErrForbidden, "admin role required"))
		return
	}

	eventID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, errors.Wrap(domain.ErrInvalidArgument, "invalid event id"))
		return
	}

	var req struct {
		Quantity int     `json:"quantity"`
		Price    float64 `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrap(domain.ErrInvalidArgument, "malformed body"))
		return
	}

	created, err := h.engine.CreateTickets(r.Context(), eventID, req.Quantity, req.Price)
	if err != nil {
		writeError(w, err)
		return
	}

	data := h.writeJSON(w, http.StatusCreated, map[string]interface{}{"created": created})
	h.idemp.Set(r.Context(), key, idempotency.Response{Status: http.StatusCreated, Result: data})
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
