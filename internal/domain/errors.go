package domain

import "errors"

var (
	ErrSerializationFailure  = errors.New("serialization failure")
	ErrNotFound              = errors.New("not found")
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrInsufficientInventory = errors.New("not enough available tickets")
	ErrAllocationConflict    = errors.New("tickets were just booked by someone else")
	ErrForbidden             = errors.New("forbidden")
	ErrInvalidState          = errors.New("booking is not in a payable state")
	ErrExpired               = errors.New("booking hold has expired")
	ErrHoldNoLongerValid     = errors.New("hold is no longer valid")
)
