package domain

import "errors"

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("ticket not found")
	ErrNotAuthorized        = errors.New("not authorized")
	ErrAlreadyActivated     = errors.New("ticket already activated")
	ErrInsufficientPayment  = errors.New("insufficient funds sent")
	ErrInvalidInput         = errors.New("invalid input")
)
