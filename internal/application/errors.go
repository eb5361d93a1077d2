package application

import "errors"

var (
	// ErrInvalidArgument is returned for malformed input, before any store
	// access.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrBusy is returned when a mutating operation is attempted while a
	// conflicting one holds the write gate.
	ErrBusy = errors.New("another migration write is in progress")
)
