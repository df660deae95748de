package repository

import "errors"

var (
	// ErrNotFound is returned when a requested ride, driver or user does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an entity with the same key is already stored.
	ErrDuplicate = errors.New("entity already exists")
)
