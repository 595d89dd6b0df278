package repository

import "errors"

// ErrNotFound is returned when a requested record does not exist.
// Callers translate it into their own domain-specific not-found errors.
var ErrNotFound = errors.New("record not found")
