// Package repository defines the data access layer for bookings: a MySQL
// table and an in-memory stand-in with the same semantics.
package repository

import "errors"

// ErrDuplicateID is returned by Insert when the id is already stored.  Ids
// are random, so this indicates a caller bug rather than a user error.
var ErrDuplicateID = errors.New("duplicate booking id")
