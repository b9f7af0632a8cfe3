// Package repository implements the datastore collaborators over database/sql
// with the SQLite dialect.
package repository

import (
	"errors"

	"github.com/godilite/qa-workflow/internal/repository/models"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrStaleStatus is returned by a compare-and-swap status update when the
	// stored status no longer matches the expected one.
	ErrStaleStatus = errors.New("stale ticket status")
)

// TicketFilter selects tickets by equality on indexed fields.
type TicketFilter struct {
	DomainID string
	Status   models.ReviewStatus
	Limit    int
}
