// Package repository contains data access layer abstractions.
// Implementations live in subpackages (postgres, jsonfile) inside this
// directory.
package repository

import (
	"context"
	"errors"

	"docsign/internal/model"
)

var (
	// ErrDuplicateID is returned by Create when a record with the same id
	// already exists. Uniqueness is enforced here, not at the id generator.
	ErrDuplicateID = errors.New("record id already exists")

	// ErrAlreadySigned is returned by MarkSigned when the record's signed
	// flag is already set. The transition to signed happens exactly once.
	ErrAlreadySigned = errors.New("record already marked signed")
)

// RecordRepository defines persistence for document records; strictly
// storage operations, no business logic. Lookups that match nothing return
// sql.ErrNoRows from every implementation so callers map not-found in one
// place.
type RecordRepository interface {
	// Create appends a new record. The record is never deleted afterwards;
	// archival is permanent.
	Create(ctx context.Context, rec *model.DocumentRecord) (*model.DocumentRecord, error)

	// FindByID returns the record with the given id.
	FindByID(ctx context.Context, id string) (*model.DocumentRecord, error)

	// MarkSigned flips the record to signed and stores the finalized file
	// location as one atomic compare-and-swap: concurrent callers for the
	// same id serialize, and every caller after the first observes
	// ErrAlreadySigned.
	MarkSigned(ctx context.Context, id, signedPath string) (*model.DocumentRecord, error)

	// List returns a page of records plus the total count.
	List(ctx context.Context, pq PageQuery) (*PageResult[model.DocumentRecord], error)
}

// PageQuery holds limit/offset pagination parameters.
type PageQuery struct {
	Limit  int
	Offset int
}

// PageResult is a generic pagination result wrapper.
type PageResult[T any] struct {
	Items []T
	Total int
}
