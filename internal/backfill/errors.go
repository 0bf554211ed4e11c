package backfill

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("backfill: not found")
	// ErrDuplicate indicates a unique key already exists in the store.
	ErrDuplicate = errors.New("backfill: duplicate entry")
	// ErrRepositoryNotInitialised is returned by a nil repository.
	ErrRepositoryNotInitialised = errors.New("backfill: repository not initialised")
	// ErrDocumentsNotConfigured is returned when no renderer or object store is wired.
	ErrDocumentsNotConfigured = errors.New("backfill: document renderer and object store required")
)

// ValidationError carries every problem found in a batch.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Problems) == 0 {
		return "backfill: validation failed"
	}
	return fmt.Sprintf("backfill: %d validation problem(s): %s", len(e.Problems), strings.Join(e.Problems, "; "))
}

// ResolutionError names a catalog entry a sale line item could not be linked to.
type ResolutionError struct {
	ItemName  string
	SaleIndex int
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("backfill: sale[%d] references unknown catalog item %q", e.SaleIndex, e.ItemName)
}

// StoreError wraps a repository failure with the operation that raised it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("backfill: store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// GenerationError describes a single document that could not be produced.
type GenerationError struct {
	Key   DocumentKey
	Stage string
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("backfill: %s %s/%s: %s: %v", e.Key.Type, e.Key.ReferenceType, e.Key.ReferenceID, e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
