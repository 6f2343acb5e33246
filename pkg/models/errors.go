package models

import (
	"errors"
	"fmt"
)

// Error taxonomy. Page- and item-scoped errors are captured into a job's
// per-URL outcome list and never abort an otherwise-successful job;
// query-scoped errors are returned to the caller directly.

// FetchError is a retryable, page-scoped failure to retrieve a URL.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether the failure class is worth retrying.
// Client errors other than 429 are not.
func (e *FetchError) Retryable() bool {
	if e.StatusCode == 0 || e.StatusCode == 429 {
		return true
	}
	return e.StatusCode >= 500
}

// ExtractionError is page-scoped and non-fatal to the enclosing job.
type ExtractionError struct {
	URL  string
	Mode string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s (mode %s): %v", e.URL, e.Mode, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ChunkingError is document-scoped: fatal to that document only.
type ChunkingError struct {
	DocumentID string
	Err        error
}

func (e *ChunkingError) Error() string {
	return fmt.Sprintf("chunk document %s: %v", e.DocumentID, e.Err)
}

func (e *ChunkingError) Unwrap() error { return e.Err }

// EmbeddingError is item-scoped: retried, then recorded as a permanent
// failure without blocking sibling items.
type EmbeddingError struct {
	ChunkID string
	Err     error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embed chunk %s: %v", e.ChunkID, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// DimensionMismatch is query-scoped and fatal to that query. It never
// silently degrades to zero-similarity results.
type DimensionMismatch struct {
	Got  int
	Want []int // dimensions the store currently holds
}

func (e *DimensionMismatch) Error() string {
	return fmt.Sprintf("query vector dimension %d not stored (have %v)", e.Got, e.Want)
}

// StoreError is operation-scoped. Transient classes are retried with
// backoff; the rest are fatal to the enclosing job or query.
type StoreError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a StoreError marked transient.
func IsTransient(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Transient
}
