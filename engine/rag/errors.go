package rag

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("rag: validation failed")
	ErrEmbeddingProvider = errors.New("rag: embedding provider failed")
	ErrNotReady          = errors.New("rag: index is not fully embedded")
	ErrEmptyIndex        = errors.New("rag: index has no chunks")
	ErrNoConfidentSource = errors.New("rag: no source scored above the threshold")
)

// NoPosition marks errors that do not refer to a specific page, chunk or record.
const NoPosition = -1

// ValidationError reports malformed chunker input or malformed persisted records.
type ValidationError struct {
	Op       string
	Position int
	Field    string
	Reason   string
}

// NewValidationError builds a ValidationError. Use NoPosition when no element applies.
func NewValidationError(op string, position int, field string, reason string) *ValidationError {
	return &ValidationError{Op: op, Position: position, Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	switch {
	case e.Position >= 0 && e.Field != "":
		return fmt.Sprintf("rag: %s: item %d: %s: %s", e.Op, e.Position, e.Field, e.Reason)
	case e.Position >= 0:
		return fmt.Sprintf("rag: %s: item %d: %s", e.Op, e.Position, e.Reason)
	case e.Field != "":
		return fmt.Sprintf("rag: %s: %s: %s", e.Op, e.Field, e.Reason)
	default:
		return fmt.Sprintf("rag: %s: %s", e.Op, e.Reason)
	}
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ErrorKind buckets embedding provider failures.
type ErrorKind string

const (
	KindAuth            ErrorKind = "auth"
	KindRateLimit       ErrorKind = "rate_limit"
	KindInvalidInput    ErrorKind = "invalid_input"
	KindServerError     ErrorKind = "server_error"
	KindInvalidResponse ErrorKind = "invalid_response"
	KindCanceled        ErrorKind = "canceled"
)

// QueryBatch is the batch number reported for query-time embedding failures.
const QueryBatch = -1

// EmbeddingProviderError is a terminal embedding failure. Batch is the zero-based batch
// that failed, or QueryBatch for query embedding.
type EmbeddingProviderError struct {
	Provider string
	Kind     ErrorKind
	Batch    int
	Attempts int
	Err      error
}

func (e *EmbeddingProviderError) Error() string {
	scope := "query"
	if e.Batch != QueryBatch {
		scope = fmt.Sprintf("batch %d", e.Batch)
	}
	provider := e.Provider
	if provider == "" {
		provider = "embedder"
	}
	if e.Attempts > 1 {
		return fmt.Sprintf("rag: %s: %s failed after %d attempts (%s): %v", provider, scope, e.Attempts, e.Kind, e.Err)
	}
	return fmt.Sprintf("rag: %s: %s failed (%s): %v", provider, scope, e.Kind, e.Err)
}

func (e *EmbeddingProviderError) Unwrap() error {
	return e.Err
}

func (e *EmbeddingProviderError) Is(target error) bool {
	return target == ErrEmbeddingProvider
}

// Transient reports whether the failure class is worth retrying.
func (e *EmbeddingProviderError) Transient() bool {
	return e.Kind.Transient()
}

// Transient reports whether failures of this kind are retried.
func (k ErrorKind) Transient() bool {
	return k == KindRateLimit || k == KindServerError
}

// NotReadyError is returned when a query runs against an index with missing embeddings.
type NotReadyError struct {
	Missing int
	Total   int
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("rag: index is not ready: %d of %d chunks lack an embedding", e.Missing, e.Total)
}

func (e *NotReadyError) Is(target error) bool {
	return target == ErrNotReady
}

// EmptyIndexError is returned by operations that need at least one chunk.
type EmptyIndexError struct {
	Op string
}

func (e *EmptyIndexError) Error() string {
	return fmt.Sprintf("rag: %s: index has no chunks", e.Op)
}

func (e *EmptyIndexError) Is(target error) bool {
	return target == ErrEmptyIndex
}
