package uc

import "errors"

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrDocumentMissing  = errors.New("document id is required")
	ErrStoreMissing     = errors.New("document store is not configured")
	ErrChunkerMissing   = errors.New("chunker is required")
	ErrEmbedderRequired = errors.New("embedder is required")
)
