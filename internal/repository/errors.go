package repository

import (
	"errors"
	"fmt"

	"github.com/Ozonelabrada/resqhub-sub000/internal/core/domain"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrNotImplemented signals the repository is not configured for the requested operation.
	ErrNotImplemented = errors.New("repository: not implemented")
	// ErrDuplicate indicates an open match already exists for the same report pair.
	ErrDuplicate = errors.New("repository: duplicate record")
	// ErrConcurrencyConflict indicates the stored version differs from the expected one.
	ErrConcurrencyConflict = fmt.Errorf("repository: stale version: %w", domain.ErrConcurrencyConflict)
)
