// Package storage provides the remote object gateway the board engine
// persists through, plus the retry executor that wraps gateway calls.
//
// Objects are addressed by forward-slash paths ("<owner>/boards/<id>.json").
// Every backend classifies its failures into the shared error taxonomy so
// callers can decide what is fatal, what is retryable, and what is an
// expected absence.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound     = errors.New("object not found")
	ErrForbidden    = errors.New("access forbidden")
	ErrExists       = errors.New("object already exists")
	ErrTransient    = errors.New("transient storage failure")
	ErrNotSupported = errors.New("operation not supported")
	ErrInvalidPath  = errors.New("invalid object path")
)

// TransientError wraps a failure that is worth retrying: network faults,
// throttling, request timeouts, and server-side errors.
type TransientError struct {
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("transient storage failure (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("transient storage failure: %v", e.Err)
}

func (e *TransientError) Is(target error) bool {
	return target == ErrTransient
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// RetryableStatus reports whether an HTTP status code should be classified
// as transient.
func RetryableStatus(status int) bool {
	return status == 429 || status == 408 || status >= 500
}

// Entry is a single object returned by List.
type Entry struct {
	Name         string
	LastModified time.Time
}

type ListOptions struct {
	// Limit caps the number of entries returned; zero means no cap.
	Limit int
	// NewestFirst sorts entries by LastModified descending instead of by name.
	NewestFirst bool
}

// Gateway is the uniform surface over a remote object store. Read may serve
// from an intermediate cache; ReadFresh must bypass every cache and return
// the store's current bytes, because it is what write verification trusts.
type Gateway interface {
	Read(ctx context.Context, path string) ([]byte, error)
	ReadFresh(ctx context.Context, path string) ([]byte, error)
	// CreateIfAbsent writes the object only if it does not exist yet and
	// returns ErrExists otherwise.
	CreateIfAbsent(ctx context.Context, path string, data []byte) error
	// Replace overwrites an existing object and returns ErrNotFound if the
	// object is absent, so callers can fall back to CreateIfAbsent.
	Replace(ctx context.Context, path string, data []byte) error
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, prefix string, opts ListOptions) ([]Entry, error)
	// SignedReadURL returns a short-lived URL for an uncached read of the
	// object. Backends without a URL surface return ErrNotSupported.
	SignedReadURL(ctx context.Context, path string, ttl time.Duration) (string, error)
	Close() error
}

// CleanPath normalizes an object path and rejects anything that could
// escape the store's namespace.
func CleanPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return "", ErrInvalidPath
	}
	for _, segment := range strings.Split(path, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return path, nil
}
