// Package pagestore is the target document collection: pages keyed by
// task identifier whose bodies the sync engine partially owns.
package pagestore

import (
	"context"
	"errors"
)

// ErrNotText marks a page whose storage format cannot be edited as
// plain text. The sync engine skips such pages with a diagnostic
// instead of failing the batch.
var ErrNotText = errors.New("page is not a text document")

// Store reads and writes target pages. Keys are page titles, e.g.
// "T123".
type Store interface {
	// List enumerates every page key in the collection.
	List(ctx context.Context) ([]string, error)
	Exists(ctx context.Context, key string) (bool, error)
	// ReadBody returns the page text, or ErrNotText for non-text pages.
	ReadBody(ctx context.Context, key string) (string, error)
	// ReplaceBody overwrites the page text, recording the change
	// description and acting user where the backend supports it.
	ReplaceBody(ctx context.Context, key, body, summary, actor string) error
}
