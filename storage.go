package reststorage

import (
	"context"
	"time"
)

// ExpireNever is the expiry, in epoch milliseconds, recorded for entries that
// do not expire.
const ExpireNever int64 = 9999999999999

// Storage is the contract implemented by every backend. It is the only entry
// point used by the HTTP layer. Paths are canonicalized by the
// implementation.
//
// Conditions a client can act on (missing path, lock conflict, non-empty
// collection, unmodified etag) are reported through the returned Resource.
// The error return is reserved for invalid input, unsupported operations
// (ErrNotImplemented) and backend failures (BackendUnavailableError).
type Storage interface {
	// Get returns the document or the windowed collection at path.
	Get(ctx context.Context, path string, opts GetOptions) (Resource, error)

	// Put prepares a write to path. For documents the returned *Document
	// carries a StagedWriter that the caller streams the body into and then
	// commits or cancels. An existing collection at path is left untouched
	// and returned with its full listing, as Get with AllItems would.
	Put(ctx context.Context, path string, opts PutOptions) (Resource, error)

	// Delete removes the document or collection subtree at path.
	Delete(ctx context.Context, path string, opts DeleteOptions) (Resource, error)

	// StorageExpand reads the named children of the collection at path in
	// one step.
	StorageExpand(ctx context.Context, path, etag string, subResources []string) (Resource, error)

	// CurrentMemoryUsage reports the backend memory usage in percent. ok is
	// false when the value is unknown.
	CurrentMemoryUsage(ctx context.Context) (percent float64, ok bool)

	// Cleanup removes up to amount expired resources. Backends without
	// expiry return an empty result.
	Cleanup(ctx context.Context, amount int) (CleanupResult, error)
}

// GetOptions parameterize Storage.Get.
type GetOptions struct {
	// ETag, when equal to the stored etag, yields an unmodified document.
	ETag string

	// Offset and Count select a window of a collection listing. Count -1
	// selects everything from Offset.
	Offset int
	Count  int
}

// AllItems returns options selecting a full listing.
func AllItems() GetOptions {
	return GetOptions{Count: -1}
}

// PutOptions parameterize Storage.Put.
type PutOptions struct {
	// ETag is stored with the document. When it equals the current etag
	// the put is reported as not modified and no body is accepted. An
	// empty ETag makes the backend generate one.
	ETag string

	// Merge requests a JSON merge patch of the stored document with the
	// uploaded body.
	Merge bool

	// Expire is the lifetime of the document; zero or negative means never.
	Expire time.Duration

	Lock Lock

	// StoreCompressed requests compression at rest.
	StoreCompressed bool
}

// ExpireAt converts Expire into epoch milliseconds relative to now.
func (opts PutOptions) ExpireAt(now time.Time) int64 {
	if opts.Expire <= 0 {
		return ExpireNever
	}
	return now.Add(opts.Expire).UnixMilli()
}

// DeleteOptions parameterize Storage.Delete.
type DeleteOptions struct {
	Lock Lock

	// ConfirmCollectionDelete requires DeleteRecursive for non-empty
	// collections.
	ConfirmCollectionDelete bool
	DeleteRecursive         bool
}

// CleanupResult summarizes an expiry sweep.
type CleanupResult struct {
	CleanedResources int64 `json:"cleanedResources"`
	ExpiredResources int64 `json:"expiredResourcesLeft"`
}
