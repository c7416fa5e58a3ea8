package reststorage

import (
	"context"
	"io"
)

// Status carries the outcome flags shared by every resource variant. A
// storage call that resolves to a client-visible condition (not found,
// conflict, non-empty collection) reports it here instead of returning an
// error.
type Status struct {
	// Exists is false for absent or expired paths.
	Exists bool

	// Modified is false when the caller's etag matched the stored one.
	Modified bool

	// Rejected is set when a lock held by another owner or an existing
	// resource of the other kind prevented the operation.
	Rejected bool

	// Error and ErrorMessage report a refused operation, such as deleting a
	// non-empty collection without recursive confirmation.
	Error        bool
	ErrorMessage string
}

// ResourceStatus returns the status flags.
func (s Status) ResourceStatus() Status { return s }

func (Status) isResource() {}

// Resource is one of *Document, *Collection or *Missing. The set of variants
// is closed; consumers switch over the concrete type.
type Resource interface {
	ResourceName() string
	ResourceStatus() Status
	isResource()
}

// StagedWriter receives the body of a document upload. Nothing written is
// visible through Get until Commit returns successfully. Cancel discards the
// staged bytes; it may be called after a failed Commit and is idempotent.
type StagedWriter interface {
	io.Writer

	// Size returns the number of bytes accepted so far.
	Size() int64

	// Commit atomically promotes the staged content to the final path and
	// updates the ancestor collections.
	Commit(ctx context.Context) error

	// Cancel closes and removes the staging artifact.
	Cancel(ctx context.Context) error
}

// Document is a leaf holding an opaque byte value.
type Document struct {
	Status

	Name   string
	Length int64
	ETag   string

	// Reader is set on documents returned by Get. The caller must close it.
	Reader io.ReadCloser

	// Writer is set on documents returned by Put when the body should be
	// streamed. It is nil when the put was rejected or not modified.
	Writer StagedWriter
}

// ResourceName returns the last path segment of the document.
func (d *Document) ResourceName() string { return d.Name }

// Close releases the read stream, if any.
func (d *Document) Close() error {
	if d.Reader == nil {
		return nil
	}
	return d.Reader.Close()
}

// Collection is an internal node listing its children by name.
type Collection struct {
	Status

	Name string

	// Items holds the children, sorted by name and windowed.
	Items []Resource

	// Total is the number of children before windowing.
	Total int

	// Offset and Count describe the window that was applied; Count is -1
	// when the full set was returned.
	Offset int
	Count  int
}

// ResourceName returns the last path segment of the collection.
func (c *Collection) ResourceName() string { return c.Name }

// Missing is returned for absent or expired paths.
type Missing struct {
	Status

	Name string
}

// ResourceName returns the last path segment that was looked up.
func (m *Missing) ResourceName() string { return m.Name }

// NewMissing returns a missing resource for name.
func NewMissing(name string) *Missing {
	return &Missing{Name: name}
}

// NewDocument returns an existing, modified document view.
func NewDocument(name string) *Document {
	return &Document{Name: name, Status: Status{Exists: true, Modified: true}}
}

// NewCollection returns an existing collection view with no items.
func NewCollection(name string) *Collection {
	return &Collection{Name: name, Status: Status{Exists: true, Modified: true}, Count: -1}
}

// Exists reports whether r refers to a live document or collection.
func Exists(r Resource) bool {
	if r == nil {
		return false
	}
	return r.ResourceStatus().Exists
}
