// Package base provides a base implementation of a storage backend that can
// be used to implement common checks. The goal is to increase the amount of
// code sharing.
//
// The canonical approach to use this type is to embed it in the exported
// driver struct such that calls are proxied through this implementation.
// First, declare the internal driver, as follows:
//
//	type driver struct { ... internal ...}
//
// The internal driver implements Driver and only ever sees canonical paths.
// The exported type can then be declared as follows:
//
//	type baseEmbed struct {
//		base.Base
//	}
//
//	type Driver struct {
//		baseEmbed
//	}
//
// The type now implements reststorage.Storage, proxying through Base, without
// exporting an unnecessary field.
package base

import (
	"context"
	"strings"
	"time"

	"github.com/reststorage/reststorage"
	"github.com/reststorage/reststorage/internal/dcontext"
	prometheus "github.com/reststorage/reststorage/metrics"
)

// storageAction is the metrics of blob related operations
var storageAction = prometheus.StorageNamespace.NewLabeledTimer("action", "The number of seconds that the storage action takes", "driver", "action")

// Driver is implemented by the backends wrapped by Base.
type Driver interface {
	reststorage.Storage

	// Name returns the human-readable "name" of the driver, useful in
	// error messages and logging. By convention, this will just be the
	// registration name, but drivers may provide other information here.
	Name() string
}

// Base provides a wrapper around a Driver implementation that provides
// common path checking, debug timing and metrics.
type Base struct {
	Driver
}

// durationDebugLog returns a deferrable function which when invoked produces
// debug logging output with the method name and duration, and records the
// duration in the action timer.
func (base *Base) durationDebugLog(ctx context.Context, methodName string) (deferrable func()) {
	startedAt := time.Now()

	return func() {
		dcontext.GetLoggerWithField(ctx, "duration", time.Since(startedAt)).Debugf("Storage.Driver.%s.%s", base.Name(), methodName)
		storageAction.WithValues(base.Name(), methodName).UpdateSince(startedAt)
	}
}

// Get wraps Get of the underlying driver.
func (base *Base) Get(ctx context.Context, path string, opts reststorage.GetOptions) (reststorage.Resource, error) {
	canonical, err := reststorage.CanonicalPath(path)
	if err != nil {
		return reststorage.NewMissing(path), err
	}

	defer base.durationDebugLog(ctx, "Get")()

	return base.Driver.Get(ctx, canonical, opts)
}

// Put wraps Put of the underlying driver. A returned staged writer is
// wrapped so that its commit is timed as well.
func (base *Base) Put(ctx context.Context, path string, opts reststorage.PutOptions) (reststorage.Resource, error) {
	canonical, err := reststorage.CanonicalPath(path)
	if err != nil {
		return reststorage.NewMissing(path), err
	}
	if reststorage.IsRoot(canonical) {
		return reststorage.NewMissing(path), reststorage.InvalidPathError{Path: path, Reason: "cannot write to the root collection"}
	}

	defer base.durationDebugLog(ctx, "Put")()

	res, err := base.Driver.Put(ctx, canonical, opts)
	if doc, ok := res.(*reststorage.Document); ok && doc.Writer != nil {
		doc.Writer = &timedWriter{StagedWriter: doc.Writer, base: base}
	}
	return res, err
}

// Delete wraps Delete of the underlying driver.
func (base *Base) Delete(ctx context.Context, path string, opts reststorage.DeleteOptions) (reststorage.Resource, error) {
	canonical, err := reststorage.CanonicalPath(path)
	if err != nil {
		return reststorage.NewMissing(path), err
	}

	defer base.durationDebugLog(ctx, "Delete")()

	return base.Driver.Delete(ctx, canonical, opts)
}

// StorageExpand wraps StorageExpand of the underlying driver. Names of
// sub resources must be single segments.
func (base *Base) StorageExpand(ctx context.Context, path, etag string, subResources []string) (reststorage.Resource, error) {
	canonical, err := reststorage.CanonicalPath(path)
	if err != nil {
		return reststorage.NewMissing(path), err
	}
	for _, name := range subResources {
		if name == "" || name == "." || strings.Contains(name, "/") {
			return reststorage.NewMissing(path), reststorage.BadRequestError{Param: "subResources", Value: name, Reason: "must be a single path segment"}
		}
		if _, err := reststorage.CanonicalPath(canonical + "/" + name); err != nil {
			return reststorage.NewMissing(path), err
		}
	}

	defer base.durationDebugLog(ctx, "StorageExpand")()

	return base.Driver.StorageExpand(ctx, canonical, etag, subResources)
}

// Cleanup wraps Cleanup of the underlying driver.
func (base *Base) Cleanup(ctx context.Context, amount int) (reststorage.CleanupResult, error) {
	if amount <= 0 {
		return reststorage.CleanupResult{}, reststorage.BadRequestError{Param: "cleanupResourcesAmount", Value: "non-positive", Reason: "must be greater than zero"}
	}

	defer base.durationDebugLog(ctx, "Cleanup")()

	return base.Driver.Cleanup(ctx, amount)
}

type timedWriter struct {
	reststorage.StagedWriter
	base *Base
}

func (tw *timedWriter) Commit(ctx context.Context) error {
	defer tw.base.durationDebugLog(ctx, "Commit")()
	return tw.StagedWriter.Commit(ctx)
}

// Check runs the health check of the underlying driver, if it has one.
func (base *Base) Check(ctx context.Context) error {
	if checker, ok := base.Driver.(interface{ Check(context.Context) error }); ok {
		return checker.Check(ctx)
	}
	return nil
}
