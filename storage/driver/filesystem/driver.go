package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/mitchellh/mapstructure"
	"github.com/reststorage/reststorage"
	"github.com/reststorage/reststorage/internal/dcontext"
	"github.com/reststorage/reststorage/storage/driver/base"
	"github.com/reststorage/reststorage/storage/driver/factory"
)

const (
	driverName           = "filesystem"
	defaultRootDirectory = "/var/lib/reststorage"
	defaultMaxThreads    = uint64(100)

	// minThreads is the minimum value for the maxthreads configuration
	// parameter. If the driver's parameters are less than this we set
	// the parameters to minThreads
	minThreads = uint64(25)
)

// DriverParameters represents all configuration options available for the
// filesystem driver
type DriverParameters struct {
	RootDirectory string `mapstructure:"rootdirectory"`

	// MaxThreads bounds the number of concurrent stat calls issued while
	// listing one collection.
	MaxThreads uint64 `mapstructure:"-"`
}

func init() {
	factory.Register(driverName, &filesystemDriverFactory{})
}

// filesystemDriverFactory implements the factory.StorageDriverFactory interface
type filesystemDriverFactory struct{}

func (factory *filesystemDriverFactory) Create(ctx context.Context, parameters map[string]interface{}) (reststorage.Storage, error) {
	return FromParameters(parameters)
}

type driver struct {
	rootDirectory string
	maxThreads    uint64
}

type baseEmbed struct {
	base.Base
}

// Driver is a reststorage.Storage implementation backed by a local
// filesystem. All provided paths will be subpaths of the RootDirectory.
type Driver struct {
	baseEmbed
}

// FromParameters constructs a new Driver with a given parameters map
// Optional Parameters:
// - rootdirectory
// - maxthreads
func FromParameters(parameters map[string]interface{}) (*Driver, error) {
	params, err := fromParametersImpl(parameters)
	if err != nil || params == nil {
		return nil, err
	}
	return New(*params)
}

func fromParametersImpl(parameters map[string]interface{}) (*DriverParameters, error) {
	params := DriverParameters{
		RootDirectory: defaultRootDirectory,
	}

	if err := mapstructure.WeakDecode(parameters, &params); err != nil {
		return nil, fmt.Errorf("filesystem: invalid parameters: %w", err)
	}

	maxThreads, err := base.GetLimitFromParameter(parameters["maxthreads"], minThreads, defaultMaxThreads)
	if err != nil {
		return nil, fmt.Errorf("maxthreads config error: %s", err.Error())
	}
	params.MaxThreads = maxThreads

	return &params, nil
}

// New constructs a new Driver with a given rootDirectory. The root and its
// staging directory are created if missing.
func New(params DriverParameters) (*Driver, error) {
	if params.MaxThreads == 0 {
		params.MaxThreads = defaultMaxThreads
	}

	root, err := filepath.Abs(params.RootDirectory)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(root, reststorage.StagingSegment), 0o755); err != nil {
		return nil, fmt.Errorf("filesystem: unable to create root directory: %w", err)
	}

	fsDriver := &driver{rootDirectory: root, maxThreads: params.MaxThreads}

	return &Driver{
		baseEmbed: baseEmbed{
			Base: base.Base{
				Driver: fsDriver,
			},
		},
	}, nil
}

// Implement the reststorage.Storage interface

func (d *driver) Name() string {
	return driverName
}

// Get returns the document or collection at subPath.
func (d *driver) Get(ctx context.Context, subPath string, opts reststorage.GetOptions) (reststorage.Resource, error) {
	name := reststorage.BaseName(subPath)
	fullPath := d.fullPath(subPath)

	fi, err := os.Stat(fullPath)
	if err != nil {
		if isNotExist(err) {
			return reststorage.NewMissing(name), nil
		}
		return reststorage.NewMissing(name), d.unavailable("stat", err)
	}

	switch {
	case fi.IsDir():
		return d.list(ctx, subPath, opts)
	case fi.Mode().IsRegular():
		file, err := os.Open(fullPath)
		if err != nil {
			if isNotExist(err) {
				return reststorage.NewMissing(name), nil
			}
			return reststorage.NewMissing(name), d.unavailable("open", err)
		}
		doc := reststorage.NewDocument(name)
		doc.Length = fi.Size()
		doc.Reader = file
		return doc, nil
	}

	return reststorage.NewMissing(name), nil
}

// list classifies every child of the directory at subPath. One stat call
// per child runs concurrently, bounded by maxThreads; each result lands in
// its own slot so the join only has to wait for the group.
func (d *driver) list(ctx context.Context, subPath string, opts reststorage.GetOptions) (reststorage.Resource, error) {
	name := reststorage.BaseName(subPath)
	fullPath := d.fullPath(subPath)

	entries, err := os.ReadDir(fullPath)
	if err != nil {
		if isNotExist(err) {
			return reststorage.NewMissing(name), nil
		}
		return reststorage.NewMissing(name), d.unavailable("readdir", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if reststorage.IsRoot(subPath) && entry.Name() == reststorage.StagingSegment {
			continue
		}
		names = append(names, entry.Name())
	}

	items := make([]reststorage.Resource, len(names))
	sem := make(chan struct{}, d.maxThreads)
	var wg sync.WaitGroup
	for i, child := range names {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, child string) {
			defer func() {
				<-sem
				wg.Done()
			}()
			items[i] = classify(filepath.Join(fullPath, child), child)
		}(i, child)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return reststorage.NewMissing(name), err
	}

	collection := reststorage.NewCollection(name)
	collection.Total = len(items)
	collection.Items, collection.Offset, collection.Count = reststorage.Window(items, opts.Offset, opts.Count)
	return collection, nil
}

func classify(fullPath, name string) reststorage.Resource {
	fi, err := os.Stat(fullPath)
	switch {
	case err != nil:
		return reststorage.NewMissing(name)
	case fi.IsDir():
		return reststorage.NewCollection(name)
	case fi.Mode().IsRegular():
		doc := reststorage.NewDocument(name)
		doc.Length = fi.Size()
		return doc
	}
	return reststorage.NewMissing(name)
}

// Put stages a write to subPath. The returned writer commits by renaming
// the staged file over the final path.
func (d *driver) Put(ctx context.Context, subPath string, opts reststorage.PutOptions) (reststorage.Resource, error) {
	log := dcontext.GetLogger(ctx)
	name := reststorage.BaseName(subPath)

	if opts.StoreCompressed {
		log.Warnf("PUT to %s requested compressed storage, which the filesystem storage does not support", subPath)
		return reststorage.NewMissing(name), reststorage.ErrNotImplemented
	}
	if opts.Merge {
		log.Warnf("PUT to %s requested a merge, which the filesystem storage does not support; the document is replaced", subPath)
	}
	if opts.Expire > 0 {
		log.Debugf("PUT to %s requested expiry after %s, which the filesystem storage ignores", subPath, opts.Expire)
	}

	fullPath := d.fullPath(subPath)
	fi, err := os.Stat(fullPath)
	switch {
	case err == nil && fi.IsDir():
		return d.list(ctx, subPath, reststorage.AllItems())
	case err != nil && !isNotExist(err):
		return reststorage.NewMissing(name), d.unavailable("stat", err)
	}

	if conflict, err := d.ancestorIsDocument(subPath); err != nil {
		return reststorage.NewMissing(name), err
	} else if conflict {
		doc := reststorage.NewDocument(name)
		doc.Rejected = true
		return doc, nil
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return reststorage.NewMissing(name), d.unavailable("mkdir", err)
	}

	fw, err := d.newFileWriter(fullPath)
	if err != nil {
		return reststorage.NewMissing(name), err
	}

	doc := reststorage.NewDocument(name)
	doc.Writer = fw
	return doc, nil
}

// ancestorIsDocument reports whether any proper ancestor of subPath is a
// regular file.
func (d *driver) ancestorIsDocument(subPath string) (bool, error) {
	for dir := path.Dir(subPath); !reststorage.IsRoot(dir); dir = path.Dir(dir) {
		fi, err := os.Stat(d.fullPath(dir))
		if err != nil {
			if isNotExist(err) {
				continue
			}
			return false, d.unavailable("stat", err)
		}
		if !fi.IsDir() {
			return true, nil
		}
	}
	return false, nil
}

// Delete removes the document or collection at subPath.
func (d *driver) Delete(ctx context.Context, subPath string, opts reststorage.DeleteOptions) (reststorage.Resource, error) {
	name := reststorage.BaseName(subPath)
	if reststorage.IsRoot(subPath) {
		return reststorage.NewMissing(name), reststorage.InvalidPathError{Path: subPath, Reason: "cannot delete the root collection"}
	}

	fullPath := d.fullPath(subPath)
	fi, err := os.Stat(fullPath)
	if err != nil {
		if isNotExist(err) {
			return reststorage.NewMissing(name), nil
		}
		return reststorage.NewMissing(name), d.unavailable("stat", err)
	}

	if !fi.IsDir() {
		if err := os.Remove(fullPath); err != nil && !isNotExist(err) {
			return reststorage.NewMissing(name), d.unavailable("remove", err)
		}
		return reststorage.NewDocument(name), nil
	}

	if opts.ConfirmCollectionDelete && !opts.DeleteRecursive {
		err := os.Remove(fullPath)
		switch {
		case err == nil || isNotExist(err):
			return reststorage.NewCollection(name), nil
		case errors.Is(err, syscall.ENOTEMPTY) || errors.Is(err, syscall.EEXIST):
			collection := reststorage.NewCollection(name)
			collection.Error = true
			collection.ErrorMessage = reststorage.NonEmptyCollectionMessage
			return collection, nil
		default:
			return reststorage.NewMissing(name), d.unavailable("remove", err)
		}
	}

	if err := os.RemoveAll(fullPath); err != nil {
		return reststorage.NewMissing(name), d.unavailable("remove", err)
	}
	return reststorage.NewCollection(name), nil
}

// StorageExpand is not supported by the filesystem storage.
func (d *driver) StorageExpand(ctx context.Context, subPath, etag string, subResources []string) (reststorage.Resource, error) {
	return reststorage.NewMissing(reststorage.BaseName(subPath)), reststorage.ErrNotImplemented
}

// CurrentMemoryUsage is unknown for the filesystem storage.
func (d *driver) CurrentMemoryUsage(ctx context.Context) (float64, bool) {
	return 0, false
}

// Cleanup has nothing to do; the filesystem storage does not expire
// documents.
func (d *driver) Cleanup(ctx context.Context, amount int) (reststorage.CleanupResult, error) {
	return reststorage.CleanupResult{}, nil
}

// Check verifies that the storage root accepts writes.
func (d *driver) Check(ctx context.Context) error {
	fw, err := d.newFileWriter(d.fullPath("/health"))
	if err != nil {
		return err
	}
	return fw.Cancel(ctx)
}

// fullPath returns the absolute path of a key within the Driver's storage.
func (d *driver) fullPath(subPath string) string {
	return filepath.Join(d.rootDirectory, filepath.FromSlash(subPath))
}

func (d *driver) stagingDirectory() string {
	return filepath.Join(d.rootDirectory, reststorage.StagingSegment)
}

func (d *driver) unavailable(op string, err error) error {
	return reststorage.BackendUnavailableError{Backend: driverName, Op: op, Err: err}
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}
