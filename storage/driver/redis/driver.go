// Package redis provides a reststorage.Storage backed by redis. Every
// operation that touches more than one key runs as a single lua script so
// that concurrent clients never observe a partially updated tree.
package redis

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/redis/go-redis/v9"
	"github.com/reststorage/reststorage"
	"github.com/reststorage/reststorage/internal/dcontext"
	"github.com/reststorage/reststorage/internal/uuid"
	"github.com/reststorage/reststorage/storage/driver/base"
	"github.com/reststorage/reststorage/storage/driver/factory"
)

const (
	driverName = "redis"

	defaultAddr               = "localhost:6379"
	defaultResourcesPrefix    = "rest-storage:resources"
	defaultCollectionsPrefix  = "rest-storage:collections"
	defaultExpirableSet       = "rest-storage:expirable"
	defaultLocksPrefix        = "rest-storage:locks"
	defaultMemoryUsageRefresh = 60 * time.Second
	defaultMergeRetries       = 10
	defaultLockExpire         = 300 * time.Second

	// cleanupBulkSize is the number of expired documents removed by one
	// script run.
	cleanupBulkSize = 200
)

// DriverParameters represents all configuration options available for the
// redis driver.
type DriverParameters struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"poolsize"`

	DialTimeout  time.Duration `mapstructure:"dialtimeout"`
	ReadTimeout  time.Duration `mapstructure:"readtimeout"`
	WriteTimeout time.Duration `mapstructure:"writetimeout"`

	ResourcesPrefix   string `mapstructure:"resourcesprefix"`
	CollectionsPrefix string `mapstructure:"collectionsprefix"`
	ExpirableSet      string `mapstructure:"expirableset"`
	LocksPrefix       string `mapstructure:"locksprefix"`

	// MemoryUsageRefresh is how long a sampled memory usage stays valid.
	MemoryUsageRefresh time.Duration `mapstructure:"memoryusagerefresh"`

	// MergeRetries bounds the optimistic retries of a merge commit that
	// raced with another write.
	MergeRetries int `mapstructure:"mergeretries"`
}

func init() {
	factory.Register(driverName, &redisDriverFactory{})
}

// redisDriverFactory implements the factory.StorageDriverFactory interface
type redisDriverFactory struct{}

func (factory *redisDriverFactory) Create(ctx context.Context, parameters map[string]interface{}) (reststorage.Storage, error) {
	return FromParameters(parameters)
}

type driver struct {
	client       redis.UniversalClient
	keys         keyLayout
	memory       *memoryUsage
	mergeRetries int

	// now is the clock against which expiry is evaluated.
	now func() time.Time
}

type baseEmbed struct {
	base.Base
}

// Driver is a reststorage.Storage implementation backed by redis.
type Driver struct {
	baseEmbed

	client redis.UniversalClient
}

// FromParameters constructs a new Driver with a given parameters map.
// Optional Parameters:
// - addr
// - username, password, db
// - poolsize, dialtimeout, readtimeout, writetimeout
// - resourcesprefix, collectionsprefix, expirableset, locksprefix
// - memoryusagerefresh
// - mergeretries
func FromParameters(parameters map[string]interface{}) (*Driver, error) {
	params, err := fromParametersImpl(parameters)
	if err != nil {
		return nil, err
	}
	return New(params)
}

func fromParametersImpl(parameters map[string]interface{}) (DriverParameters, error) {
	params := DriverParameters{
		Addr:               defaultAddr,
		ResourcesPrefix:    defaultResourcesPrefix,
		CollectionsPrefix:  defaultCollectionsPrefix,
		ExpirableSet:       defaultExpirableSet,
		LocksPrefix:        defaultLocksPrefix,
		MemoryUsageRefresh: defaultMemoryUsageRefresh,
		MergeRetries:       defaultMergeRetries,
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			secondsToDurationHook,
		),
		WeaklyTypedInput: true,
		Result:           &params,
	})
	if err != nil {
		return params, err
	}
	if err := decoder.Decode(parameters); err != nil {
		return params, fmt.Errorf("redis: invalid parameters: %w", err)
	}

	if params.Addr == "" {
		return params, fmt.Errorf("redis: addr must not be empty")
	}
	for name, prefix := range map[string]string{
		"resourcesprefix":   params.ResourcesPrefix,
		"collectionsprefix": params.CollectionsPrefix,
		"expirableset":      params.ExpirableSet,
		"locksprefix":       params.LocksPrefix,
	} {
		if prefix == "" {
			return params, fmt.Errorf("redis: %s must not be empty", name)
		}
	}
	if params.MergeRetries <= 0 {
		params.MergeRetries = defaultMergeRetries
	}
	return params, nil
}

// secondsToDurationHook reads bare integers as seconds.
func secondsToDurationHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	switch v := data.(type) {
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	}
	return data, nil
}

// New connects to the redis server described by params.
func New(params DriverParameters) (*Driver, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        []string{params.Addr},
		Username:     params.Username,
		Password:     params.Password,
		DB:           params.DB,
		PoolSize:     params.PoolSize,
		DialTimeout:  params.DialTimeout,
		ReadTimeout:  params.ReadTimeout,
		WriteTimeout: params.WriteTimeout,
	})
	return NewWithClient(client, params), nil
}

// NewWithClient returns a Driver using an existing client.
func NewWithClient(client redis.UniversalClient, params DriverParameters) *Driver {
	return newDriver(client, params, time.Now)
}

func newDriver(client redis.UniversalClient, params DriverParameters, now func() time.Time) *Driver {
	if params.MergeRetries <= 0 {
		params.MergeRetries = defaultMergeRetries
	}
	d := &driver{
		client: client,
		keys: keyLayout{
			resources:   params.ResourcesPrefix,
			collections: params.CollectionsPrefix,
			expirable:   params.ExpirableSet,
			locks:       params.LocksPrefix,
		},
		memory: &memoryUsage{
			client:  client,
			refresh: params.MemoryUsageRefresh,
			now:     now,
		},
		mergeRetries: params.MergeRetries,
		now:          now,
	}
	return &Driver{
		baseEmbed: baseEmbed{
			Base: base.Base{
				Driver: d,
			},
		},
		client: client,
	}
}

// Close releases the connection pool.
func (d *Driver) Close() error {
	return d.client.Close()
}

// Implement the reststorage.Storage interface

func (d *driver) Name() string {
	return driverName
}

func (d *driver) nowMillis() int64 {
	return d.now().UnixMilli()
}

func (d *driver) run(ctx context.Context, op string, script *redis.Script, args ...interface{}) ([]string, error) {
	reply, err := script.Run(ctx, d.client, nil, args...).Slice()
	if err != nil {
		return nil, d.unavailable(op, err)
	}
	out, err := scriptReply(reply)
	if err != nil {
		return nil, d.unavailable(op, err)
	}
	return out, nil
}

// Get returns the document or collection at subPath.
func (d *driver) Get(ctx context.Context, subPath string, opts reststorage.GetOptions) (reststorage.Resource, error) {
	name := reststorage.BaseName(subPath)

	reply, err := d.run(ctx, "get", getScript,
		pathKey(subPath),
		d.keys.resources,
		d.keys.collections,
		d.keys.expirable,
		d.nowMillis(),
		opts.ETag,
	)
	if err != nil {
		return reststorage.NewMissing(name), err
	}

	switch reply[0] {
	case statusNotFound:
		return reststorage.NewMissing(name), nil
	case statusNotModified:
		doc := reststorage.NewDocument(name)
		doc.Modified = false
		doc.ETag = reply[1]
		return doc, nil
	case statusDocument:
		if len(reply) < 4 {
			break
		}
		value, err := d.decode(reply[1], reply[3])
		if err != nil {
			return reststorage.NewMissing(name), err
		}
		doc := reststorage.NewDocument(name)
		doc.ETag = reply[2]
		doc.Length = int64(len(value))
		doc.Reader = io.NopCloser(bytes.NewReader(value))
		return doc, nil
	case statusCollection:
		items := make([]reststorage.Resource, 0, (len(reply)-1)/2)
		for i := 1; i+1 < len(reply); i += 2 {
			if reply[i+1] == statusDocument {
				items = append(items, reststorage.NewDocument(reply[i]))
			} else {
				items = append(items, reststorage.NewCollection(reply[i]))
			}
		}
		collection := reststorage.NewCollection(name)
		collection.Total = len(items)
		collection.Items, collection.Offset, collection.Count = reststorage.Window(items, opts.Offset, opts.Count)
		return collection, nil
	}
	return reststorage.NewMissing(name), d.unavailable("get", fmt.Errorf("unexpected reply %q", reply[0]))
}

// Put checks whether subPath can be written and returns a writer buffering
// the body. The checks are repeated atomically when the writer commits.
func (d *driver) Put(ctx context.Context, subPath string, opts reststorage.PutOptions) (reststorage.Resource, error) {
	name := reststorage.BaseName(subPath)

	if opts.Merge && opts.StoreCompressed {
		return reststorage.NewMissing(name), reststorage.BadRequestError{
			Param:  "merge",
			Value:  "true",
			Reason: "cannot be combined with compressed storage",
		}
	}

	etag := opts.ETag
	if etag == "" {
		etag = uuid.NewRandom()
	}

	status, err := d.store(ctx, subPath, etag, "check", nil, false, opts)
	if err != nil {
		return reststorage.NewMissing(name), err
	}

	doc := reststorage.NewDocument(name)
	switch status {
	case statusExistingCollection:
		return d.Get(ctx, subPath, reststorage.AllItems())
	case statusRejected:
		doc.Rejected = true
	case statusSilent:
		dcontext.GetLogger(ctx).Debugf("PUT to %s is dropped silently, the path is locked by another owner", subPath)
		doc.Writer = &discardWriter{}
	case statusNotModified:
		doc.Modified = false
		doc.ETag = etag
	case statusOK:
		doc.ETag = etag
		doc.Writer = &stagedWriter{driver: d, path: subPath, etag: etag, opts: opts}
	default:
		return reststorage.NewMissing(name), d.unavailable("put", fmt.Errorf("unexpected reply %q", status))
	}
	return doc, nil
}

// store runs the put script in the given mode and returns its status.
func (d *driver) store(ctx context.Context, subPath, etag, mode string, value []byte, compressed bool, opts reststorage.PutOptions) (string, error) {
	args := d.putArgs(d.now(), subPath, etag, mode, value, compressed, opts)
	reply, err := d.run(ctx, "put", putScript, args...)
	if err != nil {
		return "", err
	}
	return reply[0], nil
}

func (d *driver) putArgs(now time.Time, subPath, etag, mode string, value []byte, compressed bool, opts reststorage.PutOptions) []interface{} {
	lockMode := reststorage.LockModeSilent
	lockExpire := opts.Lock.Expire
	if opts.Lock.Mode != "" {
		lockMode = opts.Lock.Mode
	}
	if lockExpire <= 0 {
		lockExpire = defaultLockExpire
	}

	return []interface{}{
		pathKey(subPath),
		d.keys.resources,
		d.keys.collections,
		d.keys.expirable,
		d.keys.locks,
		now.UnixMilli(),
		opts.ExpireAt(now),
		reststorage.ExpireNever,
		etag,
		mode,
		value,
		flag(compressed),
		opts.Lock.Owner,
		lockMode.String(),
		now.Add(lockExpire).UnixMilli(),
	}
}

// Delete removes the document or collection subtree at subPath and prunes
// ancestors left empty.
func (d *driver) Delete(ctx context.Context, subPath string, opts reststorage.DeleteOptions) (reststorage.Resource, error) {
	name := reststorage.BaseName(subPath)
	if reststorage.IsRoot(subPath) {
		return reststorage.NewMissing(name), reststorage.InvalidPathError{Path: subPath, Reason: "cannot delete the root collection"}
	}

	reply, err := d.run(ctx, "delete", deleteScript,
		pathKey(subPath),
		d.keys.resources,
		d.keys.collections,
		d.keys.expirable,
		d.keys.locks,
		d.nowMillis(),
		opts.Lock.Owner,
		flag(opts.ConfirmCollectionDelete),
		flag(opts.DeleteRecursive),
	)
	if err != nil {
		return reststorage.NewMissing(name), err
	}

	switch reply[0] {
	case statusNotFound:
		return reststorage.NewMissing(name), nil
	case statusRejected:
		doc := reststorage.NewDocument(name)
		doc.Rejected = true
		return doc, nil
	case statusSilent:
		dcontext.GetLogger(ctx).Debugf("DELETE of %s is dropped silently, the path is locked by another owner", subPath)
		return reststorage.NewDocument(name), nil
	case statusNotEmpty:
		collection := reststorage.NewCollection(name)
		collection.Error = true
		collection.ErrorMessage = reststorage.NonEmptyCollectionMessage
		return collection, nil
	case statusDeleted:
		if len(reply) > 1 && reply[1] == statusCollection {
			return reststorage.NewCollection(name), nil
		}
		return reststorage.NewDocument(name), nil
	}
	return reststorage.NewMissing(name), d.unavailable("delete", fmt.Errorf("unexpected reply %q", reply[0]))
}

// StorageExpand reads the named children of the collection at subPath in one
// script run. Children that are collections are reported as errors.
func (d *driver) StorageExpand(ctx context.Context, subPath, etag string, subResources []string) (reststorage.Resource, error) {
	name := reststorage.BaseName(subPath)

	args := []interface{}{
		pathKey(subPath),
		d.keys.resources,
		d.keys.collections,
		d.keys.expirable,
		d.nowMillis(),
	}
	for _, child := range subResources {
		args = append(args, child)
	}

	reply, err := d.run(ctx, "storageExpand", storageExpandScript, args...)
	if err != nil {
		return reststorage.NewMissing(name), err
	}
	if reply[0] == statusNotFound {
		return reststorage.NewMissing(name), nil
	}
	if reply[0] != statusCollection || len(reply)-1 != 4*len(subResources) {
		return reststorage.NewMissing(name), d.unavailable("storageExpand", fmt.Errorf("unexpected reply %q", reply[0]))
	}

	items := make([]reststorage.Resource, 0, len(subResources))
	for i, child := range subResources {
		group := reply[1+4*i : 5+4*i]
		switch group[0] {
		case statusDocument:
			value, err := d.decode(group[1], group[3])
			if err != nil {
				return reststorage.NewMissing(name), err
			}
			doc := reststorage.NewDocument(child)
			doc.ETag = group[2]
			doc.Length = int64(len(value))
			doc.Reader = io.NopCloser(bytes.NewReader(value))
			items = append(items, doc)
		case statusCollection:
			collection := reststorage.NewCollection(child)
			collection.Error = true
			collection.ErrorMessage = fmt.Sprintf("resource %s is a collection and cannot be expanded", child)
			items = append(items, collection)
		default:
			items = append(items, reststorage.NewMissing(child))
		}
	}

	collection := reststorage.NewCollection(name)
	collection.Total = len(items)
	collection.Items, collection.Offset, collection.Count = reststorage.Window(items, 0, -1)
	return collection, nil
}

// CurrentMemoryUsage reports used_memory relative to total_system_memory.
func (d *driver) CurrentMemoryUsage(ctx context.Context) (float64, bool) {
	return d.memory.current(ctx)
}

// Cleanup removes up to amount expired documents in bulks and prunes the
// collections they leave empty.
func (d *driver) Cleanup(ctx context.Context, amount int) (reststorage.CleanupResult, error) {
	var result reststorage.CleanupResult
	log := dcontext.GetLogger(ctx)

	for result.CleanedResources < int64(amount) {
		bulk := int64(cleanupBulkSize)
		if remaining := int64(amount) - result.CleanedResources; remaining < bulk {
			bulk = remaining
		}

		reply, err := d.run(ctx, "cleanup", cleanupScript,
			d.keys.resources,
			d.keys.collections,
			d.keys.expirable,
			d.nowMillis(),
			bulk,
		)
		if err != nil {
			return result, err
		}
		if len(reply) < 2 {
			return result, d.unavailable("cleanup", fmt.Errorf("unexpected reply %q", reply))
		}
		cleaned, _ := strconv.ParseInt(reply[0], 10, 64)
		left, _ := strconv.ParseInt(reply[1], 10, 64)
		result.CleanedResources += cleaned
		result.ExpiredResources = left

		log.Debugf("cleanup bulk removed %d expired resources, %d left", cleaned, left)
		if cleaned == 0 || left == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
	}
	return result, nil
}

// Check pings the server.
func (d *driver) Check(ctx context.Context) error {
	if err := d.client.Ping(ctx).Err(); err != nil {
		return d.unavailable("ping", err)
	}
	return nil
}

// decode returns the stored value, decompressing it when flagged.
func (d *driver) decode(value, compressed string) ([]byte, error) {
	if compressed != "1" {
		return []byte(value), nil
	}
	decompressed, err := decompress([]byte(value))
	if err != nil {
		return nil, d.unavailable("decompress", err)
	}
	return decompressed, nil
}

func (d *driver) unavailable(op string, err error) error {
	return reststorage.BackendUnavailableError{Backend: driverName, Op: op, Err: err}
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
