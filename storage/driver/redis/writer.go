package redis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/klauspost/compress/gzip"
	"github.com/redis/go-redis/v9"
	"github.com/reststorage/reststorage"
)

// stagedWriter buffers a document body in memory. Nothing reaches redis
// before Commit, so Cancel only has to drop the buffer.
type stagedWriter struct {
	driver *driver
	path   string
	etag   string
	opts   reststorage.PutOptions

	buf       bytes.Buffer
	committed bool
	cancelled bool
}

var _ reststorage.StagedWriter = &stagedWriter{}

func (w *stagedWriter) Write(p []byte) (int, error) {
	if w.committed {
		return 0, fmt.Errorf("already committed")
	} else if w.cancelled {
		return 0, fmt.Errorf("already cancelled")
	}
	return w.buf.Write(p)
}

func (w *stagedWriter) Size() int64 {
	return int64(w.buf.Len())
}

// Commit stores the buffered body. The put script repeats its checks, so a
// conflicting write that happened since Put surfaces as ErrConflict.
func (w *stagedWriter) Commit(ctx context.Context) error {
	if w.committed {
		return fmt.Errorf("already committed")
	} else if w.cancelled {
		return fmt.Errorf("already cancelled")
	}

	var err error
	if w.opts.Merge {
		err = w.driver.merge(ctx, w.path, w.etag, w.buf.Bytes(), w.opts)
	} else {
		err = w.write(ctx)
	}
	if err != nil {
		return err
	}
	w.committed = true
	w.buf = bytes.Buffer{}
	return nil
}

func (w *stagedWriter) write(ctx context.Context) error {
	value := w.buf.Bytes()
	if w.opts.StoreCompressed {
		compressed, err := compress(value)
		if err != nil {
			return err
		}
		value = compressed
	}

	status, err := w.driver.store(ctx, w.path, w.etag, "write", value, w.opts.StoreCompressed, w.opts)
	if err != nil {
		return err
	}
	return commitStatus(status)
}

func (w *stagedWriter) Cancel(ctx context.Context) error {
	if w.committed {
		return nil
	}
	w.cancelled = true
	w.buf = bytes.Buffer{}
	return nil
}

// commitStatus maps a put script status returned in write mode.
func commitStatus(status string) error {
	switch status {
	case statusOK, statusNotModified, statusSilent:
		return nil
	case statusRejected, statusExistingCollection:
		return reststorage.ErrConflict
	}
	return reststorage.BackendUnavailableError{Backend: driverName, Op: "put", Err: fmt.Errorf("unexpected reply %q", status)}
}

// merge applies patch as a JSON merge patch to the stored document. The
// resource key is watched so that a concurrent write restarts the merge.
func (d *driver) merge(ctx context.Context, subPath, etag string, patch []byte, opts reststorage.PutOptions) error {
	key := d.keys.resource(subPath)

	for attempt := 0; attempt < d.mergeRetries; attempt++ {
		err := d.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := d.currentValue(ctx, tx, key)
			if err != nil {
				return err
			}

			merged, err := mergePatch(current, patch)
			if err != nil {
				return err
			}

			var cmd *redis.Cmd
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				cmd = putScript.Eval(ctx, pipe, nil, d.putArgs(d.now(), subPath, etag, "write", merged, false, opts)...)
				return nil
			})
			if err != nil {
				return err
			}

			reply, err := cmd.Slice()
			if err != nil {
				return d.unavailable("merge", err)
			}
			out, err := scriptReply(reply)
			if err != nil {
				return d.unavailable("merge", err)
			}
			return commitStatus(out[0])
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		var unavailable reststorage.BackendUnavailableError
		if err != nil && !errors.As(err, &unavailable) && !reststorage.IsBadRequest(err) && !errors.Is(err, reststorage.ErrConflict) {
			return d.unavailable("merge", err)
		}
		return err
	}
	return d.unavailable("merge", fmt.Errorf("document kept changing after %d attempts", d.mergeRetries))
}

// currentValue returns the live stored value under key, or nil.
func (d *driver) currentValue(ctx context.Context, tx *redis.Tx, key string) ([]byte, error) {
	fields, err := tx.HMGet(ctx, key, "resource", "compressed").Result()
	if err != nil {
		return nil, err
	}
	value, ok := fields[0].(string)
	if !ok {
		return nil, nil
	}

	score, err := tx.ZScore(ctx, d.keys.expirable, key).Result()
	switch {
	case err == nil && int64(score) < d.nowMillis():
		return nil, nil
	case err != nil && !errors.Is(err, redis.Nil):
		return nil, err
	}

	if flag, _ := fields[1].(string); flag == "1" {
		return decompress([]byte(value))
	}
	return []byte(value), nil
}

// mergePatch merges patch into current. An absent document is merged into
// an empty object.
func mergePatch(current, patch []byte) ([]byte, error) {
	if current == nil {
		current = []byte("{}")
	}
	merged, err := jsonpatch.MergePatch(current, patch)
	if err != nil {
		return nil, reststorage.BadRequestError{Param: "merge", Value: "true", Reason: err.Error()}
	}
	return merged, nil
}

// discardWriter accepts and drops a body aimed at a path that is locked in
// silent mode.
type discardWriter struct {
	size int64
}

func (w *discardWriter) Write(p []byte) (int, error) {
	w.size += int64(len(p))
	return len(p), nil
}

func (w *discardWriter) Size() int64 { return w.size }

func (w *discardWriter) Commit(ctx context.Context) error { return nil }

func (w *discardWriter) Cancel(ctx context.Context) error { return nil }

func compress(p []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(p); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(p []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(p))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
