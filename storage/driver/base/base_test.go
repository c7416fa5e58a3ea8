package base

import (
	"context"
	"testing"

	"github.com/reststorage/reststorage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDriver struct {
	paths     []string
	committed bool
}

func (d *recordingDriver) Name() string { return "recording" }

func (d *recordingDriver) Get(ctx context.Context, path string, opts reststorage.GetOptions) (reststorage.Resource, error) {
	d.paths = append(d.paths, path)
	return reststorage.NewCollection(reststorage.BaseName(path)), nil
}

func (d *recordingDriver) Put(ctx context.Context, path string, opts reststorage.PutOptions) (reststorage.Resource, error) {
	d.paths = append(d.paths, path)
	doc := reststorage.NewDocument(reststorage.BaseName(path))
	doc.Writer = &nopWriter{driver: d}
	return doc, nil
}

func (d *recordingDriver) Delete(ctx context.Context, path string, opts reststorage.DeleteOptions) (reststorage.Resource, error) {
	d.paths = append(d.paths, path)
	return reststorage.NewMissing(reststorage.BaseName(path)), nil
}

func (d *recordingDriver) StorageExpand(ctx context.Context, path, etag string, subResources []string) (reststorage.Resource, error) {
	d.paths = append(d.paths, path)
	return reststorage.NewCollection(reststorage.BaseName(path)), nil
}

func (d *recordingDriver) CurrentMemoryUsage(ctx context.Context) (float64, bool) { return 0, false }

func (d *recordingDriver) Cleanup(ctx context.Context, amount int) (reststorage.CleanupResult, error) {
	return reststorage.CleanupResult{}, nil
}

type nopWriter struct {
	driver *recordingDriver
	n      int64
}

func (w *nopWriter) Write(p []byte) (int, error) { w.n += int64(len(p)); return len(p), nil }
func (w *nopWriter) Size() int64                 { return w.n }
func (w *nopWriter) Commit(ctx context.Context) error {
	w.driver.committed = true
	return nil
}
func (w *nopWriter) Cancel(ctx context.Context) error { return nil }

func TestBaseCanonicalizesPaths(t *testing.T) {
	d := &recordingDriver{}
	b := &Base{Driver: d}
	ctx := context.Background()

	_, err := b.Get(ctx, "a//b/./c/", reststorage.AllItems())
	require.NoError(t, err)
	_, err = b.Delete(ctx, "/x/", reststorage.DeleteOptions{})
	require.NoError(t, err)
	_, err = b.Get(ctx, "", reststorage.AllItems())
	require.NoError(t, err)

	assert.Equal(t, []string{"/a/b/c", "/x", "/"}, d.paths)
}

func TestBaseRejectsInvalidPaths(t *testing.T) {
	d := &recordingDriver{}
	b := &Base{Driver: d}
	ctx := context.Background()

	for _, p := range []string{"/a/../b", "/.tmp/upload", "/a:b"} {
		res, err := b.Get(ctx, p, reststorage.AllItems())
		assert.True(t, reststorage.IsBadRequest(err), p)
		assert.IsType(t, &reststorage.Missing{}, res)
	}

	_, err := b.Put(ctx, "/", reststorage.PutOptions{})
	assert.True(t, reststorage.IsBadRequest(err))

	_, err = b.StorageExpand(ctx, "/a", "", []string{"ok", "not/ok"})
	assert.True(t, reststorage.IsBadRequest(err))

	_, err = b.StorageExpand(ctx, "/a", "", []string{".."})
	assert.True(t, reststorage.IsBadRequest(err))

	_, err = b.Cleanup(ctx, 0)
	assert.True(t, reststorage.IsBadRequest(err))

	assert.Empty(t, d.paths)
}

func TestBaseWrapsStagedWriter(t *testing.T) {
	d := &recordingDriver{}
	b := &Base{Driver: d}
	ctx := context.Background()

	res, err := b.Put(ctx, "/a/b", reststorage.PutOptions{})
	require.NoError(t, err)

	doc, ok := res.(*reststorage.Document)
	require.True(t, ok)
	require.IsType(t, &timedWriter{}, doc.Writer)

	_, err = doc.Writer.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), doc.Writer.Size())
	require.NoError(t, doc.Writer.Commit(ctx))
	assert.True(t, d.committed)
}
