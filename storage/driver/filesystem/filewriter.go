package filesystem

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/reststorage/reststorage"
	"github.com/reststorage/reststorage/internal/dcontext"
	"github.com/reststorage/reststorage/internal/uuid"
)

// fileWriter stages an upload in the staging directory and renames it over
// the final path on commit.
type fileWriter struct {
	driver    *driver
	file      *os.File
	finalPath string
	size      int64

	closed    bool
	committed bool
	cancelled bool
}

func (d *driver) newFileWriter(finalPath string) (*fileWriter, error) {
	if err := os.MkdirAll(d.stagingDirectory(), 0o755); err != nil {
		return nil, d.unavailable("mkdir", err)
	}

	stagingPath := filepath.Join(d.stagingDirectory(), uuid.NewRandom())
	file, err := os.OpenFile(stagingPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, d.unavailable("create", err)
	}

	return &fileWriter{
		driver:    d,
		file:      file,
		finalPath: finalPath,
	}, nil
}

func (fw *fileWriter) Write(p []byte) (int, error) {
	if fw.closed {
		return 0, fmt.Errorf("already closed")
	} else if fw.committed {
		return 0, fmt.Errorf("already committed")
	} else if fw.cancelled {
		return 0, fmt.Errorf("already cancelled")
	}
	n, err := fw.file.Write(p)
	fw.size += int64(n)
	if err != nil {
		return n, fw.driver.unavailable("write", err)
	}
	return n, nil
}

func (fw *fileWriter) Size() int64 {
	return fw.size
}

// Commit closes the staged file and renames it into place. Rename replaces
// any previous document atomically.
func (fw *fileWriter) Commit(ctx context.Context) error {
	if fw.closed {
		return fmt.Errorf("already closed")
	} else if fw.committed {
		return fmt.Errorf("already committed")
	} else if fw.cancelled {
		return fmt.Errorf("already cancelled")
	}

	fw.closed = true
	if err := fw.file.Sync(); err != nil {
		fw.file.Close()
		return fw.driver.unavailable("sync", err)
	}
	if err := fw.file.Close(); err != nil {
		return fw.driver.unavailable("close", err)
	}

	// The parent may have been deleted while the body was streaming.
	if err := os.MkdirAll(filepath.Dir(fw.finalPath), 0o755); err != nil {
		return fw.driver.unavailable("mkdir", err)
	}
	if err := os.Rename(fw.file.Name(), fw.finalPath); err != nil {
		return fw.driver.unavailable("rename", err)
	}

	fw.committed = true
	return nil
}

// Cancel closes and removes the staged file. It is a no-op after a
// successful commit or a previous cancel.
func (fw *fileWriter) Cancel(ctx context.Context) error {
	if fw.committed || fw.cancelled {
		return nil
	}
	fw.cancelled = true

	if !fw.closed {
		fw.closed = true
		if err := fw.file.Close(); err != nil {
			dcontext.GetLogger(ctx).WithError(err).Warnf("closing staged file %s", fw.file.Name())
		}
	}

	if err := os.Remove(fw.file.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fw.driver.unavailable("remove", err)
	}
	return nil
}

var _ reststorage.StagedWriter = (*fileWriter)(nil)
